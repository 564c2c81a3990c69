package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu           sync.Mutex
	assistants   map[string]*Assistant
	phoneNumbers map[string]*PhoneNumber
	calls        map[string]*Call
	transcripts  map[string][]TranscriptEntry
	knowledge    map[string]*memoryKnowledge
}

type memoryKnowledge struct {
	KnowledgeBase
	Content string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		assistants:   make(map[string]*Assistant),
		phoneNumbers: make(map[string]*PhoneNumber),
		calls:        make(map[string]*Call),
		transcripts:  make(map[string][]TranscriptEntry),
		knowledge:    make(map[string]*memoryKnowledge),
	}
}

// PutAssistant seeds an assistant. A missing ID is filled in.
func (m *Memory) PutAssistant(a *Assistant) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	m.assistants[a.ID] = &cp
	return a.ID
}

// PutPhoneNumber seeds a phone-number mapping and returns its id.
func (m *Memory) PutPhoneNumber(number, assistantID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	pn := &PhoneNumber{
		ID:          uuid.NewString(),
		PhoneNumber: number,
		AssistantID: assistantID,
	}
	m.phoneNumbers[number] = pn
	return pn.ID
}

// PutKnowledgeBase seeds a searchable knowledge base.
func (m *Memory) PutKnowledgeBase(kb KnowledgeBase, content string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}
	m.knowledge[kb.ID] = &memoryKnowledge{KnowledgeBase: kb, Content: content}
	return kb.ID
}

func (m *Memory) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assistants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAssistantByPhoneNumber(ctx context.Context, number string) (*Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pn, ok := m.phoneNumbers[number]
	if !ok {
		return nil, ErrNotFound
	}
	a, ok := m.assistants[pn.AssistantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetPhoneNumber(ctx context.Context, number string) (*PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pn, ok := m.phoneNumbers[number]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pn
	return &cp, nil
}

func (m *Memory) GetPhoneNumberByID(ctx context.Context, id string) (*PhoneNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pn := range m.phoneNumbers {
		if pn.ID == id {
			cp := *pn
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateCall(ctx context.Context, call *Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	cp := *call
	m.calls[call.ID] = &cp
	return nil
}

func (m *Memory) SetCallStatus(ctx context.Context, callID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.findCall(callID)
	if call == nil {
		return ErrNotFound
	}
	call.Status = status
	if isTerminalStatus(status) {
		now := time.Now().UTC()
		call.EndedAt = &now
	}
	return nil
}

// GetCall returns a call by id or vendor SID.
func (m *Memory) GetCall(ctx context.Context, callID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.findCall(callID)
	if call == nil {
		return nil, ErrNotFound
	}
	cp := *call
	return &cp, nil
}

func (m *Memory) findCall(callID string) *Call {
	if c, ok := m.calls[callID]; ok {
		return c
	}
	for _, c := range m.calls {
		if c.CallSID == callID {
			return c
		}
	}
	return nil
}

func (m *Memory) AppendTranscript(ctx context.Context, callID, role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendTranscript(callID, role, text)
	return nil
}

func (m *Memory) AppendTurn(ctx context.Context, callID, callerText, assistantText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendTranscript(callID, RoleCaller, callerText)
	m.appendTranscript(callID, RoleAssistant, assistantText)
	return nil
}

func (m *Memory) appendTranscript(callID, role, text string) {
	m.transcripts[callID] = append(m.transcripts[callID], TranscriptEntry{
		ID:        uuid.NewString(),
		CallID:    callID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
}

func (m *Memory) Transcripts(ctx context.Context, callID string) ([]TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.transcripts[callID]
	out := make([]TranscriptEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) KnowledgeBasesForAssistant(ctx context.Context, assistantID string) ([]KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []KnowledgeBase
	for _, kb := range m.knowledge {
		if kb.AssistantID == assistantID {
			out = append(out, kb.KnowledgeBase)
		}
	}
	return out, nil
}

func (m *Memory) SearchKnowledge(ctx context.Context, knowledgeBaseID, query string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kb, ok := m.knowledge[knowledgeBaseID]
	if !ok {
		return "", nil
	}
	content := strings.ToLower(kb.Content)
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(content, word) {
			return kb.Content, nil
		}
	}
	return "", nil
}
