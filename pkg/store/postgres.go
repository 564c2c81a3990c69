package store

import (
	"context"
	"embed"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool against the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &PersistenceError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &PersistenceError{Op: "ping", Err: err}
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies embedded migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return &PersistenceError{Op: "migrate", Err: err}
	}
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return &PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	const q = `
		SELECT id, name, greeting_message, prompt, llm_model, llm_temperature,
		       llm_max_tokens, voice_id, language
		FROM assistants WHERE id = $1`
	var a Assistant
	err := p.pool.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.Name, &a.GreetingMessage, &a.Prompt, &a.LLMModel,
		&a.LLMTemperature, &a.LLMMaxTokens, &a.VoiceID, &a.Language,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get assistant", Err: err}
	}
	return &a, nil
}

func (p *Postgres) GetAssistantByPhoneNumber(ctx context.Context, number string) (*Assistant, error) {
	const q = `
		SELECT a.id, a.name, a.greeting_message, a.prompt, a.llm_model,
		       a.llm_temperature, a.llm_max_tokens, a.voice_id, a.language
		FROM assistants a
		JOIN phone_numbers pn ON pn.assistant_id = a.id
		WHERE pn.phone_number = $1`
	var a Assistant
	err := p.pool.QueryRow(ctx, q, number).Scan(
		&a.ID, &a.Name, &a.GreetingMessage, &a.Prompt, &a.LLMModel,
		&a.LLMTemperature, &a.LLMMaxTokens, &a.VoiceID, &a.Language,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get assistant by number", Err: err}
	}
	return &a, nil
}

func (p *Postgres) GetPhoneNumber(ctx context.Context, number string) (*PhoneNumber, error) {
	const q = `
		SELECT id, phone_number, COALESCE(assistant_id::text, '')
		FROM phone_numbers WHERE phone_number = $1`
	var pn PhoneNumber
	err := p.pool.QueryRow(ctx, q, number).Scan(&pn.ID, &pn.PhoneNumber, &pn.AssistantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get phone number", Err: err}
	}
	return &pn, nil
}

func (p *Postgres) GetPhoneNumberByID(ctx context.Context, id string) (*PhoneNumber, error) {
	const q = `
		SELECT id, phone_number, COALESCE(assistant_id::text, '')
		FROM phone_numbers WHERE id = $1`
	var pn PhoneNumber
	err := p.pool.QueryRow(ctx, q, id).Scan(&pn.ID, &pn.PhoneNumber, &pn.AssistantID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get phone number by id", Err: err}
	}
	return &pn, nil
}

func (p *Postgres) CreateCall(ctx context.Context, call *Call) error {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO calls (id, call_sid, phone_number_id, assistant_id,
		                   call_type, status, direction, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.pool.Exec(ctx, q,
		call.ID, call.CallSID, nullable(call.PhoneNumberID), nullable(call.AssistantID),
		call.CallType, call.Status, call.Direction, call.StartedAt,
	)
	if err != nil {
		return &PersistenceError{Op: "create call", Err: err}
	}
	return nil
}

func (p *Postgres) SetCallStatus(ctx context.Context, callID, status string) error {
	const q = `
		UPDATE calls
		SET status = $2,
		    ended_at = CASE WHEN $3 THEN now() ELSE ended_at END
		WHERE id = $1 OR call_sid = $1`
	tag, err := p.pool.Exec(ctx, q, callID, status, isTerminalStatus(status))
	if err != nil {
		return &PersistenceError{Op: "set call status", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendTranscript(ctx context.Context, callID, role, text string) error {
	const q = `
		INSERT INTO transcripts (id, call_id, role, text)
		VALUES ($1, $2, $3, $4)`
	_, err := p.pool.Exec(ctx, q, uuid.NewString(), callID, role, text)
	if err != nil {
		return &PersistenceError{Op: "append transcript", Err: err}
	}
	return nil
}

func (p *Postgres) AppendTurn(ctx context.Context, callID, callerText, assistantText string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "append turn", Err: err}
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO transcripts (id, call_id, role, text)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, q, uuid.NewString(), callID, RoleCaller, callerText); err != nil {
		return &PersistenceError{Op: "append turn", Err: err}
	}
	if _, err := tx.Exec(ctx, q, uuid.NewString(), callID, RoleAssistant, assistantText); err != nil {
		return &PersistenceError{Op: "append turn", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "append turn", Err: err}
	}
	return nil
}

func (p *Postgres) Transcripts(ctx context.Context, callID string) ([]TranscriptEntry, error) {
	const q = `
		SELECT id, call_id, role, text, created_at
		FROM transcripts WHERE call_id = $1
		ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, &PersistenceError{Op: "list transcripts", Err: err}
	}
	defer rows.Close()

	var out []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.ID, &e.CallID, &e.Role, &e.Text, &e.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "list transcripts", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list transcripts", Err: err}
	}
	return out, nil
}

func (p *Postgres) KnowledgeBasesForAssistant(ctx context.Context, assistantID string) ([]KnowledgeBase, error) {
	const q = `
		SELECT id, assistant_id, name, description
		FROM knowledge_bases WHERE assistant_id = $1
		ORDER BY name`
	rows, err := p.pool.Query(ctx, q, assistantID)
	if err != nil {
		return nil, &PersistenceError{Op: "list knowledge bases", Err: err}
	}
	defer rows.Close()

	var out []KnowledgeBase
	for rows.Next() {
		var kb KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.AssistantID, &kb.Name, &kb.Description); err != nil {
			return nil, &PersistenceError{Op: "list knowledge bases", Err: err}
		}
		out = append(out, kb)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list knowledge bases", Err: err}
	}
	return out, nil
}

func (p *Postgres) SearchKnowledge(ctx context.Context, knowledgeBaseID, query string) (string, error) {
	const q = `
		SELECT content FROM knowledge_bases
		WHERE id = $1
		  AND to_tsvector('simple', content) @@ plainto_tsquery('simple', $2)`
	var content string
	err := p.pool.QueryRow(ctx, q, knowledgeBaseID, query).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &PersistenceError{Op: "search knowledge", Err: err}
	}
	return content, nil
}

// Terminal statuses a telephony vendor reports on call-status webhooks.
var terminalStatuses = []string{"completed", "busy", "failed", "no-answer", "canceled"}

// IsTerminalStatus reports whether a vendor call status ends the call.
func IsTerminalStatus(status string) bool {
	return isTerminalStatus(status)
}

func isTerminalStatus(status string) bool {
	for _, s := range terminalStatuses {
		if strings.EqualFold(status, s) {
			return true
		}
	}
	return false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
