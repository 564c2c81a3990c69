package call

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autocally/autocally/pkg/call/protocol"
	"github.com/autocally/autocally/pkg/core/audio"
	"github.com/autocally/autocally/pkg/core/dialogue"
	"github.com/autocally/autocally/pkg/core/voice/stt"
	"github.com/autocally/autocally/pkg/core/voice/tts"
	"github.com/autocally/autocally/pkg/store"
)

const (
	defaultSpeechPacing = 0.9
	defaultSampleWidth  = 4
	defaultSampleRate   = 22050
	defaultEncoding     = "pcm_f32le"
	defaultGreeting     = "Hello! How can I help you today?"

	respondTimeout = 30 * time.Second
)

// Config tunes the orchestrator.
type Config struct {
	// SpeechPacing is the fraction of a chunk's estimated playback duration
	// to wait before emitting the next chunk. Slightly under 1.0 keeps the
	// client buffer fed without racing ahead of playback.
	SpeechPacing float64

	// Synthesized audio wire contract.
	SampleWidth int
	SampleRate  int
	Encoding    string

	// STT session options passed to every transcriber.
	STT stt.SessionOptions

	// DefaultGreeting is spoken when the assistant has none configured.
	DefaultGreeting string
}

func (c *Config) applyDefaults() {
	if c.SpeechPacing <= 0 {
		c.SpeechPacing = defaultSpeechPacing
	}
	if c.SampleWidth <= 0 {
		c.SampleWidth = defaultSampleWidth
	}
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.Encoding == "" {
		c.Encoding = defaultEncoding
	}
	if c.DefaultGreeting == "" {
		c.DefaultGreeting = defaultGreeting
	}
}

// Orchestrator sequences transcription, inference, and synthesis for every
// live call. Inbound transport events come in through its methods; outbound
// events leave through each session's attached Emitter.
type Orchestrator struct {
	registry  *Registry
	store     store.Store
	sttProv   stt.Provider
	ttsProv   tts.Provider
	completer dialogue.Completer
	cfg       Config
	logger    *slog.Logger
}

// NewOrchestrator wires the call pipeline together.
func NewOrchestrator(registry *Registry, st store.Store, sttProv stt.Provider, ttsProv tts.Provider, completer dialogue.Completer, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:  registry,
		store:     st,
		sttProv:   sttProv,
		ttsProv:   ttsProv,
		completer: completer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Registry exposes the session registry, mainly for shutdown and tests.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Connect handles a transport connect event. With a call_id the session is
// created or resumed and readied; without one the client is expected to send
// call_started next.
func (o *Orchestrator) Connect(ctx context.Context, client Emitter, callID, phoneNumberID, assistantID, phoneNumber string) {
	if callID == "" {
		return
	}
	session := o.ensureSession(ctx, callID, phoneNumberID, assistantID, phoneNumber)
	session.AttachClient(client)
	o.ready(ctx, session)
}

// CallStarted handles the explicit call-start event.
func (o *Orchestrator) CallStarted(ctx context.Context, client Emitter, msg protocol.ClientCallStarted) {
	existed := o.registry.Exists(msg.CallID)
	session := o.ensureSession(ctx, msg.CallID, msg.PhoneNumberID, msg.AssistantID, msg.PhoneNumber)
	session.AttachClient(client)

	if !existed {
		callType := msg.CallType
		if callType == "" {
			callType = "web"
		}
		assistantID := ""
		if session.Assistant != nil {
			assistantID = session.Assistant.ID
		}
		err := o.store.CreateCall(ctx, &store.Call{
			ID:            msg.CallID,
			CallSID:       msg.CallID,
			PhoneNumberID: session.PhoneNumberID,
			AssistantID:   assistantID,
			CallType:      callType,
			Status:        "in-progress",
			Direction:     "inbound",
		})
		if err != nil {
			// The webhook usually created the row already; a duplicate
			// insert is expected for phone calls.
			o.logger.Debug("create call row", "call_id", msg.CallID, "err", err)
		}
	}

	o.ready(ctx, session)
}

// StartSTT opens the transcription stream ahead of the first audio chunk.
func (o *Orchestrator) StartSTT(ctx context.Context, callID string) {
	session := o.registry.Get(callID)
	if session == nil {
		return
	}
	o.ensureTranscribing(session)
}

// AudioChunk forwards one caller audio payload to the transcriber. Payloads
// that fail to decode are dropped; the stream continues.
func (o *Orchestrator) AudioChunk(ctx context.Context, client Emitter, msg protocol.ClientSTTAudioChunk) {
	session := o.registry.Get(msg.CallID)
	if session == nil {
		o.emitError(client, msg.CallID, protocol.CodeBadRequest, "unknown call")
		return
	}

	// Per-chunk format hints are honored as far as logging a mismatch; the
	// vendor session is opened once with the configured parameters.
	if msg.SampleRate != 0 && msg.SampleRate != o.cfg.STT.SampleRate {
		o.logger.Warn("audio chunk sample rate differs from session",
			"call_id", msg.CallID, "chunk", msg.SampleRate, "session", o.cfg.STT.SampleRate)
	}
	if msg.Format != "" && msg.Format != o.cfg.STT.Encoding {
		o.logger.Warn("audio chunk format differs from session",
			"call_id", msg.CallID, "chunk", msg.Format, "session", o.cfg.STT.Encoding)
	}

	data, err := audio.Normalize(msg.Audio)
	if err != nil {
		o.logger.Warn("dropping undecodable audio chunk", "call_id", msg.CallID, "err", err)
		return
	}

	o.ensureTranscribing(session)
	if err := session.Transcriber().Submit(data); err != nil {
		o.logger.Warn("submit audio failed", "call_id", msg.CallID, "err", err)
	}
}

// StopSTT closes the transcription stream. Safe to call repeatedly.
func (o *Orchestrator) StopSTT(ctx context.Context, callID string) {
	session := o.registry.Get(callID)
	if session == nil {
		return
	}
	session.Transcriber().Stop()
}

// CallEnded is the explicit end-of-call signal: teardown, removal, terminal
// status persisted.
func (o *Orchestrator) CallEnded(ctx context.Context, callID string) {
	o.endCall(ctx, callID, "completed")
}

// CallStatus applies a telephony vendor status update. Terminal statuses end
// the call; others only update the row.
func (o *Orchestrator) CallStatus(ctx context.Context, callID, status string) {
	if store.IsTerminalStatus(status) {
		o.endCall(ctx, callID, status)
		return
	}
	if err := o.store.SetCallStatus(ctx, callID, status); err != nil {
		o.logger.Warn("set call status", "call_id", callID, "status", status, "err", err)
	}
}

// Disconnected detaches the client but keeps the session. Transport flakes
// must not lose greeting state, pending audio, or conversation history.
func (o *Orchestrator) Disconnected(client Emitter, callID string) {
	session := o.registry.Get(callID)
	if session == nil {
		return
	}
	session.DetachClient(client)
}

func (o *Orchestrator) endCall(ctx context.Context, callID, status string) {
	session := o.registry.Remove(callID)
	if session != nil {
		session.Teardown()
	}
	if err := o.store.SetCallStatus(ctx, callID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("persist call end", "call_id", callID, "status", status, "err", err)
	}
	o.logger.Info("call ended", "call_id", callID, "status", status)
}

// ensureSession is the single session creation path. Reconnects land on the
// existing entry with its state intact.
func (o *Orchestrator) ensureSession(ctx context.Context, callID, phoneNumberID, assistantID, phoneNumber string) *Session {
	if s := o.registry.Get(callID); s != nil {
		return s
	}
	assistant, pnID := o.resolveAssistant(ctx, phoneNumberID, assistantID, phoneNumber)
	session, created := o.registry.GetOrCreate(callID, func() *Session {
		tr := stt.NewTranscriber(o.sttProv, o.cfg.STT, o.logger)
		return NewSession(callID, pnID, assistant, tr)
	})
	if created {
		o.logger.Info("call session created", "call_id", callID, "phone_number_id", pnID)
	}
	return session
}

// resolveAssistant looks the assistant up by phone_number_id first, then by
// explicit assistant_id, then by the raw number. It also reports the
// phone-number row the call is keyed under, when one exists.
func (o *Orchestrator) resolveAssistant(ctx context.Context, phoneNumberID, assistantID, phoneNumber string) (*store.Assistant, string) {
	if phoneNumberID != "" {
		pn, err := o.store.GetPhoneNumberByID(ctx, phoneNumberID)
		switch {
		case err != nil:
			o.logger.Warn("phone number lookup failed", "phone_number_id", phoneNumberID, "err", err)
		case pn.AssistantID == "":
			o.logger.Warn("phone number has no assistant", "phone_number_id", phoneNumberID)
		default:
			if a, err := o.store.GetAssistant(ctx, pn.AssistantID); err == nil {
				return a, pn.ID
			}
		}
	}
	if assistantID != "" {
		a, err := o.store.GetAssistant(ctx, assistantID)
		if err == nil {
			return a, phoneNumberID
		}
		o.logger.Warn("assistant lookup failed", "assistant_id", assistantID, "err", err)
	}
	if phoneNumber != "" {
		pn, err := o.store.GetPhoneNumber(ctx, phoneNumber)
		if err == nil && pn.AssistantID != "" {
			if a, err := o.store.GetAssistant(ctx, pn.AssistantID); err == nil {
				return a, pn.ID
			}
		}
		o.logger.Warn("assistant lookup by number failed", "phone_number", phoneNumber, "err", err)
	}
	return nil, phoneNumberID
}

// ready acknowledges the connection and kicks off pending-audio replay or
// the greeting, whichever applies.
func (o *Orchestrator) ready(ctx context.Context, session *Session) {
	session.Deliver(protocol.ServerCallReady{
		Type:          protocol.TypeCallReady,
		CallID:        session.CallID,
		PhoneNumberID: session.PhoneNumberID,
	})

	if session.HasPendingAudio() {
		o.replayPending(session)
		return
	}
	if session.MarkGreetingSent() {
		greeting := o.cfg.DefaultGreeting
		if session.Assistant != nil && session.Assistant.GreetingMessage != "" {
			greeting = session.Assistant.GreetingMessage
		}
		o.deliverTranscript(session, store.RoleAssistant, greeting)
		if err := o.store.AppendTranscript(ctx, session.CallID, store.RoleAssistant, greeting); err != nil {
			o.logger.Warn("persist greeting transcript", "call_id", session.CallID, "err", err)
		}
		o.speak(session, greeting, true)
	}
}

// replayPending re-emits audio queued while no client was attached, paced
// like live speech. Final markers were queued along with the audio, so the
// replayed stream terminates correctly on its own.
func (o *Orchestrator) replayPending(session *Session) {
	ctx, ok := session.BeginSpeaking(context.Background())
	if !ok {
		return
	}
	go func() {
		chunks := session.DrainPendingAudio()
		for _, chunk := range chunks {
			select {
			case <-ctx.Done():
				return
			default:
			}
			session.Deliver(chunk)
			n := base64.StdEncoding.DecodedLen(len(chunk.Audio.Data))
			o.pace(ctx, n)
		}
		o.finishSpeaking(session)
	}()
}

// ensureTranscribing opens the vendor STT session if needed and starts the
// transcript pump. Start runs async so audio keeps buffering while the
// vendor connection opens.
func (o *Orchestrator) ensureTranscribing(session *Session) {
	if session.ClaimPump() {
		go o.pump(session)
	}

	switch session.Transcriber().State() {
	case stt.StateIdle, stt.StateError:
		go func() {
			if err := session.Transcriber().Start(context.Background()); err != nil {
				o.logger.Error("transcriber open failed", "call_id", session.CallID, "err", err)
				session.Deliver(protocol.ServerErrorEvent{
					Type:    protocol.TypeError,
					CallID:  session.CallID,
					Code:    protocol.CodeConnectionError,
					Message: "transcription unavailable",
				})
			}
		}()
	}
}

// pump consumes transcript deltas for the life of the transcriber. Interim
// deltas are relayed as-is; a final delta commits one caller utterance and
// drives the turn.
func (o *Orchestrator) pump(session *Session) {
	for delta := range session.Transcriber().Transcripts() {
		session.Touch()
		session.Deliver(protocol.ServerSTTTranscript{
			Type:    protocol.TypeSTTTranscript,
			CallID:  session.CallID,
			Text:    delta.Text,
			IsFinal: delta.IsFinal,
		})
		if delta.IsFinal && delta.Text != "" && !session.Ended() {
			o.handleUtterance(session, delta.Text)
		}
	}
}

// handleUtterance runs one turn: persist the exchange, infer the reply,
// speak it (or queue it when already speaking).
func (o *Orchestrator) handleUtterance(session *Session, text string) {
	o.deliverTranscript(session, store.RoleCaller, text)

	engine := session.EnsureEngine(func() *dialogue.Engine {
		return o.newEngine(session)
	})

	ctx, cancel := context.WithTimeout(context.Background(), respondTimeout)
	reply := engine.Respond(ctx, text)
	cancel()

	o.deliverTranscript(session, store.RoleAssistant, reply)

	// Unit of work per turn. Failures are logged, never allowed to hold up
	// audio delivery.
	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := o.store.AppendTurn(wctx, session.CallID, text, reply); err != nil {
		o.logger.Error("persist turn", "call_id", session.CallID, "err", err)
	}
	wcancel()

	o.speak(session, reply, false)
}

func (o *Orchestrator) newEngine(session *Session) *dialogue.Engine {
	cfg := dialogue.Config{Logger: o.logger}
	if a := session.Assistant; a != nil {
		cfg.Prompt = a.Prompt
		cfg.Temperature = a.LLMTemperature
		cfg.MaxTokens = a.LLMMaxTokens

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		kbs, err := o.store.KnowledgeBasesForAssistant(ctx, a.ID)
		cancel()
		if err != nil {
			o.logger.Warn("load knowledge bases", "call_id", session.CallID, "err", err)
		}
		for _, kb := range kbs {
			kbID := kb.ID
			cfg.Tools = append(cfg.Tools, dialogue.Tool{
				Name:        kb.Name,
				Description: kb.Description,
				Run: func(ctx context.Context, query string) (string, error) {
					hit, err := o.store.SearchKnowledge(ctx, kbID, query)
					if err != nil {
						return "", err
					}
					if hit == "" {
						return "no information found", nil
					}
					return hit, nil
				},
			})
		}
	}
	return dialogue.NewEngine(o.completer, cfg)
}

// speak claims the speaking slot and streams synthesis, or queues the text
// when the call is already speaking. FIFO delivery of queued responses.
func (o *Orchestrator) speak(session *Session, text string, greeting bool) {
	ctx, ok := session.BeginSpeaking(context.Background())
	if !ok {
		session.EnqueueResponse(text, greeting)
		return
	}
	go o.speakLoop(ctx, session, text, greeting)
}

// speakLoop streams one synthesis, then chains directly into any queued
// responses without releasing the speaking slot in between.
func (o *Orchestrator) speakLoop(ctx context.Context, session *Session, text string, greeting bool) {
	for {
		o.streamSpeech(ctx, session, text, greeting)

		next, nextCtx, more := session.FinishSpeaking(context.Background())
		if !more {
			return
		}
		text, greeting, ctx = next.text, next.greeting, nextCtx
	}
}

// streamSpeech emits one utterance chunk-by-chunk, paced at a fraction of
// each chunk's estimated playback time. The final marker always goes out,
// even after a vendor failure, so the client never hangs waiting for audio.
func (o *Orchestrator) streamSpeech(ctx context.Context, session *Session, text string, greeting bool) {
	defer o.deliverFinalMarker(session, greeting)

	opts := tts.SynthesizeOptions{
		Encoding:   o.cfg.Encoding,
		SampleRate: o.cfg.SampleRate,
	}
	if a := session.Assistant; a != nil {
		opts.Voice = a.VoiceID
		opts.Language = a.Language
	}

	stream, err := o.ttsProv.SynthesizeStream(ctx, text, opts)
	if err != nil {
		o.logger.Error("synthesis failed to start", "call_id", session.CallID, "err", err)
		o.emitSynthesisError(session)
		return
	}
	defer stream.Close()

	for chunk := range stream.Chunks() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		session.Deliver(protocol.ServerAudioChunk{
			Type:   protocol.TypeAudioChunk,
			CallID: session.CallID,
			Audio: protocol.AudioPayload{
				Data:       base64.StdEncoding.EncodeToString(chunk),
				Encoding:   o.cfg.Encoding,
				SampleRate: o.cfg.SampleRate,
			},
			IsGreeting: greeting,
		})
		o.pace(ctx, len(chunk))
	}
	if err := stream.Err(); err != nil {
		o.logger.Error("synthesis stream failed", "call_id", session.CallID, "err", err)
		o.emitSynthesisError(session)
	}
}

func (o *Orchestrator) deliverFinalMarker(session *Session, greeting bool) {
	session.Deliver(protocol.ServerAudioChunk{
		Type:   protocol.TypeAudioChunk,
		CallID: session.CallID,
		Audio: protocol.AudioPayload{
			Encoding:   o.cfg.Encoding,
			SampleRate: o.cfg.SampleRate,
		},
		IsGreeting: greeting,
		Final:      true,
	})
}

func (o *Orchestrator) emitSynthesisError(session *Session) {
	session.Deliver(protocol.ServerErrorEvent{
		Type:    protocol.TypeError,
		CallID:  session.CallID,
		Code:    protocol.CodeSynthesisError,
		Message: "speech synthesis failed",
	})
}

// finishSpeaking releases the slot after a replay and chains into queued
// responses like a normal speech end.
func (o *Orchestrator) finishSpeaking(session *Session) {
	next, ctx, more := session.FinishSpeaking(context.Background())
	if more {
		go o.speakLoop(ctx, session, next.text, next.greeting)
	}
}

// pace sleeps for SpeechPacing × the chunk's estimated playback duration,
// returning early on cancellation.
func (o *Orchestrator) pace(ctx context.Context, chunkLen int) {
	d := audio.EstimateDuration(chunkLen, o.cfg.SampleWidth, o.cfg.SampleRate)
	d = time.Duration(float64(d) * o.cfg.SpeechPacing)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (o *Orchestrator) deliverTranscript(session *Session, role, text string) {
	assistantID := ""
	if session.Assistant != nil {
		assistantID = session.Assistant.ID
	}
	session.Deliver(protocol.ServerTranscript{
		Type:        protocol.TypeTranscript,
		CallID:      session.CallID,
		AssistantID: assistantID,
		Role:        role,
		Text:        text,
		Final:       true,
	})
}

func (o *Orchestrator) emitError(client Emitter, callID, code, message string) {
	if client == nil {
		return
	}
	err := client.Emit(protocol.ServerErrorEvent{
		Type:    protocol.TypeError,
		CallID:  callID,
		Code:    code,
		Message: message,
	})
	if err != nil {
		o.logger.Debug("emit error event", "call_id", callID, "err", fmt.Errorf("emit: %w", err))
	}
}
