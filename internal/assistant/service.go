// Package assistant orchestrates the user-facing actions of a session: chat,
// quick generation, notebook helpers and resets.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/curriculum"
	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/generation"
	"github.com/ashureev/curriculum-designer/internal/prompt"
	"github.com/ashureev/curriculum-designer/internal/session"
)

// SummaryTitle heads the notebook section added by Summarize.
const SummaryTitle = "Summary from Chat"

// Saver persists a session after a mutating action.
type Saver interface {
	Save(ctx context.Context, s *session.Session) error
}

// Options configures a Service.
type Options struct {
	// NotesModel is used for Summarize and Expand.
	NotesModel string
	// Models lists the selectable chat models. Empty allows any model.
	Models     []string
	Transcript TranscriptLogger
	// OnCurriculum is called after each successfully parsed curriculum.
	OnCurriculum func()
}

// Service runs actions against a session. Every action holds the session's
// busy flag for its whole duration.
type Service struct {
	client       generation.Client
	saver        Saver
	notesModel   string
	models       map[string]struct{}
	transcript   TranscriptLogger
	onCurriculum func()
}

// New returns a Service.
func New(client generation.Client, saver Saver, opts Options) *Service {
	s := &Service{
		client:       client,
		saver:        saver,
		notesModel:   opts.NotesModel,
		transcript:   opts.Transcript,
		onCurriculum: opts.OnCurriculum,
	}
	if s.transcript == nil {
		s.transcript = NopTranscript()
	}
	if len(opts.Models) > 0 {
		s.models = make(map[string]struct{}, len(opts.Models))
		for _, m := range opts.Models {
			s.models[m] = struct{}{}
		}
	}
	return s
}

func (s *Service) begin(sess *session.Session) error {
	if !sess.TryBegin() {
		return session.ErrBusy
	}
	return nil
}

func (s *Service) save(ctx context.Context, sess *session.Session) {
	// Persist even when the request context is gone; the in-memory state already changed.
	if err := s.saver.Save(context.WithoutCancel(ctx), sess); err != nil {
		slog.Error("Failed to persist session", "user", sess.Username, "session_id", sess.ID, "error", err)
	}
}

// Chat appends the user's message, asks the model for a reply and appends it.
// On failure the user's turn stays in the conversation and no assistant turn
// is added. A reply that arrives after ctx is cancelled is discarded.
func (s *Service) Chat(ctx context.Context, sess *session.Session, text string) (domain.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Turn{}, &InputError{Field: "message", Reason: "message is required"}
	}
	if err := s.begin(sess); err != nil {
		return domain.Turn{}, err
	}
	defer sess.End()

	model := sess.Model()
	if err := sess.Conversation.Append(domain.UserTurn(text)); err != nil {
		return domain.Turn{}, err
	}
	s.logTurn(sess, "chat_user_message", "outbound", model, text)

	req := prompt.Compose(prompt.SystemInstruction, sess.Conversation.History(), text)
	req.Model = model
	reply, err := s.client.Generate(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		s.save(ctx, sess)
		s.logFailure(sess, "chat", model, err)
		return domain.Turn{}, err
	}

	turn := domain.AssistantTurn(reply)
	if err := sess.Conversation.Append(turn); err != nil {
		s.save(ctx, sess)
		return domain.Turn{}, &generation.ServiceError{Detail: "empty response"}
	}
	s.save(ctx, sess)
	s.logTurn(sess, "chat_assistant_message", "inbound", model, reply)
	return turn, nil
}

// QuickGenerate asks the model for a structured curriculum built from form.
// A failed call or unparseable output leaves the previous curriculum in place.
func (s *Service) QuickGenerate(ctx context.Context, sess *session.Session, form domain.QuickForm) (domain.Curriculum, error) {
	if err := ValidateForm(form); err != nil {
		return domain.Curriculum{}, err
	}
	if err := s.begin(sess); err != nil {
		return domain.Curriculum{}, err
	}
	defer sess.End()

	model := sess.Model()
	req := prompt.QuickGenerate(form)
	req.Model = model
	s.logTurn(sess, "quick_generate_request", "outbound", model, req.NewMessage)

	raw, err := s.client.Generate(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		s.logFailure(sess, "quick_generate", model, err)
		return domain.Curriculum{}, err
	}

	c, err := curriculum.Parse(raw)
	if err != nil {
		slog.Warn("Model returned malformed curriculum", "user", sess.Username, "session_id", sess.ID, "model", model, "error", err)
		s.logTurn(sess, "quick_generate_malformed", "inbound", model, raw)
		return domain.Curriculum{}, err
	}

	sess.SetCurriculum(c)
	s.save(ctx, sess)
	s.logTurn(sess, "quick_generate_result", "inbound", model, raw)
	if s.onCurriculum != nil {
		s.onCurriculum()
	}
	return c, nil
}

// Summarize condenses the recent conversation into a notebook section and
// returns the new notebook text.
func (s *Service) Summarize(ctx context.Context, sess *session.Session) (string, error) {
	if err := s.begin(sess); err != nil {
		return "", err
	}
	defer sess.End()

	req := prompt.Summarize(sess.Conversation.Turns())
	return s.appendNotes(ctx, sess, "summarize", SummaryTitle, req)
}

// Expand writes structured notes on topic into the notebook and returns the
// new notebook text.
func (s *Service) Expand(ctx context.Context, sess *session.Session, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", &InputError{Field: "topic", Reason: "topic is required"}
	}
	if err := s.begin(sess); err != nil {
		return "", err
	}
	defer sess.End()

	var lastText string
	if last, ok := sess.Conversation.Last(); ok {
		lastText = last.Text
	}
	return s.appendNotes(ctx, sess, "expand", topic, prompt.Expand(topic, lastText))
}

func (s *Service) appendNotes(ctx context.Context, sess *session.Session, action, title string, req generation.Request) (string, error) {
	req.Model = s.notesModel
	out, err := s.client.Generate(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		s.logFailure(sess, action, req.Model, err)
		return "", err
	}

	sess.Notebook.Append(title, out)
	s.save(ctx, sess)
	s.logTurn(sess, action+"_result", "inbound", req.Model, out)
	return sess.Notebook.Get(), nil
}

// NewConversation clears the conversation and the notebook, then re-seeds
// the greeting. The curriculum is kept.
func (s *Service) NewConversation(ctx context.Context, sess *session.Session) error {
	if err := s.begin(sess); err != nil {
		return err
	}
	defer sess.End()

	sess.Conversation.Reset()
	sess.Conversation.Seed(domain.Greeting)
	sess.Notebook.Reset()
	s.save(ctx, sess)
	s.logTurn(sess, "conversation_reset", "outbound", sess.Model(), "")
	return nil
}

// SetModel changes the session's chat model.
func (s *Service) SetModel(ctx context.Context, sess *session.Session, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return &InputError{Field: "model", Reason: "model is required"}
	}
	if s.models != nil {
		if _, ok := s.models[model]; !ok {
			return &InputError{Field: "model", Reason: fmt.Sprintf("unknown model %q", model)}
		}
	}
	sess.SetModel(model)
	s.save(ctx, sess)
	return nil
}

// SetNotebook replaces the notebook with a direct user edit.
func (s *Service) SetNotebook(ctx context.Context, sess *session.Session, text string) error {
	if err := s.begin(sess); err != nil {
		return err
	}
	defer sess.End()

	sess.Notebook.Set(text)
	s.save(ctx, sess)
	return nil
}

// Close flushes the transcript logger.
func (s *Service) Close() error {
	return s.transcript.Close()
}

func (s *Service) logTurn(sess *session.Session, eventType, direction, model, content string) {
	s.transcript.Log(TranscriptEvent{
		User:       sess.Username,
		SessionID:  sess.ID,
		Channel:    "session",
		Direction:  direction,
		EventType:  eventType,
		Model:      model,
		ContentRaw: content,
	})
}

func (s *Service) logFailure(sess *session.Session, action, model string, err error) {
	outcome := generation.Outcome(err)
	if errors.Is(err, context.Canceled) {
		slog.Info("Action cancelled by client", "action", action, "user", sess.Username, "session_id", sess.ID)
	}
	s.transcript.Log(TranscriptEvent{
		User:      sess.Username,
		SessionID: sess.ID,
		Channel:   "session",
		Direction: "inbound",
		EventType: action + "_failed",
		Model:     model,
		Meta:      map[string]any{"outcome": outcome, "error": err.Error()},
	})
}
