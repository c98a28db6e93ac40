// Package chat stores per-user conversation sessions.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/store"
)

const (
	maxTitleRunes = 60
	defaultTitle  = "New conversation"
)

type Service struct {
	store store.Transactor
	now   func() time.Time
	log   zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(s store.Transactor, opts ...Option) *Service {
	svc := &Service{store: s, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) List(ctx context.Context, userID string) ([]models.ChatSession, error) {
	sessions, err := s.store.Repos().Chats.ListSessions(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return sessions, nil
}

// Create saves a new session holding msgs. At least one message is
// required; an empty title is derived from the first user message.
func (s *Service) Create(ctx context.Context, userID, title string, msgs []models.ChatMessageInput) (models.ChatSession, error) {
	parsed, err := parseMessages(msgs)
	if err != nil {
		return models.ChatSession{}, err
	}
	if len(parsed) == 0 {
		return models.ChatSession{}, apperr.InvalidRequest("at least one message is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = deriveTitle(parsed)
	}
	title = truncate(title, maxTitleRunes)

	now := s.now()
	var out models.ChatSession
	err = store.InTx(ctx, s.store, func(r store.Repositories) error {
		sess, err := r.Chats.CreateSession(ctx, userID, title, now)
		if err != nil {
			return err
		}
		sess.Messages, err = r.Chats.AppendMessages(ctx, sess.ID, parsed, now)
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return models.ChatSession{}, apperr.Persistence(err)
	}
	return out, nil
}

// Append adds msgs to a session the user owns and optionally renames it.
func (s *Service) Append(ctx context.Context, userID string, sessionID int64, title string, msgs []models.ChatMessageInput) (models.ChatSession, error) {
	parsed, err := parseMessages(msgs)
	if err != nil {
		return models.ChatSession{}, err
	}
	title = truncate(strings.TrimSpace(title), maxTitleRunes)
	now := s.now()

	err = store.InTx(ctx, s.store, func(r store.Repositories) error {
		if _, err := owned(ctx, r.Chats, userID, sessionID); err != nil {
			return err
		}
		if _, err := r.Chats.AppendMessages(ctx, sessionID, parsed, now); err != nil {
			return err
		}
		return r.Chats.TouchSession(ctx, sessionID, title, now)
	})
	if err != nil {
		return models.ChatSession{}, apperr.Persistence(err)
	}
	return s.Get(ctx, userID, sessionID)
}

// Get returns the session with its full transcript. Sessions of other users
// are reported as not found.
func (s *Service) Get(ctx context.Context, userID string, sessionID int64) (models.ChatSession, error) {
	chats := s.store.Repos().Chats
	sess, err := owned(ctx, chats, userID, sessionID)
	if err != nil {
		return models.ChatSession{}, apperr.Persistence(err)
	}
	sess.Messages, err = chats.Messages(ctx, sessionID, 0)
	if err != nil {
		return models.ChatSession{}, apperr.Persistence(err)
	}
	return sess, nil
}

// History returns the last limit messages of a session the user owns,
// oldest first.
func (s *Service) History(ctx context.Context, userID string, sessionID int64, limit int) ([]models.ChatMessage, error) {
	chats := s.store.Repos().Chats
	if _, err := owned(ctx, chats, userID, sessionID); err != nil {
		return nil, apperr.Persistence(err)
	}
	msgs, err := chats.Messages(ctx, sessionID, limit)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	return msgs, nil
}

func owned(ctx context.Context, chats *store.ChatRepository, userID string, sessionID int64) (models.ChatSession, error) {
	sess, err := chats.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.UserID != userID) {
		return models.ChatSession{}, apperr.NotFound("chat session not found")
	}
	return sess, err
}

func parseMessages(in []models.ChatMessageInput) ([]models.ChatMessage, error) {
	out := make([]models.ChatMessage, 0, len(in))
	for _, m := range in {
		sender, ok := models.ParseSender(m.Sender)
		if !ok {
			return nil, apperr.InvalidRequest("message sender must be user or assistant")
		}
		if strings.TrimSpace(m.Text) == "" {
			return nil, apperr.InvalidRequest("message text is required")
		}
		out = append(out, models.ChatMessage{Text: m.Text, Sender: sender})
	}
	return out, nil
}

func deriveTitle(msgs []models.ChatMessage) string {
	for _, m := range msgs {
		if m.Sender == models.SenderUser {
			return strings.Join(strings.Fields(m.Text), " ")
		}
	}
	return defaultTitle
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}
