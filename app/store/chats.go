package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/joe02740/wmapp/app/models"
)

type ChatRepository struct{ c conn }

func (r *ChatRepository) CreateSession(ctx context.Context, userID, title string, now time.Time) (models.ChatSession, error) {
	s := models.ChatSession{UserID: userID, Title: title, CreatedAt: utc(now), UpdatedAt: utc(now)}
	err := r.c.queryRow(ctx, `
		INSERT INTO chat_sessions (user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		userID, title, s.CreatedAt, s.UpdatedAt).Scan(&s.ID)
	if err != nil {
		return models.ChatSession{}, err
	}
	return s, nil
}

func (r *ChatRepository) GetSession(ctx context.Context, id int64) (models.ChatSession, error) {
	var s models.ChatSession
	err := r.c.queryRow(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM chat_sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrNotFound
	}
	if err != nil {
		return models.ChatSession{}, err
	}
	s.CreatedAt, s.UpdatedAt = s.CreatedAt.UTC(), s.UpdatedAt.UTC()
	return s, nil
}

// ListSessions returns the user's sessions, most recently updated first,
// without messages.
func (r *ChatRepository) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	rows, err := r.c.query(ctx, `
		SELECT id, user_id, title, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChatSession{}
	for rows.Next() {
		var s models.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.CreatedAt, s.UpdatedAt = s.CreatedAt.UTC(), s.UpdatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// TouchSession bumps updated_at and, when title is non-empty, renames the
// session.
func (r *ChatRepository) TouchSession(ctx context.Context, id int64, title string, at time.Time) error {
	res, err := r.c.exec(ctx, `
		UPDATE chat_sessions
		SET updated_at = ?, title = CASE WHEN ? <> '' THEN ? ELSE title END
		WHERE id = ?`,
		utc(at), title, title, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AppendMessages stores msgs in order. Each message gets a distinct
// timestamp so ordering survives engines with coarse clocks.
func (r *ChatRepository) AppendMessages(ctx context.Context, sessionID int64, msgs []models.ChatMessage, at time.Time) ([]models.ChatMessage, error) {
	out := make([]models.ChatMessage, 0, len(msgs))
	for i, m := range msgs {
		m.SessionID = sessionID
		m.CreatedAt = utc(at).Add(time.Duration(i) * time.Microsecond)
		err := r.c.queryRow(ctx, `
			INSERT INTO chat_messages (session_id, text, sender, created_at)
			VALUES (?, ?, ?, ?)
			RETURNING id`,
			sessionID, m.Text, string(m.Sender), m.CreatedAt).Scan(&m.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Messages returns the session transcript oldest first. limit <= 0 returns
// everything; otherwise the newest limit messages are returned, still oldest
// first.
func (r *ChatRepository) Messages(ctx context.Context, sessionID int64, limit int) ([]models.ChatMessage, error) {
	q := `
		SELECT id, session_id, text, sender, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChatMessage{}
	for rows.Next() {
		var (
			m      models.ChatMessage
			sender string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Text, &sender, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender = models.Sender(sender)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
