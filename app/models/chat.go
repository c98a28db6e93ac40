package models

import (
	"strings"
	"time"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ParseSender accepts "user" and "assistant". The web client historically
// labels model replies "ai", which maps to assistant.
func ParseSender(s string) (Sender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return SenderUser, true
	case "assistant", "ai":
		return SenderAssistant, true
	}
	return "", false
}

type ChatSession struct {
	ID        int64         `json:"id" db:"id"`
	UserID    string        `json:"-" db:"user_id"`
	Title     string        `json:"title" db:"title"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
	Messages  []ChatMessage `json:"messages,omitempty" db:"-"`
}

type ChatMessage struct {
	ID        int64     `json:"id" db:"id"`
	SessionID int64     `json:"session_id" db:"session_id"`
	Text      string    `json:"text" db:"text"`
	Sender    Sender    `json:"sender" db:"sender"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
