package llm

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/joe02740/wmapp/app/models"
)

// Documents holds the reference texts quoted to the model.
type Documents struct {
	Current string
	Legacy  string
}

// Question is one user query with its context.
type Question struct {
	Text      string
	Scope     Scope
	History   []models.ChatMessage
	Documents Documents
}

const systemTemplate = `You are an assistant for weights and measures inspectors in Massachusetts.
Answer questions about %s.
Cite the section or paragraph you rely on. If the reference material does not
answer the question, say so instead of guessing.

CURRENT REFERENCE:
%s

LEGACY REFERENCE:
%s`

// BuildMessages lays out the system prompt, prior turns and the question.
func BuildMessages(q Question) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(q.History)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(systemTemplate, q.Scope.Title(), strings.TrimSpace(q.Documents.Current), strings.TrimSpace(q.Documents.Legacy)),
	})
	for _, m := range q.History {
		role := openai.ChatMessageRoleUser
		if m.Sender == models.SenderAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: q.Text,
	})
	return msgs
}
