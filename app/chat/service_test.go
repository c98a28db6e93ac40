package chat_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joe02740/wmapp/app/apperr"
	"github.com/joe02740/wmapp/app/chat"
	"github.com/joe02740/wmapp/app/models"
	"github.com/joe02740/wmapp/app/store/storetest"
)

func newService(t *testing.T) (*chat.Service, *time.Time) {
	t.Helper()
	s := storetest.New(t)
	now := time.Date(2025, time.February, 14, 15, 0, 0, 0, time.UTC)
	for _, id := range []string{"alice", "bob"} {
		_, err := s.Repos().Users.Insert(context.Background(), id, "", "", now)
		require.NoError(t, err)
	}
	return chat.New(s, chat.WithClock(func() time.Time { return now })), &now
}

func TestCreateDerivesTitle(t *testing.T) {
	svc, _ := newService(t)
	long := strings.Repeat("scale ", 20)

	sess, err := svc.Create(context.Background(), "alice", "", []models.ChatMessageInput{
		{Text: long, Sender: "user"},
		{Text: "Here is the answer", Sender: "ai"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sess.Title, "..."))
	assert.LessOrEqual(t, len([]rune(sess.Title)), 63)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, models.SenderAssistant, sess.Messages[1].Sender)
}

func TestCreateValidatesMessages(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", "t", nil)
	assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest))

	_, err = svc.Create(ctx, "alice", "t", []models.ChatMessageInput{{Text: "hi", Sender: "robot"}})
	assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest))

	_, err = svc.Create(ctx, "alice", "t", []models.ChatMessageInput{{Text: "  ", Sender: "user"}})
	assert.True(t, apperr.Is(err, apperr.CategoryInvalidRequest))
}

func TestAppendAndOrdering(t *testing.T) {
	svc, now := newService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "alice", "Scales", []models.ChatMessageInput{{Text: "first", Sender: "user"}})
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	updated, err := svc.Append(ctx, "alice", sess.ID, "Renamed", []models.ChatMessageInput{
		{Text: "second", Sender: "assistant"},
		{Text: "third", Sender: "user"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.True(t, updated.UpdatedAt.After(sess.UpdatedAt))

	texts := make([]string, 0, len(updated.Messages))
	for _, m := range updated.Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"first", "second", "third"}, texts)

	history, err := svc.History(ctx, "alice", sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Text)
}

func TestOtherUsersSessionsAreNotFound(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "alice", "mine", []models.ChatMessageInput{{Text: "hi", Sender: "user"}})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "bob", sess.ID)
	assert.True(t, apperr.Is(err, apperr.CategoryNotFound))

	_, err = svc.Append(ctx, "bob", sess.ID, "", []models.ChatMessageInput{{Text: "x", Sender: "user"}})
	assert.True(t, apperr.Is(err, apperr.CategoryNotFound))

	list, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, list)
}
