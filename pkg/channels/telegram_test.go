package channels

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HKUDS/secretary-go/pkg/bus"
	"github.com/HKUDS/secretary-go/pkg/config"
)

func TestIsAllowed(t *testing.T) {
	open := BaseChannel{}
	assert.True(t, open.IsAllowed(1, ""))

	c := BaseChannel{AllowFrom: []string{"42", "@Minh"}}
	assert.True(t, c.IsAllowed(42, ""))
	assert.True(t, c.IsAllowed(7, "minh"))
	assert.False(t, c.IsAllowed(7, "lan"))
	assert.False(t, c.IsAllowed(7, ""))
}

func commandUpdate(userID int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		From:     &tgbotapi.User{ID: userID, UserName: "minh", FirstName: "Minh"},
		Chat:     &tgbotapi.Chat{ID: userID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func TestHandleUpdatePublishes(t *testing.T) {
	b := bus.NewMessageBus(nil)
	c := NewTelegramChannel(config.TelegramConfig{AllowFrom: []string{"42"}}, b, nil)
	ctx := context.Background()

	c.handleUpdate(ctx, commandUpdate(42, "/start"))
	c.handleUpdate(ctx, tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "mai 9h họp",
		From: &tgbotapi.User{ID: 42},
		Chat: &tgbotapi.Chat{ID: 42},
	}})
	c.handleUpdate(ctx, commandUpdate(99, "/start"))

	start := <-b.ConsumeInbound()
	assert.Equal(t, "start", start.Command)
	assert.Equal(t, "Minh", start.FirstName)
	assert.Equal(t, int64(42), start.ChatID)

	text := <-b.ConsumeInbound()
	assert.Equal(t, "mai 9h họp", text.Content)
	assert.Empty(t, text.Command)

	select {
	case m := <-b.ConsumeInbound():
		t.Fatalf("disallowed sender published: %+v", m)
	default:
	}
}

type fakeTelegram struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Trang","username":"trang_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{"chat_id": r.FormValue("chat_id"), "text": r.FormValue("text")})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func TestDeliver(t *testing.T) {
	fake := &fakeTelegram{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewTelegramChannel(config.TelegramConfig{Token: "123:abc"}, bus.NewMessageBus(nil), nil)
	assert.ErrorIs(t, c.Deliver(context.Background(), 42, "x"), ErrNotConnected)

	c.endpoint = srv.URL + "/bot%s/%s"
	require.NoError(t, c.Connect())

	require.NoError(t, c.Deliver(context.Background(), 42, "Thưa anh, đã đến giờ họp rồi ạ."))
	require.NoError(t, c.Send(context.Background(), bus.OutboundMessage{ChatID: 42, Content: "   "}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.sent, 1, "blank messages are not sent")
	assert.Equal(t, "42", fake.sent[0]["chat_id"])
	assert.Equal(t, "Thưa anh, đã đến giờ họp rồi ạ.", fake.sent[0]["text"])
}
