package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDispatchOutboundInOrder(t *testing.T) {
	b := NewMessageBus(nil)
	got := make(chan string, 3)
	b.SubscribeOutbound("telegram", func(m OutboundMessage) { got <- m.Content })
	b.SubscribeOutbound("other", func(m OutboundMessage) { t.Errorf("wrong channel: %v", m) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.DispatchOutbound(ctx)
	}()

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", ChatID: 1, Content: s}))
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case s := <-got:
			assert.Equal(t, want, s)
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
	cancel()
	<-done
}

func TestSubscriberPanicDoesNotStopDispatch(t *testing.T) {
	b := NewMessageBus(nil)
	got := make(chan string, 1)
	b.SubscribeOutbound("telegram", func(m OutboundMessage) {
		if m.Content == "boom" {
			panic("boom")
		}
		got <- m.Content
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.DispatchOutbound(ctx)
	}()

	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", Content: "boom"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", Content: "ok"}))
	select {
	case s := <-got:
		assert.Equal(t, "ok", s)
	case <-time.After(time.Second):
		t.Fatal("dispatch stopped after panic")
	}
	cancel()
	<-done
}

func TestPublishInboundHonoursContext(t *testing.T) {
	b := NewMessageBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < cap(b.inbound); i++ {
		require.NoError(t, b.PublishInbound(ctx, InboundMessage{ChatID: int64(i)}))
	}
	cancel()
	assert.ErrorIs(t, b.PublishInbound(ctx, InboundMessage{}), context.Canceled)
}
