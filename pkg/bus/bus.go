package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MessageBus decouples chat channels from the router.
type MessageBus struct {
	inbound             chan InboundMessage
	outbound            chan OutboundMessage
	outboundSubscribers map[string][]func(OutboundMessage)
	subscribersMu       sync.RWMutex
	logger              *zap.Logger
}

// NewMessageBus creates a new MessageBus. logger may be nil.
func NewMessageBus(logger *zap.Logger) *MessageBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageBus{
		inbound:             make(chan InboundMessage, 100),
		outbound:            make(chan OutboundMessage, 100),
		outboundSubscribers: make(map[string][]func(OutboundMessage)),
		logger:              logger.Named("bus"),
	}
}

// PublishInbound publishes a message from a channel to the router. It gives
// up when ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound returns a channel to consume inbound messages.
func (b *MessageBus) ConsumeInbound() <-chan InboundMessage {
	return b.inbound
}

// PublishOutbound publishes a reply to channels.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscribeOutbound subscribes to outbound messages for a specific channel.
func (b *MessageBus) SubscribeOutbound(channel string, callback func(OutboundMessage)) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	b.outboundSubscribers[channel] = append(b.outboundSubscribers[channel], callback)
}

// DispatchOutbound delivers outbound messages to subscribers until ctx is
// done. Messages for the same channel are delivered in order.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case msg := <-b.outbound:
			b.subscribersMu.RLock()
			subscribers := b.outboundSubscribers[msg.Channel]
			b.subscribersMu.RUnlock()

			if len(subscribers) == 0 {
				b.logger.Warn("no subscriber for outbound message", zap.String("channel", msg.Channel))
				continue
			}
			for _, cb := range subscribers {
				b.deliver(cb, msg)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *MessageBus) deliver(cb func(OutboundMessage), msg OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("outbound subscriber panicked",
				zap.Any("panic", r), zap.Int64("chat_id", msg.ChatID))
		}
	}()
	cb(msg)
}
