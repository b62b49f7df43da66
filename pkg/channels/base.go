package channels

import (
	"context"
	"strconv"
	"strings"

	"github.com/HKUDS/secretary-go/pkg/bus"
)

// Channel is the interface for chat channels.
type Channel interface {
	Name() string
	// Run receives messages until ctx is done.
	Run(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender is allowed to use this bot. Entries match
// either the numeric user ID or the username, with or without "@".
func (c *BaseChannel) IsAllowed(userID int64, username string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}

	id := strconv.FormatInt(userID, 10)
	for _, allowed := range c.AllowFrom {
		allowed = strings.TrimPrefix(strings.TrimSpace(allowed), "@")
		if allowed == id || (username != "" && strings.EqualFold(allowed, username)) {
			return true
		}
	}
	return false
}

// HandleMessage publishes an incoming message if its sender is allowed.
// It reports whether the message was accepted.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) bool {
	if !c.IsAllowed(msg.UserID, msg.Username) {
		return false
	}
	return c.Bus.PublishInbound(ctx, msg) == nil
}
