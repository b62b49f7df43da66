package bus

import (
	"time"
)

// InboundMessage represents a message received from a chat channel.
// Command is the bot command without its slash, e.g. "start".
type InboundMessage struct {
	Channel   string    `json:"channel"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	Content   string    `json:"content"`
	Command   string    `json:"command,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage represents a message to send to a chat channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
}
