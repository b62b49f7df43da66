// Package session keeps a per-chat conversation history on disk as JSONL,
// with the recently active chats cached in memory.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxKept bounds how many messages a session holds in memory and on disk.
const maxKept = 200

// Message is one turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session represents a conversation session.
type Session struct {
	ChatID    int64     `json:"chat_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// History returns the last max messages, oldest first.
func (s *Session) History(max int) []Message {
	msgs := s.Messages
	if max >= 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// LastUserMessage returns the most recent message with role "user".
func (s *Session) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Manager manages conversation sessions. It is safe for concurrent use.
type Manager struct {
	SessionsDir string
	cache       *lru.Cache[int64, *Session]
	now         func() time.Time
	mu          sync.Mutex
}

// NewManager creates a new session manager caching up to cacheSize chats.
func NewManager(workspace string, cacheSize int) (*Manager, error) {
	sessionsDir := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}
	cache, err := lru.New[int64, *Session](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &Manager{SessionsDir: sessionsDir, cache: cache, now: time.Now}, nil
}

func (m *Manager) path(chatID int64) string {
	return filepath.Join(m.SessionsDir, strconv.FormatInt(chatID, 10)+".jsonl")
}

// Get returns a copy of the chat's session, loading it from disk on a miss.
func (m *Manager) Get(chatID int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(chatID)
	return Session{
		ChatID:    s.ChatID,
		Messages:  s.History(-1),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (m *Manager) getLocked(chatID int64) *Session {
	if s, ok := m.cache.Get(chatID); ok {
		return s
	}
	s := m.load(chatID)
	m.cache.Add(chatID, s)
	return s
}

func (m *Manager) load(chatID int64) *Session {
	now := m.now()
	s := &Session{ChatID: chatID, CreatedAt: now, UpdatedAt: now}

	file, err := os.Open(m.path(chatID))
	if err != nil {
		return s
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		s.Messages = append(s.Messages, msg)
	}
	if len(s.Messages) > 0 {
		s.CreatedAt = s.Messages[0].Timestamp
		s.UpdatedAt = s.Messages[len(s.Messages)-1].Timestamp
	}
	if len(s.Messages) > maxKept {
		s.Messages = s.Messages[len(s.Messages)-maxKept:]
	}
	return s
}

// Append records a message and persists it.
func (m *Manager) Append(chatID int64, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getLocked(chatID)
	msg := Message{Role: role, Content: content, Timestamp: m.now()}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.Timestamp

	if len(s.Messages) > maxKept {
		s.Messages = s.Messages[len(s.Messages)-maxKept:]
		return m.rewrite(s)
	}

	file, err := os.OpenFile(m.path(chatID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = file.Write(append(line, '\n'))
	return err
}

func (m *Manager) rewrite(s *Session) error {
	file, err := os.Create(m.path(s.ChatID))
	if err != nil {
		return fmt.Errorf("failed to rewrite session file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, msg := range s.Messages {
		line, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	return w.Flush()
}

// Clear clears a session.
func (m *Manager) Clear(chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(chatID)
	err := os.Remove(m.path(chatID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
