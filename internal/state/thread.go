package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/aspri/internal/provider"
)

// ChatMessage is one entry of a conversation thread.
type ChatMessage struct {
	ID        string        `yaml:"id"`
	ThreadID  string        `yaml:"thread_id"`
	UserID    string        `yaml:"user_id"`
	Role      provider.Role `yaml:"role"`
	Content   string        `yaml:"content"`
	CreatedAt time.Time     `yaml:"created_at"`
}

// Thread is the stored history of one conversation.
type Thread struct {
	ID        string        `yaml:"id"`
	UserID    string        `yaml:"user_id"`
	Messages  []ChatMessage `yaml:"messages"`
	CreatedAt time.Time     `yaml:"created_at"`
	UpdatedAt time.Time     `yaml:"updated_at"`
}

// ThreadStore keeps thread histories in memory. Save and Load persist a
// thread as YAML under dir. maxMessages caps each thread (0 = no cap).
type ThreadStore struct {
	mu          sync.RWMutex
	threads     map[string]*Thread
	dir         string
	maxMessages int
}

func NewThreadStore(dir string, maxMessages int) *ThreadStore {
	return &ThreadStore{
		threads:     make(map[string]*Thread),
		dir:         dir,
		maxMessages: maxMessages,
	}
}

// Append adds msgs to the thread, creating it on first use.
func (s *ThreadStore) Append(_ context.Context, threadID, userID string, msgs ...provider.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	th, ok := s.threads[threadID]
	if !ok {
		th = &Thread{ID: threadID, UserID: userID, CreatedAt: now}
		s.threads[threadID] = th
	}
	for _, m := range msgs {
		th.Messages = append(th.Messages, ChatMessage{
			ID:        ulid.Make().String(),
			ThreadID:  threadID,
			UserID:    userID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: now,
		})
	}
	if s.maxMessages > 0 && len(th.Messages) > s.maxMessages {
		th.Messages = append([]ChatMessage(nil), th.Messages[len(th.Messages)-s.maxMessages:]...)
	}
	th.UpdatedAt = now
	return nil
}

// Recent returns up to n of the newest messages, oldest first. An unknown
// thread has no messages.
func (s *ThreadStore) Recent(_ context.Context, threadID string, n int) ([]provider.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	msgs := th.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]provider.Message, len(msgs))
	for i, m := range msgs {
		out[i] = provider.Message{Role: m.Role, Content: m.Content}
	}
	return out, nil
}

func (s *ThreadStore) Get(id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %q not found", id)
	}
	cp := *th
	cp.Messages = append([]ChatMessage(nil), th.Messages...)
	return &cp, nil
}

func (s *ThreadStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
}

func (s *ThreadStore) Save(id string) error {
	th, err := s.Get(id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating threads dir: %w", err)
	}

	data, err := yaml.Marshal(th)
	if err != nil {
		return fmt.Errorf("marshaling thread: %w", err)
	}

	path := filepath.Join(s.dir, id+".yaml")
	return os.WriteFile(path, data, 0600)
}

func (s *ThreadStore) Load(id string) error {
	path := filepath.Join(s.dir, id+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading thread file: %w", err)
	}

	var th Thread
	if err := yaml.Unmarshal(data, &th); err != nil {
		return fmt.Errorf("parsing thread: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = &th
	return nil
}
