// Package chat is the transport-facing entry point: it keeps thread history
// and runs each message through the orchestrator.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/orchestrator"
	"github.com/opentalon/aspri/internal/provider"
)

// DefaultHistoryWindow is how many earlier messages a turn sees.
const DefaultHistoryWindow = 20

var ErrEmptyMessage = errors.New("empty message")

// Threads stores the conversation of each thread.
type Threads interface {
	Append(ctx context.Context, threadID, userID string, msgs ...provider.Message) error
	Recent(ctx context.Context, threadID string, n int) ([]provider.Message, error)
}

type Processor interface {
	ProcessMessage(ctx context.Context, t orchestrator.Turn) orchestrator.Reply
	ProcessMessageStream(ctx context.Context, t orchestrator.Turn, onToken func(string)) orchestrator.Reply
}

type Service struct {
	threads Threads
	proc    Processor
	window  int
	logger  *zap.Logger
	locks   threadLocks
}

type Option func(*Service)

func WithHistoryWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.window = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(threads Threads, proc Processor, opts ...Option) *Service {
	s := &Service{
		threads: threads,
		proc:    proc,
		window:  DefaultHistoryWindow,
		logger:  zap.NewNop(),
		locks:   threadLocks{m: make(map[string]*threadLock)},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle runs one message. The reply is valid even when the error is not
// nil: errors only report that the exchange could not be stored.
func (s *Service) Handle(ctx context.Context, userID, threadID, text string) (orchestrator.Reply, error) {
	return s.handle(ctx, userID, threadID, text, nil)
}

// HandleStream is Handle with the reply delivered through onToken.
func (s *Service) HandleStream(ctx context.Context, userID, threadID, text string, onToken func(string)) (orchestrator.Reply, error) {
	if onToken == nil {
		onToken = func(string) {}
	}
	return s.handle(ctx, userID, threadID, text, onToken)
}

func (s *Service) handle(ctx context.Context, userID, threadID, text string, onToken func(string)) (orchestrator.Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return orchestrator.Reply{}, ErrEmptyMessage
	}

	unlock := s.locks.lock(threadID)
	defer unlock()

	history, err := s.threads.Recent(ctx, threadID, s.window)
	if err != nil {
		s.logger.Warn("chat: history unavailable", zap.String("thread_id", threadID), zap.Error(err))
		history = nil
	}

	turn := orchestrator.Turn{UserID: userID, ThreadID: threadID, Message: text, History: history}
	var reply orchestrator.Reply
	if onToken != nil {
		reply = s.proc.ProcessMessageStream(ctx, turn, onToken)
	} else {
		reply = s.proc.ProcessMessage(ctx, turn)
	}

	err = s.threads.Append(ctx, threadID, userID,
		provider.Message{Role: provider.RoleUser, Content: text},
		provider.Message{Role: provider.RoleAssistant, Content: reply.Text},
	)
	if err != nil {
		s.logger.Error("chat: append failed", zap.String("thread_id", threadID), zap.Error(err))
		return reply, fmt.Errorf("chat: store exchange: %w", err)
	}
	s.logger.Debug("chat: turn handled",
		zap.String("thread_id", threadID), zap.String("user_id", userID),
		zap.Bool("action_taken", reply.ActionTaken), zap.Bool("pending", reply.Pending != nil))
	return reply, nil
}

// threadLocks serializes turns of the same thread.
type threadLocks struct {
	mu sync.Mutex
	m  map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func (l *threadLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	tl, ok := l.m[id]
	if !ok {
		tl = &threadLock{}
		l.m[id] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
