// Package session relays interactive login progress to a single live
// client. Each session owns a queue fed by a detached worker and drained
// by the request that opened it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
)

var (
	ErrSessionActive  = errors.New("a login session is already active for this account")
	ErrInvalidAccount = errors.New("account id is required")
)

const DefaultPollInterval = 100 * time.Millisecond

// LoginRunner drives the login procedure of one platform. It reports
// progress through emit and should finish with a terminal token ("200"
// on success, another three digit code on failure).
type LoginRunner interface {
	Platform() models.PlatformType
	Run(ctx context.Context, accountKey string, emit func(string)) error
}

// LoginRunnerFunc adapts a function to the LoginRunner interface.
type LoginRunnerFunc struct {
	PlatformType models.PlatformType
	Fn           func(ctx context.Context, accountKey string, emit func(string)) error
}

func (f LoginRunnerFunc) Platform() models.PlatformType { return f.PlatformType }

func (f LoginRunnerFunc) Run(ctx context.Context, accountKey string, emit func(string)) error {
	return f.Fn(ctx, accountKey, emit)
}

// Result describes how a session's worker ended.
type Result struct {
	SessionID  string
	Platform   models.PlatformType
	AccountKey string
	// Token is the first terminal token seen, empty if none was emitted.
	Token string
	Err   error
}

func (r Result) Succeeded() bool { return r.Token == models.LoginSucceeded }

// Session is one active login stream.
type Session struct {
	ID         string
	Platform   models.PlatformType
	AccountKey string
	CreatedAt  time.Time

	queue *Queue
	once  sync.Once

	mu       sync.Mutex
	terminal string
}

func (s *Session) key() string { return sessionKey(s.Platform, s.AccountKey) }

func (s *Session) emit(msg string) {
	if models.IsTerminalToken(msg) {
		s.mu.Lock()
		if s.terminal == "" {
			s.terminal = msg
		}
		s.mu.Unlock()
	}
	s.queue.Push(msg)
}

func (s *Session) terminalToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Manager keeps at most one session per (platform, account) pair.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	runners    map[models.PlatformType]LoginRunner
	poll       time.Duration
	onComplete func(Result)
	logger     *zap.Logger
}

func NewManager(pollInterval time.Duration, logger *zap.Logger) *Manager {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Manager{
		sessions: make(map[string]*Session),
		runners:  make(map[models.PlatformType]LoginRunner),
		poll:     pollInterval,
		logger:   logger,
	}
}

func (m *Manager) RegisterRunner(r LoginRunner) error {
	platform := r.Platform()
	if !platform.Valid() {
		return fmt.Errorf("unsupported platform: %d", int(platform))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runners[platform]; exists {
		return fmt.Errorf("login runner for platform %s already registered", platform)
	}
	m.runners[platform] = r
	m.logger.Info("Login runner registered", zap.String("platform", platform.String()))
	return nil
}

// OnComplete sets a hook called from the worker once its runner returns.
func (m *Manager) OnComplete(fn func(Result)) {
	m.mu.Lock()
	m.onComplete = fn
	m.mu.Unlock()
}

// Open registers a new session and starts its worker. A platform without
// a runner yields a session holding a single "500".
func (m *Manager) Open(platform models.PlatformType, accountKey string) (*Session, error) {
	accountKey = strings.TrimSpace(accountKey)
	if accountKey == "" {
		return nil, ErrInvalidAccount
	}

	s := &Session{
		ID:         uuid.NewString(),
		Platform:   platform,
		AccountKey: accountKey,
		CreatedAt:  time.Now(),
		queue:      NewQueue(),
	}

	m.mu.Lock()
	if _, exists := m.sessions[s.key()]; exists {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.sessions[s.key()] = s
	runner := m.runners[platform]
	m.mu.Unlock()

	if runner == nil {
		m.logger.Warn("No login runner for platform",
			zap.Int("platform", int(platform)),
			zap.String("account", accountKey))
		s.emit(models.LoginFailed)
		s.queue.Finish()
		return s, nil
	}

	m.logger.Info("Login session opened",
		zap.String("session_id", s.ID),
		zap.String("platform", platform.String()),
		zap.String("account", accountKey))

	go m.work(s, runner)
	return s, nil
}

func (m *Manager) work(s *Session, runner LoginRunner) {
	err := m.run(s, runner)
	if err != nil {
		m.logger.Warn("Login runner failed",
			zap.String("session_id", s.ID),
			zap.String("platform", s.Platform.String()),
			zap.String("account", s.AccountKey),
			zap.Error(err))
		if s.terminalToken() == "" {
			s.emit(models.LoginFailed)
		}
	}
	s.queue.Finish()

	m.mu.Lock()
	hook := m.onComplete
	m.mu.Unlock()
	if hook == nil {
		return
	}

	res := Result{
		SessionID:  s.ID,
		Platform:   s.Platform,
		AccountKey: s.AccountKey,
		Token:      s.terminalToken(),
		Err:        err,
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Login completion hook panicked", zap.String("session_id", s.ID), zap.Any("panic", r))
		}
	}()
	hook(res)
}

func (m *Manager) run(s *Session, runner LoginRunner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("login runner panicked: %v", r)
		}
	}()
	// the worker outlives the request that opened the session
	return runner.Run(context.Background(), s.AccountKey, s.emit)
}

// Stream relays queued messages to emit in order until a terminal token
// has been sent, the worker finished and the queue is drained, or the
// consumer goes away. The session is released when Stream returns.
func (m *Manager) Stream(ctx context.Context, s *Session, emit func(string) error) error {
	defer m.Release(s)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		msg, ok, done := s.queue.Pop()
		if ok {
			if err := emit(msg); err != nil {
				return err
			}
			if models.IsTerminalToken(msg) {
				return nil
			}
			continue
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.Ready():
		case <-ticker.C:
		}
	}
}

// Release unregisters the session and detaches its queue. Only the first
// call has any effect.
func (m *Manager) Release(s *Session) {
	s.once.Do(func() {
		m.mu.Lock()
		if cur, ok := m.sessions[s.key()]; ok && cur.ID == s.ID {
			delete(m.sessions, s.key())
		}
		m.mu.Unlock()
		s.queue.Close()

		m.logger.Info("Login session released",
			zap.String("session_id", s.ID),
			zap.String("account", s.AccountKey))
	})
}

// Active reports whether a session is registered for the pair.
func (m *Manager) Active(platform models.PlatformType, accountKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionKey(platform, strings.TrimSpace(accountKey))]
	return ok
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func sessionKey(platform models.PlatformType, accountKey string) string {
	return fmt.Sprintf("%d:%s", int(platform), accountKey)
}
