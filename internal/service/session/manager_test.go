package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
)

func newTestManager(t *testing.T, runners ...LoginRunner) *Manager {
	t.Helper()
	m := NewManager(5*time.Millisecond, zap.NewNop())
	for _, r := range runners {
		if err := m.RegisterRunner(r); err != nil {
			t.Fatalf("RegisterRunner error: %v", err)
		}
	}
	return m
}

func scripted(platform models.PlatformType, msgs []string, err error) LoginRunner {
	return LoginRunnerFunc{
		PlatformType: platform,
		Fn: func(_ context.Context, _ string, emit func(string)) error {
			for _, msg := range msgs {
				emit(msg)
			}
			return err
		},
	}
}

func collect(t *testing.T, m *Manager, s *Session) []string {
	t.Helper()
	var got []string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Stream(ctx, s, func(msg string) error {
		got = append(got, msg)
		return nil
	}); err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	return got
}

func TestStreamRelaysInOrderAndCleansUp(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, scripted(models.PlatformDouyin, []string{"code:123", "scanned", "done"}, nil))

	s, err := m.Open(models.PlatformDouyin, "alice")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	got := collect(t, m, s)

	want := []string{"code:123", "scanned", "done"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if m.Active(models.PlatformDouyin, "alice") || m.Count() != 0 {
		t.Fatal("session still registered after stream ended")
	}
}

func TestStreamStopsAtTerminalToken(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, scripted(models.PlatformTencent, []string{"qr", "200", "after"}, nil))

	s, err := m.Open(models.PlatformTencent, "bob")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	got := collect(t, m, s)
	want := []string{"qr", "200"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestRunnerErrorYieldsSyntheticFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		runner LoginRunner
		want   []string
	}{
		{
			name:   "error without terminal",
			runner: scripted(models.PlatformKuaishou, []string{"qr"}, errors.New("browser closed")),
			want:   []string{"qr", models.LoginFailed},
		},
		{
			name:   "error after terminal",
			runner: scripted(models.PlatformKuaishou, []string{"qr", "401"}, errors.New("late")),
			want:   []string{"qr", "401"},
		},
		{
			name: "panic",
			runner: LoginRunnerFunc{PlatformType: models.PlatformKuaishou, Fn: func(context.Context, string, func(string)) error {
				panic("boom")
			}},
			want: []string{models.LoginFailed},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newTestManager(t, tt.runner)
			s, err := m.Open(models.PlatformKuaishou, "carol")
			if err != nil {
				t.Fatalf("Open error: %v", err)
			}
			if got := collect(t, m, s); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("events = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	s, err := m.Open(models.PlatformType(9), "dave")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got := collect(t, m, s); !reflect.DeepEqual(got, []string{models.LoginFailed}) {
		t.Fatalf("events = %v, want [500]", got)
	}
	if m.Count() != 0 {
		t.Fatalf("Count = %d, want 0", m.Count())
	}
}

func TestOpenRejectsActiveKey(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	m := newTestManager(t, LoginRunnerFunc{PlatformType: models.PlatformXiaohongshu, Fn: func(_ context.Context, _ string, emit func(string)) error {
		<-release
		emit(models.LoginSucceeded)
		return nil
	}})

	first, err := m.Open(models.PlatformXiaohongshu, "erin")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, err := m.Open(models.PlatformXiaohongshu, "erin"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second Open error = %v, want ErrSessionActive", err)
	}
	// a different platform is a different key
	other, err := m.Open(models.PlatformDouyin, "erin")
	if err != nil {
		t.Fatalf("Open other platform error: %v", err)
	}
	m.Release(other)

	close(release)
	collect(t, m, first)

	again, err := m.Open(models.PlatformXiaohongshu, "erin")
	if err != nil {
		t.Fatalf("Open after release error: %v", err)
	}
	m.Release(again)
}

func TestOpenRequiresAccount(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	if _, err := m.Open(models.PlatformDouyin, "  "); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("Open error = %v, want ErrInvalidAccount", err)
	}
}

func TestClientDisconnect(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		emitted int
	)
	stop := make(chan struct{})
	finished := make(chan struct{})
	m := newTestManager(t, LoginRunnerFunc{PlatformType: models.PlatformDouyin, Fn: func(_ context.Context, _ string, emit func(string)) error {
		defer close(finished)
		emit("qr")
		<-stop
		// the reader is gone; these must not block
		for i := 0; i < 1000; i++ {
			emit("late")
			mu.Lock()
			emitted++
			mu.Unlock()
		}
		return nil
	}})

	s, err := m.Open(models.PlatformDouyin, "frank")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err = m.Stream(ctx, s, func(msg string) error {
		got = append(got, msg)
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stream error = %v, want context.Canceled", err)
	}
	if !reflect.DeepEqual(got, []string{"qr"}) {
		t.Fatalf("events = %v, want [qr]", got)
	}
	if m.Count() != 0 {
		t.Fatal("session still registered after disconnect")
	}

	close(stop)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("worker blocked after reader detached")
	}
	mu.Lock()
	defer mu.Unlock()
	if emitted != 1000 {
		t.Fatalf("emitted = %d, want 1000", emitted)
	}
}

func TestEmitErrorEndsStream(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, scripted(models.PlatformDouyin, []string{"a", "b"}, nil))
	s, err := m.Open(models.PlatformDouyin, "gina")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	broken := errors.New("write: broken pipe")
	if err := m.Stream(context.Background(), s, func(string) error { return broken }); !errors.Is(err, broken) {
		t.Fatalf("Stream error = %v, want %v", err, broken)
	}
	if m.Count() != 0 {
		t.Fatal("session still registered after emit error")
	}
}

func TestReleaseOnlyRemovesOwnEntry(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	fresh, err := m.Open(models.PlatformDouyin, "hank")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	stale := &Session{ID: "stale", Platform: models.PlatformDouyin, AccountKey: "hank", queue: NewQueue()}
	m.Release(stale)
	if !m.Active(models.PlatformDouyin, "hank") {
		t.Fatal("releasing a stale session removed the registered one")
	}

	m.Release(fresh)
	m.Release(fresh)
	if m.Active(models.PlatformDouyin, "hank") {
		t.Fatal("session still registered after Release")
	}
}

func TestCompletionHook(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, scripted(models.PlatformTencent, []string{"qr", "200"}, nil))
	results := make(chan Result, 1)
	m.OnComplete(func(r Result) { results <- r })

	s, err := m.Open(models.PlatformTencent, "ivy")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	collect(t, m, s)

	select {
	case r := <-results:
		if !r.Succeeded() || r.AccountKey != "ivy" || r.Platform != models.PlatformTencent {
			t.Fatalf("result = %+v, want success for ivy", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook not called")
	}
}

func TestQueue(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	q.Push("a")
	q.Push("b")
	q.Finish()
	q.Push("dropped")

	var got []string
	for {
		msg, ok, done := q.Pop()
		if ok {
			got = append(got, msg)
			continue
		}
		if done {
			break
		}
		t.Fatal("Pop reported neither message nor done on a finished queue")
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("popped %v, want [a b]", got)
	}
}
