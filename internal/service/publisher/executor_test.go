package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []ItemReport
	panicOn models.ItemStatus
}

func (r *recordingReporter) ReportItem(_ context.Context, rep ItemReport) {
	r.mu.Lock()
	r.reports = append(r.reports, rep)
	r.mu.Unlock()
	if r.panicOn != "" && rep.Status == r.panicOn {
		panic("storage is down")
	}
}

func newTestManager(t *testing.T, fn func(ctx context.Context, d Delivery) error) *Manager {
	t.Helper()
	m := NewPublishManager(zap.NewNop())
	if err := m.RegisterDeliverer(DelivererFunc{PlatformType: models.PlatformDouyin, Fn: fn}); err != nil {
		t.Fatalf("RegisterDeliverer error: %v", err)
	}
	return m
}

func testItems() []models.PublishTaskItem {
	return []models.PublishTaskItem{
		{ID: 3, TaskID: 1, FilePath: "b.mp4", AccountFilePath: "a1.json"},
		{ID: 1, TaskID: 1, FilePath: "a.mp4", AccountFilePath: "a1.json"},
		{ID: 2, TaskID: 1, FilePath: "a.mp4", AccountFilePath: "a2.json"},
	}
}

func TestExecuteOneFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()
	var delivered []string
	manager := newTestManager(t, func(_ context.Context, d Delivery) error {
		delivered = append(delivered, d.File+"|"+d.Account)
		if d.ItemID == 2 {
			return errors.New("upload rejected")
		}
		return nil
	})
	reporter := &recordingReporter{}
	exec := NewExecutor(manager, reporter, Resolver{MediaDir: "media", CookieDir: "cookies"}, 0, zap.NewNop())

	task := &models.PublishTask{ID: 1, PlatformType: models.PlatformDouyin, Title: "demo"}
	outcomes, err := exec.Execute(context.Background(), task, testItems(), nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if len(delivered) != 3 {
		t.Fatalf("delivered %d items, want 3", len(delivered))
	}
	wantStatus := []models.ItemStatus{models.ItemSuccess, models.ItemFailed, models.ItemSuccess}
	for i, o := range outcomes {
		if o.ItemID != uint(i+1) {
			t.Fatalf("outcome[%d].ItemID = %d, want %d", i, o.ItemID, i+1)
		}
		if o.Status != wantStatus[i] {
			t.Fatalf("outcome[%d].Status = %s, want %s", i, o.Status, wantStatus[i])
		}
	}
	if outcomes[1].Message != "upload rejected" {
		t.Fatalf("failure message = %q, want %q", outcomes[1].Message, "upload rejected")
	}

	// running + terminal per item
	if len(reporter.reports) != 6 {
		t.Fatalf("got %d reports, want 6", len(reporter.reports))
	}
	for i := 0; i < len(reporter.reports); i += 2 {
		if reporter.reports[i].Status != models.ItemRunning {
			t.Fatalf("report[%d].Status = %s, want running", i, reporter.reports[i].Status)
		}
		if !reporter.reports[i+1].Status.Terminal() {
			t.Fatalf("report[%d].Status = %s, want terminal", i+1, reporter.reports[i+1].Status)
		}
	}
}

func TestExecuteRecoversDelivererPanic(t *testing.T) {
	t.Parallel()
	manager := newTestManager(t, func(_ context.Context, d Delivery) error {
		if d.ItemID == 1 {
			panic("browser crashed")
		}
		return nil
	})
	exec := NewExecutor(manager, &recordingReporter{}, Resolver{}, 0, zap.NewNop())

	task := &models.PublishTask{ID: 1, PlatformType: models.PlatformDouyin}
	outcomes, err := exec.Execute(context.Background(), task, testItems(), nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcomes[0].Status != models.ItemFailed {
		t.Fatalf("panicking item status = %s, want failed", outcomes[0].Status)
	}
	for _, o := range outcomes[1:] {
		if o.Status != models.ItemSuccess {
			t.Fatalf("item %d status = %s, want success", o.ItemID, o.Status)
		}
	}
}

func TestExecuteReporterPanicDoesNotAbortDelivery(t *testing.T) {
	t.Parallel()
	calls := 0
	manager := newTestManager(t, func(context.Context, Delivery) error {
		calls++
		return nil
	})
	reporter := &recordingReporter{panicOn: models.ItemRunning}
	exec := NewExecutor(manager, reporter, Resolver{}, 0, zap.NewNop())

	task := &models.PublishTask{ID: 1, PlatformType: models.PlatformDouyin}
	outcomes, err := exec.Execute(context.Background(), task, testItems(), nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("deliver calls = %d, want 3", calls)
	}
	for _, o := range outcomes {
		if o.Status != models.ItemSuccess {
			t.Fatalf("item %d status = %s, want success", o.ItemID, o.Status)
		}
	}
}

func TestExecutePreconditionFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		platform models.PlatformType
		items    []models.PublishTaskItem
		disable  bool
		wantErr  error
	}{
		{name: "unknown enum", platform: models.PlatformType(9), items: testItems(), wantErr: ErrUnsupportedPlatform},
		{name: "no deliverer", platform: models.PlatformKuaishou, items: testItems(), wantErr: ErrNoDeliverer},
		{name: "disabled", platform: models.PlatformDouyin, items: testItems(), disable: true},
		{name: "unsafe path", platform: models.PlatformDouyin, items: []models.PublishTaskItem{
			{ID: 1, FilePath: "ok.mp4", AccountFilePath: "a.json"},
			{ID: 2, FilePath: "../secret.mp4", AccountFilePath: "a.json"},
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			manager := newTestManager(t, func(context.Context, Delivery) error {
				calls++
				return nil
			})
			if tt.disable {
				manager.SetEnabled(models.PlatformDouyin, false)
			}
			reporter := &recordingReporter{}
			exec := NewExecutor(manager, reporter, Resolver{}, 0, zap.NewNop())

			task := &models.PublishTask{ID: 7, PlatformType: tt.platform}
			_, err := exec.Execute(context.Background(), task, tt.items, nil)
			if err == nil {
				t.Fatal("Execute error = nil, want precondition error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Execute error = %v, want %v", err, tt.wantErr)
			}
			if calls != 0 || len(reporter.reports) != 0 {
				t.Fatalf("calls = %d, reports = %d, want none", calls, len(reporter.reports))
			}
		})
	}
}

func TestExecutePassesMetadataAndResolvedPaths(t *testing.T) {
	t.Parallel()
	var got Delivery
	manager := newTestManager(t, func(_ context.Context, d Delivery) error {
		got = d
		return nil
	})
	exec := NewExecutor(manager, nil, Resolver{MediaDir: "/srv/media", CookieDir: "/srv/cookies"}, 0, zap.NewNop())

	task := &models.PublishTask{ID: 1, PlatformType: models.PlatformDouyin, Title: "t", Tags: models.StringList{"x"}}
	items := []models.PublishTaskItem{{ID: 1, FilePath: "v.mp4", AccountFilePath: "u.json"}}
	if _, err := exec.Execute(context.Background(), task, items, map[string]string{MetaCategory: "3"}); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got.File != "/srv/media/v.mp4" || got.Account != "/srv/cookies/u.json" {
		t.Fatalf("resolved = (%s, %s), want /srv/media/v.mp4 and /srv/cookies/u.json", got.File, got.Account)
	}
	if got.Metadata[MetaCategory] != "3" || got.Title != "t" || len(got.Tags) != 1 {
		t.Fatalf("delivery = %+v, want metadata, title and tags passed through", got)
	}
}
