package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/publisher"
)

func newTestLedger(t *testing.T, now time.Time) *TaskLedger {
	t.Helper()
	l := NewTaskLedger(newTestDB(t), zap.NewNop())
	l.SetClock(fixedClock(now))
	return l
}

func TestCreateTaskWithTimer(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 30, 0, 0, time.Local)
	l := newTestLedger(t, now)

	task, items, err := l.CreateTask(context.Background(), JobSpec{
		PlatformType: models.PlatformDouyin,
		Files:        []string{"a.mp4", "b.mp4", "c.mp4"},
		Accounts:     []string{"u1.json", "u2.json"},
		Title:        "spring",
		Tags:         []string{"#travel", "food"},
		EnableTimer:  true,
		VideosPerDay: 2,
		DailyTimes:   SlotList{"18:00", "10"},
		StartDays:    1,
	})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if task.ID == 0 || task.Status != models.TaskCreated {
		t.Fatalf("task = %+v, want persisted created task", task)
	}
	if len(items) != 6 {
		t.Fatalf("got %d items, want 6", len(items))
	}

	wantFiles := []string{"a.mp4", "a.mp4", "b.mp4", "b.mp4", "c.mp4", "c.mp4"}
	wantAccounts := []string{"u1.json", "u2.json", "u1.json", "u2.json", "u1.json", "u2.json"}
	wantTimes := []time.Time{
		time.Date(2025, 3, 2, 10, 0, 0, 0, time.Local),
		time.Date(2025, 3, 2, 10, 0, 0, 0, time.Local),
		time.Date(2025, 3, 2, 18, 0, 0, 0, time.Local),
		time.Date(2025, 3, 2, 18, 0, 0, 0, time.Local),
		time.Date(2025, 3, 3, 10, 0, 0, 0, time.Local),
		time.Date(2025, 3, 3, 10, 0, 0, 0, time.Local),
	}

	_, stored, err := l.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask error: %v", err)
	}
	for i, item := range stored {
		if item.FilePath != wantFiles[i] || item.AccountFilePath != wantAccounts[i] {
			t.Fatalf("item[%d] = (%s, %s), want (%s, %s)", i, item.FilePath, item.AccountFilePath, wantFiles[i], wantAccounts[i])
		}
		if item.Status != models.ItemScheduled {
			t.Fatalf("item[%d].Status = %s, want scheduled", i, item.Status)
		}
		if item.ScheduledAt == nil || !item.ScheduledAt.Equal(wantTimes[i]) {
			t.Fatalf("item[%d].ScheduledAt = %v, want %v", i, item.ScheduledAt, wantTimes[i])
		}
		if item.StartedAt != nil || item.FinishedAt != nil {
			t.Fatalf("item[%d] has timestamps set before running", i)
		}
	}
}

func TestCreateTaskWithoutTimer(t *testing.T) {
	l := newTestLedger(t, time.Now())

	task, items, err := l.CreateTask(context.Background(), JobSpec{
		PlatformType: models.PlatformKuaishou,
		Files:        []string{"a.mp4", "a.mp4"},
		Accounts:     []string{"u1.json"},
	})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want duplicates folded to 1", len(items))
	}
	if items[0].Status != models.ItemPending || items[0].ScheduledAt != nil {
		t.Fatalf("item = %+v, want pending without schedule", items[0])
	}
	if task.VideosPerDay != 1 {
		t.Fatalf("VideosPerDay = %d, want default 1", task.VideosPerDay)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	tests := []struct {
		name string
		job  JobSpec
	}{
		{name: "no files", job: JobSpec{PlatformType: models.PlatformDouyin, Accounts: []string{"a.json"}}},
		{name: "no accounts", job: JobSpec{PlatformType: models.PlatformDouyin, Files: []string{"a.mp4"}}},
		{name: "bad platform", job: JobSpec{PlatformType: 7, Files: []string{"a.mp4"}, Accounts: []string{"a.json"}}},
		{name: "negative start", job: JobSpec{PlatformType: 1, Files: []string{"a.mp4"}, Accounts: []string{"a.json"}, StartDays: -1}},
		{name: "negative quota", job: JobSpec{PlatformType: 1, Files: []string{"a.mp4"}, Accounts: []string{"a.json"}, VideosPerDay: -2}},
		{name: "escaping file", job: JobSpec{PlatformType: 1, Files: []string{"../x.mp4"}, Accounts: []string{"a.json"}}},
		{name: "absolute account", job: JobSpec{PlatformType: 1, Files: []string{"x.mp4"}, Accounts: []string{"/etc/a.json"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, time.Now())
			_, _, err := l.CreateTask(context.Background(), tt.job)
			if !errors.Is(err, ErrInvalidJob) {
				t.Fatalf("CreateTask error = %v, want ErrInvalidJob", err)
			}
			var count int64
			l.db.Model(&models.PublishTask{}).Count(&count)
			if count != 0 {
				t.Fatalf("tasks persisted = %d, want 0", count)
			}
		})
	}
}

func TestReportItemTransitions(t *testing.T) {
	t1 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)
	l := newTestLedger(t, t1)
	ctx := context.Background()

	task, _, err := l.CreateTask(ctx, JobSpec{
		PlatformType: models.PlatformTencent,
		Files:        []string{"a.mp4"},
		Accounts:     []string{"u1.json"},
	})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	report := publisher.ItemReport{TaskID: task.ID, FilePath: "a.mp4", AccountFilePath: "u1.json"}

	report.Status = models.ItemRunning
	l.ReportItem(ctx, report)
	l.SetClock(fixedClock(t2))
	l.ReportItem(ctx, report)

	_, items, _ := l.GetTask(ctx, task.ID)
	if items[0].Status != models.ItemRunning {
		t.Fatalf("status = %s, want running", items[0].Status)
	}
	if items[0].StartedAt == nil || !items[0].StartedAt.Equal(t1) {
		t.Fatalf("StartedAt = %v, want first running time %v", items[0].StartedAt, t1)
	}
	if items[0].FinishedAt != nil {
		t.Fatalf("FinishedAt = %v, want nil while running", items[0].FinishedAt)
	}

	report.Status = models.ItemSuccess
	report.ResultMsg = "ok"
	l.ReportItem(ctx, report)

	l.SetClock(fixedClock(t3))
	report.Status = models.ItemFailed
	report.ResultMsg = "late failure"
	l.ReportItem(ctx, report)
	report.Status = models.ItemRunning
	l.ReportItem(ctx, report)

	_, items, _ = l.GetTask(ctx, task.ID)
	got := items[0]
	if got.Status != models.ItemSuccess || got.ResultMsg != "ok" {
		t.Fatalf("item = (%s, %q), want terminal success to stick", got.Status, got.ResultMsg)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(t2) {
		t.Fatalf("FinishedAt = %v, want %v", got.FinishedAt, t2)
	}
}

func TestReportItemUnknownTargetIsIgnored(t *testing.T) {
	l := newTestLedger(t, time.Now())
	// no rows and no panic
	l.ReportItem(context.Background(), publisher.ItemReport{TaskID: 99, FilePath: "x", AccountFilePath: "y", Status: models.ItemSuccess})
	l.ReportItem(context.Background(), publisher.ItemReport{TaskID: 99, Status: "bogus"})
}

func TestFinalizeTask(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		results    []models.ItemStatus
		fault      error
		wantStatus models.TaskStatus
		wantMsg    string
	}{
		{name: "all success", results: []models.ItemStatus{models.ItemSuccess, models.ItemSuccess}, wantStatus: models.TaskSuccess},
		{name: "one failed", results: []models.ItemStatus{models.ItemSuccess, models.ItemFailed}, wantStatus: models.TaskFailed},
		{name: "fault", fault: errors.New("no deliverer"), wantStatus: models.TaskFailed, wantMsg: "no deliverer"},
		{name: "fault after one success", results: []models.ItemStatus{models.ItemSuccess}, fault: errors.New("platform disabled"), wantStatus: models.TaskFailed, wantMsg: "platform disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, time.Now())
			task, items, err := l.CreateTask(ctx, JobSpec{
				PlatformType: models.PlatformXiaohongshu,
				Files:        []string{"a.mp4", "b.mp4"},
				Accounts:     []string{"u.json"},
			})
			if err != nil {
				t.Fatalf("CreateTask error: %v", err)
			}
			l.MarkRunning(ctx, task.ID)
			for i, st := range tt.results {
				l.ReportItem(ctx, publisher.ItemReport{
					TaskID:          task.ID,
					FilePath:        items[i].FilePath,
					AccountFilePath: items[i].AccountFilePath,
					Status:          st,
				})
			}

			tally, err := l.FinalizeTask(ctx, task.ID, tt.fault)
			if err != nil {
				t.Fatalf("FinalizeTask error: %v", err)
			}
			if tally.Status != tt.wantStatus || tally.Total != 2 {
				t.Fatalf("tally = %+v, want status %s and total 2", tally, tt.wantStatus)
			}

			stored, storedItems, _ := l.GetTask(ctx, task.ID)
			if stored.Status != tt.wantStatus || stored.ErrorMsg != tt.wantMsg {
				t.Fatalf("task = (%s, %q), want (%s, %q)", stored.Status, stored.ErrorMsg, tt.wantStatus, tt.wantMsg)
			}
			for _, it := range storedItems {
				if !it.Status.Terminal() || it.FinishedAt == nil {
					t.Fatalf("item %d = %s, want every item settled after finalize", it.ID, it.Status)
				}
			}
		})
	}
}

func TestFinalizeTaskNotFound(t *testing.T) {
	l := newTestLedger(t, time.Now())
	if _, err := l.FinalizeTask(context.Background(), 42, nil); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("FinalizeTask error = %v, want ErrTaskNotFound", err)
	}
	if _, _, err := l.GetTask(context.Background(), 42); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("GetTask error = %v, want ErrTaskNotFound", err)
	}
}

func TestListTasks(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, time.Now())

	mk := func(p models.PlatformType, title string, tags []string, created time.Time) uint {
		task, items, err := l.CreateTask(ctx, JobSpec{
			PlatformType: p,
			Files:        []string{"a.mp4", "b.mp4"},
			Accounts:     []string{"u.json"},
			Title:        title,
			Tags:         tags,
		})
		if err != nil {
			t.Fatalf("CreateTask error: %v", err)
		}
		l.ReportItem(ctx, publisher.ItemReport{TaskID: task.ID, FilePath: items[0].FilePath, AccountFilePath: "u.json", Status: models.ItemSuccess})
		l.ReportItem(ctx, publisher.ItemReport{TaskID: task.ID, FilePath: items[1].FilePath, AccountFilePath: "u.json", Status: models.ItemFailed})
		if _, err := l.FinalizeTask(ctx, task.ID, nil); err != nil {
			t.Fatalf("FinalizeTask error: %v", err)
		}
		l.db.Model(&models.PublishTask{}).Where("id = ?", task.ID).Update("created_at", created)
		return task.ID
	}

	d1 := time.Date(2025, 1, 10, 12, 0, 0, 0, time.Local)
	d2 := time.Date(2025, 1, 20, 12, 0, 0, 0, time.Local)
	first := mk(models.PlatformDouyin, "cat video", []string{"pets"}, d1)
	second := mk(models.PlatformKuaishou, "city walk", []string{"travel"}, d2)

	tests := []struct {
		name    string
		filter  TaskFilter
		wantIDs []uint
	}{
		{name: "all newest first", wantIDs: []uint{second, first}},
		{name: "platform", filter: TaskFilter{PlatformType: models.PlatformDouyin}, wantIDs: []uint{first}},
		{name: "keyword in title", filter: TaskFilter{Keyword: "city"}, wantIDs: []uint{second}},
		{name: "keyword in tags", filter: TaskFilter{Keyword: "pets"}, wantIDs: []uint{first}},
		{name: "status", filter: TaskFilter{Status: models.TaskSuccess}, wantIDs: []uint{}},
		{name: "start date", filter: TaskFilter{StartDate: "2025-01-15"}, wantIDs: []uint{second}},
		{name: "end date inclusive", filter: TaskFilter{EndDate: "2025-01-10"}, wantIDs: []uint{first}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := l.ListTasks(ctx, tt.filter, 1, 10)
			if err != nil {
				t.Fatalf("ListTasks error: %v", err)
			}
			if page.Total != int64(len(tt.wantIDs)) || len(page.Items) != len(tt.wantIDs) {
				t.Fatalf("total = %d, items = %d, want %d", page.Total, len(page.Items), len(tt.wantIDs))
			}
			for i, s := range page.Items {
				if s.ID != tt.wantIDs[i] {
					t.Fatalf("items[%d].ID = %d, want %d", i, s.ID, tt.wantIDs[i])
				}
				if s.ItemsTotal != 2 || s.ItemsSuccess != 1 || s.ItemsFailed != 1 {
					t.Fatalf("tally = %d/%d/%d, want 2/1/1", s.ItemsTotal, s.ItemsSuccess, s.ItemsFailed)
				}
			}
		})
	}

	if _, err := l.ListTasks(ctx, TaskFilter{StartDate: "01/15/2025"}, 1, 10); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("ListTasks bad date error = %v, want ErrInvalidFilter", err)
	}

	page, err := l.ListTasks(ctx, TaskFilter{}, 2, 1)
	if err != nil {
		t.Fatalf("ListTasks error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != first || page.Total != 2 {
		t.Fatalf("page 2 = %+v, want the older task with total 2", page)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, time.Now())

	task, items, err := l.CreateTask(ctx, JobSpec{
		PlatformType: models.PlatformDouyin,
		Files:        []string{"a.mp4", "b.mp4", "c.mp4"},
		Accounts:     []string{"u.json"},
	})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	l.MarkRunning(ctx, task.ID)
	l.ReportItem(ctx, publisher.ItemReport{TaskID: task.ID, FilePath: items[0].FilePath, AccountFilePath: "u.json", Status: models.ItemSuccess})
	l.ReportItem(ctx, publisher.ItemReport{TaskID: task.ID, FilePath: items[1].FilePath, AccountFilePath: "u.json", Status: models.ItemRunning})

	done, _, err := l.CreateTask(ctx, JobSpec{PlatformType: models.PlatformDouyin, Files: []string{"z.mp4"}, Accounts: []string{"u.json"}})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	l.ReportItem(ctx, publisher.ItemReport{TaskID: done.ID, FilePath: "z.mp4", AccountFilePath: "u.json", Status: models.ItemSuccess})
	if _, err := l.FinalizeTask(ctx, done.ID, nil); err != nil {
		t.Fatalf("FinalizeTask error: %v", err)
	}

	n, err := l.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted error: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	stored, storedItems, _ := l.GetTask(ctx, task.ID)
	if stored.Status != models.TaskFailed || stored.ErrorMsg != InterruptedMsg {
		t.Fatalf("task = (%s, %q), want failed interrupted", stored.Status, stored.ErrorMsg)
	}
	want := []models.ItemStatus{models.ItemSuccess, models.ItemFailed, models.ItemFailed}
	for i, item := range storedItems {
		if item.Status != want[i] {
			t.Fatalf("item[%d].Status = %s, want %s", i, item.Status, want[i])
		}
		if item.FinishedAt == nil {
			t.Fatalf("item[%d].FinishedAt = nil, want set", i)
		}
	}

	untouched, _, _ := l.GetTask(ctx, done.ID)
	if untouched.Status != models.TaskSuccess {
		t.Fatalf("finished task status = %s, want success", untouched.Status)
	}
}
