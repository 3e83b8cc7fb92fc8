package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service/session"
)

func ptr[T any](v T) *T { return &v }

func TestAccountCRUD(t *testing.T) {
	ctx := context.Background()
	svc := NewAccountService(newTestDB(t), zap.NewNop())

	created, err := svc.Create(ctx, AccountInput{
		PlatformType: ptr(models.PlatformDouyin),
		UserName:     ptr(" alice "),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.UserName != "alice" || created.FilePath != "alice.json" || created.Status != models.AccountAbnormal {
		t.Fatalf("created = %+v, want alice with default cookie file", created)
	}

	if _, err := svc.Create(ctx, AccountInput{PlatformType: ptr(models.PlatformType(8)), UserName: ptr("x")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Create bad type error = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Create(ctx, AccountInput{PlatformType: ptr(models.PlatformDouyin), UserName: ptr("x"), FilePath: ptr("../x.json")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Create unsafe path error = %v, want ErrInvalidInput", err)
	}

	updated, err := svc.Update(ctx, created.ID, AccountInput{Status: ptr(models.AccountNormal), UserName: ptr("alice2")})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.Status != models.AccountNormal || updated.UserName != "alice2" {
		t.Fatalf("updated = %+v, want normal alice2", updated)
	}

	list, err := svc.List(ctx, models.PlatformDouyin)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v, want one account", list, err)
	}
	if list, _ := svc.List(ctx, models.PlatformKuaishou); len(list) != 0 {
		t.Fatalf("List kuaishou = %v, want empty", list)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("second Delete error = %v, want ErrAccountNotFound", err)
	}
	if _, err := svc.Update(ctx, created.ID, AccountInput{Status: ptr(models.AccountNormal)}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("Update missing error = %v, want ErrAccountNotFound", err)
	}
}

func TestRecordLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewAccountService(newTestDB(t), zap.NewNop())

	ok := session.Result{Platform: models.PlatformTencent, AccountKey: "bob", Token: models.LoginSucceeded}
	if err := svc.RecordLogin(ctx, ok); err != nil {
		t.Fatalf("RecordLogin error: %v", err)
	}
	// a second success upserts rather than duplicating
	if err := svc.RecordLogin(ctx, ok); err != nil {
		t.Fatalf("RecordLogin error: %v", err)
	}

	list, _ := svc.List(ctx, models.PlatformTencent)
	if len(list) != 1 || list[0].Status != models.AccountNormal || list[0].FilePath != "bob.json" {
		t.Fatalf("accounts = %+v, want one normal bob", list)
	}

	if err := svc.RecordLogin(ctx, session.Result{Platform: models.PlatformTencent, AccountKey: "bob", Token: models.LoginFailed}); err != nil {
		t.Fatalf("RecordLogin failure error: %v", err)
	}
	list, _ = svc.List(ctx, models.PlatformTencent)
	if list[0].Status != models.AccountAbnormal {
		t.Fatalf("status = %d, want abnormal after failed login", list[0].Status)
	}

	// no terminal token, no change; unknown account failure creates nothing
	_ = svc.RecordLogin(ctx, session.Result{Platform: models.PlatformTencent, AccountKey: "carl"})
	_ = svc.RecordLogin(ctx, session.Result{Platform: models.PlatformTencent, AccountKey: "dan", Token: "500"})
	if list, _ := svc.List(ctx, 0); len(list) != 1 {
		t.Fatalf("accounts = %d, want 1", len(list))
	}
}
