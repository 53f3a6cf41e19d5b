package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

func TestUpsertCode_ReplacesPreviousCode(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.VerificationCode{})
	now := time.Now().UTC()

	first := &domain.VerificationCode{Target: "a@x.io", CodeHash: "h1", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := UpsertCode(ctx, db, first); err != nil {
		t.Fatalf("UpsertCode #1: %v", err)
	}
	second := &domain.VerificationCode{Target: "a@x.io", CodeHash: "h2", IssuedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	if err := UpsertCode(ctx, db, second); err != nil {
		t.Fatalf("UpsertCode #2: %v", err)
	}

	var n int64
	db.Model(&domain.VerificationCode{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one row per target, got %d", n)
	}
	got, err := GetCode(ctx, db, "a@x.io")
	if err != nil || got.CodeHash != "h2" || !got.ExpiresAt.Equal(second.ExpiresAt) {
		t.Fatalf("GetCode = %+v, %v", got, err)
	}
}

func TestDeleteCode_AndMissing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.VerificationCode{})
	now := time.Now().UTC()

	if err := UpsertCode(ctx, db, &domain.VerificationCode{Target: "b@x.io", CodeHash: "h", IssuedAt: now, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("UpsertCode: %v", err)
	}
	if err := DeleteCode(ctx, db, "b@x.io"); err != nil {
		t.Fatalf("DeleteCode: %v", err)
	}
	if err := DeleteCode(ctx, db, "b@x.io"); err != nil {
		t.Fatalf("DeleteCode on missing row: %v", err)
	}
	if _, err := GetCode(ctx, db, "b@x.io"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteExpiredCodes(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, &domain.VerificationCode{})
	now := time.Now().UTC()

	seed := map[string]time.Time{
		"old@x.io":  now.Add(-time.Minute),
		"edge@x.io": now,
		"live@x.io": now.Add(time.Minute),
	}
	for target, exp := range seed {
		if err := UpsertCode(ctx, db, &domain.VerificationCode{Target: target, CodeHash: "h", IssuedAt: now, ExpiresAt: exp}); err != nil {
			t.Fatalf("seed %s: %v", target, err)
		}
	}

	n, err := DeleteExpiredCodes(ctx, db, now)
	if err != nil || n != 2 {
		t.Fatalf("DeleteExpiredCodes = %d, %v; want 2", n, err)
	}
	if _, err := GetCode(ctx, db, "live@x.io"); err != nil {
		t.Fatalf("live code removed: %v", err)
	}
}
