package repository_test

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestPrefixFormats(t *testing.T) {
	now := time.Date(2024, 3, 9, 10, 0, 0, 0, time.Local)
	cases := []struct {
		got     string
		pattern string
	}{
		{repository.FormatCode(repository.WorkOrderPrefix(now), 7, repository.WorkOrderWidth), `^[0-9]{6}[0-9]{3}$`},
		{repository.FormatCode(repository.PurchaseOrderPrefix(now), 12, repository.PurchaseOrderWidth), `^PO[0-9]{8}[0-9]{4}$`},
		{repository.FormatCode(repository.ArtworkPrefix(now), 1, repository.AssetWidth), `^ART[0-9]{6}[0-9]{3}$`},
		{repository.FormatCode(repository.DiePrefix(now), 1, repository.AssetWidth), `^DIE[0-9]{6}[0-9]{3}$`},
		{repository.FormatCode(repository.FoilingPlatePrefix(now), 1, repository.AssetWidth), `^FP[0-9]{6}[0-9]{3}$`},
		{repository.FormatCode(repository.EmbossingPlatePrefix(now), 1, repository.AssetWidth), `^EP[0-9]{6}[0-9]{3}$`},
	}
	for _, c := range cases {
		if !regexp.MustCompile(c.pattern).MatchString(c.got) {
			t.Errorf("%s does not match %s", c.got, c.pattern)
		}
	}
	if got := repository.FormatCode("202403", 7, 3); got != "202403007" {
		t.Errorf("Expected 202403007, got %s", got)
	}
	if got := repository.FormatCode("PO20240309", 12, 4); got != "PO202403090012" {
		t.Errorf("Expected PO202403090012, got %s", got)
	}
}

func TestSequenceNext(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewSequenceRepository(db)

	code, err := repo.Next("mes_work_orders", "order_number", "202403", 3)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if code != "202403001" {
		t.Errorf("Expected 202403001 on empty table, got %s", code)
	}

	for _, n := range []string{"202403001", "202403009", "202403abc", "202402077"} {
		db.Create(&entity.WorkOrder{ID: n, OrderNumber: n, Status: entity.WOStatusPending, ApprovalStatus: entity.ApprovalPending})
	}
	code, err = repo.Next("mes_work_orders", "order_number", "202403", 3)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if code != "202403010" {
		t.Errorf("Expected 202403010, got %s", code)
	}

	// 序号超过宽度后按长度排序仍然单调
	db.Create(&entity.WorkOrder{ID: "w1000", OrderNumber: "2024031000", Status: entity.WOStatusPending, ApprovalStatus: entity.ApprovalPending})
	code, _ = repo.Next("mes_work_orders", "order_number", "202403", 3)
	if code != "2024031001" {
		t.Errorf("Expected 2024031001, got %s", code)
	}
}

func TestNextArtworkVersion(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewSequenceRepository(db)

	if _, err := repo.NextArtworkVersion("ART202403001"); !apperr.IsNotFound(err) {
		t.Fatalf("Expected NotFound for unknown base code, got %v", err)
	}
	testutil.SeedArtwork(t, db, "a1", "ART202403001", false)
	db.Create(&entity.Artwork{ID: "a2", BaseCode: "ART202403001", Version: 2, Name: "v2"})
	v, err := repo.NextArtworkVersion("ART202403001")
	if err != nil {
		t.Fatalf("NextArtworkVersion failed: %v", err)
	}
	if v != 3 {
		t.Errorf("Expected version 3, got %d", v)
	}
}

func TestMintRetriesDuplicateKey(t *testing.T) {
	db := testutil.SetupTestDB(t)
	attempts := 0
	err := repository.Mint(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return gorm.ErrDuplicatedKey
	})
	if attempts != repository.MaxAttempts {
		t.Errorf("Expected %d attempts, got %d", repository.MaxAttempts, attempts)
	}
	if !apperr.IsKind(err, apperr.KindMinterContention) {
		t.Fatalf("Expected MinterContention, got %v", err)
	}
	if e, _ := apperr.As(err); !e.Retryable() {
		t.Errorf("MinterContention should be retryable")
	}
}

func TestMintSucceedsAfterTransientFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	attempts := 0
	err := repository.Mint(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success on second attempt, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestTransactDoesNotRetryBusinessErrors(t *testing.T) {
	db := testutil.SetupTestDB(t)
	attempts := 0
	want := apperr.StateViolation("不允许")
	err := repository.Transact(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return want
	})
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, want) {
		t.Errorf("Expected business error to pass through, got %v", err)
	}

	attempts = 0
	err = repository.Transact(context.Background(), db, func(tx *gorm.DB) error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	if attempts != repository.MaxAttempts || !apperr.IsBusy(err) {
		t.Errorf("Expected exhaustion to map to Busy after %d attempts, got %d: %v",
			repository.MaxAttempts, attempts, err)
	}
	// 重试耗尽不是版本冲突，不带伪造的当前版本
	if apperr.IsConflict(err) {
		t.Errorf("Exhausted retries must not look like a version conflict: %v", err)
	}
	if got := apperr.HTTPStatus(err); got != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", got)
	}
}
