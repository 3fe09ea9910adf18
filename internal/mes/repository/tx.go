package repository

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// MaxAttempts 事务重试次数
const MaxAttempts = 3

// PostgreSQL SQLSTATE
const (
	sqlStateDeadlock      = "40P01"
	sqlStateSerialization = "40001"
	sqlStateLockTimeout   = "55P03"
	sqlStateUniqueViolate = "23505"
)

// IsTransient 死锁、序列化失败、锁等待超时
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateDeadlock, sqlStateSerialization, sqlStateLockTimeout:
			return true
		}
	}
	return false
}

// IsDuplicateKey 唯一键冲突（编号被并发占用）
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolate
}

// Transact 在事务中执行 fn，瞬时失败时带抖动退避重试，耗尽后返回 Busy
func Transact(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	err := retry(ctx, db, IsTransient, fn)
	if err != nil && IsTransient(err) {
		return apperr.Busy("数据库繁忙，请稍后重试", err)
	}
	return err
}

// Mint 编号生成与插入在同一事务中完成，重复键也视为可重试
func Mint(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	retryable := func(err error) bool { return IsTransient(err) || IsDuplicateKey(err) }
	err := retry(ctx, db, retryable, fn)
	if err != nil && retryable(err) {
		return apperr.MinterContention("编号生成冲突，请稍后重试", err)
	}
	return err
}

func retry(ctx context.Context, db *gorm.DB, retryable func(error) bool, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == MaxAttempts {
			break
		}
		backoff := time.Duration(attempt*20+rand.Intn(30)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
