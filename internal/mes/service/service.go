package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/event"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// scope 一次业务操作的事务上下文
type scope struct {
	ctx    context.Context
	tx     *gorm.DB
	repos  *repository.Repositories
	outbox *notify.Outbox
	actor  auth.Actor
	now    time.Time
}

// engine 各服务共享的事务边界、信号总线与通知出口
type engine struct {
	db     *gorm.DB
	repos  *repository.Repositories
	sink   notify.Sink
	bus    *event.Bus[*scope]
	logger *zap.Logger
	clock  func() time.Time
}

func (e *engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

// run 在可重试事务中执行 fn，提交后投递通知
func (e *engine) run(ctx context.Context, actor auth.Actor, fn func(sc *scope) error) error {
	return e.exec(ctx, actor, repository.Transact, fn)
}

// mint 含编号生成的事务，重复键也会重试
func (e *engine) mint(ctx context.Context, actor auth.Actor, fn func(sc *scope) error) error {
	return e.exec(ctx, actor, repository.Mint, fn)
}

type txRunner func(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error

func (e *engine) exec(ctx context.Context, actor auth.Actor, runner txRunner, fn func(sc *scope) error) error {
	var box *notify.Outbox
	err := runner(ctx, e.db, func(tx *gorm.DB) error {
		// 每次重试使用新的发件箱，回滚的通知不会投递
		box = &notify.Outbox{}
		sc := &scope{
			ctx:    ctx,
			tx:     tx,
			repos:  e.repos.WithTx(tx),
			outbox: box,
			actor:  actor,
			now:    e.now(),
		}
		return fn(sc)
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindIntegrityFault) {
			e.logger.Error("integrity fault", zap.String("actor", actor.UserID), zap.String("stack", fmt.Sprintf("%+v", err)))
		}
		return err
	}
	box.Flush(ctx, e.sink, e.logger)
	return nil
}

func newID() string {
	return uuid.New().String()
}

func strPtr(s string) *string {
	return &s
}

func intPtr(n int) *int {
	return &n
}

func ptrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Options 服务装配参数
type Options struct {
	Sink   notify.Sink
	Cursor Cursor
	Logger *zap.Logger
	// DisableDispatchRules 启动时忽略分派规则
	DisableDispatchRules bool
	// Clock 测试中固定时间
	Clock func() time.Time
}

// Services MES 服务集合
type Services struct {
	WorkOrder    *WorkOrderService
	Process      *ProcessService
	Task         *TaskService
	Router       *AssignmentRouter
	Generator    *TaskGenerator
	Stock        *StockService
	Asset        *AssetService
	Material     *MaterialService
	Purchase     *PurchaseService
	Notification *NotificationService
	Export       *ExportService
	Sweep        *StockSweep
}

func NewServices(db *gorm.DB, repos *repository.Repositories, opts Options) *Services {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cursor := opts.Cursor
	if cursor == nil {
		cursor = NewMemoryCursor()
	}
	e := &engine{
		db:     db,
		repos:  repos,
		sink:   opts.Sink,
		bus:    event.NewBus[*scope](),
		logger: logger,
		clock:  opts.Clock,
	}

	generator := NewTaskGenerator()
	router := NewAssignmentRouter(e, cursor, !opts.DisableDispatchRules)
	stock := &StockService{engine: e}
	process := &ProcessService{engine: e, generator: generator, router: router, stock: stock}
	task := &TaskService{engine: e, process: process, router: router}
	wo := &WorkOrderService{engine: e, generator: generator, router: router, process: process, task: task}

	e.bus.Subscribe(KindAssetConfirmed, task.onAssetConfirmed)
	e.bus.Subscribe(KindMaterialCut, task.onMaterialCut)

	return &Services{
		WorkOrder:    wo,
		Process:      process,
		Task:         task,
		Router:       router,
		Generator:    generator,
		Stock:        stock,
		Asset:        &AssetService{engine: e},
		Material:     &MaterialService{engine: e, process: process},
		Purchase:     &PurchaseService{engine: e},
		Notification: &NotificationService{repo: repos.Notification},
		Export:       &ExportService{repos: repos},
		Sweep:        &StockSweep{engine: e},
	}
}
