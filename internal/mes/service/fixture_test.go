package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"gorm.io/gorm"
)

var (
	creator = auth.Actor{UserID: "creator", Name: "制单员", Capabilities: []string{auth.CapChangeWorkOrder}}
	sales   = auth.Actor{UserID: "u1", Name: "业务员甲", Roles: []string{auth.RoleSalesperson}}
	boss    = auth.Actor{UserID: "boss", Name: "生产主管", Capabilities: []string{auth.CapManageAllWorkOrders}}
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	repos *repository.Repositories
	svc   *Services
	sink  *notify.Recorder
	procs map[string]entity.Process
	now   time.Time
}

// newFixture 一个印刷部门（op1、op2）、客户 c1（业务员 u1）、产品 p1、未确认图稿 a1
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	procs := testutil.SeedCatalog(t, db)

	testutil.SeedUser(t, db, "admin", "管理员", true)
	testutil.SeedUser(t, db, "u1", "业务员甲", false)
	testutil.SeedUser(t, db, "op1", "操作员一", false)
	testutil.SeedUser(t, db, "op2", "操作员二", false)
	testutil.SeedDepartment(t, db, "d1", "PRINT", 1,
		procs["CTP"], procs["CUT"], procs["PRT"], procs["DIE"], procs["PACK"])
	testutil.AddMember(t, db, "op1", "d1")
	testutil.AddMember(t, db, "op2", "d1")
	testutil.SeedCustomer(t, db, "c1", "星河文创", "u1")
	testutil.SeedProduct(t, db, "p1", "礼盒", 0, 10)
	testutil.SeedArtwork(t, db, "a1", "ART202610001", false)

	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.Local)
	sink := &notify.Recorder{}
	repos := repository.NewRepositories(db)
	svc := NewServices(db, repos, Options{Sink: sink, Clock: func() time.Time { return now }})
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		repos: repos,
		svc:   svc,
		sink:  sink,
		procs: procs,
		now:   now,
	}
}

// happyInput CTP、PRT、PACK 三道工序，生产数量100
func (f *fixture) happyInput() CreateWorkOrderInput {
	delivery := f.now.AddDate(0, 0, 7)
	return CreateWorkOrderInput{
		CustomerID:         strPtr("c1"),
		DeliveryDate:       &delivery,
		ProductionQuantity: intPtr(100),
		Products:           []ProductLine{{ProductID: "p1", Quantity: 100}},
		Processes: []ProcessLine{
			{Code: "CTP", Sequence: 10},
			{Code: "PRT", Sequence: 20},
			{Code: "PACK", Sequence: 30},
		},
		ArtworkIDs: []string{"a1"},
	}
}

func (f *fixture) create(in CreateWorkOrderInput) *entity.WorkOrder {
	f.t.Helper()
	wo, err := f.svc.WorkOrder.Create(f.ctx, creator, in)
	if err != nil {
		f.t.Fatalf("create work order: %v", err)
	}
	return wo
}

func (f *fixture) approve(id string) *entity.WorkOrder {
	f.t.Helper()
	wo, err := f.svc.WorkOrder.Approve(f.ctx, sales, id, "同意")
	if err != nil {
		f.t.Fatalf("approve work order: %v", err)
	}
	return wo
}

// process 按工序编码取施工单工序
func (f *fixture) process(woID, code string) entity.WorkOrderProcess {
	f.t.Helper()
	procs, err := f.repos.Process.ListByWorkOrder(woID)
	if err != nil {
		f.t.Fatalf("list processes: %v", err)
	}
	for _, p := range procs {
		if p.Code() == code {
			return p
		}
	}
	f.t.Fatalf("process %s not found", code)
	return entity.WorkOrderProcess{}
}

func (f *fixture) tasks(woID, code string) []entity.WorkOrderTask {
	f.t.Helper()
	proc := f.process(woID, code)
	tasks, err := f.repos.Task.ListByProcess(proc.ID)
	if err != nil {
		f.t.Fatalf("list tasks: %v", err)
	}
	return tasks
}

// onlyTask 工序下唯一的任务
func (f *fixture) onlyTask(woID, code string) entity.WorkOrderTask {
	f.t.Helper()
	tasks := f.tasks(woID, code)
	if len(tasks) != 1 {
		f.t.Fatalf("expected 1 task in %s, got %d", code, len(tasks))
	}
	return tasks[0]
}

func (f *fixture) workOrder(id string) *entity.WorkOrder {
	f.t.Helper()
	wo, err := f.repos.WorkOrder.GetByID(id)
	if err != nil {
		f.t.Fatalf("get work order: %v", err)
	}
	return wo
}

func (f *fixture) increment(taskID string, n int) *entity.WorkOrderTask {
	f.t.Helper()
	task, err := f.svc.Task.UpdateQuantity(f.ctx, boss, taskID, UpdateQuantityInput{QuantityIncrement: n})
	if err != nil {
		f.t.Fatalf("update quantity: %v", err)
	}
	return task
}

func (f *fixture) processes(woID string) []entity.WorkOrderProcess {
	f.t.Helper()
	procs, err := f.repos.Process.ListByWorkOrder(woID)
	if err != nil {
		f.t.Fatalf("list processes: %v", err)
	}
	return procs
}
