package service

import (
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"github.com/shopspring/decimal"
)

// cuttingOrder 开料、印刷、包装，物料 m1 需要开料 500 张
func cuttingOrder(t *testing.T) (*fixture, *entity.WorkOrder) {
	t.Helper()
	f := newFixture(t)
	testutil.SeedMaterial(t, f.db, "m1", "白卡纸")
	in := f.happyInput()
	in.Processes = []ProcessLine{
		{Code: "CUT", Sequence: 10},
		{Code: "PRT", Sequence: 20},
		{Code: "PACK", Sequence: 30},
	}
	in.Materials = []MaterialLine{{MaterialID: "m1", MaterialUsage: "500张", MaterialSize: "787×1092", NeedCutting: true}}
	wo := f.create(in)
	f.approve(wo.ID)
	return f, f.workOrder(wo.ID)
}

func TestMaterialCutCompletesCuttingAndStartsPrinting(t *testing.T) {
	f, wo := cuttingOrder(t)
	if len(wo.Materials) != 1 {
		t.Fatalf("expected 1 material line, got %d", len(wo.Materials))
	}
	line := wo.Materials[0]

	if p := f.process(wo.ID, "CUT"); p.Status != entity.ProcessStatusInProgress {
		t.Fatalf("expected CUT started, got %s", p.Status)
	}
	if p := f.process(wo.ID, "PRT"); p.Status != entity.ProcessStatusPending {
		t.Fatalf("expected PRT pending, got %s", p.Status)
	}

	got, err := f.svc.Material.UpdatePurchaseStatus(f.ctx, creator, line.ID, entity.PurchaseOrdered)
	if err != nil {
		t.Fatalf("mark ordered: %v", err)
	}
	if got.PurchaseStatus != entity.PurchaseOrdered {
		t.Fatalf("expected ordered, got %s", got.PurchaseStatus)
	}
	if cutting := f.onlyTask(wo.ID, "CUT"); cutting.QuantityCompleted != 0 {
		t.Fatalf("ordered must not fill cutting task, got %d", cutting.QuantityCompleted)
	}

	if _, err := f.svc.Material.UpdatePurchaseStatus(f.ctx, creator, line.ID, entity.PurchaseCut); err != nil {
		t.Fatalf("mark cut: %v", err)
	}
	cutting := f.onlyTask(wo.ID, "CUT")
	if cutting.QuantityCompleted != 500 || cutting.Status != entity.TaskStatusCompleted {
		t.Fatalf("expected cutting 500/completed, got %d/%s", cutting.QuantityCompleted, cutting.Status)
	}
	if p := f.process(wo.ID, "CUT"); p.Status != entity.ProcessStatusCompleted {
		t.Fatalf("expected CUT completed, got %s", p.Status)
	}
	if p := f.process(wo.ID, "PRT"); p.Status != entity.ProcessStatusInProgress {
		t.Fatalf("expected PRT started once material is cut, got %s", p.Status)
	}

	// 重复设置同一状态不做任何事
	if _, err := f.svc.Material.UpdatePurchaseStatus(f.ctx, creator, line.ID, entity.PurchaseCut); err != nil {
		t.Fatalf("mark cut again: %v", err)
	}
	if again := f.onlyTask(wo.ID, "CUT"); again.Version != cutting.Version {
		t.Fatalf("cutting task touched by repeated status")
	}
}

func TestPrintingWaitsForMaterialCut(t *testing.T) {
	f, wo := cuttingOrder(t)
	cutting := f.onlyTask(wo.ID, "CUT")

	// 手工完成开料任务，但物料尚未开料
	f.increment(cutting.ID, 500)
	if p := f.process(wo.ID, "CUT"); p.Status != entity.ProcessStatusCompleted {
		t.Fatalf("expected CUT completed, got %s", p.Status)
	}
	if p := f.process(wo.ID, "PRT"); p.Status != entity.ProcessStatusPending {
		t.Fatalf("PRT must wait for material cut, got %s", p.Status)
	}
	prt := f.process(wo.ID, "PRT")
	if _, err := f.svc.Process.Start(f.ctx, boss, prt.ID, StartInput{}); !apperr.IsStateViolation(err) {
		t.Fatalf("expected state violation, got %v", err)
	}

	if _, err := f.svc.Material.UpdatePurchaseStatus(f.ctx, creator, wo.Materials[0].ID, entity.PurchaseCut); err != nil {
		t.Fatalf("mark cut: %v", err)
	}
	if p := f.process(wo.ID, "PRT"); p.Status != entity.ProcessStatusInProgress {
		t.Fatalf("expected PRT started, got %s", p.Status)
	}
}

func TestUpdatePurchaseStatusValidation(t *testing.T) {
	f, wo := cuttingOrder(t)
	line := wo.Materials[0]

	if _, err := f.svc.Material.UpdatePurchaseStatus(f.ctx, creator, line.ID, "lost"); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.Material.UpdatePurchaseStatus(f.ctx, auth.Actor{UserID: "op9"}, line.ID, entity.PurchaseOrdered); !apperr.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := f.svc.Material.UpdatePurchaseStatus(f.ctx, creator, "missing", entity.PurchaseOrdered); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreatePurchaseOrder(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Purchase.Create(f.ctx, creator, CreatePurchaseOrderInput{
		SupplierName: "华南纸业",
		TotalAmount:  decimal.RequireFromString("1280.50"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(first.OrderNumber, "PO20261015") || first.Status != "draft" {
		t.Fatalf("unexpected purchase order %s/%s", first.OrderNumber, first.Status)
	}
	second, err := f.svc.Purchase.Create(f.ctx, creator, CreatePurchaseOrderInput{SupplierName: "华南纸业"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.OrderNumber <= first.OrderNumber {
		t.Fatalf("expected increasing numbers, got %s then %s", first.OrderNumber, second.OrderNumber)
	}

	if _, err := f.svc.Purchase.Create(f.ctx, creator, CreatePurchaseOrderInput{TotalAmount: decimal.NewFromInt(-1)}); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
