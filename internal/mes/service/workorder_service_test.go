package service

import (
	"strings"
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

func TestCreateWorkOrderGeneratesDrafts(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())

	if !strings.HasPrefix(wo.OrderNumber, "202610") {
		t.Fatalf("expected order number with prefix 202610, got %s", wo.OrderNumber)
	}
	if wo.Status != entity.WOStatusPending || wo.ApprovalStatus != entity.ApprovalPending {
		t.Fatalf("unexpected initial state %s/%s", wo.Status, wo.ApprovalStatus)
	}
	for _, code := range []string{"CTP", "PRT", "PACK"} {
		task := f.onlyTask(wo.ID, code)
		if task.Status != entity.TaskStatusDraft {
			t.Errorf("%s: expected draft task, got %s", code, task.Status)
		}
	}
	if len(f.sink.OfType(entity.NotifyTaskAssigned)) != 0 {
		t.Fatalf("draft tasks must not be assigned")
	}

	second := f.create(f.happyInput())
	if second.OrderNumber <= wo.OrderNumber {
		t.Fatalf("expected increasing order numbers, got %s then %s", wo.OrderNumber, second.OrderNumber)
	}
}

func TestCreateWorkOrderRejectsEarlyDelivery(t *testing.T) {
	f := newFixture(t)
	in := f.happyInput()
	early := f.now.AddDate(0, 0, -1)
	in.DeliveryDate = &early

	_, err := f.svc.WorkOrder.Create(f.ctx, creator, in)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateWorkOrderRejectsDuplicateSequence(t *testing.T) {
	f := newFixture(t)
	in := f.happyInput()
	in.Processes[1].Sequence = 10

	_, err := f.svc.WorkOrder.Create(f.ctx, creator, in)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApproveHappyPath(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())

	approved := f.approve(wo.ID)
	if approved.ApprovalStatus != entity.ApprovalApproved {
		t.Fatalf("expected approved, got %s", approved.ApprovalStatus)
	}
	if approved.Status != entity.WOStatusInProgress {
		t.Fatalf("expected in_progress, got %s", approved.Status)
	}

	plate := f.onlyTask(wo.ID, "CTP")
	if plate.TaskType != entity.TaskTypePlateMaking || plate.ProductionQuantity != 1 {
		t.Errorf("unexpected plate task %s/%d", plate.TaskType, plate.ProductionQuantity)
	}
	printing := f.onlyTask(wo.ID, "PRT")
	if printing.TaskType != entity.TaskTypePrinting || printing.ProductionQuantity != 100 {
		t.Errorf("unexpected printing task %s/%d", printing.TaskType, printing.ProductionQuantity)
	}
	packing := f.onlyTask(wo.ID, "PACK")
	if packing.TaskType != entity.TaskTypePackaging || packing.ProductionQuantity != 100 {
		t.Errorf("unexpected packaging task %s/%d", packing.TaskType, packing.ProductionQuantity)
	}
	for _, task := range []entity.WorkOrderTask{plate, printing, packing} {
		if task.Status != entity.TaskStatusPending {
			t.Errorf("expected released task, got %s", task.Status)
		}
		if task.AssignedDepartmentID == nil || *task.AssignedDepartmentID != "d1" {
			t.Errorf("expected task routed to d1")
		}
	}
	// 最少任务策略依次分派
	if deref(plate.AssignedOperatorID) != "op1" || deref(printing.AssignedOperatorID) != "op2" || deref(packing.AssignedOperatorID) != "op1" {
		t.Errorf("unexpected operators %s/%s/%s", deref(plate.AssignedOperatorID),
			deref(printing.AssignedOperatorID), deref(packing.AssignedOperatorID))
	}

	if p := f.process(wo.ID, "CTP"); p.Status != entity.ProcessStatusInProgress {
		t.Errorf("CTP should auto start, got %s", p.Status)
	}
	if p := f.process(wo.ID, "PRT"); p.Status != entity.ProcessStatusInProgress {
		t.Errorf("PRT should auto start, got %s", p.Status)
	}
	if p := f.process(wo.ID, "PACK"); p.Status != entity.ProcessStatusPending {
		t.Errorf("PACK should wait for PRT, got %s", p.Status)
	}

	if n := len(f.sink.OfType(entity.NotifyTaskAssigned)); n != 3 {
		t.Errorf("expected 3 task_assigned messages, got %d", n)
	}
	passed := f.sink.OfType(entity.NotifyApprovalPassed)
	if len(passed) != 1 || passed[0].RecipientID != "creator" {
		t.Errorf("expected approval_passed to creator, got %+v", passed)
	}
}

func TestApproveRejectsInvalidOrder(t *testing.T) {
	f := newFixture(t)
	in := f.happyInput()
	in.DeliveryDate = nil
	in.ArtworkIDs = nil
	wo := f.create(in)

	_, err := f.svc.WorkOrder.Approve(f.ctx, sales, wo.ID, "")
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	joined := strings.Join(e.Reasons, "\n")
	if !strings.Contains(joined, "缺少交货日期") {
		t.Errorf("missing delivery reason in %q", joined)
	}
	if !strings.Contains(joined, "请至少选择一个图稿") {
		t.Errorf("missing artwork reason in %q", joined)
	}
	if got := f.workOrder(wo.ID); got.ApprovalStatus != entity.ApprovalPending {
		t.Fatalf("approval status changed to %s", got.ApprovalStatus)
	}
}

func TestApproveRequiresCustomerSalesperson(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())

	other := auth.Actor{UserID: "u9", Roles: []string{auth.RoleSalesperson}}
	if _, err := f.svc.WorkOrder.Approve(f.ctx, other, wo.ID, ""); !apperr.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied for other salesperson, got %v", err)
	}
	if _, err := f.svc.WorkOrder.Approve(f.ctx, boss, wo.ID, ""); !apperr.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied without salesperson role, got %v", err)
	}
}

func TestRejectAndResubmit(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())

	if _, err := f.svc.WorkOrder.Reject(f.ctx, sales, wo.ID, " "); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for empty reason, got %v", err)
	}
	rejected, err := f.svc.WorkOrder.Reject(f.ctx, sales, wo.ID, "数量有误")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.ApprovalStatus != entity.ApprovalRejected {
		t.Fatalf("expected rejected, got %s", rejected.ApprovalStatus)
	}
	msgs := f.sink.OfType(entity.NotifyApprovalRejected)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "数量有误") {
		t.Fatalf("expected approval_rejected with reason, got %+v", msgs)
	}

	resubmitted, err := f.svc.WorkOrder.Resubmit(f.ctx, creator, wo.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.ApprovalStatus != entity.ApprovalPending || resubmitted.ApprovedByID != nil {
		t.Fatalf("expected pending without approver, got %s", resubmitted.ApprovalStatus)
	}
	logs, err := f.svc.WorkOrder.ApprovalLogs(f.ctx, wo.ID)
	if err != nil {
		t.Fatalf("approval logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 approval logs, got %d", len(logs))
	}
}

func TestRequestReapproval(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)

	if _, err := f.svc.WorkOrder.RequestReapproval(f.ctx, creator, wo.ID, ""); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for empty reason, got %v", err)
	}
	got, err := f.svc.WorkOrder.RequestReapproval(f.ctx, creator, wo.ID, "客户改稿")
	if err != nil {
		t.Fatalf("request reapproval: %v", err)
	}
	if got.ApprovalStatus != entity.ApprovalPending || got.Status != entity.WOStatusPending {
		t.Fatalf("expected pending/pending, got %s/%s", got.ApprovalStatus, got.Status)
	}
	msgs := f.sink.OfType(entity.NotifyReapprovalRequested)
	if len(msgs) != 2 {
		t.Fatalf("expected approver and creator notified, got %d", len(msgs))
	}
}

func TestAssetConfirmationCompletesPlateTask(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)

	flipped, err := f.svc.Asset.Confirm(f.ctx, creator, entity.AssetArtwork, "a1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !flipped {
		t.Fatalf("expected confirmation to flip")
	}

	plate := f.onlyTask(wo.ID, "CTP")
	if plate.QuantityCompleted != 1 || plate.Status != entity.TaskStatusCompleted {
		t.Fatalf("expected plate task 1/completed, got %d/%s", plate.QuantityCompleted, plate.Status)
	}
	if p := f.process(wo.ID, "CTP"); p.Status != entity.ProcessStatusCompleted {
		t.Fatalf("expected CTP completed, got %s", p.Status)
	}
	if got := f.workOrder(wo.ID); got.Status != entity.WOStatusInProgress {
		t.Fatalf("work order should stay in_progress, got %s", got.Status)
	}

	// 再次确认不做任何事
	again, err := f.svc.Asset.Confirm(f.ctx, creator, entity.AssetArtwork, "a1")
	if err != nil {
		t.Fatalf("confirm again: %v", err)
	}
	if again {
		t.Fatalf("second confirmation must be a no-op")
	}
	if after := f.onlyTask(wo.ID, "CTP"); after.Version != plate.Version {
		t.Fatalf("plate task touched by no-op confirmation: version %d -> %d", plate.Version, after.Version)
	}
}

func TestAssetConfirmationWaitsForPausedOrder(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)
	if _, err := f.svc.WorkOrder.Pause(f.ctx, creator, wo.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := f.svc.Asset.Confirm(f.ctx, creator, entity.AssetArtwork, "a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	plate := f.onlyTask(wo.ID, "CTP")
	if plate.QuantityCompleted != 0 || plate.Status == entity.TaskStatusCompleted {
		t.Fatalf("paused order must not be auto-filled, got %d/%s", plate.QuantityCompleted, plate.Status)
	}
	if got := f.workOrder(wo.ID); got.Status != entity.WOStatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	if _, err := f.svc.WorkOrder.Resume(f.ctx, creator, wo.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	plate = f.onlyTask(wo.ID, "CTP")
	if plate.QuantityCompleted != 1 || plate.Status != entity.TaskStatusCompleted {
		t.Fatalf("expected plate task filled on resume, got %d/%s", plate.QuantityCompleted, plate.Status)
	}
	if p := f.process(wo.ID, "CTP"); p.Status != entity.ProcessStatusCompleted {
		t.Errorf("expected CTP completed, got %s", p.Status)
	}
}

func TestPackagingCompletesWorkOrderAndStock(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)
	if _, err := f.svc.Asset.Confirm(f.ctx, creator, entity.AssetArtwork, "a1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	printing := f.increment(f.onlyTask(wo.ID, "PRT").ID, 100)
	if printing.Status != entity.TaskStatusCompleted {
		t.Fatalf("expected printing completed, got %s", printing.Status)
	}
	if p := f.process(wo.ID, "PACK"); p.Status != entity.ProcessStatusInProgress {
		t.Fatalf("PACK should auto start after PRT, got %s", p.Status)
	}

	packing := f.increment(f.onlyTask(wo.ID, "PACK").ID, 100)
	if packing.Status != entity.TaskStatusCompleted || packing.StockAccountedQuantity != 100 {
		t.Fatalf("expected packaging completed and accounted, got %s/%d", packing.Status, packing.StockAccountedQuantity)
	}
	pack := f.process(wo.ID, "PACK")
	if pack.Status != entity.ProcessStatusCompleted {
		t.Fatalf("expected PACK completed, got %s", pack.Status)
	}
	if got := f.workOrder(wo.ID); got.Status != entity.WOStatusCompleted {
		t.Fatalf("expected work order completed, got %s", got.Status)
	}

	product, _ := f.repos.Product.GetByID("p1")
	if product.StockQuantity != 100 {
		t.Fatalf("expected stock 100, got %d", product.StockQuantity)
	}
	logs, _ := f.repos.Product.ListStockLogs("p1")
	if len(logs) != 1 || logs[0].Quantity != 100 || logs[0].OldQuantity != 0 || logs[0].NewQuantity != 100 {
		t.Fatalf("unexpected stock logs %+v", logs)
	}
	if n := len(f.sink.OfType(entity.NotifyLowStockWarning)); n != 0 {
		t.Fatalf("expected no low stock warning, got %d", n)
	}
	if n := len(f.sink.OfType(entity.NotifyWorkOrderCompleted)); n != 1 {
		t.Fatalf("expected one workorder_completed message, got %d", n)
	}

	// 重复完成包装工序不再入库
	completed, err := f.svc.Process.CheckAndUpdateStatus(f.ctx, pack.ID)
	if err != nil {
		t.Fatalf("check process: %v", err)
	}
	if completed {
		t.Fatalf("already completed process must not complete again")
	}
	product, _ = f.repos.Product.GetByID("p1")
	logs, _ = f.repos.Product.ListStockLogs("p1")
	if product.StockQuantity != 100 || len(logs) != 1 {
		t.Fatalf("stock changed on re-completion: %d with %d logs", product.StockQuantity, len(logs))
	}
}

func TestLowStockWarningAfterPackaging(t *testing.T) {
	f := newFixture(t)
	in := f.happyInput()
	in.ProductionQuantity = intPtr(5)
	in.Products[0].Quantity = 5
	wo := f.create(in)
	f.approve(wo.ID)

	f.increment(f.onlyTask(wo.ID, "PRT").ID, 5)
	f.increment(f.onlyTask(wo.ID, "PACK").ID, 5)

	msgs := f.sink.OfType(entity.NotifyLowStockWarning)
	if len(msgs) != 1 || msgs[0].RecipientID != "admin" {
		t.Fatalf("expected one low stock warning to admin, got %+v", msgs)
	}
	// CTP 未完成，施工单继续进行
	if got := f.workOrder(wo.ID); got.Status != entity.WOStatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
}

func TestConcurrentQuantityUpdates(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)
	task := f.onlyTask(wo.ID, "PRT")
	if err := f.db.Model(&entity.WorkOrderTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
		"version":            5,
		"quantity_completed": 40,
		"status":             entity.TaskStatusInProgress,
	}).Error; err != nil {
		t.Fatalf("prepare task: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Task.UpdateQuantity(f.ctx, boss, task.ID, UpdateQuantityInput{
				Version:           intPtr(5),
				QuantityIncrement: 10,
			})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		e, ok := apperr.As(err)
		if !ok || e.Kind != apperr.KindConcurrencyConflict {
			t.Fatalf("expected conflict, got %v", err)
		}
		if e.CurrentVersion != 6 {
			t.Fatalf("expected current version 6, got %d", e.CurrentVersion)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded)
	}
	got := f.onlyTask(wo.ID, "PRT")
	if got.QuantityCompleted != 50 || got.Version != 6 {
		t.Fatalf("expected 50/v6, got %d/v%d", got.QuantityCompleted, got.Version)
	}
}

func TestStartRequiresApproval(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	prt := f.process(wo.ID, "PRT")

	_, err := f.svc.Process.Start(f.ctx, boss, prt.ID, StartInput{})
	if !apperr.IsStateViolation(err) {
		t.Fatalf("expected state violation, got %v", err)
	}
	if p := f.process(wo.ID, "PRT"); p.Status != entity.ProcessStatusPending {
		t.Fatalf("PRT should remain pending, got %s", p.Status)
	}
}

func TestStartRequiresPreviousProcess(t *testing.T) {
	f := newFixture(t)
	in := f.happyInput()
	in.Processes = []ProcessLine{{Code: "PRT", Sequence: 10}, {Code: "PACK", Sequence: 20}}
	wo := f.create(in)
	f.approve(wo.ID)

	pack := f.process(wo.ID, "PACK")
	_, err := f.svc.Process.Start(f.ctx, boss, pack.ID, StartInput{})
	if !apperr.IsStateViolation(err) {
		t.Fatalf("expected state violation, got %v", err)
	}
	if p := f.process(wo.ID, "PACK"); p.Status != entity.ProcessStatusPending {
		t.Fatalf("PACK should remain pending, got %s", p.Status)
	}
}

func TestProtectedFieldGating(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)

	_, err := f.svc.WorkOrder.Update(f.ctx, creator, wo.ID, UpdateWorkOrderInput{ProductionQuantity: intPtr(200)})
	if !apperr.IsPermissionDenied(err) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if got := f.workOrder(wo.ID); got.ProductionQty() != 100 {
		t.Fatalf("production quantity changed to %d", got.ProductionQty())
	}

	notes := "加急，周五前交货"
	updated, err := f.svc.WorkOrder.Update(f.ctx, creator, wo.ID, UpdateWorkOrderInput{Notes: &notes})
	if err != nil {
		t.Fatalf("update notes: %v", err)
	}
	if updated.Notes != notes {
		t.Fatalf("expected notes updated, got %q", updated.Notes)
	}

	privileged := auth.Actor{UserID: "lead", Capabilities: []string{auth.CapChangeWorkOrder, auth.CapChangeApprovedWorkOrder}}
	updated, err = f.svc.WorkOrder.Update(f.ctx, privileged, wo.ID, UpdateWorkOrderInput{ProductionQuantity: intPtr(200)})
	if err != nil {
		t.Fatalf("privileged update: %v", err)
	}
	if updated.ProductionQty() != 200 {
		t.Fatalf("expected 200, got %d", updated.ProductionQty())
	}
}

func TestUpdateUnapprovedRebuildsDrafts(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())

	_, err := f.svc.WorkOrder.Update(f.ctx, creator, wo.ID, UpdateWorkOrderInput{ProductionQuantity: intPtr(300)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	printing := f.onlyTask(wo.ID, "PRT")
	if printing.Status != entity.TaskStatusDraft || printing.ProductionQuantity != 300 {
		t.Fatalf("expected rebuilt draft with 300, got %s/%d", printing.Status, printing.ProductionQuantity)
	}
}

func TestCancelWorkOrder(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)

	cancelled, err := f.svc.WorkOrder.Cancel(f.ctx, creator, wo.ID, "客户取消")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != entity.WOStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	for _, code := range []string{"CTP", "PRT", "PACK"} {
		if task := f.onlyTask(wo.ID, code); task.Status != entity.TaskStatusCancelled {
			t.Errorf("%s: expected cancelled task, got %s", code, task.Status)
		}
	}
	if _, err := f.svc.WorkOrder.Cancel(f.ctx, creator, wo.ID, ""); !apperr.IsStateViolation(err) {
		t.Fatalf("expected state violation on second cancel, got %v", err)
	}
}

func TestCancelWorkOrderLogsAndNotifies(t *testing.T) {
	f := newFixture(t)
	in := f.happyInput()
	in.ManagerID = strPtr("op1")
	wo := f.create(in)
	f.approve(wo.ID)

	if _, err := f.svc.WorkOrder.Cancel(f.ctx, boss, wo.ID, "客户取消"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	logs, err := f.repos.WorkOrder.ListApprovalLogs(wo.ID)
	if err != nil {
		t.Fatalf("list approval logs: %v", err)
	}
	found := false
	for _, l := range logs {
		if l.ApprovalComment == "施工单取消：客户取消" && deref(l.ApprovedByID) == "boss" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected cancel entry in approval logs, got %+v", logs)
	}

	msgs := f.sink.OfType(entity.NotifyWorkOrderCancelled)
	got := map[string]bool{}
	for _, m := range msgs {
		got[m.RecipientID] = true
		if deref(m.WorkOrderID) != wo.ID {
			t.Errorf("notice should reference the work order: %+v", m)
		}
	}
	if len(msgs) != 2 || !got["creator"] || !got["op1"] {
		t.Errorf("expected creator and manager notified, got %+v", msgs)
	}

	// 制单人自己取消时不通知自己
	own := f.create(f.happyInput())
	if _, err := f.svc.WorkOrder.Cancel(f.ctx, creator, own.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := len(f.sink.OfType(entity.NotifyWorkOrderCancelled)); n != 2 {
		t.Errorf("creator cancelling own order should not be notified, got %d notices", n)
	}
}

func TestCancelWorkOrderWithTaskInProgress(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)
	f.increment(f.onlyTask(wo.ID, "PRT").ID, 10)

	if _, err := f.svc.WorkOrder.Cancel(f.ctx, creator, wo.ID, ""); !apperr.IsStateViolation(err) {
		t.Fatalf("expected state violation, got %v", err)
	}
}

func TestPauseBlocksTaskUpdates(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	f.approve(wo.ID)

	if _, err := f.svc.WorkOrder.Pause(f.ctx, creator, wo.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	task := f.onlyTask(wo.ID, "PRT")
	_, err := f.svc.Task.UpdateQuantity(f.ctx, boss, task.ID, UpdateQuantityInput{QuantityIncrement: 1})
	if !apperr.IsStateViolation(err) {
		t.Fatalf("expected state violation while paused, got %v", err)
	}
	resumed, err := f.svc.WorkOrder.Resume(f.ctx, creator, wo.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != entity.WOStatusInProgress {
		t.Fatalf("expected in_progress, got %s", resumed.Status)
	}
	f.increment(task.ID, 1)
}

func TestProcessSyncPreviewAndExecute(t *testing.T) {
	f := newFixture(t)
	wo := f.create(f.happyInput())
	lines := []ProcessLine{
		{Code: "CTP", Sequence: 10},
		{Code: "PRT", Sequence: 20},
		{Code: "DIE", Sequence: 30},
		{Code: "PACK", Sequence: 40},
	}

	preview, err := f.svc.WorkOrder.PreviewProcesses(f.ctx, creator, wo.ID, lines)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview.Added) != 1 || preview.Kept != 3 || len(preview.Removed) != 0 {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if len(f.processes(wo.ID)) != 3 {
		t.Fatalf("preview must not write")
	}

	result, err := f.svc.WorkOrder.UpdateProcesses(f.ctx, creator, wo.ID, lines[:2])
	if err != nil {
		t.Fatalf("update processes: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0].Code != "PACK" || result.RemovedTasks != 1 {
		t.Fatalf("expected PACK removed with its draft, got %+v", result)
	}
	procs := f.processes(wo.ID)
	if len(procs) != 2 {
		t.Fatalf("expected 2 processes, got %d", len(procs))
	}
}
