package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
)

// ProcessService 工序状态机
type ProcessService struct {
	*engine
	generator *TaskGenerator
	router    *AssignmentRouter
	stock     *StockService
}

func isParallel(p *entity.WorkOrderProcess) bool {
	return catalog.IsParallel(p.Code()) || (p.Process != nil && p.Process.IsParallel)
}

// CanStart 待开始且（可并行，或前一个非并行工序已完成）；siblings 为同一施工单的全部工序
func CanStart(proc *entity.WorkOrderProcess, siblings []entity.WorkOrderProcess) bool {
	if proc.Status != entity.ProcessStatusPending {
		return false
	}
	if isParallel(proc) {
		return true
	}
	var prev *entity.WorkOrderProcess
	for i := range siblings {
		s := &siblings[i]
		if s.ID == proc.ID {
			break
		}
		if isParallel(s) || s.Status == entity.ProcessStatusSkipped {
			continue
		}
		if s.Sequence < proc.Sequence {
			prev = s
		}
	}
	return prev == nil || prev.Status == entity.ProcessStatusCompleted
}

// materialsReady 需要开料状态的工序要求物料全部开料
func (s *ProcessService) materialsReady(sc *scope, proc *entity.WorkOrderProcess) (bool, error) {
	if !catalog.RequiresMaterialCutStatus(proc.Code()) {
		return true, nil
	}
	n, err := sc.repos.WorkOrder.CountUncutMaterials(proc.WorkOrderID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// StartInput 开始工序
type StartInput struct {
	OperatorID   *string `json:"operator_id"`
	DepartmentID *string `json:"department_id"`
}

// Start 开始工序：生成并分派任务
func (s *ProcessService) Start(ctx context.Context, actor auth.Actor, processID string, in StartInput) (*entity.WorkOrderProcess, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		proc, err := sc.repos.Process.Lock(processID)
		if err != nil {
			return err
		}
		wo, err := sc.repos.WorkOrder.GetByID(proc.WorkOrderID)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if !wo.IsApproved() {
			return apperr.StateViolation("施工单未审核通过，不能开始工序")
		}
		if wo.Status != entity.WOStatusInProgress {
			return apperr.StateViolationf("施工单当前状态（%s）不能开始工序", wo.Status)
		}
		if proc.Status != entity.ProcessStatusPending {
			return apperr.StateViolation("该工序已经开始或完成，不能重新开始")
		}
		siblings, err := sc.repos.Process.ListByWorkOrder(wo.ID)
		if err != nil {
			return err
		}
		if !CanStart(proc, siblings) {
			return apperr.StateViolation("该工序不能开始，请先完成前置工序")
		}
		ready, err := s.materialsReady(sc, proc)
		if err != nil {
			return err
		}
		if !ready {
			return apperr.StateViolation("物料未开料，无法开始该工序")
		}
		if in.OperatorID != nil {
			proc.OperatorID = in.OperatorID
		}
		if in.DepartmentID != nil {
			proc.DepartmentID = in.DepartmentID
		}
		return s.start(sc, wo, proc, "开始工序")
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Process.GetByID(processID)
}

// start 置为进行中，生成并分派尚不存在的任务
func (s *ProcessService) start(sc *scope, wo *entity.WorkOrder, proc *entity.WorkOrderProcess, content string) error {
	now := sc.now
	if err := sc.repos.Process.Updates(proc.ID, map[string]interface{}{
		"status":            entity.ProcessStatusInProgress,
		"actual_start_time": &now,
		"operator_id":       proc.OperatorID,
		"department_id":     proc.DepartmentID,
	}); err != nil {
		return err
	}
	proc.Status = entity.ProcessStatusInProgress
	proc.ActualStartTime = &now

	// 审核通过时草稿已转为待开始，这里只补生成
	if _, err := sc.repos.Task.ReleaseDrafts(proc.ID); err != nil {
		return err
	}
	created, err := s.generator.Generate(sc, wo, proc, entity.TaskStatusPending)
	if err != nil {
		return err
	}
	if err := s.router.route(sc, wo, proc, created); err != nil {
		return err
	}
	if err := sc.repos.Process.CreateLog(&entity.ProcessLog{
		ID:                 newID(),
		WorkOrderProcessID: proc.ID,
		LogType:            entity.ProcessLogStart,
		Content:            content,
		OperatorID:         sc.actor.OperatorID(),
		CreatedAt:          now,
	}); err != nil {
		return err
	}
	// 前置工序完成前任务可能已做完，开始后立即检查
	_, err = s.checkAndUpdate(sc, proc.ID)
	return err
}

// autoStart 逐个开始满足条件的待开始工序；开始可能连带完成，每轮重新读取工序
func (s *ProcessService) autoStart(sc *scope, wo *entity.WorkOrder) error {
	if !wo.IsApproved() || wo.Status != entity.WOStatusInProgress {
		return nil
	}
	var loaded *entity.WorkOrder
	for {
		siblings, err := sc.repos.Process.ListByWorkOrder(wo.ID)
		if err != nil {
			return err
		}
		var next *entity.WorkOrderProcess
		for i := range siblings {
			proc := &siblings[i]
			if !CanStart(proc, siblings) {
				continue
			}
			ready, err := s.materialsReady(sc, proc)
			if err != nil {
				return err
			}
			if ready {
				next = proc
				break
			}
		}
		if next == nil {
			return nil
		}
		// 生成任务需要完整聚合
		if loaded == nil {
			if loaded, err = sc.repos.WorkOrder.GetByID(wo.ID); err != nil {
				return err
			}
		}
		if err := s.start(sc, loaded, next, "前置条件满足，自动开始"); err != nil {
			return err
		}
	}
}

// CheckAndUpdateStatus 在独立事务中按任务状态判断工序是否完成
func (s *ProcessService) CheckAndUpdateStatus(ctx context.Context, processID string) (bool, error) {
	var completed bool
	err := s.run(ctx, auth.System(), func(sc *scope) error {
		var err error
		completed, err = s.checkAndUpdate(sc, processID)
		return err
	})
	return completed, err
}

// checkAndUpdate 全部有效任务满足完成条件时完成工序；返回本次是否完成
func (s *ProcessService) checkAndUpdate(sc *scope, processID string) (bool, error) {
	proc, err := sc.repos.Process.Lock(processID)
	if err != nil {
		return false, err
	}
	switch proc.Status {
	case entity.ProcessStatusCompleted:
		// 包装工序重复完成时补记增量，已入库数量保证不会重复入库
		if proc.Code() == catalog.CodePACK {
			wo, err := sc.repos.WorkOrder.GetHeader(proc.WorkOrderID)
			if err != nil {
				return false, err
			}
			return false, s.stock.propagate(sc, wo, proc)
		}
		return false, nil
	case entity.ProcessStatusSkipped:
		return false, nil
	}

	leaves, err := sc.repos.Task.ListLeavesByProcess(proc.ID)
	if err != nil {
		return false, err
	}
	if len(leaves) == 0 {
		return false, nil
	}
	for i := range leaves {
		ok, err := s.taskEligible(sc, proc, &leaves[i])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if proc.Status == entity.ProcessStatusPending {
		siblings, err := sc.repos.Process.ListByWorkOrder(proc.WorkOrderID)
		if err != nil {
			return false, err
		}
		if !CanStart(proc, siblings) {
			return false, nil
		}
	}
	if err := s.complete(sc, proc, leaves, "所有任务已完成，工序自动完成"); err != nil {
		return false, err
	}
	return true, nil
}

// taskEligible 单个任务是否满足工序完成条件
func (s *ProcessService) taskEligible(sc *scope, proc *entity.WorkOrderProcess, t *entity.WorkOrderTask) (bool, error) {
	if t.Status != entity.TaskStatusCompleted {
		return false, nil
	}
	if t.ProductionQuantity > 0 && t.QuantityCompleted < t.ProductionQuantity {
		return false, nil
	}
	switch t.TaskType {
	case entity.TaskTypePlateMaking:
		kind, id := t.AssetRef()
		if kind == "" {
			return true, nil
		}
		confirmed, err := sc.repos.Asset.IsConfirmed(kind, id)
		if err != nil {
			if apperr.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return confirmed, nil
	case entity.TaskTypeCutting:
		if t.MaterialID == nil || !catalog.RequiresMaterialCutStatus(proc.Code()) {
			return true, nil
		}
		line, err := sc.repos.WorkOrder.FindMaterialLine(proc.WorkOrderID, *t.MaterialID)
		if err != nil {
			if apperr.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return line.PurchaseStatus == entity.PurchaseCut, nil
	}
	return true, nil
}

// complete 工序完成：汇总数量、记录日志、包装入库并汇总施工单
func (s *ProcessService) complete(sc *scope, proc *entity.WorkOrderProcess, leaves []entity.WorkOrderTask, content string) error {
	now := sc.now
	fields := map[string]interface{}{
		"status":          entity.ProcessStatusCompleted,
		"actual_end_time": &now,
	}
	if proc.ActualStartTime == nil {
		fields["actual_start_time"] = &now
	}
	// 仅在工序数量为0时才用任务汇总覆盖
	if proc.QuantityCompleted == 0 && proc.QuantityDefective == 0 {
		var done, defective int
		for _, t := range leaves {
			done += t.QuantityCompleted
			defective += t.QuantityDefective
		}
		fields["quantity_completed"] = done
		fields["quantity_defective"] = defective
	}
	if err := sc.repos.Process.Updates(proc.ID, fields); err != nil {
		return err
	}
	proc.Status = entity.ProcessStatusCompleted
	proc.ActualEndTime = &now

	if err := sc.repos.Process.CreateLog(&entity.ProcessLog{
		ID:                 newID(),
		WorkOrderProcessID: proc.ID,
		LogType:            entity.ProcessLogComplete,
		Content:            content,
		OperatorID:         sc.actor.OperatorID(),
		CreatedAt:          now,
	}); err != nil {
		return err
	}

	wo, err := sc.repos.WorkOrder.GetHeader(proc.WorkOrderID)
	if err != nil {
		return err
	}
	name := proc.Code()
	if proc.Process != nil {
		name = proc.Process.Name
	}
	sc.outbox.Add(notify.Message{
		RecipientID: deref(wo.CreatedByID),
		Type:        entity.NotifyProcessCompleted,
		Title:       "工序已完成",
		Content:     fmt.Sprintf("施工单%s的%s工序已完成", wo.OrderNumber, name),
		WorkOrderID: strPtr(wo.ID),
		ProcessID:   strPtr(proc.ID),
	})

	if proc.Code() == catalog.CodePACK {
		if err := s.stock.propagate(sc, wo, proc); err != nil {
			return err
		}
	}
	return s.rollup(sc, wo)
}

// rollup 非跳过工序全部完成时施工单完成，否则尝试开始后续工序
func (s *ProcessService) rollup(sc *scope, wo *entity.WorkOrder) error {
	procs, err := sc.repos.Process.ListByWorkOrder(wo.ID)
	if err != nil {
		return err
	}
	active := 0
	for _, p := range procs {
		if p.Status == entity.ProcessStatusSkipped {
			continue
		}
		active++
		if p.Status != entity.ProcessStatusCompleted {
			return s.autoStart(sc, wo)
		}
	}
	if active == 0 || wo.Status == entity.WOStatusCompleted || wo.Status == entity.WOStatusCancelled {
		return nil
	}
	if err := sc.repos.WorkOrder.Updates(wo.ID, map[string]interface{}{"status": entity.WOStatusCompleted}); err != nil {
		return err
	}
	wo.Status = entity.WOStatusCompleted
	sc.outbox.Add(notify.Message{
		RecipientID: deref(wo.CreatedByID),
		Type:        entity.NotifyWorkOrderCompleted,
		Title:       "施工单已完成",
		Content:     fmt.Sprintf("施工单%s的全部工序已完成", wo.OrderNumber),
		Priority:    notify.PriorityHigh,
		WorkOrderID: strPtr(wo.ID),
	})
	return nil
}

// CompleteInput 完成工序
type CompleteInput struct {
	ForceComplete bool   `json:"force_complete"`
	ForceReason   string `json:"force_reason"`
}

// Complete 优先自动完成；任务未完成时需要强制完成并填写原因
func (s *ProcessService) Complete(ctx context.Context, actor auth.Actor, processID string, in CompleteInput) (*entity.WorkOrderProcess, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		proc, err := sc.repos.Process.Lock(processID)
		if err != nil {
			return err
		}
		wo, err := sc.repos.WorkOrder.GetHeader(proc.WorkOrderID)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if proc.Status != entity.ProcessStatusInProgress {
			return apperr.StateViolation("只有进行中的工序才能完成")
		}
		done, err := s.checkAndUpdate(sc, proc.ID)
		if err != nil || done {
			return err
		}
		if !in.ForceComplete || in.ForceReason == "" {
			return apperr.StateViolation("强制完成工序需要提供完成原因")
		}
		return s.forceComplete(sc, proc, in.ForceReason)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Process.GetByID(processID)
}

// forceComplete 未完成的任务全部按生产数量完成，版本号递增
func (s *ProcessService) forceComplete(sc *scope, proc *entity.WorkOrderProcess, reason string) error {
	leaves, err := sc.repos.Task.ListLeavesByProcess(proc.ID)
	if err != nil {
		return err
	}
	parents := map[string]bool{}
	for i := range leaves {
		t := &leaves[i]
		if t.Status == entity.TaskStatusCompleted && t.QuantityCompleted >= t.ProductionQuantity {
			continue
		}
		before, statusBefore := t.QuantityCompleted, t.Status
		if err := sc.repos.Task.Updates(t.ID, map[string]interface{}{
			"status":             entity.TaskStatusCompleted,
			"quantity_completed": t.ProductionQuantity,
			"completion_reason":  reason,
		}); err != nil {
			return err
		}
		t.Status = entity.TaskStatusCompleted
		t.QuantityCompleted = t.ProductionQuantity
		t.Version++
		if err := sc.repos.Task.CreateLog(&entity.TaskLog{
			ID:                newID(),
			TaskID:            t.ID,
			LogType:           entity.TaskLogStatusChange,
			Content:           "工序强制完成",
			QuantityBefore:    intPtr(before),
			QuantityAfter:     intPtr(t.QuantityCompleted),
			QuantityIncrement: intPtr(t.QuantityCompleted - before),
			StatusBefore:      statusBefore,
			StatusAfter:       t.Status,
			CompletionReason:  reason,
			OperatorID:        sc.actor.OperatorID(),
			CreatedAt:         sc.now,
		}); err != nil {
			return err
		}
		if t.ParentTaskID != nil {
			parents[*t.ParentTaskID] = true
		}
	}
	for id := range parents {
		if err := rollupParent(sc, id); err != nil {
			return err
		}
	}
	return s.complete(sc, proc, leaves, "强制完成："+reason)
}

// Skip 跳过尚未开始的工序
func (s *ProcessService) Skip(ctx context.Context, actor auth.Actor, processID, reason string) (*entity.WorkOrderProcess, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		if reason == "" {
			return apperr.Validation("请填写跳过原因")
		}
		proc, err := sc.repos.Process.Lock(processID)
		if err != nil {
			return err
		}
		wo, err := sc.repos.WorkOrder.GetHeader(proc.WorkOrderID)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if proc.Status != entity.ProcessStatusPending {
			return apperr.StateViolation("只有待开始的工序可以跳过")
		}
		tasks, err := sc.repos.Task.ListByProcess(proc.ID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.QuantityCompleted > 0 || t.Status == entity.TaskStatusInProgress || t.Status == entity.TaskStatusCompleted {
				return apperr.StateViolation("工序已有完成数量，不能跳过")
			}
		}
		for _, t := range tasks {
			if t.Status == entity.TaskStatusCancelled {
				continue
			}
			if err := sc.repos.Task.Updates(t.ID, map[string]interface{}{
				"status":              entity.TaskStatusCancelled,
				"cancellation_reason": "工序跳过：" + reason,
			}); err != nil {
				return err
			}
		}
		if err := sc.repos.Process.Updates(proc.ID, map[string]interface{}{"status": entity.ProcessStatusSkipped}); err != nil {
			return err
		}
		if err := sc.repos.Process.CreateLog(&entity.ProcessLog{
			ID:                 newID(),
			WorkOrderProcessID: proc.ID,
			LogType:            entity.ProcessLogSkip,
			Content:            "跳过工序：" + reason,
			OperatorID:         sc.actor.OperatorID(),
			CreatedAt:          sc.now,
		}); err != nil {
			return err
		}
		return s.rollup(sc, wo)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Process.GetByID(processID)
}

// ReassignProcessTasks 工序下全部未结束任务重新分派
func (s *ProcessService) ReassignProcessTasks(ctx context.Context, actor auth.Actor, processID string, in AssignInput) (int, error) {
	count := 0
	err := s.run(ctx, actor, func(sc *scope) error {
		if in.Reason == "" {
			return apperr.Validation("请填写重新分派原因")
		}
		if !canAssign(sc.actor) {
			return apperr.PermissionDenied("没有分派任务的权限")
		}
		proc, err := sc.repos.Process.Lock(processID)
		if err != nil {
			return err
		}
		wo, err := sc.repos.WorkOrder.GetHeader(proc.WorkOrderID)
		if err != nil {
			return err
		}
		tasks, err := sc.repos.Task.ListByProcess(proc.ID)
		if err != nil {
			return err
		}
		for i := range tasks {
			t := &tasks[i]
			if !t.IsOpen() && t.Status != entity.TaskStatusDraft {
				continue
			}
			item := in
			// 工序部门只需更新一次
			item.UpdateProcessDepartment = in.UpdateProcessDepartment && count == 0
			if err := s.router.reassign(sc, wo, proc, t, item); err != nil {
				return err
			}
			count++
		}
		if count == 0 && in.UpdateProcessDepartment {
			return sc.repos.Process.Updates(proc.ID, map[string]interface{}{"department_id": in.DepartmentID})
		}
		return nil
	})
	return count, err
}

// Logs 工序日志
func (s *ProcessService) Logs(ctx context.Context, processID string) ([]entity.ProcessLog, error) {
	return s.repos.Process.ListLogs(processID)
}

// rollupParent 父任务数量取子任务之和，子任务全部完成时父任务完成
func rollupParent(sc *scope, parentID string) error {
	parent, err := sc.repos.Task.Lock(parentID)
	if err != nil {
		return err
	}
	children, err := sc.repos.Task.ListChildren(parentID)
	if err != nil {
		return err
	}
	var done, defective, live, completed int
	for _, c := range children {
		if c.Status == entity.TaskStatusCancelled {
			continue
		}
		live++
		done += c.QuantityCompleted
		defective += c.QuantityDefective
		if c.Status == entity.TaskStatusCompleted {
			completed++
		}
	}
	status := parent.Status
	switch {
	case live > 0 && completed == live:
		status = entity.TaskStatusCompleted
	case parent.Status == entity.TaskStatusPending || parent.Status == entity.TaskStatusCompleted:
		status = entity.TaskStatusInProgress
	}
	if done > parent.ProductionQuantity {
		return apperr.IntegrityFault(fmt.Sprintf("子任务完成数量之和超过父任务生产数量: %s", parentID))
	}
	return sc.repos.Task.Updates(parentID, map[string]interface{}{
		"quantity_completed": done,
		"quantity_defective": defective,
		"status":             status,
	})
}

// checkCanOperate 施工单创建人、负责人或有修改权限者
func checkCanOperate(actor auth.Actor, wo *entity.WorkOrder) error {
	if actor.IsSystem() || actor.CanManageAll() || actor.Can(auth.CapChangeWorkOrder) {
		return nil
	}
	if actor.UserID == deref(wo.CreatedByID) || actor.UserID == deref(wo.ManagerID) {
		return nil
	}
	return apperr.PermissionDenied("没有操作该施工单的权限")
}

func canAssign(actor auth.Actor) bool {
	return actor.CanManageAll() || actor.Can(auth.CapChangeWorkOrder)
}
