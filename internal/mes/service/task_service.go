package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
)

// TaskService 任务引擎
type TaskService struct {
	*engine
	process *ProcessService
	router  *AssignmentRouter
}

const versionConflictMsg = "任务已被其他操作员更新，请刷新后重试"

// taskContext 任务所属的工序与施工单
type taskContext struct {
	task *entity.WorkOrderTask
	proc *entity.WorkOrderProcess
	wo   *entity.WorkOrder
}

func (s *TaskService) load(sc *scope, taskID string, lock bool) (*taskContext, error) {
	var (
		t   *entity.WorkOrderTask
		err error
	)
	if lock {
		t, err = sc.repos.Task.Lock(taskID)
	} else {
		t, err = sc.repos.Task.GetByID(taskID)
	}
	if err != nil {
		return nil, err
	}
	proc, err := sc.repos.Process.GetByID(t.WorkOrderProcessID)
	if err != nil {
		return nil, err
	}
	wo, err := sc.repos.WorkOrder.GetHeader(proc.WorkOrderID)
	if err != nil {
		return nil, err
	}
	return &taskContext{task: t, proc: proc, wo: wo}, nil
}

// checkPermission 指派的操作员、创建人、全局管理，或有修改权限且属于任务部门
func checkPermission(sc *scope, tc *taskContext) error {
	actor := sc.actor
	if actor.IsSystem() || actor.CanManageAll() {
		return nil
	}
	if actor.UserID == deref(tc.task.AssignedOperatorID) || actor.UserID == deref(tc.wo.CreatedByID) {
		return nil
	}
	if actor.Can(auth.CapChangeWorkOrder) && tc.task.AssignedDepartmentID != nil {
		member, err := sc.repos.Org.IsMember(actor.UserID, *tc.task.AssignedDepartmentID)
		if err != nil {
			return err
		}
		if member {
			return nil
		}
	}
	return apperr.PermissionDenied("只有被指派的操作员或有权限的人员可以操作该任务")
}

// checkWorkOrderOpen 施工单审核通过且未暂停、未结束
func checkWorkOrderOpen(wo *entity.WorkOrder) error {
	if !wo.IsApproved() {
		return apperr.StateViolation("施工单未审核通过，无法操作任务")
	}
	switch wo.Status {
	case entity.WOStatusPaused:
		return apperr.StateViolation("施工单已暂停，无法操作任务")
	case entity.WOStatusCancelled:
		return apperr.StateViolation("施工单已取消，无法操作任务")
	case entity.WOStatusCompleted:
		return apperr.StateViolation("施工单已完成，无法操作任务")
	}
	return nil
}

// checkQuantityEditable 草稿、已取消和已拆分的任务不能直接修改数量
func checkQuantityEditable(sc *scope, t *entity.WorkOrderTask) error {
	switch t.Status {
	case entity.TaskStatusDraft:
		return apperr.StateViolation("任务尚未下达，无法更新")
	case entity.TaskStatusCancelled:
		return apperr.StateViolation("任务已取消，无法更新")
	}
	split, err := sc.repos.Task.HasChildren(t.ID)
	if err != nil {
		return err
	}
	if split {
		return apperr.StateViolation("任务已拆分，请更新子任务")
	}
	return nil
}

// checkPreconditions 制版任务需要版已确认，开料任务在工序要求时需要物料已开料
func (s *TaskService) checkPreconditions(sc *scope, tc *taskContext) error {
	t := tc.task
	switch t.TaskType {
	case entity.TaskTypePlateMaking:
		kind, id := t.AssetRef()
		if kind == "" {
			return nil
		}
		confirmed, err := sc.repos.Asset.IsConfirmed(kind, id)
		if err != nil {
			return err
		}
		if !confirmed {
			return apperr.StateViolation("图稿未确认，无法更新任务")
		}
	case entity.TaskTypeCutting:
		if t.MaterialID == nil || !catalog.RequiresMaterialCutStatus(tc.proc.Code()) {
			return nil
		}
		line, err := sc.repos.WorkOrder.FindMaterialLine(tc.proc.WorkOrderID, *t.MaterialID)
		if err != nil {
			return err
		}
		if line.PurchaseStatus != entity.PurchaseCut {
			return apperr.StateViolation("物料未开料，无法更新开料任务")
		}
	}
	return nil
}

// UpdateQuantityInput 更新完成数量（增量，可为负数）
type UpdateQuantityInput struct {
	Version                    *int   `json:"version"`
	QuantityIncrement          int    `json:"quantity_increment"`
	QuantityDefectiveIncrement int    `json:"quantity_defective_increment"`
	Notes                      string `json:"notes"`
}

// UpdateQuantity 乐观锁更新完成数量，完成后联动父任务与工序
func (s *TaskService) UpdateQuantity(ctx context.Context, actor auth.Actor, taskID string, in UpdateQuantityInput) (*entity.WorkOrderTask, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		tc, err := s.load(sc, taskID, false)
		if err != nil {
			return err
		}
		t := tc.task
		expected := t.Version
		if in.Version != nil {
			expected = *in.Version
			if expected != t.Version {
				return apperr.Conflict(versionConflictMsg, t.Version)
			}
		}
		if err := checkPermission(sc, tc); err != nil {
			return err
		}
		if err := checkWorkOrderOpen(tc.wo); err != nil {
			return err
		}
		if err := checkQuantityEditable(sc, t); err != nil {
			return err
		}
		if err := s.checkPreconditions(sc, tc); err != nil {
			return err
		}

		newQty := t.QuantityCompleted + in.QuantityIncrement
		if newQty < 0 {
			return apperr.Validation("更新后完成数量不能小于0")
		}
		if newQty > t.ProductionQuantity {
			return apperr.Validationf("更新后完成数量（%d）不能超过生产数量（%d）", newQty, t.ProductionQuantity)
		}
		if newQty < t.StockAccountedQuantity {
			return apperr.Validationf("更新后完成数量（%d）不能小于已入库数量（%d）", newQty, t.StockAccountedQuantity)
		}
		newDefective := t.QuantityDefective + in.QuantityDefectiveIncrement
		if newDefective < 0 {
			return apperr.Validation("更新后不良品数量不能小于0")
		}

		status := t.Status
		switch {
		case newQty >= t.ProductionQuantity:
			status = entity.TaskStatusCompleted
		case t.Status == entity.TaskStatusPending || t.Status == entity.TaskStatusCompleted:
			status = entity.TaskStatusInProgress
		}

		n, err := sc.repos.Task.UpdateWithVersion(t.ID, expected, map[string]interface{}{
			"quantity_completed": newQty,
			"quantity_defective": newDefective,
			"status":             status,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			current, err := sc.repos.Task.CurrentVersion(t.ID)
			if err != nil {
				return err
			}
			return apperr.Conflict(versionConflictMsg, current)
		}

		content := fmt.Sprintf("完成数量 %d → %d", t.QuantityCompleted, newQty)
		if in.Notes != "" {
			content += "，" + in.Notes
		}
		if err := sc.repos.Task.CreateLog(&entity.TaskLog{
			ID:                         newID(),
			TaskID:                     t.ID,
			LogType:                    entity.TaskLogUpdateQuantity,
			Content:                    content,
			QuantityBefore:             intPtr(t.QuantityCompleted),
			QuantityAfter:              intPtr(newQty),
			QuantityIncrement:          intPtr(in.QuantityIncrement),
			QuantityDefectiveIncrement: intPtr(in.QuantityDefectiveIncrement),
			StatusBefore:               t.Status,
			StatusAfter:                status,
			OperatorID:                 sc.actor.OperatorID(),
			CreatedAt:                  sc.now,
		}); err != nil {
			return err
		}
		return s.afterChange(sc, tc)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Task.GetByID(taskID)
}

// afterChange 汇总父任务并检查工序是否完成
func (s *TaskService) afterChange(sc *scope, tc *taskContext) error {
	if tc.task.ParentTaskID != nil {
		if err := rollupParent(sc, *tc.task.ParentTaskID); err != nil {
			return err
		}
	}
	_, err := s.process.checkAndUpdate(sc, tc.proc.ID)
	return err
}

// ForceCompleteInput 强制完成任务
type ForceCompleteInput struct {
	Version           *int   `json:"version"`
	CompletionReason  string `json:"completion_reason"`
	QuantityDefective *int   `json:"quantity_defective"`
	Notes             string `json:"notes"`
}

// ForceComplete 不论数量直接完成，完成数量置为生产数量
func (s *TaskService) ForceComplete(ctx context.Context, actor auth.Actor, taskID string, in ForceCompleteInput) (*entity.WorkOrderTask, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		if in.CompletionReason == "" {
			return apperr.Validation("强制完成任务需要填写完成原因")
		}
		tc, err := s.load(sc, taskID, false)
		if err != nil {
			return err
		}
		t := tc.task
		expected := t.Version
		if in.Version != nil {
			expected = *in.Version
			if expected != t.Version {
				return apperr.Conflict(versionConflictMsg, t.Version)
			}
		}
		if err := checkPermission(sc, tc); err != nil {
			return err
		}
		if err := checkWorkOrderOpen(tc.wo); err != nil {
			return err
		}
		if err := checkQuantityEditable(sc, t); err != nil {
			return err
		}
		if t.Status == entity.TaskStatusCompleted {
			return apperr.StateViolation("任务已经完成")
		}

		fields := map[string]interface{}{
			"quantity_completed": t.ProductionQuantity,
			"status":             entity.TaskStatusCompleted,
			"completion_reason":  in.CompletionReason,
		}
		if in.QuantityDefective != nil {
			if *in.QuantityDefective < 0 {
				return apperr.Validation("不良品数量不能小于0")
			}
			fields["quantity_defective"] = *in.QuantityDefective
		}
		n, err := sc.repos.Task.UpdateWithVersion(t.ID, expected, fields)
		if err != nil {
			return err
		}
		if n == 0 {
			current, err := sc.repos.Task.CurrentVersion(t.ID)
			if err != nil {
				return err
			}
			return apperr.Conflict(versionConflictMsg, current)
		}
		if err := sc.repos.Task.CreateLog(&entity.TaskLog{
			ID:                newID(),
			TaskID:            t.ID,
			LogType:           entity.TaskLogComplete,
			Content:           "强制完成" + notesSuffix(in.Notes),
			QuantityBefore:    intPtr(t.QuantityCompleted),
			QuantityAfter:     intPtr(t.ProductionQuantity),
			QuantityIncrement: intPtr(t.ProductionQuantity - t.QuantityCompleted),
			StatusBefore:      t.Status,
			StatusAfter:       entity.TaskStatusCompleted,
			CompletionReason:  in.CompletionReason,
			OperatorID:        sc.actor.OperatorID(),
			CreatedAt:         sc.now,
		}); err != nil {
			return err
		}
		return s.afterChange(sc, tc)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Task.GetByID(taskID)
}

func notesSuffix(notes string) string {
	if notes == "" {
		return ""
	}
	return "：" + notes
}

// CancelInput 取消任务
type CancelInput struct {
	CancellationReason string `json:"cancellation_reason"`
	Notes              string `json:"notes"`
}

// Cancel 取消待开始或进行中的任务
func (s *TaskService) Cancel(ctx context.Context, actor auth.Actor, taskID string, in CancelInput) (*entity.WorkOrderTask, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		if in.CancellationReason == "" {
			return apperr.Validation("请填写取消原因")
		}
		tc, err := s.load(sc, taskID, true)
		if err != nil {
			return err
		}
		t := tc.task
		if err := checkPermission(sc, tc); err != nil {
			return err
		}
		switch t.Status {
		case entity.TaskStatusCancelled:
			return apperr.StateViolation("任务已经取消，无法重复取消")
		case entity.TaskStatusCompleted:
			return apperr.StateViolation("已完成的任务无法取消")
		case entity.TaskStatusDraft:
			return apperr.StateViolation("草稿任务无法取消，请修改施工单工序")
		}
		split, err := sc.repos.Task.HasChildren(t.ID)
		if err != nil {
			return err
		}
		if split {
			return apperr.StateViolation("已拆分的任务无法取消，请取消子任务")
		}
		if tc.proc.Status != entity.ProcessStatusPending {
			leaves, err := sc.repos.Task.ListLeavesByProcess(tc.proc.ID)
			if err != nil {
				return err
			}
			if len(leaves) == 1 && leaves[0].ID == t.ID {
				return apperr.StateViolation("该任务是工序的唯一任务，取消后工序无法完成。请先处理工序状态")
			}
		}

		if err := sc.repos.Task.Updates(t.ID, map[string]interface{}{
			"status":              entity.TaskStatusCancelled,
			"cancellation_reason": in.CancellationReason,
		}); err != nil {
			return err
		}
		if err := sc.repos.Task.CreateLog(&entity.TaskLog{
			ID:           newID(),
			TaskID:       t.ID,
			LogType:      entity.TaskLogCancel,
			Content:      "取消任务：" + in.CancellationReason + notesSuffix(in.Notes),
			StatusBefore: t.Status,
			StatusAfter:  entity.TaskStatusCancelled,
			OperatorID:   sc.actor.OperatorID(),
			CreatedAt:    sc.now,
		}); err != nil {
			return err
		}
		if t.AssignedOperatorID != nil && *t.AssignedOperatorID != sc.actor.UserID {
			sc.outbox.Add(notify.Message{
				RecipientID: *t.AssignedOperatorID,
				Type:        entity.NotifyTaskCancelled,
				Title:       "任务已取消",
				Content:     fmt.Sprintf("施工单%s的任务已取消：%s。原因：%s", tc.wo.OrderNumber, t.WorkContent, in.CancellationReason),
				WorkOrderID: strPtr(tc.wo.ID),
				ProcessID:   strPtr(tc.proc.ID),
				TaskID:      strPtr(t.ID),
			})
		}
		// 取消后剩余任务可能已满足完成条件
		return s.afterChange(sc, tc)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Task.GetByID(taskID)
}

// SplitPart 子任务
type SplitPart struct {
	ProductionQuantity int     `json:"production_quantity"`
	DepartmentID       *string `json:"department_id"`
	OperatorID         *string `json:"operator_id"`
	WorkContent        string  `json:"work_content"`
}

// SplitInput 拆分任务
type SplitInput struct {
	Parts []SplitPart `json:"parts"`
}

// Split 将任务拆分为至少两个子任务，只支持一级拆分
func (s *TaskService) Split(ctx context.Context, actor auth.Actor, taskID string, in SplitInput) ([]entity.WorkOrderTask, error) {
	var children []entity.WorkOrderTask
	err := s.run(ctx, actor, func(sc *scope) error {
		tc, err := s.load(sc, taskID, true)
		if err != nil {
			return err
		}
		parent := tc.task
		if err := checkPermission(sc, tc); err != nil {
			return err
		}
		if err := checkWorkOrderOpen(tc.wo); err != nil {
			return err
		}
		split, err := sc.repos.Task.HasChildren(parent.ID)
		if err != nil {
			return err
		}
		switch {
		case split:
			return apperr.StateViolation("该任务已经拆分，无法再次拆分")
		case parent.IsSubtask():
			return apperr.StateViolation("子任务不能再拆分")
		case parent.Status == entity.TaskStatusCompleted:
			return apperr.StateViolation("已完成的任务无法拆分")
		case !parent.IsOpen():
			return apperr.StateViolation("只有待开始或进行中的任务可以拆分")
		case parent.QuantityCompleted > 0:
			return apperr.StateViolation("任务已有完成数量，无法拆分")
		}
		if len(in.Parts) < 2 {
			return apperr.Validation("至少需要拆分为2个子任务")
		}
		total := 0
		for i, p := range in.Parts {
			if p.ProductionQuantity <= 0 {
				return apperr.Validationf("第%d个子任务的生产数量必须大于0", i+1)
			}
			total += p.ProductionQuantity
		}
		if total > parent.ProductionQuantity {
			return apperr.Validationf("子任务数量总和（%d）不能超过父任务数量（%d）", total, parent.ProductionQuantity)
		}

		children = make([]entity.WorkOrderTask, 0, len(in.Parts))
		for i, p := range in.Parts {
			content := p.WorkContent
			if content == "" {
				content = fmt.Sprintf("%s（子任务%d）", parent.WorkContent, i+1)
			}
			dept, op := parent.AssignedDepartmentID, parent.AssignedOperatorID
			if p.DepartmentID != nil {
				dept = p.DepartmentID
			}
			if p.OperatorID != nil {
				op = p.OperatorID
			}
			created := sc.now.Add(time.Duration(i) * time.Microsecond)
			children = append(children, entity.WorkOrderTask{
				ID:                     newID(),
				WorkOrderProcessID:     parent.WorkOrderProcessID,
				TaskType:               parent.TaskType,
				WorkContent:            content,
				ProductionQuantity:     p.ProductionQuantity,
				AutoCalculateQuantity:  parent.AutoCalculateQuantity,
				Version:                1,
				Status:                 entity.TaskStatusPending,
				ArtworkID:              parent.ArtworkID,
				DieID:                  parent.DieID,
				FoilingPlateID:         parent.FoilingPlateID,
				EmbossingPlateID:       parent.EmbossingPlateID,
				ProductID:              parent.ProductID,
				MaterialID:             parent.MaterialID,
				AssignedDepartmentID:   dept,
				AssignedOperatorID:     op,
				ParentTaskID:           strPtr(parent.ID),
				ProductionRequirements: parent.ProductionRequirements,
				CreatedAt:              created,
				UpdatedAt:              created,
			})
		}
		if err := sc.repos.Task.CreateBatch(children); err != nil {
			return fmt.Errorf("创建子任务失败: %w", err)
		}

		status := parent.Status
		if status == entity.TaskStatusPending {
			status = entity.TaskStatusInProgress
		}
		if err := sc.repos.Task.Updates(parent.ID, map[string]interface{}{"status": status}); err != nil {
			return err
		}
		if err := sc.repos.Task.CreateLog(&entity.TaskLog{
			ID:           newID(),
			TaskID:       parent.ID,
			LogType:      entity.TaskLogSplit,
			Content:      fmt.Sprintf("拆分为%d个子任务，合计%d", len(children), total),
			StatusBefore: parent.Status,
			StatusAfter:  status,
			OperatorID:   sc.actor.OperatorID(),
			CreatedAt:    sc.now,
		}); err != nil {
			return err
		}
		for i := range children {
			c := &children[i]
			if c.AssignedOperatorID != nil && !ptrEq(c.AssignedOperatorID, parent.AssignedOperatorID) {
				sc.outbox.Add(assignedMessage(tc.wo, tc.proc, c))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return children, nil
}

// Assign 重新分派任务
func (s *TaskService) Assign(ctx context.Context, actor auth.Actor, taskID string, in AssignInput) (*entity.WorkOrderTask, error) {
	err := s.run(ctx, actor, func(sc *scope) error {
		if !canAssign(sc.actor) {
			return apperr.PermissionDenied("没有分派任务的权限")
		}
		tc, err := s.load(sc, taskID, true)
		if err != nil {
			return err
		}
		if tc.task.Status == entity.TaskStatusCompleted || tc.task.Status == entity.TaskStatusCancelled {
			return apperr.StateViolation("已完成或已取消的任务不能重新分派")
		}
		return s.router.reassign(sc, tc.wo, tc.proc, tc.task, in)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Task.GetByID(taskID)
}

func (s *TaskService) Get(ctx context.Context, taskID string) (*entity.WorkOrderTask, error) {
	t, err := s.repos.Task.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	children, err := s.repos.Task.ListChildren(taskID)
	if err != nil {
		return nil, err
	}
	t.Subtasks = children
	return t, nil
}

func (s *TaskService) List(ctx context.Context, params repository.TaskListParams) ([]entity.WorkOrderTask, int64, error) {
	return s.repos.Task.List(params)
}

func (s *TaskService) Logs(ctx context.Context, taskID string) ([]entity.TaskLog, error) {
	return s.repos.Task.ListLogs(taskID)
}
