package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/event"
)

// 信号类型
const (
	KindAssetConfirmed = "asset.confirmed"
	KindMaterialCut    = "material.cut"
)

// AssetConfirmed 版的确认状态由未确认变为已确认
type AssetConfirmed struct {
	AssetKind string
	ID        string
}

func (AssetConfirmed) Kind() string { return KindAssetConfirmed }

// MaterialCut 施工单物料的采购状态变为已开料
type MaterialCut struct {
	WorkOrderID string
	MaterialID  string
	Usage       string
}

func (MaterialCut) Kind() string { return KindMaterialCut }

// onAssetConfirmed 自动完成引用该版的制版任务
func (s *TaskService) onAssetConfirmed(ctx context.Context, sc *scope, sig event.Signal) error {
	ev, ok := sig.(AssetConfirmed)
	if !ok {
		return fmt.Errorf("unexpected signal %T", sig)
	}
	// 暂停中的施工单不回填，恢复时由 catchUpPlates 补上
	tasks, err := sc.repos.Task.FindOpenPlateTasks(ev.AssetKind, ev.ID)
	if err != nil {
		return err
	}
	return s.autoFill(sc, tasks, func(t *entity.WorkOrderTask) int { return 1 }, "版已确认，自动完成")
}

// catchUpPlates 完成施工单内所引用版已确认的制版任务
func (s *TaskService) catchUpPlates(sc *scope, woID string) error {
	open, err := sc.repos.Task.FindOpenPlateTasksByWorkOrder(woID)
	if err != nil {
		return err
	}
	var ready []entity.WorkOrderTask
	for _, t := range open {
		kind, id := t.AssetRef()
		if kind == "" {
			continue
		}
		ok, err := sc.repos.Asset.IsConfirmed(kind, id)
		if err != nil {
			return err
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return s.autoFill(sc, ready, func(t *entity.WorkOrderTask) int { return 1 }, "版已确认，恢复后自动完成")
}

// onMaterialCut 按物料用量回填开料任务
func (s *TaskService) onMaterialCut(ctx context.Context, sc *scope, sig event.Signal) error {
	ev, ok := sig.(MaterialCut)
	if !ok {
		return fmt.Errorf("unexpected signal %T", sig)
	}
	tasks, err := sc.repos.Task.FindOpenCuttingTasks(ev.WorkOrderID, ev.MaterialID)
	if err != nil {
		return err
	}
	qty := ParseMaterialUsage(ev.Usage)
	return s.autoFill(sc, tasks, func(t *entity.WorkOrderTask) int {
		if qty > t.ProductionQuantity {
			return t.ProductionQuantity
		}
		return qty
	}, "物料已开料，自动回填")
}

// autoFill 写入自动计算的完成数量，再检查父任务与工序
func (s *TaskService) autoFill(sc *scope, tasks []entity.WorkOrderTask, quantity func(*entity.WorkOrderTask) int, content string) error {
	if len(tasks) == 0 {
		return nil
	}
	var procIDs []string
	seen := map[string]bool{}
	for i := range tasks {
		t := &tasks[i]
		qty := quantity(t)
		if qty < t.StockAccountedQuantity {
			qty = t.StockAccountedQuantity
		}
		status := entity.TaskStatusInProgress
		if qty >= t.ProductionQuantity {
			status = entity.TaskStatusCompleted
		}
		n, err := sc.repos.Task.UpdateWithVersion(t.ID, t.Version, map[string]interface{}{
			"quantity_completed": qty,
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
		if err := sc.repos.Task.CreateLog(&entity.TaskLog{
			ID:                newID(),
			TaskID:            t.ID,
			LogType:           entity.TaskLogStatusChange,
			Content:           content,
			QuantityBefore:    intPtr(t.QuantityCompleted),
			QuantityAfter:     intPtr(qty),
			QuantityIncrement: intPtr(qty - t.QuantityCompleted),
			StatusBefore:      t.Status,
			StatusAfter:       status,
			OperatorID:        sc.actor.OperatorID(),
			CreatedAt:         sc.now,
		}); err != nil {
			return err
		}
		if t.ParentTaskID != nil {
			if err := rollupParent(sc, *t.ParentTaskID); err != nil {
				return err
			}
		}
		if !seen[t.WorkOrderProcessID] {
			seen[t.WorkOrderProcessID] = true
			procIDs = append(procIDs, t.WorkOrderProcessID)
		}
	}
	for _, id := range procIDs {
		if _, err := s.process.checkAndUpdate(sc, id); err != nil {
			return err
		}
	}
	return nil
}
