package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
)

// StockService 包装完成入库
type StockService struct {
	*engine
}

// propagate 将包装任务新增的完成数量计入成品库存，已入库数量作为高水位避免重复入库
func (s *StockService) propagate(sc *scope, wo *entity.WorkOrder, proc *entity.WorkOrderProcess) error {
	leaves, err := sc.repos.Task.ListLeavesByProcess(proc.ID)
	if err != nil {
		return err
	}
	deltas := map[string]int{}
	var accounted []string
	for _, t := range leaves {
		if t.TaskType != entity.TaskTypePackaging || t.Status != entity.TaskStatusCompleted || t.ProductID == nil {
			continue
		}
		delta := t.QuantityCompleted - t.StockAccountedQuantity
		if delta <= 0 {
			continue
		}
		deltas[*t.ProductID] += delta
		accounted = append(accounted, t.ID)
	}
	if len(deltas) == 0 {
		return nil
	}

	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	products, err := sc.repos.Product.LockByIDs(ids)
	if err != nil {
		return err
	}

	logs := make([]entity.ProductStockLog, 0, len(products))
	var low []entity.Product
	for i := range products {
		p := &products[i]
		delta := deltas[p.ID]
		old := p.StockQuantity
		p.StockQuantity = old + delta
		if err := sc.repos.Product.UpdateStock(p.ID, p.StockQuantity); err != nil {
			return fmt.Errorf("更新库存失败: %w", err)
		}
		logs = append(logs, entity.ProductStockLog{
			ID:          newID(),
			ProductID:   p.ID,
			ChangeType:  entity.StockChangeAdd,
			Quantity:    delta,
			OldQuantity: old,
			NewQuantity: p.StockQuantity,
			Reason:      fmt.Sprintf("施工单%s包装工序完成，入库%d%s", wo.OrderNumber, delta, p.Unit),
			WorkOrderID: strPtr(wo.ID),
			CreatedByID: sc.actor.OperatorID(),
			CreatedAt:   sc.now,
		})
		if p.IsLowStock() {
			low = append(low, *p)
		}
	}
	if err := sc.repos.Product.CreateStockLogs(logs); err != nil {
		return err
	}
	if err := sc.repos.Task.SetStockAccounted(accounted); err != nil {
		return err
	}
	return queueLowStock(sc, low, strPtr(wo.ID))
}

// queueLowStock 低库存预警发给全部超级管理员
func queueLowStock(sc *scope, products []entity.Product, woID *string) error {
	if len(products) == 0 {
		return nil
	}
	admins, err := sc.repos.Org.Superusers()
	if err != nil {
		return err
	}
	for _, p := range products {
		for _, u := range admins {
			sc.outbox.Add(notify.Message{
				RecipientID: u.ID,
				Type:        entity.NotifyLowStockWarning,
				Title:       "库存预警",
				Content:     fmt.Sprintf("产品%s（%s）库存%d%s，低于安全库存%d", p.Name, p.Code, p.StockQuantity, p.Unit, p.MinStockQuantity),
				Priority:    notify.PriorityHigh,
				WorkOrderID: woID,
				Data: map[string]interface{}{
					"product_id":         p.ID,
					"stock_quantity":     p.StockQuantity,
					"min_stock_quantity": p.MinStockQuantity,
				},
			})
		}
	}
	return nil
}

// StockLogs 产品库存变更记录
func (s *StockService) StockLogs(ctx context.Context, productID string) ([]entity.ProductStockLog, error) {
	if _, err := s.repos.Product.GetByID(productID); err != nil {
		return nil, err
	}
	return s.repos.Product.ListStockLogs(productID)
}
