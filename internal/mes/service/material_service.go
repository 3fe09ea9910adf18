package service

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/shopspring/decimal"
)

// MaterialService 施工单物料的采购状态
type MaterialService struct {
	*engine
	process *ProcessService
}

var purchaseStatuses = map[string]bool{
	entity.PurchasePending:   true,
	entity.PurchaseOrdered:   true,
	entity.PurchaseReceived:  true,
	entity.PurchaseCut:       true,
	entity.PurchaseCompleted: true,
}

// UpdatePurchaseStatus 更新采购状态；变为已开料时回填开料任务，并尝试开始等待开料的工序
func (s *MaterialService) UpdatePurchaseStatus(ctx context.Context, actor auth.Actor, lineID, status string) (*entity.WorkOrderMaterial, error) {
	if !purchaseStatuses[status] {
		return nil, apperr.Validationf("无效的采购状态: %s", status)
	}
	err := s.run(ctx, actor, func(sc *scope) error {
		line, err := sc.repos.WorkOrder.LockMaterial(lineID)
		if err != nil {
			return err
		}
		wo, err := sc.repos.WorkOrder.GetHeader(line.WorkOrderID)
		if err != nil {
			return err
		}
		if err := checkCanOperate(sc.actor, wo); err != nil {
			return err
		}
		if line.PurchaseStatus == status {
			return nil
		}
		if err := sc.repos.WorkOrder.UpdateMaterial(line.ID, map[string]interface{}{
			"purchase_status": status,
			"updated_at":      sc.now,
		}); err != nil {
			return err
		}
		if status != entity.PurchaseCut {
			return nil
		}
		if err := s.bus.Publish(sc.ctx, sc, MaterialCut{
			WorkOrderID: line.WorkOrderID,
			MaterialID:  line.MaterialID,
			Usage:       line.MaterialUsage,
		}); err != nil {
			return err
		}
		// 处理器可能已完成施工单，重新读取
		if wo, err = sc.repos.WorkOrder.GetHeader(line.WorkOrderID); err != nil {
			return err
		}
		return s.process.autoStart(sc, wo)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.WorkOrder.GetMaterial(lineID)
}

// PurchaseService 采购单
type PurchaseService struct {
	*engine
}

type CreatePurchaseOrderInput struct {
	SupplierName string          `json:"supplier_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Notes        string          `json:"notes"`
}

// Create 生成 PO 编号并建立采购单
func (s *PurchaseService) Create(ctx context.Context, actor auth.Actor, in CreatePurchaseOrderInput) (*entity.PurchaseOrder, error) {
	if in.TotalAmount.IsNegative() {
		return nil, apperr.Validation("采购金额不能小于0")
	}
	var po *entity.PurchaseOrder
	err := s.mint(ctx, actor, func(sc *scope) error {
		number, err := sc.repos.Sequence.NextPurchaseOrderNumber(sc.now)
		if err != nil {
			return err
		}
		po = &entity.PurchaseOrder{
			ID:           newID(),
			OrderNumber:  number,
			SupplierName: in.SupplierName,
			Status:       "draft",
			TotalAmount:  in.TotalAmount,
			Notes:        in.Notes,
			CreatedByID:  sc.actor.OperatorID(),
			CreatedAt:    sc.now,
			UpdatedAt:    sc.now,
		}
		return sc.repos.WorkOrder.CreatePurchaseOrder(po)
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}
