package service

import (
	"strings"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

func procOf(code string, seq int) entity.WorkOrderProcess {
	def, _ := catalog.Lookup(code)
	p := def.ToEntity()
	return entity.WorkOrderProcess{ID: code, ProcessID: p.ID, Sequence: seq, Status: entity.ProcessStatusPending, Process: &p}
}

func validOrder(today time.Time) *entity.WorkOrder {
	delivery := today.AddDate(0, 0, 3)
	return &entity.WorkOrder{
		CustomerID:         strPtr("c1"),
		OrderDate:          today,
		DeliveryDate:       &delivery,
		ProductionQuantity: intPtr(100),
		Products:           []entity.WorkOrderProduct{{ProductID: "p1", Quantity: 100}},
		Processes:          []entity.WorkOrderProcess{procOf("CTP", 10), procOf("PRT", 20)},
		Artworks:           []entity.Artwork{{ID: "a1"}},
	}
}

func TestValidateForApprovalAcceptsValidOrder(t *testing.T) {
	today := time.Date(2026, 10, 15, 10, 0, 0, 0, time.Local)
	if reasons := ValidateForApproval(validOrder(today), today); len(reasons) != 0 {
		t.Fatalf("expected no reasons, got %v", reasons)
	}
}

func TestValidateForApprovalReasons(t *testing.T) {
	today := time.Date(2026, 10, 15, 10, 0, 0, 0, time.Local)
	yesterday := today.AddDate(0, 0, -1)

	tests := []struct {
		name   string
		mutate func(wo *entity.WorkOrder)
		want   string
	}{
		{"missing customer", func(wo *entity.WorkOrder) { wo.CustomerID = nil }, "缺少客户信息"},
		{"missing products", func(wo *entity.WorkOrder) { wo.Products = nil }, "缺少产品信息"},
		{"missing processes", func(wo *entity.WorkOrder) { wo.Processes = nil }, "缺少工序信息"},
		{"missing delivery", func(wo *entity.WorkOrder) { wo.DeliveryDate = nil }, "缺少交货日期"},
		{"missing artwork", func(wo *entity.WorkOrder) { wo.Artworks = nil }, "选择了需要图稿的工序（制版, 印刷）"},
		{"missing die", func(wo *entity.WorkOrder) {
			wo.Processes = append(wo.Processes, procOf("DIE", 30))
		}, "请至少选择一个刀模"},
		{"zero quantity", func(wo *entity.WorkOrder) { wo.ProductionQuantity = intPtr(0) }, "生产数量必须大于0，当前值为0"},
		{"nil quantity", func(wo *entity.WorkOrder) { wo.ProductionQuantity = nil }, "缺少生产数量"},
		{"zero product total", func(wo *entity.WorkOrder) { wo.Products[0].Quantity = 0 }, "产品数量总和必须大于0"},
		{"delivery before order", func(wo *entity.WorkOrder) {
			wo.OrderDate = today
			wo.DeliveryDate = &yesterday
		}, "交货日期不能早于下单日期"},
		{"delivery in past", func(wo *entity.WorkOrder) {
			wo.OrderDate = today.AddDate(0, 0, -5)
			wo.DeliveryDate = &yesterday
		}, "交货日期不能早于今天"},
		{"material usage", func(wo *entity.WorkOrder) {
			wo.Materials = []entity.WorkOrderMaterial{{MaterialID: "m1", NeedCutting: true, Material: &entity.Material{Name: "白卡纸"}}}
		}, "物料\"白卡纸\"需要开料，请填写物料用量"},
		{"ctp after prt", func(wo *entity.WorkOrder) {
			wo.Processes = []entity.WorkOrderProcess{procOf("PRT", 10), procOf("CTP", 20)}
		}, "制版工序（CTP）应该在印刷工序（PRT）之前"},
		{"cut after prt", func(wo *entity.WorkOrder) {
			wo.Processes = append(wo.Processes, procOf("CUT", 30))
		}, "开料工序（CUT）应该在印刷工序（PRT）之前"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := validOrder(today)
			tt.mutate(wo)
			reasons := ValidateForApproval(wo, today)
			joined := strings.Join(reasons, "\n")
			if !strings.Contains(joined, tt.want) {
				t.Fatalf("expected reason containing %q, got %v", tt.want, reasons)
			}
		})
	}
}

func TestValidateForApprovalSameDayDelivery(t *testing.T) {
	today := time.Date(2026, 10, 15, 18, 0, 0, 0, time.Local)
	wo := validOrder(today)
	// 同一天的更早时刻不算早于今天
	morning := time.Date(2026, 10, 15, 8, 0, 0, 0, time.Local)
	wo.DeliveryDate = &morning
	if reasons := ValidateForApproval(wo, today); len(reasons) != 0 {
		t.Fatalf("expected same-day delivery to pass, got %v", reasons)
	}
}

func TestCanStart(t *testing.T) {
	ctp := procOf("CTP", 10)
	cut := procOf("CUT", 20)
	prt := procOf("PRT", 30)
	pack := procOf("PACK", 40)
	siblings := []entity.WorkOrderProcess{ctp, cut, prt, pack}

	if !CanStart(&siblings[0], siblings) {
		t.Errorf("parallel CTP should start")
	}
	if !CanStart(&siblings[1], siblings) {
		t.Errorf("first non-parallel CUT should start")
	}
	if CanStart(&siblings[2], siblings) {
		t.Errorf("PRT must wait for CUT")
	}

	siblings[1].Status = entity.ProcessStatusCompleted
	if !CanStart(&siblings[2], siblings) {
		t.Errorf("PRT should start after CUT")
	}

	siblings[2].Status = entity.ProcessStatusSkipped
	if !CanStart(&siblings[3], siblings) {
		t.Errorf("skipped PRT should not block PACK")
	}

	siblings[3].Status = entity.ProcessStatusInProgress
	if CanStart(&siblings[3], siblings) {
		t.Errorf("started process cannot start again")
	}
}
