package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 施工单状态
const (
	WOStatusPending    = "pending"
	WOStatusInProgress = "in_progress"
	WOStatusPaused     = "paused"
	WOStatusCompleted  = "completed"
	WOStatusCancelled  = "cancelled"
)

// 审核状态
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// 优先级
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// WorkOrder 施工单
type WorkOrder struct {
	ID                  string          `json:"id" gorm:"primaryKey;size:36"`
	OrderNumber         string          `json:"order_number" gorm:"size:50;uniqueIndex;not null"`
	CustomerID          *string         `json:"customer_id" gorm:"size:36;index"`
	OrderDate           time.Time       `json:"order_date"`
	DeliveryDate        *time.Time      `json:"delivery_date"`
	ActualDeliveryDate  *time.Time      `json:"actual_delivery_date"`
	ProductionQuantity  *int            `json:"production_quantity"`
	DefectiveQuantity   int             `json:"defective_quantity" gorm:"default:0"`
	TotalAmount         decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);default:0"`
	Priority            string          `json:"priority" gorm:"size:10;default:normal"`
	Status              string          `json:"status" gorm:"size:20;not null;default:pending;index"`
	ApprovalStatus      string          `json:"approval_status" gorm:"size:20;not null;default:pending;index"`
	ApprovedByID        *string         `json:"approved_by_id" gorm:"size:36"`
	ApprovedAt          *time.Time      `json:"approved_at"`
	ApprovalComment     string          `json:"approval_comment" gorm:"type:text"`
	PrintingType        string          `json:"printing_type" gorm:"size:20;default:none"`
	PrintingCMYKColors  string          `json:"printing_cmyk_colors" gorm:"size:20"`
	PrintingOtherColors string          `json:"printing_other_colors" gorm:"size:200"`
	Notes               string          `json:"notes" gorm:"type:text"`
	DesignFile          string          `json:"design_file" gorm:"size:500"`
	CreatedByID         *string         `json:"created_by_id" gorm:"size:36;index"`
	ManagerID           *string         `json:"manager_id" gorm:"size:36"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`

	Customer        *Customer           `json:"customer,omitempty" gorm:"foreignKey:CustomerID"`
	Products        []WorkOrderProduct  `json:"products,omitempty" gorm:"foreignKey:WorkOrderID"`
	Processes       []WorkOrderProcess  `json:"processes,omitempty" gorm:"foreignKey:WorkOrderID"`
	Materials       []WorkOrderMaterial `json:"materials,omitempty" gorm:"foreignKey:WorkOrderID"`
	Artworks        []Artwork           `json:"artworks,omitempty" gorm:"many2many:mes_work_order_artworks"`
	Dies            []Die               `json:"dies,omitempty" gorm:"many2many:mes_work_order_dies"`
	FoilingPlates   []FoilingPlate      `json:"foiling_plates,omitempty" gorm:"many2many:mes_work_order_foiling_plates"`
	EmbossingPlates []EmbossingPlate    `json:"embossing_plates,omitempty" gorm:"many2many:mes_work_order_embossing_plates"`
}

func (WorkOrder) TableName() string {
	return "mes_work_orders"
}

func (wo *WorkOrder) IsApproved() bool {
	return wo.ApprovalStatus == ApprovalApproved
}

// ProductionQty 生产数量，未填写按0处理
func (wo *WorkOrder) ProductionQty() int {
	if wo.ProductionQuantity == nil {
		return 0
	}
	return *wo.ProductionQuantity
}

// WorkOrderProduct 施工单产品
type WorkOrderProduct struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderID string    `json:"work_order_id" gorm:"size:36;not null;index"`
	ProductID   string    `json:"product_id" gorm:"size:36;not null"`
	Quantity    int       `json:"quantity" gorm:"default:1"`
	Unit        string    `json:"unit" gorm:"size:20;default:件"`
	SortOrder   int       `json:"sort_order" gorm:"default:0"`
	CreatedAt   time.Time `json:"created_at"`

	Product *Product `json:"product,omitempty" gorm:"foreignKey:ProductID"`
}

func (WorkOrderProduct) TableName() string {
	return "mes_work_order_products"
}

// 工序状态
const (
	ProcessStatusPending    = "pending"
	ProcessStatusInProgress = "in_progress"
	ProcessStatusCompleted  = "completed"
	ProcessStatusSkipped    = "skipped"
)

// WorkOrderProcess 施工单工序
type WorkOrderProcess struct {
	ID                string     `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderID       string     `json:"work_order_id" gorm:"size:36;not null;uniqueIndex:idx_wop_sequence"`
	ProcessID         string     `json:"process_id" gorm:"size:36;not null;index"`
	Sequence          int        `json:"sequence" gorm:"not null;uniqueIndex:idx_wop_sequence"`
	Status            string     `json:"status" gorm:"size:20;not null;default:pending"`
	PlannedStartTime  *time.Time `json:"planned_start_time"`
	PlannedEndTime    *time.Time `json:"planned_end_time"`
	ActualStartTime   *time.Time `json:"actual_start_time"`
	ActualEndTime     *time.Time `json:"actual_end_time"`
	QuantityCompleted int        `json:"quantity_completed" gorm:"default:0"`
	QuantityDefective int        `json:"quantity_defective" gorm:"default:0"`
	DepartmentID      *string    `json:"department_id" gorm:"size:36"`
	OperatorID        *string    `json:"operator_id" gorm:"size:36"`
	Notes             string     `json:"notes" gorm:"type:text"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Process *Process        `json:"process,omitempty" gorm:"foreignKey:ProcessID"`
	Tasks   []WorkOrderTask `json:"tasks,omitempty" gorm:"foreignKey:WorkOrderProcessID"`
}

func (WorkOrderProcess) TableName() string {
	return "mes_work_order_processes"
}

// DurationHours 实际耗时（小时），未结束返回0
func (p *WorkOrderProcess) DurationHours() float64 {
	if p.ActualStartTime == nil || p.ActualEndTime == nil {
		return 0
	}
	return p.ActualEndTime.Sub(*p.ActualStartTime).Hours()
}

// Code 工序编码，未预加载时为空
func (p *WorkOrderProcess) Code() string {
	if p.Process == nil {
		return ""
	}
	return p.Process.Code
}

// 物料采购状态
const (
	PurchasePending   = "pending"
	PurchaseOrdered   = "ordered"
	PurchaseReceived  = "received"
	PurchaseCut       = "cut"
	PurchaseCompleted = "completed"
)

// WorkOrderMaterial 施工单物料
type WorkOrderMaterial struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderID    string    `json:"work_order_id" gorm:"size:36;not null;index"`
	MaterialID     string    `json:"material_id" gorm:"size:36;not null"`
	MaterialSize   string    `json:"material_size" gorm:"size:100"`
	MaterialUsage  string    `json:"material_usage" gorm:"size:100"`
	NeedCutting    bool      `json:"need_cutting" gorm:"default:false"`
	PurchaseStatus string    `json:"purchase_status" gorm:"size:20;default:pending"`
	Notes          string    `json:"notes" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Material *Material `json:"material,omitempty" gorm:"foreignKey:MaterialID"`
}

func (WorkOrderMaterial) TableName() string {
	return "mes_work_order_materials"
}

// PurchaseOrder 采购单（仅承载编号）
type PurchaseOrder struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	OrderNumber  string          `json:"order_number" gorm:"size:50;uniqueIndex;not null"`
	SupplierName string          `json:"supplier_name" gorm:"size:200"`
	Status       string          `json:"status" gorm:"size:20;default:draft"`
	TotalAmount  decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);default:0"`
	Notes        string          `json:"notes" gorm:"type:text"`
	CreatedByID  *string         `json:"created_by_id" gorm:"size:36"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (PurchaseOrder) TableName() string {
	return "mes_purchase_orders"
}
