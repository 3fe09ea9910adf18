package entity

import (
	"time"
)

// 任务类型
const (
	TaskTypePlateMaking = "plate_making"
	TaskTypeCutting     = "cutting"
	TaskTypePrinting    = "printing"
	TaskTypeFoiling     = "foiling"
	TaskTypeEmbossing   = "embossing"
	TaskTypeDieCutting  = "die_cutting"
	TaskTypePackaging   = "packaging"
	TaskTypeGeneral     = "general"
)

// 任务状态
const (
	TaskStatusDraft      = "draft"
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// WorkOrderTask 施工单任务
type WorkOrderTask struct {
	ID                     string    `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderProcessID     string    `json:"work_order_process_id" gorm:"size:36;not null;index"`
	TaskType               string    `json:"task_type" gorm:"size:20;not null;default:general"`
	WorkContent            string    `json:"work_content" gorm:"type:text"`
	ProductionQuantity     int       `json:"production_quantity" gorm:"default:0"`
	QuantityCompleted      int       `json:"quantity_completed" gorm:"default:0"`
	QuantityDefective      int       `json:"quantity_defective" gorm:"default:0"`
	AutoCalculateQuantity  bool      `json:"auto_calculate_quantity"`
	StockAccountedQuantity int       `json:"stock_accounted_quantity" gorm:"default:0"`
	Version                int       `json:"version" gorm:"not null;default:1"`
	Status                 string    `json:"status" gorm:"size:20;not null;index"`
	ArtworkID              *string   `json:"artwork_id" gorm:"size:36;index"`
	DieID                  *string   `json:"die_id" gorm:"size:36;index"`
	FoilingPlateID         *string   `json:"foiling_plate_id" gorm:"size:36;index"`
	EmbossingPlateID       *string   `json:"embossing_plate_id" gorm:"size:36;index"`
	ProductID              *string   `json:"product_id" gorm:"size:36"`
	MaterialID             *string   `json:"material_id" gorm:"size:36"`
	AssignedDepartmentID   *string   `json:"assigned_department_id" gorm:"size:36;index"`
	AssignedOperatorID     *string   `json:"assigned_operator_id" gorm:"size:36;index"`
	ParentTaskID           *string   `json:"parent_task_id" gorm:"size:36;index"`
	ProductionRequirements string    `json:"production_requirements" gorm:"type:text"`
	CompletionReason       string    `json:"completion_reason" gorm:"type:text"`
	CancellationReason     string    `json:"cancellation_reason" gorm:"type:text"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`

	Subtasks []WorkOrderTask `json:"subtasks,omitempty" gorm:"foreignKey:ParentTaskID"`
}

func (WorkOrderTask) TableName() string {
	return "mes_work_order_tasks"
}

func (t *WorkOrderTask) IsSubtask() bool {
	return t.ParentTaskID != nil
}

// IsOpen 待开始或进行中
func (t *WorkOrderTask) IsOpen() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusInProgress
}

// AssetRef 返回任务关联的版，制版任务只关联其中一种
func (t *WorkOrderTask) AssetRef() (kind string, id string) {
	switch {
	case t.ArtworkID != nil:
		return AssetArtwork, *t.ArtworkID
	case t.DieID != nil:
		return AssetDie, *t.DieID
	case t.FoilingPlateID != nil:
		return AssetFoilingPlate, *t.FoilingPlateID
	case t.EmbossingPlateID != nil:
		return AssetEmbossingPlate, *t.EmbossingPlateID
	}
	return "", ""
}

// 任务日志类型
const (
	TaskLogUpdateQuantity = "update_quantity"
	TaskLogComplete       = "complete"
	TaskLogStatusChange   = "status_change"
	TaskLogAssign         = "assign"
	TaskLogSplit          = "split"
	TaskLogCancel         = "cancel"
)

// TaskLog 任务操作记录（只追加）
type TaskLog struct {
	ID                         string    `json:"id" gorm:"primaryKey;size:36"`
	TaskID                     string    `json:"task_id" gorm:"size:36;not null;index"`
	LogType                    string    `json:"log_type" gorm:"size:20;not null"`
	Content                    string    `json:"content" gorm:"type:text"`
	QuantityBefore             *int      `json:"quantity_before"`
	QuantityAfter              *int      `json:"quantity_after"`
	QuantityIncrement          *int      `json:"quantity_increment"`
	QuantityDefectiveIncrement *int      `json:"quantity_defective_increment"`
	StatusBefore               string    `json:"status_before" gorm:"size:20"`
	StatusAfter                string    `json:"status_after" gorm:"size:20"`
	CompletionReason           string    `json:"completion_reason" gorm:"type:text"`
	OperatorID                 *string   `json:"operator_id" gorm:"size:36"`
	CreatedAt                  time.Time `json:"created_at"`
}

func (TaskLog) TableName() string {
	return "mes_task_logs"
}

// 工序日志类型
const (
	ProcessLogStart    = "start"
	ProcessLogComplete = "complete"
	ProcessLogSkip     = "skip"
	ProcessLogNote     = "note"
)

// ProcessLog 工序操作记录（只追加）
type ProcessLog struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderProcessID string    `json:"work_order_process_id" gorm:"size:36;not null;index"`
	LogType            string    `json:"log_type" gorm:"size:20;not null"`
	Content            string    `json:"content" gorm:"type:text"`
	OperatorID         *string   `json:"operator_id" gorm:"size:36"`
	CreatedAt          time.Time `json:"created_at"`
}

func (ProcessLog) TableName() string {
	return "mes_process_logs"
}

// ApprovalLog 审核记录
type ApprovalLog struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	WorkOrderID     string    `json:"work_order_id" gorm:"size:36;not null;index"`
	ApprovalStatus  string    `json:"approval_status" gorm:"size:20;not null"`
	ApprovedByID    *string   `json:"approved_by_id" gorm:"size:36"`
	ApprovalComment string    `json:"approval_comment" gorm:"type:text"`
	RejectionReason string    `json:"rejection_reason" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ApprovalLog) TableName() string {
	return "mes_approval_logs"
}
