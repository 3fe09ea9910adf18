package entity

import (
	"time"

	"gorm.io/datatypes"
)

// 通知类型
const (
	NotifyApprovalPassed      = "approval_passed"
	NotifyApprovalRejected    = "approval_rejected"
	NotifyReapprovalRequested = "reapproval_requested"
	NotifyTaskAssigned        = "task_assigned"
	NotifyTaskCancelled       = "task_cancelled"
	NotifyProcessCompleted    = "process_completed"
	NotifyWorkOrderCompleted  = "workorder_completed"
	NotifyWorkOrderCancelled  = "workorder_cancelled"
	NotifyLowStockWarning     = "low_stock_warning"
	NotifySystem              = "system"
)

// Notification 站内通知
type Notification struct {
	ID                 string         `json:"id" gorm:"primaryKey;size:36"`
	RecipientID        string         `json:"recipient_id" gorm:"size:36;not null;index"`
	NotificationType   string         `json:"notification_type" gorm:"size:30;not null"`
	Title              string         `json:"title" gorm:"size:200;not null"`
	Content            string         `json:"content" gorm:"type:text"`
	Priority           string         `json:"priority" gorm:"size:10;default:normal"`
	WorkOrderID        *string        `json:"work_order_id" gorm:"size:36;index"`
	WorkOrderProcessID *string        `json:"work_order_process_id" gorm:"size:36"`
	TaskID             *string        `json:"task_id" gorm:"size:36"`
	Data               datatypes.JSON `json:"data"`
	IsRead             bool           `json:"is_read" gorm:"default:false"`
	ReadAt             *time.Time     `json:"read_at"`
	CreatedAt          time.Time      `json:"created_at"`
}

func (Notification) TableName() string {
	return "mes_notifications"
}
