package repository

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) CreateBatch(items []entity.Notification) error {
	if len(items) == 0 {
		return nil
	}
	return wrap(r.db.Create(&items).Error, "")
}

func (r *NotificationRepository) ListByRecipient(userID string, unreadOnly bool, limit int) ([]entity.Notification, error) {
	query := r.db.Where("recipient_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if limit <= 0 {
		limit = 50
	}
	var list []entity.Notification
	err := query.Order("created_at DESC").Limit(limit).Find(&list).Error
	return list, wrap(err, "")
}

// ListByWorkOrder 施工单相关通知
func (r *NotificationRepository) ListByWorkOrder(woID string) ([]entity.Notification, error) {
	var list []entity.Notification
	err := r.db.Where("work_order_id = ?", woID).Order("created_at ASC").Find(&list).Error
	return list, wrap(err, "")
}

// MarkRead 只能标记自己的通知
func (r *NotificationRepository) MarkRead(id, userID string) error {
	now := time.Now()
	res := r.db.Model(&entity.Notification{}).
		Where("id = ? AND recipient_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	if res.Error != nil {
		return wrap(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return wrap(gorm.ErrRecordNotFound, "通知不存在")
	}
	return nil
}
