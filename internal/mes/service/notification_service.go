package service

import (
	"context"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
)

// NotificationService 站内通知收件箱
type NotificationService struct {
	repo *repository.NotificationRepository
}

func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]entity.Notification, error) {
	return s.repo.ListByRecipient(userID, unreadOnly, limit)
}

func (s *NotificationService) ListByWorkOrder(ctx context.Context, workOrderID string) ([]entity.Notification, error) {
	return s.repo.ListByWorkOrder(workOrderID)
}

// MarkRead 只能标记自己的通知
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	return s.repo.MarkRead(id, userID)
}
