package notify

import (
	"context"
	"encoding/json"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DBSink 写入站内通知表
type DBSink struct {
	db *gorm.DB
}

func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Send(ctx context.Context, msgs []Message) error {
	rows := make([]entity.Notification, 0, len(msgs))
	for _, m := range msgs {
		row := entity.Notification{
			ID:                 uuid.New().String(),
			RecipientID:        m.RecipientID,
			NotificationType:   m.Type,
			Title:              m.Title,
			Content:            m.Content,
			Priority:           m.Priority,
			WorkOrderID:        m.WorkOrderID,
			WorkOrderProcessID: m.ProcessID,
			TaskID:             m.TaskID,
		}
		if len(m.Data) > 0 {
			data, err := json.Marshal(m.Data)
			if err != nil {
				return err
			}
			row.Data = datatypes.JSON(data)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}
