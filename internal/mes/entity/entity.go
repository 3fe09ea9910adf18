package entity

import "gorm.io/gorm"

// AutoMigrate 自动迁移所有MES表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 基础数据
		&User{},
		&Department{},
		&Process{},
		&AssignmentRule{},
		&Customer{},
		&Product{},
		&ProductStockLog{},
		&Material{},

		// 版
		&Artwork{},
		&Die{},
		&FoilingPlate{},
		&EmbossingPlate{},

		// 施工单
		&WorkOrder{},
		&WorkOrderProduct{},
		&WorkOrderProcess{},
		&WorkOrderMaterial{},
		&WorkOrderTask{},
		&TaskLog{},
		&ProcessLog{},
		&ApprovalLog{},

		// 通知 / 采购
		&Notification{},
		&PurchaseOrder{},
	)
}
