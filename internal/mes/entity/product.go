package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 成品
type Product struct {
	ID               string          `json:"id" gorm:"primaryKey;size:36"`
	Code             string          `json:"code" gorm:"size:50;uniqueIndex;not null"`
	Name             string          `json:"name" gorm:"size:200;not null"`
	Specification    string          `json:"specification" gorm:"size:200"`
	Unit             string          `json:"unit" gorm:"size:20;default:件"`
	UnitPrice        decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);default:0"`
	StockQuantity    int             `json:"stock_quantity" gorm:"default:0"`
	MinStockQuantity int             `json:"min_stock_quantity" gorm:"default:0"`
	IsActive         bool            `json:"is_active" gorm:"default:true"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Product) TableName() string {
	return "mes_products"
}

// IsLowStock 库存低于安全库存
func (p *Product) IsLowStock() bool {
	return p.StockQuantity < p.MinStockQuantity
}

// 库存变更类型
const (
	StockChangeAdd    = "add"
	StockChangeReduce = "reduce"
)

// ProductStockLog 成品库存变更记录
type ProductStockLog struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	ProductID   string    `json:"product_id" gorm:"size:36;not null;index"`
	ChangeType  string    `json:"change_type" gorm:"size:10;not null"`
	Quantity    int       `json:"quantity" gorm:"not null"`
	OldQuantity int       `json:"old_quantity"`
	NewQuantity int       `json:"new_quantity"`
	Reason      string    `json:"reason" gorm:"type:text"`
	WorkOrderID *string   `json:"work_order_id" gorm:"size:36;index"`
	CreatedByID *string   `json:"created_by_id" gorm:"size:36"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ProductStockLog) TableName() string {
	return "mes_product_stock_logs"
}

// Material 物料
type Material struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Code          string    `json:"code" gorm:"size:50;uniqueIndex;not null"`
	Name          string    `json:"name" gorm:"size:200;not null"`
	Specification string    `json:"specification" gorm:"size:200"`
	Unit          string    `json:"unit" gorm:"size:20;default:张"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Material) TableName() string {
	return "mes_materials"
}
