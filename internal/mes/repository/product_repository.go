package repository

import (
	"sort"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) GetByID(id string) (*entity.Product, error) {
	var p entity.Product
	if err := r.db.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, wrap(err, "产品不存在")
	}
	return &p, nil
}

func (r *ProductRepository) FindByIDs(ids []string) ([]entity.Product, error) {
	var list []entity.Product
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.Where("id IN ?", ids).Order("id ASC").Find(&list).Error
	return list, wrap(err, "")
}

// LockByIDs 按 id 升序逐行加锁，避免并发包装之间死锁
func (r *ProductRepository) LockByIDs(ids []string) ([]entity.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	products := make([]entity.Product, 0, len(sorted))
	for _, id := range sorted {
		var p entity.Product
		if err := r.db.Clauses(forUpdate).Where("id = ?", id).First(&p).Error; err != nil {
			return nil, wrap(err, "产品不存在")
		}
		products = append(products, p)
	}
	return products, nil
}

func (r *ProductRepository) UpdateStock(id string, qty int) error {
	return wrap(r.db.Model(&entity.Product{}).Where("id = ?", id).Update("stock_quantity", qty).Error, "")
}

func (r *ProductRepository) CreateStockLogs(logs []entity.ProductStockLog) error {
	if len(logs) == 0 {
		return nil
	}
	return wrap(r.db.Create(&logs).Error, "")
}

func (r *ProductRepository) ListStockLogs(productID string) ([]entity.ProductStockLog, error) {
	var logs []entity.ProductStockLog
	err := r.db.Where("product_id = ?", productID).Order("created_at ASC").Find(&logs).Error
	return logs, wrap(err, "")
}

// SumStockAddedByWorkOrder 施工单累计入库数量
func (r *ProductRepository) SumStockAddedByWorkOrder(woID string) (int64, error) {
	var total int64
	err := r.db.Model(&entity.ProductStockLog{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("work_order_id = ? AND change_type = ?", woID, entity.StockChangeAdd).
		Scan(&total).Error
	return total, wrap(err, "")
}

// ListLowStock 库存低于安全库存的在用产品
func (r *ProductRepository) ListLowStock() ([]entity.Product, error) {
	var list []entity.Product
	err := r.db.Where("is_active = ? AND stock_quantity < min_stock_quantity", true).
		Order("code ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

func (r *ProductRepository) GetMaterial(id string) (*entity.Material, error) {
	var m entity.Material
	if err := r.db.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, wrap(err, "物料不存在")
	}
	return &m, nil
}
