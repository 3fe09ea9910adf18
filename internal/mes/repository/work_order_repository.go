package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WorkOrderRepository struct {
	db *gorm.DB
}

func NewWorkOrderRepository(db *gorm.DB) *WorkOrderRepository {
	return &WorkOrderRepository{db: db}
}

const workOrderNotFound = "施工单不存在"

// Create 只写主表，子表由调用方逐一写入
func (r *WorkOrderRepository) Create(wo *entity.WorkOrder) error {
	return wrap(r.db.Omit(clause.Associations).Create(wo).Error, "")
}

// GetByID 预加载全部聚合
func (r *WorkOrderRepository) GetByID(id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := r.preloaded().Where("id = ?", id).First(&wo).Error
	if err != nil {
		return nil, wrap(err, workOrderNotFound)
	}
	return &wo, nil
}

// GetHeader 只读主表
func (r *WorkOrderRepository) GetHeader(id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	if err := r.db.Where("id = ?", id).First(&wo).Error; err != nil {
		return nil, wrap(err, workOrderNotFound)
	}
	return &wo, nil
}

// Lock 对施工单加行锁，仅返回主表
func (r *WorkOrderRepository) Lock(id string) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	err := r.db.Clauses(forUpdate).Where("id = ?", id).First(&wo).Error
	if err != nil {
		return nil, wrap(err, workOrderNotFound)
	}
	return &wo, nil
}

// LockLoaded 加锁后加载全部聚合
func (r *WorkOrderRepository) LockLoaded(id string) (*entity.WorkOrder, error) {
	if _, err := r.Lock(id); err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

func (r *WorkOrderRepository) preloaded() *gorm.DB {
	return r.db.
		Preload("Customer").
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC, created_at ASC") }).
		Preload("Products.Product").
		Preload("Processes", func(db *gorm.DB) *gorm.DB { return db.Order("sequence ASC") }).
		Preload("Processes.Process").
		Preload("Materials", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Materials.Material").
		Preload("Artworks").
		Preload("Dies").
		Preload("FoilingPlates").
		Preload("EmbossingPlates")
}

// Updates 按列更新主表
func (r *WorkOrderRepository) Updates(id string, fields map[string]interface{}) error {
	return wrap(r.db.Model(&entity.WorkOrder{}).Where("id = ?", id).Updates(fields).Error, "")
}

type WOListParams struct {
	Status         string
	ApprovalStatus string
	CustomerID     string
	CreatedByID    string
	Keyword        string
	Page           int
	Size           int
}

func (r *WorkOrderRepository) List(params WOListParams) ([]entity.WorkOrder, int64, error) {
	query := r.db.Model(&entity.WorkOrder{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.ApprovalStatus != "" {
		query = query.Where("approval_status = ?", params.ApprovalStatus)
	}
	if params.CustomerID != "" {
		query = query.Where("customer_id = ?", params.CustomerID)
	}
	if params.CreatedByID != "" {
		query = query.Where("created_by_id = ?", params.CreatedByID)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("order_number LIKE ? OR notes LIKE ?", kw, kw)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrap(err, "")
	}
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var wos []entity.WorkOrder
	err := query.Preload("Customer").
		Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).
		Limit(params.Size).
		Find(&wos).Error
	return wos, total, wrap(err, "")
}

// ListActive 进行中或暂停的施工单（看板使用）
func (r *WorkOrderRepository) ListActive(limit int) ([]entity.WorkOrder, error) {
	var wos []entity.WorkOrder
	err := r.db.Preload("Customer").
		Where("status IN ?", []string{entity.WOStatusPending, entity.WOStatusInProgress, entity.WOStatusPaused}).
		Order("delivery_date ASC").
		Limit(limit).
		Find(&wos).Error
	return wos, wrap(err, "")
}

// ---- 子表 ----

func (r *WorkOrderRepository) CreateProducts(items []entity.WorkOrderProduct) error {
	if len(items) == 0 {
		return nil
	}
	return wrap(r.db.Omit(clause.Associations).Create(&items).Error, "")
}

func (r *WorkOrderRepository) ReplaceProducts(woID string, items []entity.WorkOrderProduct) error {
	if err := r.db.Where("work_order_id = ?", woID).Delete(&entity.WorkOrderProduct{}).Error; err != nil {
		return wrap(err, "")
	}
	return r.CreateProducts(items)
}

func (r *WorkOrderRepository) CreateMaterials(items []entity.WorkOrderMaterial) error {
	if len(items) == 0 {
		return nil
	}
	return wrap(r.db.Omit(clause.Associations).Create(&items).Error, "")
}

func (r *WorkOrderRepository) ReplaceMaterials(woID string, items []entity.WorkOrderMaterial) error {
	if err := r.db.Where("work_order_id = ?", woID).Delete(&entity.WorkOrderMaterial{}).Error; err != nil {
		return wrap(err, "")
	}
	return r.CreateMaterials(items)
}

func (r *WorkOrderRepository) GetMaterial(id string) (*entity.WorkOrderMaterial, error) {
	var m entity.WorkOrderMaterial
	if err := r.db.Preload("Material").Where("id = ?", id).First(&m).Error; err != nil {
		return nil, wrap(err, "施工单物料不存在")
	}
	return &m, nil
}

func (r *WorkOrderRepository) LockMaterial(id string) (*entity.WorkOrderMaterial, error) {
	var m entity.WorkOrderMaterial
	if err := r.db.Clauses(forUpdate).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, wrap(err, "施工单物料不存在")
	}
	return &m, nil
}

func (r *WorkOrderRepository) UpdateMaterial(id string, fields map[string]interface{}) error {
	return wrap(r.db.Model(&entity.WorkOrderMaterial{}).Where("id = ?", id).Updates(fields).Error, "")
}

// CountUncutMaterials 需要开料但尚未开料的物料行数
func (r *WorkOrderRepository) CountUncutMaterials(woID string) (int64, error) {
	var n int64
	err := r.db.Model(&entity.WorkOrderMaterial{}).
		Where("work_order_id = ? AND need_cutting = ? AND purchase_status <> ?", woID, true, entity.PurchaseCut).
		Count(&n).Error
	return n, wrap(err, "")
}

// FindMaterialLine 施工单上某物料的行
func (r *WorkOrderRepository) FindMaterialLine(woID, materialID string) (*entity.WorkOrderMaterial, error) {
	var m entity.WorkOrderMaterial
	err := r.db.Where("work_order_id = ? AND material_id = ?", woID, materialID).
		Order("created_at ASC").First(&m).Error
	if err != nil {
		return nil, wrap(err, "施工单物料不存在")
	}
	return &m, nil
}

// ReplaceAssets 替换施工单关联的版，传入完整的版记录
func (r *WorkOrderRepository) ReplaceAssets(wo *entity.WorkOrder, artworks []entity.Artwork, dies []entity.Die,
	foiling []entity.FoilingPlate, embossing []entity.EmbossingPlate) error {
	// 每个关联单独构造语句，复用同一语句会串入上一次的关联状态
	replace := []struct {
		name   string
		values interface{}
	}{
		{"Artworks", artworks},
		{"Dies", dies},
		{"FoilingPlates", foiling},
		{"EmbossingPlates", embossing},
	}
	for _, a := range replace {
		if err := r.db.Model(wo).Association(a.name).Replace(a.values); err != nil {
			return wrap(err, "")
		}
	}
	return nil
}

// CreateApprovalLog 审核记录
func (r *WorkOrderRepository) CreateApprovalLog(l *entity.ApprovalLog) error {
	return wrap(r.db.Create(l).Error, "")
}

func (r *WorkOrderRepository) ListApprovalLogs(woID string) ([]entity.ApprovalLog, error) {
	var logs []entity.ApprovalLog
	err := r.db.Where("work_order_id = ?", woID).Order("created_at ASC").Find(&logs).Error
	return logs, wrap(err, "")
}

// CreatePurchaseOrder 采购单
func (r *WorkOrderRepository) CreatePurchaseOrder(po *entity.PurchaseOrder) error {
	return wrap(r.db.Create(po).Error, "")
}
