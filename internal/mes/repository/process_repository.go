package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessRepository 施工单工序
type ProcessRepository struct {
	db *gorm.DB
}

func NewProcessRepository(db *gorm.DB) *ProcessRepository {
	return &ProcessRepository{db: db}
}

const processNotFound = "工序不存在"

func (r *ProcessRepository) GetByID(id string) (*entity.WorkOrderProcess, error) {
	var p entity.WorkOrderProcess
	if err := r.db.Preload("Process").Where("id = ?", id).First(&p).Error; err != nil {
		return nil, wrap(err, processNotFound)
	}
	return &p, nil
}

// Lock 行锁后返回（含工序定义）
func (r *ProcessRepository) Lock(id string) (*entity.WorkOrderProcess, error) {
	var p entity.WorkOrderProcess
	if err := r.db.Clauses(forUpdate).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, wrap(err, processNotFound)
	}
	var def entity.Process
	if err := r.db.Where("id = ?", p.ProcessID).First(&def).Error; err != nil {
		return nil, wrap(err, processNotFound)
	}
	p.Process = &def
	return &p, nil
}

// ListByWorkOrder 按 sequence 升序
func (r *ProcessRepository) ListByWorkOrder(woID string) ([]entity.WorkOrderProcess, error) {
	var list []entity.WorkOrderProcess
	err := r.db.Preload("Process").
		Where("work_order_id = ?", woID).
		Order("sequence ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

func (r *ProcessRepository) Create(p *entity.WorkOrderProcess) error {
	return wrap(r.db.Omit(clause.Associations).Create(p).Error, "")
}

func (r *ProcessRepository) Updates(id string, fields map[string]interface{}) error {
	return wrap(r.db.Model(&entity.WorkOrderProcess{}).Where("id = ?", id).Updates(fields).Error, "")
}

func (r *ProcessRepository) Delete(id string) error {
	return wrap(r.db.Where("id = ?", id).Delete(&entity.WorkOrderProcess{}).Error, "")
}

// CreateLog 工序日志
func (r *ProcessRepository) CreateLog(l *entity.ProcessLog) error {
	return wrap(r.db.Create(l).Error, "")
}

func (r *ProcessRepository) ListLogs(processID string) ([]entity.ProcessLog, error) {
	var logs []entity.ProcessLog
	err := r.db.Where("work_order_process_id = ?", processID).Order("created_at ASC").Find(&logs).Error
	return logs, wrap(err, "")
}
