package repository

import (
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// 组织结构变化不频繁，工序定义与部门能力做短时缓存
const (
	orgCacheTTL     = 5 * time.Minute
	orgCacheCleanup = 10 * time.Minute
)

func newOrgCache() *cache.Cache {
	return cache.New(orgCacheTTL, orgCacheCleanup)
}

// OrgRepository 客户、部门、用户、工序定义与分派规则
type OrgRepository struct {
	db    *gorm.DB
	cache *cache.Cache
}

// Flush 清空缓存，组织结构写入后调用
func (r *OrgRepository) Flush() {
	r.cache.Flush()
}

// SetDepartmentActive 启用或停用部门
func (r *OrgRepository) SetDepartmentActive(id string, active bool) error {
	res := r.db.Model(&entity.Department{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return wrap(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("部门不存在")
	}
	r.Flush()
	return nil
}

// SetCapabilities 覆盖部门可承接的工序
func (r *OrgRepository) SetCapabilities(departmentID string, processIDs []string) error {
	dept, err := r.GetDepartment(departmentID)
	if err != nil {
		return err
	}
	var procs []entity.Process
	if len(processIDs) > 0 {
		if err := r.db.Where("id IN ?", processIDs).Find(&procs).Error; err != nil {
			return wrap(err, "")
		}
		if len(procs) != len(processIDs) {
			return apperr.Validation("包含不存在的工序")
		}
	}
	if err := r.db.Model(dept).Association("Processes").Replace(procs); err != nil {
		return wrap(err, "")
	}
	r.Flush()
	return nil
}

func (r *OrgRepository) ProcessByCode(code string) (*entity.Process, error) {
	key := "process:code:" + code
	if v, ok := r.cache.Get(key); ok {
		p := v.(entity.Process)
		return &p, nil
	}
	var p entity.Process
	if err := r.db.Where("code = ?", code).First(&p).Error; err != nil {
		return nil, wrap(err, "工序定义不存在: "+code)
	}
	r.cache.SetDefault(key, p)
	return &p, nil
}

func (r *OrgRepository) ProcessByID(id string) (*entity.Process, error) {
	key := "process:id:" + id
	if v, ok := r.cache.Get(key); ok {
		p := v.(entity.Process)
		return &p, nil
	}
	var p entity.Process
	if err := r.db.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, wrap(err, "工序定义不存在")
	}
	r.cache.SetDefault(key, p)
	return &p, nil
}

func (r *OrgRepository) ListProcesses() ([]entity.Process, error) {
	var list []entity.Process
	err := r.db.Order("sort_order ASC").Find(&list).Error
	return list, wrap(err, "")
}

// CapableDepartments 能承接该工序的在用部门，按 sort_order、id 升序
func (r *OrgRepository) CapableDepartments(processID string) ([]entity.Department, error) {
	key := "dept:capable:" + processID
	if v, ok := r.cache.Get(key); ok {
		return v.([]entity.Department), nil
	}
	var list []entity.Department
	err := r.db.
		Joins("JOIN mes_department_processes dp ON dp.department_id = mes_departments.id").
		Where("dp.process_id = ? AND mes_departments.is_active = ?", processID, true).
		Order("mes_departments.sort_order ASC, mes_departments.id ASC").
		Find(&list).Error
	if err != nil {
		return nil, wrap(err, "")
	}
	r.cache.SetDefault(key, list)
	return list, nil
}

// ActiveRules 工序的在用分派规则，priority 降序、department_id 升序
func (r *OrgRepository) ActiveRules(processID string) ([]entity.AssignmentRule, error) {
	var list []entity.AssignmentRule
	err := r.db.Where("process_id = ? AND is_active = ?", processID, true).
		Order("priority DESC, department_id ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

// RuleFor 指定工序与部门的规则
func (r *OrgRepository) RuleFor(processID, departmentID string) (*entity.AssignmentRule, error) {
	var rule entity.AssignmentRule
	err := r.db.Where("process_id = ? AND department_id = ? AND is_active = ?", processID, departmentID, true).
		First(&rule).Error
	if err != nil {
		return nil, wrap(err, "分派规则不存在")
	}
	return &rule, nil
}

// Candidates 部门内在用、非超级管理员的成员，按 id 升序
func (r *OrgRepository) Candidates(departmentID string) ([]entity.User, error) {
	var list []entity.User
	err := r.db.
		Joins("JOIN mes_user_departments ud ON ud.user_id = mes_users.id").
		Where("ud.department_id = ? AND mes_users.is_active = ? AND mes_users.is_superuser = ?", departmentID, true, false).
		Order("mes_users.id ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

// IsMember 用户是否属于部门
func (r *OrgRepository) IsMember(userID, departmentID string) (bool, error) {
	var n int64
	err := r.db.Table("mes_user_departments").
		Where("user_id = ? AND department_id = ?", userID, departmentID).
		Count(&n).Error
	return n > 0, wrap(err, "")
}

// Superusers 在用的超级管理员
func (r *OrgRepository) Superusers() ([]entity.User, error) {
	var list []entity.User
	err := r.db.Where("is_superuser = ? AND is_active = ?", true, true).Order("id ASC").Find(&list).Error
	return list, wrap(err, "")
}

func (r *OrgRepository) GetUser(id string) (*entity.User, error) {
	var u entity.User
	if err := r.db.Where("id = ?", id).First(&u).Error; err != nil {
		return nil, wrap(err, "用户不存在")
	}
	return &u, nil
}

func (r *OrgRepository) GetDepartment(id string) (*entity.Department, error) {
	var d entity.Department
	if err := r.db.Where("id = ?", id).First(&d).Error; err != nil {
		return nil, wrap(err, "部门不存在")
	}
	return &d, nil
}

func (r *OrgRepository) GetCustomer(id string) (*entity.Customer, error) {
	var c entity.Customer
	if err := r.db.Where("id = ?", id).First(&c).Error; err != nil {
		return nil, wrap(err, "客户不存在")
	}
	return &c, nil
}
