package entity

import (
	"time"
)

// Customer 客户
type Customer struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Code          string    `json:"code" gorm:"size:50;uniqueIndex"`
	Name          string    `json:"name" gorm:"size:200;not null"`
	ContactPerson string    `json:"contact_person" gorm:"size:50"`
	Phone         string    `json:"phone" gorm:"size:20"`
	Address       string    `json:"address" gorm:"type:text"`
	SalespersonID *string   `json:"salesperson_id" gorm:"size:36;index"`
	Notes         string    `json:"notes" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Salesperson *User `json:"salesperson,omitempty" gorm:"foreignKey:SalespersonID"`
}

func (Customer) TableName() string {
	return "mes_customers"
}

// Department 部门（车间）
type Department struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:50;uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	ParentID  *string   `json:"parent_id" gorm:"size:36;index"`
	SortOrder int       `json:"sort_order" gorm:"default:0"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 部门可承接的工序
	Processes []Process `json:"processes,omitempty" gorm:"many2many:mes_department_processes"`
}

func (Department) TableName() string {
	return "mes_departments"
}

// Process 工序（目录由 catalog 维护，数据库仅存放副本）
type Process struct {
	ID                     string    `json:"id" gorm:"primaryKey;size:36"`
	Code                   string    `json:"code" gorm:"size:20;uniqueIndex;not null"`
	Name                   string    `json:"name" gorm:"size:100;not null"`
	SortOrder              int       `json:"sort_order" gorm:"default:0"`
	IsActive               bool      `json:"is_active" gorm:"default:true"`
	IsParallel             bool      `json:"is_parallel"`
	RequiresArtwork        bool      `json:"requires_artwork"`
	ArtworkRequired        bool      `json:"artwork_required"`
	RequiresDie            bool      `json:"requires_die"`
	DieRequired            bool      `json:"die_required"`
	RequiresFoilingPlate   bool      `json:"requires_foiling_plate"`
	FoilingPlateRequired   bool      `json:"foiling_plate_required"`
	RequiresEmbossingPlate bool      `json:"requires_embossing_plate"`
	EmbossingPlateRequired bool      `json:"embossing_plate_required"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (Process) TableName() string {
	return "mes_processes"
}

// User 操作员
type User struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	Username    string    `json:"username" gorm:"size:64;uniqueIndex;not null"`
	Name        string    `json:"name" gorm:"size:64"`
	Email       string    `json:"email" gorm:"size:128"`
	IsActive    bool      `json:"is_active" gorm:"default:true"`
	IsSuperuser bool      `json:"is_superuser" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Departments []Department `json:"departments,omitempty" gorm:"many2many:mes_user_departments"`
}

func (User) TableName() string {
	return "mes_users"
}

// 操作员选择策略
const (
	StrategyLeastTasks     = "least_tasks"
	StrategyRandom         = "random"
	StrategyRoundRobin     = "round_robin"
	StrategyFirstAvailable = "first_available"
)

// AssignmentRule 任务分派规则
type AssignmentRule struct {
	ID                        string    `json:"id" gorm:"primaryKey;size:36"`
	ProcessID                 string    `json:"process_id" gorm:"size:36;not null;uniqueIndex:idx_rule_process_dept"`
	DepartmentID              string    `json:"department_id" gorm:"size:36;not null;uniqueIndex:idx_rule_process_dept"`
	Priority                  int       `json:"priority" gorm:"default:0"`
	OperatorSelectionStrategy string    `json:"operator_selection_strategy" gorm:"size:20;default:least_tasks"`
	IsActive                  bool      `json:"is_active" gorm:"default:true"`
	Notes                     string    `json:"notes" gorm:"type:text"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func (AssignmentRule) TableName() string {
	return "mes_assignment_rules"
}
