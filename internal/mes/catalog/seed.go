package catalog

import (
	"fmt"
	"os"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ToEntity 转换为数据库中的工序行
func (d Definition) ToEntity() entity.Process {
	return entity.Process{
		ID:                     uuid.New().String(),
		Code:                   d.Code,
		Name:                   d.Name,
		SortOrder:              d.SortOrder,
		IsActive:               true,
		IsParallel:             d.Parallel,
		RequiresArtwork:        d.Artwork.Requires,
		ArtworkRequired:        d.Artwork.Required,
		RequiresDie:            d.Die.Requires,
		DieRequired:            d.Die.Required,
		RequiresFoilingPlate:   d.FoilingPlate.Requires,
		FoilingPlateRequired:   d.FoilingPlate.Required,
		RequiresEmbossingPlate: d.EmbossingPlate.Requires,
		EmbossingPlateRequired: d.EmbossingPlate.Required,
	}
}

// Seed 将内置工序写入 mes_processes，已存在的按编码覆盖能力位
func Seed(db *gorm.DB) error {
	defs := All()
	rows := make([]entity.Process, 0, len(defs))
	for _, d := range defs {
		rows = append(rows, d.ToEntity())
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "is_parallel",
			"requires_artwork", "artwork_required",
			"requires_die", "die_required",
			"requires_foiling_plate", "foiling_plate_required",
			"requires_embossing_plate", "embossing_plate_required",
			"updated_at",
		}),
	}).Create(&rows).Error
}

// OrgSeed 组织结构种子文件
type OrgSeed struct {
	Departments []DepartmentSeed `yaml:"departments"`
	Users       []UserSeed       `yaml:"users"`
	Rules       []RuleSeed       `yaml:"rules"`
}

type DepartmentSeed struct {
	Code      string   `yaml:"code"`
	Name      string   `yaml:"name"`
	SortOrder int      `yaml:"sort_order"`
	Processes []string `yaml:"processes"`
}

type UserSeed struct {
	Username    string   `yaml:"username"`
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	Superuser   bool     `yaml:"superuser"`
	Departments []string `yaml:"departments"`
}

type RuleSeed struct {
	Process    string `yaml:"process"`
	Department string `yaml:"department"`
	Priority   int    `yaml:"priority"`
	Strategy   string `yaml:"strategy"`
	Notes      string `yaml:"notes"`
}

// LoadOrgSeed 读取 YAML 组织种子
func LoadOrgSeed(path string) (*OrgSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取组织种子失败: %w", err)
	}
	return ParseOrgSeed(data)
}

func ParseOrgSeed(data []byte) (*OrgSeed, error) {
	var seed OrgSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("解析组织种子失败: %w", err)
	}
	for _, d := range seed.Departments {
		for _, code := range d.Processes {
			if !IsKnown(code) {
				return nil, fmt.Errorf("部门 %s 引用了未知工序 %s", d.Code, code)
			}
		}
	}
	for _, r := range seed.Rules {
		if !IsKnown(r.Process) {
			return nil, fmt.Errorf("分派规则引用了未知工序 %s", r.Process)
		}
		switch r.Strategy {
		case "", entity.StrategyLeastTasks, entity.StrategyRandom, entity.StrategyRoundRobin, entity.StrategyFirstAvailable:
		default:
			return nil, fmt.Errorf("未知的分派策略 %s", r.Strategy)
		}
	}
	return &seed, nil
}

// ApplyOrgSeed 写入部门、用户与分派规则；工序目录需先 Seed。
// 提交后清空 repos 的组织缓存，同一进程内的分派立即看到新的部门能力
func ApplyOrgSeed(repos *repository.Repositories, seed *OrgSeed) error {
	err := repos.DB().Transaction(func(tx *gorm.DB) error {
		var processes []entity.Process
		if err := tx.Find(&processes).Error; err != nil {
			return err
		}
		procByCode := make(map[string]entity.Process, len(processes))
		for _, p := range processes {
			procByCode[p.Code] = p
		}

		deptByCode := make(map[string]*entity.Department)
		for _, ds := range seed.Departments {
			dept := entity.Department{}
			err := tx.Where("code = ?", ds.Code).First(&dept).Error
			if err == gorm.ErrRecordNotFound {
				dept = entity.Department{ID: uuid.New().String(), Code: ds.Code, IsActive: true}
			} else if err != nil {
				return err
			}
			dept.Name = ds.Name
			dept.SortOrder = ds.SortOrder
			if err := tx.Save(&dept).Error; err != nil {
				return fmt.Errorf("保存部门 %s 失败: %w", ds.Code, err)
			}
			var caps []entity.Process
			for _, code := range ds.Processes {
				p, ok := procByCode[code]
				if !ok {
					return fmt.Errorf("工序 %s 尚未初始化", code)
				}
				caps = append(caps, p)
			}
			if err := tx.Model(&dept).Association("Processes").Replace(caps); err != nil {
				return err
			}
			d := dept
			deptByCode[ds.Code] = &d
		}

		for _, us := range seed.Users {
			user := entity.User{}
			err := tx.Where("username = ?", us.Username).First(&user).Error
			if err == gorm.ErrRecordNotFound {
				user = entity.User{ID: uuid.New().String(), Username: us.Username, IsActive: true}
			} else if err != nil {
				return err
			}
			user.Name = us.Name
			user.Email = us.Email
			user.IsSuperuser = us.Superuser
			if err := tx.Save(&user).Error; err != nil {
				return fmt.Errorf("保存用户 %s 失败: %w", us.Username, err)
			}
			var depts []entity.Department
			for _, code := range us.Departments {
				d, ok := deptByCode[code]
				if !ok {
					return fmt.Errorf("用户 %s 引用了未知部门 %s", us.Username, code)
				}
				depts = append(depts, *d)
			}
			if err := tx.Model(&user).Association("Departments").Replace(depts); err != nil {
				return err
			}
		}

		for _, rs := range seed.Rules {
			d, ok := deptByCode[rs.Department]
			if !ok {
				return fmt.Errorf("分派规则引用了未知部门 %s", rs.Department)
			}
			strategy := rs.Strategy
			if strategy == "" {
				strategy = entity.StrategyLeastTasks
			}
			rule := entity.AssignmentRule{
				ID:                        uuid.New().String(),
				ProcessID:                 procByCode[rs.Process].ID,
				DepartmentID:              d.ID,
				Priority:                  rs.Priority,
				OperatorSelectionStrategy: strategy,
				IsActive:                  true,
				Notes:                     rs.Notes,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "process_id"}, {Name: "department_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"priority", "operator_selection_strategy", "notes", "updated_at"}),
			}).Create(&rule).Error
			if err != nil {
				return fmt.Errorf("保存分派规则失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	repos.Org.Flush()
	return nil
}
