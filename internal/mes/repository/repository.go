package repository

import (
	"errors"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/patrickmn/go-cache"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repositories MES 仓库集合
type Repositories struct {
	db *gorm.DB

	Sequence     *SequenceRepository
	WorkOrder    *WorkOrderRepository
	Process      *ProcessRepository
	Task         *TaskRepository
	Product      *ProductRepository
	Asset        *AssetRepository
	Org          *OrgRepository
	Notification *NotificationRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return newRepositories(db, newOrgCache())
}

func newRepositories(db *gorm.DB, c *cache.Cache) *Repositories {
	return &Repositories{
		db:           db,
		Sequence:     NewSequenceRepository(db),
		WorkOrder:    NewWorkOrderRepository(db),
		Process:      NewProcessRepository(db),
		Task:         NewTaskRepository(db),
		Product:      NewProductRepository(db),
		Asset:        NewAssetRepository(db),
		Org:          &OrgRepository{db: db, cache: c},
		Notification: NewNotificationRepository(db),
	}
}

// WithTx 绑定到事务的仓库集合，共享组织缓存
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return newRepositories(tx, r.Org.cache)
}

// DB 返回底层db用于事务
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// forUpdate 行锁（SQLite 下由方言忽略）
var forUpdate = clause.Locking{Strength: "UPDATE"}

// wrap 将 gorm 未找到转换为业务 NotFound，其余错误附加调用栈
func wrap(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(notFoundMsg)
	}
	return pkgerrors.WithStack(err)
}
