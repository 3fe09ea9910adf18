package repository

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskNotFound = "任务不存在"

func (r *TaskRepository) GetByID(id string) (*entity.WorkOrderTask, error) {
	var t entity.WorkOrderTask
	if err := r.db.Where("id = ?", id).First(&t).Error; err != nil {
		return nil, wrap(err, taskNotFound)
	}
	return &t, nil
}

func (r *TaskRepository) Lock(id string) (*entity.WorkOrderTask, error) {
	var t entity.WorkOrderTask
	if err := r.db.Clauses(forUpdate).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, wrap(err, taskNotFound)
	}
	return &t, nil
}

func (r *TaskRepository) CreateBatch(tasks []entity.WorkOrderTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return wrap(r.db.Omit(clause.Associations).Create(&tasks).Error, "")
}

// ListByProcess 工序下全部任务（含父子任务）
func (r *TaskRepository) ListByProcess(processID string) ([]entity.WorkOrderTask, error) {
	var list []entity.WorkOrderTask
	err := r.db.Where("work_order_process_id = ?", processID).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

// ListLeavesByProcess 未取消且未被拆分的任务，用于完成判定与汇总
func (r *TaskRepository) ListLeavesByProcess(processID string) ([]entity.WorkOrderTask, error) {
	var list []entity.WorkOrderTask
	parents := r.db.Model(&entity.WorkOrderTask{}).
		Select("parent_task_id").
		Where("parent_task_id IS NOT NULL")
	err := r.db.Where("work_order_process_id = ? AND status <> ?", processID, entity.TaskStatusCancelled).
		Where("id NOT IN (?)", parents).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

func (r *TaskRepository) CountByProcess(processID string) (int64, error) {
	var n int64
	err := r.db.Model(&entity.WorkOrderTask{}).Where("work_order_process_id = ?", processID).Count(&n).Error
	return n, wrap(err, "")
}

// CountNonDraftByProcess 非草稿任务数
func (r *TaskRepository) CountNonDraftByProcess(processID string) (int64, error) {
	var n int64
	err := r.db.Model(&entity.WorkOrderTask{}).
		Where("work_order_process_id = ? AND status <> ?", processID, entity.TaskStatusDraft).
		Count(&n).Error
	return n, wrap(err, "")
}

func (r *TaskRepository) ListChildren(parentID string) ([]entity.WorkOrderTask, error) {
	var list []entity.WorkOrderTask
	err := r.db.Where("parent_task_id = ?", parentID).Order("created_at ASC, id ASC").Find(&list).Error
	return list, wrap(err, "")
}

func (r *TaskRepository) HasChildren(id string) (bool, error) {
	var n int64
	err := r.db.Model(&entity.WorkOrderTask{}).Where("parent_task_id = ?", id).Count(&n).Error
	return n > 0, wrap(err, "")
}

// UpdateWithVersion 乐观锁更新，返回受影响行数
func (r *TaskRepository) UpdateWithVersion(id string, expected int, fields map[string]interface{}) (int64, error) {
	fields["version"] = gorm.Expr("version + 1")
	res := r.db.Model(&entity.WorkOrderTask{}).
		Where("id = ? AND version = ?", id, expected).
		Updates(fields)
	return res.RowsAffected, wrap(res.Error, "")
}

// Updates 无版本条件的更新，同样递增版本号
func (r *TaskRepository) Updates(id string, fields map[string]interface{}) error {
	fields["version"] = gorm.Expr("version + 1")
	return wrap(r.db.Model(&entity.WorkOrderTask{}).Where("id = ?", id).Updates(fields).Error, "")
}

// CurrentVersion 读取当前版本
func (r *TaskRepository) CurrentVersion(id string) (int, error) {
	var versions []int
	err := r.db.Model(&entity.WorkOrderTask{}).Where("id = ?", id).Pluck("version", &versions).Error
	if err != nil {
		return 0, wrap(err, "")
	}
	if len(versions) == 0 {
		return 0, wrap(gorm.ErrRecordNotFound, taskNotFound)
	}
	return versions[0], nil
}

// DeleteDraftByProcess 删除工序下的草稿任务
func (r *TaskRepository) DeleteDraftByProcess(processID string) (int64, error) {
	res := r.db.Where("work_order_process_id = ? AND status = ?", processID, entity.TaskStatusDraft).
		Delete(&entity.WorkOrderTask{})
	return res.RowsAffected, wrap(res.Error, "")
}

// ReleaseDrafts 草稿任务转为待开始
func (r *TaskRepository) ReleaseDrafts(processID string) (int64, error) {
	res := r.db.Model(&entity.WorkOrderTask{}).
		Where("work_order_process_id = ? AND status = ?", processID, entity.TaskStatusDraft).
		Updates(map[string]interface{}{
			"status":  entity.TaskStatusPending,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, wrap(res.Error, "")
}

// CountOpenByOperators 统计各操作员待开始与进行中的任务数
func (r *TaskRepository) CountOpenByOperators(operatorIDs []string) (map[string]int64, error) {
	return r.countOpenBy("assigned_operator_id", operatorIDs)
}

// CountOpenByDepartments 统计各部门待开始与进行中的任务数
func (r *TaskRepository) CountOpenByDepartments(departmentIDs []string) (map[string]int64, error) {
	return r.countOpenBy("assigned_department_id", departmentIDs)
}

func (r *TaskRepository) countOpenBy(column string, ids []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	var rows []struct {
		Owner string
		N     int64
	}
	err := r.db.Model(&entity.WorkOrderTask{}).
		Select(column+" AS owner, COUNT(*) AS n").
		Where(column+" IN ? AND status IN ?", ids,
			[]string{entity.TaskStatusPending, entity.TaskStatusInProgress}).
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, wrap(err, "")
	}
	for _, row := range rows {
		counts[row.Owner] = row.N
	}
	return counts, nil
}

// FindOpenPlateTasks 引用某个版、自动计算且未完成的制版任务
func (r *TaskRepository) FindOpenPlateTasks(kind, assetID string) ([]entity.WorkOrderTask, error) {
	column := ""
	switch kind {
	case entity.AssetArtwork:
		column = "artwork_id"
	case entity.AssetDie:
		column = "die_id"
	case entity.AssetFoilingPlate:
		column = "foiling_plate_id"
	case entity.AssetEmbossingPlate:
		column = "embossing_plate_id"
	default:
		return nil, nil
	}
	var list []entity.WorkOrderTask
	err := r.db.Where(column+" = ?", assetID).
		Where("work_order_process_id IN (?)", r.runningProcesses()).
		Where("task_type = ? AND auto_calculate_quantity = ? AND status IN ?", entity.TaskTypePlateMaking, true,
			[]string{entity.TaskStatusPending, entity.TaskStatusInProgress}).
		Order("id ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

// FindOpenPlateTasksByWorkOrder 施工单下自动计算且未完成的制版任务
func (r *TaskRepository) FindOpenPlateTasksByWorkOrder(woID string) ([]entity.WorkOrderTask, error) {
	var list []entity.WorkOrderTask
	procs := r.db.Model(&entity.WorkOrderProcess{}).Select("id").Where("work_order_id = ?", woID)
	err := r.db.Where("work_order_process_id IN (?)", procs).
		Where("task_type = ? AND auto_calculate_quantity = ? AND status IN ?", entity.TaskTypePlateMaking, true,
			[]string{entity.TaskStatusPending, entity.TaskStatusInProgress}).
		Order("id ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

// runningProcesses 暂停、取消之外施工单的工序 id 子查询
func (r *TaskRepository) runningProcesses() *gorm.DB {
	return r.db.Model(&entity.WorkOrderProcess{}).
		Select("mes_work_order_processes.id").
		Joins("JOIN mes_work_orders ON mes_work_orders.id = mes_work_order_processes.work_order_id").
		Where("mes_work_orders.status NOT IN ?", []string{entity.WOStatusPaused, entity.WOStatusCancelled})
}

// FindOpenCuttingTasks 施工单某物料的自动计算开料任务
func (r *TaskRepository) FindOpenCuttingTasks(woID, materialID string) ([]entity.WorkOrderTask, error) {
	var list []entity.WorkOrderTask
	procs := r.db.Model(&entity.WorkOrderProcess{}).Select("id").Where("work_order_id = ?", woID)
	err := r.db.Where("work_order_process_id IN (?)", procs).
		Where("material_id = ? AND task_type = ? AND auto_calculate_quantity = ? AND status IN ?",
			materialID, entity.TaskTypeCutting, true,
			[]string{entity.TaskStatusPending, entity.TaskStatusInProgress}).
		Order("id ASC").
		Find(&list).Error
	return list, wrap(err, "")
}

// CountInProgressByWorkOrder 施工单下进行中的任务数
func (r *TaskRepository) CountInProgressByWorkOrder(woID string) (int64, error) {
	var n int64
	procs := r.db.Model(&entity.WorkOrderProcess{}).Select("id").Where("work_order_id = ?", woID)
	err := r.db.Model(&entity.WorkOrderTask{}).
		Where("work_order_process_id IN (?) AND status = ?", procs, entity.TaskStatusInProgress).
		Count(&n).Error
	return n, wrap(err, "")
}

// CancelOpenByWorkOrder 取消施工单下全部待开始任务
func (r *TaskRepository) CancelOpenByWorkOrder(woID, reason string) (int64, error) {
	procs := r.db.Model(&entity.WorkOrderProcess{}).Select("id").Where("work_order_id = ?", woID)
	res := r.db.Model(&entity.WorkOrderTask{}).
		Where("work_order_process_id IN (?) AND status IN ?", procs,
			[]string{entity.TaskStatusDraft, entity.TaskStatusPending}).
		Updates(map[string]interface{}{
			"status":              entity.TaskStatusCancelled,
			"cancellation_reason": reason,
			"version":             gorm.Expr("version + 1"),
		})
	return res.RowsAffected, wrap(res.Error, "")
}

// SetStockAccounted 批量写入已入库数量
func (r *TaskRepository) SetStockAccounted(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return wrap(r.db.Model(&entity.WorkOrderTask{}).
		Where("id IN ?", ids).
		Update("stock_accounted_quantity", gorm.Expr("quantity_completed")).Error, "")
}

type TaskListParams struct {
	Status       string
	OperatorID   string
	DepartmentID string
	WorkOrderID  string
	ProcessID    string
	Page         int
	Size         int
}

func (r *TaskRepository) List(params TaskListParams) ([]entity.WorkOrderTask, int64, error) {
	query := r.db.Model(&entity.WorkOrderTask{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.OperatorID != "" {
		query = query.Where("assigned_operator_id = ?", params.OperatorID)
	}
	if params.DepartmentID != "" {
		query = query.Where("assigned_department_id = ?", params.DepartmentID)
	}
	if params.ProcessID != "" {
		query = query.Where("work_order_process_id = ?", params.ProcessID)
	}
	if params.WorkOrderID != "" {
		procs := r.db.Model(&entity.WorkOrderProcess{}).Select("id").Where("work_order_id = ?", params.WorkOrderID)
		query = query.Where("work_order_process_id IN (?)", procs)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, wrap(err, "")
	}
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 50
	}
	var list []entity.WorkOrderTask
	err := query.Order("created_at ASC, id ASC").
		Offset((params.Page - 1) * params.Size).
		Limit(params.Size).
		Find(&list).Error
	return list, total, wrap(err, "")
}

// ---- 任务日志 ----

func (r *TaskRepository) CreateLog(l *entity.TaskLog) error {
	return wrap(r.db.Create(l).Error, "")
}

func (r *TaskRepository) ListLogs(taskID string) ([]entity.TaskLog, error) {
	var logs []entity.TaskLog
	err := r.db.Where("task_id = ?", taskID).Order("created_at ASC").Find(&logs).Error
	return logs, wrap(err, "")
}
