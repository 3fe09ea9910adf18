package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cursor 轮询分派的持久游标，Next 返回从1开始的递增序号，Peek 返回下一次 Next 的值但不推进
type Cursor interface {
	Next(ctx context.Context, key string) (int64, error)
	Peek(ctx context.Context, key string) (int64, error)
}

// MemoryCursor 进程内游标，单实例部署使用
type MemoryCursor struct {
	mu sync.Mutex
	n  map[string]int64
}

func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{n: make(map[string]int64)}
}

func (c *MemoryCursor) Next(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[key]++
	return c.n[key], nil
}

func (c *MemoryCursor) Peek(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[key] + 1, nil
}

// RedisCursor 多实例共享的游标
type RedisCursor struct {
	client *redis.Client
}

func NewRedisCursor(client *redis.Client) *RedisCursor {
	return &RedisCursor{client: client}
}

func (c *RedisCursor) Next(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, "mes:rr:"+key).Result()
}

func (c *RedisCursor) Peek(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, "mes:rr:"+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// AssignmentRouter 为任务选择部门与操作员
type AssignmentRouter struct {
	*engine
	cursor Cursor
	// rules 分派规则是否生效，关闭时只按部门排序选择
	rules atomic.Bool

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewAssignmentRouter(e *engine, cursor Cursor, rulesEnabled bool) *AssignmentRouter {
	r := &AssignmentRouter{
		engine: e,
		cursor: cursor,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	r.rules.Store(rulesEnabled)
	return r
}

// RulesEnabled 分派规则当前是否生效
func (r *AssignmentRouter) RulesEnabled() bool {
	return r.rules.Load()
}

// SetRulesEnabled 切换分派规则，只影响之后的分派
func (r *AssignmentRouter) SetRulesEnabled(ctx context.Context, actor auth.Actor, enabled bool) error {
	if !actor.CanManageAll() {
		return apperr.PermissionDenied("无权修改分派设置")
	}
	r.rules.Store(enabled)
	r.logger.Info("dispatch rules toggled", zap.Bool("enabled", enabled), zap.String("actor", actor.UserID))
	return nil
}

// route 为同一工序的一批任务分派，结果写回 tasks
func (r *AssignmentRouter) route(sc *scope, wo *entity.WorkOrder, proc *entity.WorkOrderProcess, tasks []entity.WorkOrderTask) error {
	if len(tasks) == 0 {
		return nil
	}
	dept, strategy, err := r.chooseDepartment(sc, proc)
	if err != nil {
		return err
	}
	for i := range tasks {
		t := &tasks[i]
		var operatorID *string
		if dept != nil || proc.OperatorID != nil {
			operatorID, err = r.chooseOperator(sc, proc, dept, strategy, false)
			if err != nil {
				return err
			}
		}
		fields := map[string]interface{}{
			"assigned_department_id": dept,
			"assigned_operator_id":   operatorID,
		}
		if err := sc.repos.Task.Updates(t.ID, fields); err != nil {
			return fmt.Errorf("分派任务失败: %w", err)
		}
		t.AssignedDepartmentID = dept
		t.AssignedOperatorID = operatorID
		t.Version++
		if operatorID != nil {
			sc.outbox.Add(assignedMessage(wo, proc, t))
		}
	}
	return nil
}

func assignedMessage(wo *entity.WorkOrder, proc *entity.WorkOrderProcess, t *entity.WorkOrderTask) notify.Message {
	return notify.Message{
		RecipientID: deref(t.AssignedOperatorID),
		Type:        entity.NotifyTaskAssigned,
		Title:       "新任务分派",
		Content:     fmt.Sprintf("施工单%s有新任务分派给您：%s", wo.OrderNumber, t.WorkContent),
		WorkOrderID: strPtr(wo.ID),
		ProcessID:   strPtr(proc.ID),
		TaskID:      strPtr(t.ID),
		Data: map[string]interface{}{
			"order_number":        wo.OrderNumber,
			"task_type":           t.TaskType,
			"production_quantity": t.ProductionQuantity,
		},
	}
}

// chooseDepartment 工序指定部门 > 分派规则 > 排序最靠前的可承接部门
func (r *AssignmentRouter) chooseDepartment(sc *scope, proc *entity.WorkOrderProcess) (*string, string, error) {
	org := sc.repos.Org
	rulesOn := r.RulesEnabled()
	if proc.DepartmentID != nil {
		strategy := entity.StrategyLeastTasks
		if !rulesOn {
			return proc.DepartmentID, strategy, nil
		}
		rule, err := org.RuleFor(proc.ProcessID, *proc.DepartmentID)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, "", err
		}
		if rule != nil {
			strategy = rule.OperatorSelectionStrategy
		}
		return proc.DepartmentID, strategy, nil
	}

	capable, err := org.CapableDepartments(proc.ProcessID)
	if err != nil {
		return nil, "", err
	}
	if len(capable) == 0 {
		return nil, "", nil
	}
	if !rulesOn {
		return strPtr(capable[0].ID), entity.StrategyLeastTasks, nil
	}
	capableSet := make(map[string]bool, len(capable))
	for _, d := range capable {
		capableSet[d.ID] = true
	}

	rules, err := org.ActiveRules(proc.ProcessID)
	if err != nil {
		return nil, "", err
	}
	for _, rule := range rules {
		if capableSet[rule.DepartmentID] {
			return strPtr(rule.DepartmentID), rule.OperatorSelectionStrategy, nil
		}
	}
	return strPtr(capable[0].ID), entity.StrategyLeastTasks, nil
}

// chooseOperator 工序指定操作员优先，否则按策略在部门成员中选择。
// dry 时不推进轮询游标，随机策略不给出结果
func (r *AssignmentRouter) chooseOperator(sc *scope, proc *entity.WorkOrderProcess, dept *string, strategy string, dry bool) (*string, error) {
	if proc.OperatorID != nil {
		return proc.OperatorID, nil
	}
	if dept == nil {
		return nil, nil
	}
	candidates, err := sc.repos.Org.Candidates(*dept)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	switch strategy {
	case entity.StrategyFirstAvailable:
		return strPtr(candidates[0].ID), nil

	case entity.StrategyRandom:
		if dry {
			return nil, nil
		}
		r.mu.Lock()
		idx := r.rnd.Intn(len(candidates))
		r.mu.Unlock()
		return strPtr(candidates[idx].ID), nil

	case entity.StrategyRoundRobin:
		next := r.cursor.Next
		if dry {
			next = r.cursor.Peek
		}
		n, err := next(sc.ctx, *dept)
		if err != nil {
			// 游标不可用时退化为最少任务
			r.logger.Warn("round robin cursor unavailable", zap.String("department_id", *dept), zap.Error(err))
			return r.leastTasks(sc, candidates)
		}
		idx := int((n - 1) % int64(len(candidates)))
		if idx < 0 {
			idx += len(candidates)
		}
		return strPtr(candidates[idx].ID), nil

	default:
		return r.leastTasks(sc, candidates)
	}
}

// DispatchPreview 按当前规则，某工序的新任务会分派到哪里
type DispatchPreview struct {
	ProcessID    string        `json:"process_id"`
	ProcessCode  string        `json:"process_code"`
	ProcessName  string        `json:"process_name"`
	RulesEnabled bool          `json:"rules_enabled"`
	DepartmentID *string       `json:"department_id"`
	Strategy     string        `json:"strategy,omitempty"`
	OperatorID   *string       `json:"operator_id"`
	CurrentLoad  int64         `json:"current_load"`
	Rules        []RulePreview `json:"rules"`
}

// RulePreview 工序的一条在用规则及其部门负载
type RulePreview struct {
	DepartmentID string `json:"department_id"`
	Priority     int    `json:"priority"`
	Strategy     string `json:"strategy"`
	Capable      bool   `json:"capable"`
	CurrentLoad  int64  `json:"current_load"`
}

// Preview 模拟工序定义 processID 的分派，不写库也不推进游标
func (r *AssignmentRouter) Preview(ctx context.Context, processID string) (*DispatchPreview, error) {
	sc := &scope{ctx: ctx, repos: r.repos, now: r.now()}
	p, err := r.repos.Org.ProcessByID(processID)
	if err != nil {
		return nil, err
	}
	return r.preview(sc, p)
}

// PreviewAll 全部工序定义的分派预览，按工序排序
func (r *AssignmentRouter) PreviewAll(ctx context.Context) ([]DispatchPreview, error) {
	sc := &scope{ctx: ctx, repos: r.repos, now: r.now()}
	procs, err := r.repos.Org.ListProcesses()
	if err != nil {
		return nil, err
	}
	out := make([]DispatchPreview, 0, len(procs))
	for i := range procs {
		pv, err := r.preview(sc, &procs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *pv)
	}
	return out, nil
}

func (r *AssignmentRouter) preview(sc *scope, p *entity.Process) (*DispatchPreview, error) {
	proc := &entity.WorkOrderProcess{ProcessID: p.ID}
	dept, strategy, err := r.chooseDepartment(sc, proc)
	if err != nil {
		return nil, err
	}
	pv := &DispatchPreview{
		ProcessID:    p.ID,
		ProcessCode:  p.Code,
		ProcessName:  p.Name,
		RulesEnabled: r.RulesEnabled(),
		DepartmentID: dept,
		Strategy:     strategy,
		Rules:        []RulePreview{},
	}
	if dept == nil {
		return pv, nil
	}
	if pv.OperatorID, err = r.chooseOperator(sc, proc, dept, strategy, true); err != nil {
		return nil, err
	}

	capable, err := sc.repos.Org.CapableDepartments(p.ID)
	if err != nil {
		return nil, err
	}
	capableSet := make(map[string]bool, len(capable))
	for _, d := range capable {
		capableSet[d.ID] = true
	}
	rules, err := sc.repos.Org.ActiveRules(p.ID)
	if err != nil {
		return nil, err
	}
	ids := []string{*dept}
	for _, rule := range rules {
		ids = append(ids, rule.DepartmentID)
	}
	loads, err := sc.repos.Task.CountOpenByDepartments(ids)
	if err != nil {
		return nil, err
	}
	pv.CurrentLoad = loads[*dept]
	for _, rule := range rules {
		pv.Rules = append(pv.Rules, RulePreview{
			DepartmentID: rule.DepartmentID,
			Priority:     rule.Priority,
			Strategy:     rule.OperatorSelectionStrategy,
			Capable:      capableSet[rule.DepartmentID],
			CurrentLoad:  loads[rule.DepartmentID],
		})
	}
	return pv, nil
}

// SetCapabilities 覆盖部门可承接的工序，之后的分派立即生效
func (r *AssignmentRouter) SetCapabilities(ctx context.Context, actor auth.Actor, departmentID string, processIDs []string) error {
	if !actor.CanManageAll() {
		return apperr.PermissionDenied("无权修改部门工序")
	}
	err := r.run(ctx, actor, func(sc *scope) error {
		return sc.repos.Org.SetCapabilities(departmentID, processIDs)
	})
	if err != nil {
		return err
	}
	// 提交后再清一次，事务期间读回的旧值作废
	r.repos.Org.Flush()
	return nil
}

// SetDepartmentActive 启用或停用部门，停用后不再承接新任务
func (r *AssignmentRouter) SetDepartmentActive(ctx context.Context, actor auth.Actor, departmentID string, active bool) error {
	if !actor.CanManageAll() {
		return apperr.PermissionDenied("无权修改部门")
	}
	if err := r.repos.Org.SetDepartmentActive(departmentID, active); err != nil {
		return err
	}
	r.logger.Info("department toggled", zap.String("department_id", departmentID), zap.Bool("active", active))
	return nil
}

// leastTasks 待开始与进行中任务最少者，并列时取 id 最小（候选人已按 id 升序）
func (r *AssignmentRouter) leastTasks(sc *scope, candidates []entity.User) (*string, error) {
	ids := make([]string, len(candidates))
	for i, u := range candidates {
		ids[i] = u.ID
	}
	counts, err := sc.repos.Task.CountOpenByOperators(ids)
	if err != nil {
		return nil, err
	}
	best := ids[0]
	for _, id := range ids[1:] {
		if counts[id] < counts[best] {
			best = id
		}
	}
	return strPtr(best), nil
}

// AssignInput 重新分派
type AssignInput struct {
	DepartmentID            *string `json:"department_id"`
	OperatorID              *string `json:"operator_id"`
	Reason                  string  `json:"reason"`
	Notes                   string  `json:"notes"`
	UpdateProcessDepartment bool    `json:"update_process_department"`
}

// reassign 改写任务的部门与操作员并记录日志
func (r *AssignmentRouter) reassign(sc *scope, wo *entity.WorkOrder, proc *entity.WorkOrderProcess, t *entity.WorkOrderTask, in AssignInput) error {
	if in.DepartmentID != nil {
		if _, err := sc.repos.Org.GetDepartment(*in.DepartmentID); err != nil {
			return err
		}
	}
	if in.OperatorID != nil {
		if _, err := sc.repos.Org.GetUser(*in.OperatorID); err != nil {
			return err
		}
	}
	operatorChanged := !ptrEq(t.AssignedOperatorID, in.OperatorID)
	fields := map[string]interface{}{
		"assigned_department_id": in.DepartmentID,
		"assigned_operator_id":   in.OperatorID,
	}
	if err := sc.repos.Task.Updates(t.ID, fields); err != nil {
		return fmt.Errorf("重新分派失败: %w", err)
	}

	content := "重新分派"
	if in.Reason != "" {
		content += "：" + in.Reason
	}
	if in.Notes != "" {
		content += "（" + in.Notes + "）"
	}
	if err := sc.repos.Task.CreateLog(&entity.TaskLog{
		ID:           newID(),
		TaskID:       t.ID,
		LogType:      entity.TaskLogAssign,
		Content:      content,
		StatusBefore: t.Status,
		StatusAfter:  t.Status,
		OperatorID:   sc.actor.OperatorID(),
		CreatedAt:    sc.now,
	}); err != nil {
		return err
	}

	if in.UpdateProcessDepartment {
		if err := sc.repos.Process.Updates(proc.ID, map[string]interface{}{"department_id": in.DepartmentID}); err != nil {
			return err
		}
		proc.DepartmentID = in.DepartmentID
	}

	t.AssignedDepartmentID = in.DepartmentID
	t.AssignedOperatorID = in.OperatorID
	t.Version++
	if operatorChanged && in.OperatorID != nil {
		sc.outbox.Add(assignedMessage(wo, proc, t))
	}
	return nil
}
