// Package board 车间看板：施工单 → 工序 → 任务，只读
package board

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Source 看板数据来源
type Source interface {
	WorkOrders(ctx context.Context) ([]entity.WorkOrder, error)
	Processes(ctx context.Context, workOrderID string) ([]entity.WorkOrderProcess, error)
	Tasks(ctx context.Context, processID string) ([]entity.WorkOrderTask, error)
}

// RepoSource 直接读库
type RepoSource struct {
	Repos *repository.Repositories
	// Status 为空时显示全部施工单
	Status string
}

func (s RepoSource) WorkOrders(ctx context.Context) ([]entity.WorkOrder, error) {
	orders, _, err := s.Repos.WorkOrder.List(repository.WOListParams{Status: s.Status, Page: 1, Size: 100})
	return orders, err
}

func (s RepoSource) Processes(ctx context.Context, workOrderID string) ([]entity.WorkOrderProcess, error) {
	return s.Repos.Process.ListByWorkOrder(workOrderID)
}

func (s RepoSource) Tasks(ctx context.Context, processID string) ([]entity.WorkOrderTask, error) {
	return s.Repos.Task.ListByProcess(processID)
}

type level int

const (
	levelOrders level = iota
	levelProcesses
	levelTasks
)

type loadedMsg struct {
	level level
	items []list.Item
	err   error
}

type row struct {
	id    string
	crumb string
	title string
	desc  string
}

func (r row) Title() string       { return r.title }
func (r row) Description() string { return r.desc }
func (r row) FilterValue() string { return r.title }

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	crumbStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

var statusLabels = map[string]string{
	entity.WOStatusPending:      "待开始",
	entity.WOStatusInProgress:   "进行中",
	entity.WOStatusPaused:       "已暂停",
	entity.WOStatusCompleted:    "已完成",
	entity.WOStatusCancelled:    "已取消",
	entity.ProcessStatusSkipped: "已跳过",
	entity.TaskStatusDraft:      "草稿",
}

func label(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

// Model 看板状态，Enter 进入下一层，Esc 返回，r 刷新，q 退出
type Model struct {
	ctx    context.Context
	src    Source
	level  level
	lists  [3]list.Model
	crumbs [3]string
	parent [3]string
	err    error
	width  int
	height int
}

func New(ctx context.Context, src Source) *Model {
	m := &Model{ctx: ctx, src: src}
	titles := [3]string{"施工单", "工序", "任务"}
	for i := range m.lists {
		l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
		l.Title = titles[i]
		l.SetFilteringEnabled(false)
		l.SetShowStatusBar(false)
		l.SetShowHelp(false)
		m.lists[i] = l
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return m.load(levelOrders, "")
}

// load 异步读取某一层
func (m *Model) load(lv level, parentID string) tea.Cmd {
	ctx, src := m.ctx, m.src
	return func() tea.Msg {
		var items []list.Item
		switch lv {
		case levelOrders:
			orders, err := src.WorkOrders(ctx)
			if err != nil {
				return loadedMsg{level: lv, err: err}
			}
			for _, wo := range orders {
				items = append(items, orderRow(wo))
			}
		case levelProcesses:
			procs, err := src.Processes(ctx, parentID)
			if err != nil {
				return loadedMsg{level: lv, err: err}
			}
			for _, p := range procs {
				items = append(items, processRow(p))
			}
		case levelTasks:
			tasks, err := src.Tasks(ctx, parentID)
			if err != nil {
				return loadedMsg{level: lv, err: err}
			}
			for _, t := range tasks {
				items = append(items, taskRow(t))
			}
		}
		return loadedMsg{level: lv, items: items}
	}
}

func orderRow(wo entity.WorkOrder) row {
	delivery := "-"
	if wo.DeliveryDate != nil {
		delivery = wo.DeliveryDate.Format("2006-01-02")
	}
	return row{
		id:    wo.ID,
		crumb: wo.OrderNumber,
		title: fmt.Sprintf("%s  %s", wo.OrderNumber, label(wo.Status)),
		desc:  fmt.Sprintf("审核:%s  数量:%d  交货:%s", wo.ApprovalStatus, wo.ProductionQty(), delivery),
	}
}

func processRow(p entity.WorkOrderProcess) row {
	name := p.ProcessID
	if p.Process != nil {
		name = p.Process.Name
	}
	return row{
		id:    p.ID,
		crumb: name,
		title: fmt.Sprintf("%d. %s  %s", p.Sequence, name, label(p.Status)),
		desc:  fmt.Sprintf("完成:%d  不良:%d", p.QuantityCompleted, p.QuantityDefective),
	}
}

func taskRow(t entity.WorkOrderTask) row {
	title := t.WorkContent
	if t.ParentTaskID != nil {
		title = "└ " + title
	}
	return row{
		id:    t.ID,
		crumb: t.WorkContent,
		title: fmt.Sprintf("%s  %s", title, label(t.Status)),
		desc:  fmt.Sprintf("%s  %d/%d  v%d", t.TaskType, t.QuantityCompleted, t.ProductionQuantity, t.Version),
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		for i := range m.lists {
			m.lists[i].SetSize(max(0, msg.Width-2), max(0, msg.Height-4))
		}
		return m, nil

	case loadedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.lists[msg.level].SetItems(msg.items)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load(m.level, m.parent[m.level])
		case "esc", "backspace":
			if m.level > levelOrders {
				m.level--
			}
			return m, nil
		case "enter":
			if m.level == levelTasks {
				return m, nil
			}
			selected, ok := m.lists[m.level].SelectedItem().(row)
			if !ok {
				return m, nil
			}
			m.level++
			m.parent[m.level] = selected.id
			m.crumbs[m.level] = selected.crumb
			m.lists[m.level].SetItems(nil)
			return m, m.load(m.level, selected.id)
		}
	}

	var cmd tea.Cmd
	m.lists[m.level], cmd = m.lists[m.level].Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	var crumbs []string
	for i := levelOrders; i <= m.level; i++ {
		if i == levelOrders {
			crumbs = append(crumbs, "施工单")
			continue
		}
		crumbs = append(crumbs, m.crumbs[i])
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("nimo-mes 看板 "),
		crumbStyle.Render(strings.Join(crumbs, " › ")),
	)
	parts := []string{header, m.lists[m.level].View()}
	if m.err != nil {
		parts = append(parts, errStyle.Render("加载失败: "+m.err.Error()))
	}
	parts = append(parts, hintStyle.Render("enter 进入 · esc 返回 · r 刷新 · q 退出"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Current 当前层的条目标题
func (m *Model) Current() []string {
	items := m.lists[m.level].Items()
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(row).title)
	}
	return out
}

// Run 启动全屏看板
func Run(ctx context.Context, src Source) error {
	_, err := tea.NewProgram(New(ctx, src), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
