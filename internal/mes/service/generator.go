package service

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

var usagePattern = regexp.MustCompile(`\d+\.?\d*`)

// ParseMaterialUsage 取物料用量中的第一个数字并截断为整数，无法解析返回0
func ParseMaterialUsage(usage string) int {
	m := usagePattern.FindString(usage)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

// TaskGenerator 按工序编码生成任务
type TaskGenerator struct{}

func NewTaskGenerator() *TaskGenerator {
	return &TaskGenerator{}
}

// Plan 计算工序应生成的任务，不写库；施工单需预加载产品、物料与版
func (g *TaskGenerator) Plan(wo *entity.WorkOrder, proc *entity.WorkOrderProcess) []entity.WorkOrderTask {
	order := wo.OrderNumber
	qty := wo.ProductionQty()
	var tasks []entity.WorkOrderTask
	add := func(t entity.WorkOrderTask) {
		t.WorkOrderProcessID = proc.ID
		t.Version = 1
		tasks = append(tasks, t)
	}

	switch proc.Code() {
	case catalog.CodeCTP:
		plate := func() entity.WorkOrderTask {
			return entity.WorkOrderTask{
				TaskType:              entity.TaskTypePlateMaking,
				WorkContent:           order + "制版审核",
				ProductionQuantity:    1,
				AutoCalculateQuantity: true,
			}
		}
		for i := range wo.Artworks {
			t := plate()
			t.ArtworkID = strPtr(wo.Artworks[i].ID)
			add(t)
		}
		for i := range wo.Dies {
			t := plate()
			t.DieID = strPtr(wo.Dies[i].ID)
			add(t)
		}
		for i := range wo.FoilingPlates {
			t := plate()
			t.FoilingPlateID = strPtr(wo.FoilingPlates[i].ID)
			add(t)
		}
		for i := range wo.EmbossingPlates {
			t := plate()
			t.EmbossingPlateID = strPtr(wo.EmbossingPlates[i].ID)
			add(t)
		}

	case catalog.CodeCUT:
		for _, m := range wo.Materials {
			if !m.NeedCutting {
				continue
			}
			add(entity.WorkOrderTask{
				TaskType:               entity.TaskTypeCutting,
				WorkContent:            order + "开料",
				ProductionQuantity:     ParseMaterialUsage(m.MaterialUsage),
				AutoCalculateQuantity:  true,
				MaterialID:             strPtr(m.MaterialID),
				ProductionRequirements: m.MaterialSize,
			})
		}

	case catalog.CodePRT:
		for i := range wo.Artworks {
			add(entity.WorkOrderTask{
				TaskType:           entity.TaskTypePrinting,
				WorkContent:        order + "印刷",
				ProductionQuantity: qty,
				ArtworkID:          strPtr(wo.Artworks[i].ID),
			})
		}

	case catalog.CodeFOILG:
		for i := range wo.FoilingPlates {
			add(entity.WorkOrderTask{
				TaskType:           entity.TaskTypeFoiling,
				WorkContent:        order + "烫金",
				ProductionQuantity: qty,
				FoilingPlateID:     strPtr(wo.FoilingPlates[i].ID),
			})
		}

	case catalog.CodeEMB:
		for i := range wo.EmbossingPlates {
			add(entity.WorkOrderTask{
				TaskType:           entity.TaskTypeEmbossing,
				WorkContent:        order + "压凸",
				ProductionQuantity: qty,
				EmbossingPlateID:   strPtr(wo.EmbossingPlates[i].ID),
			})
		}

	case catalog.CodeDIE:
		for i := range wo.Dies {
			add(entity.WorkOrderTask{
				TaskType:           entity.TaskTypeDieCutting,
				WorkContent:        order + "模切",
				ProductionQuantity: qty,
				DieID:              strPtr(wo.Dies[i].ID),
			})
		}

	case catalog.CodePACK:
		for _, p := range wo.Products {
			name := "产品"
			if p.Product != nil {
				name = p.Product.Name
			}
			add(entity.WorkOrderTask{
				TaskType:           entity.TaskTypePackaging,
				WorkContent:        name + "包装",
				ProductionQuantity: p.Quantity,
				ProductID:          strPtr(p.ProductID),
			})
		}

	default:
		name := proc.Code()
		if proc.Process != nil {
			name = proc.Process.Name
		}
		add(entity.WorkOrderTask{
			TaskType:           entity.TaskTypeGeneral,
			WorkContent:        fmt.Sprintf("%s：%s", name, order),
			ProductionQuantity: qty,
		})
	}
	return tasks
}

// Generate 工序下没有任务时按计划写入，已有任务则不做任何事
func (g *TaskGenerator) Generate(sc *scope, wo *entity.WorkOrder, proc *entity.WorkOrderProcess, status string) ([]entity.WorkOrderTask, error) {
	n, err := sc.repos.Task.CountByProcess(proc.ID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}
	tasks := g.Plan(wo, proc)
	for i := range tasks {
		tasks[i].ID = newID()
		tasks[i].Status = status
		// 同批任务按生成顺序排列
		tasks[i].CreatedAt = sc.now.Add(time.Duration(i) * time.Microsecond)
		tasks[i].UpdatedAt = tasks[i].CreatedAt
	}
	if err := sc.repos.Task.CreateBatch(tasks); err != nil {
		return nil, fmt.Errorf("生成任务失败: %w", err)
	}
	return tasks, nil
}
