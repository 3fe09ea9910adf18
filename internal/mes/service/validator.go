package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

const dateLayout = "2006-01-02"

// assetCheck 工序对某类版的强制要求
type assetCheck struct {
	label    string
	required func(p *entity.Process) bool
	selected func(wo *entity.WorkOrder) bool
}

var assetChecks = []assetCheck{
	{
		label:    "图稿",
		required: func(p *entity.Process) bool { return p.RequiresArtwork && p.ArtworkRequired },
		selected: func(wo *entity.WorkOrder) bool { return len(wo.Artworks) > 0 },
	},
	{
		label:    "刀模",
		required: func(p *entity.Process) bool { return p.RequiresDie && p.DieRequired },
		selected: func(wo *entity.WorkOrder) bool { return len(wo.Dies) > 0 },
	},
	{
		label:    "烫金版",
		required: func(p *entity.Process) bool { return p.RequiresFoilingPlate && p.FoilingPlateRequired },
		selected: func(wo *entity.WorkOrder) bool { return len(wo.FoilingPlates) > 0 },
	},
	{
		label:    "压凸版",
		required: func(p *entity.Process) bool { return p.RequiresEmbossingPlate && p.EmbossingPlateRequired },
		selected: func(wo *entity.WorkOrder) bool { return len(wo.EmbossingPlates) > 0 },
	},
}

// ValidateForApproval 审核前校验，返回全部不通过的原因；施工单需预加载全部聚合
func ValidateForApproval(wo *entity.WorkOrder, today time.Time) []string {
	var reasons []string

	// 1. 必填
	if wo.CustomerID == nil {
		reasons = append(reasons, "缺少客户信息")
	}
	if len(wo.Products) == 0 {
		reasons = append(reasons, "缺少产品信息")
	}
	if len(wo.Processes) == 0 {
		reasons = append(reasons, "缺少工序信息")
	}
	if wo.DeliveryDate == nil {
		reasons = append(reasons, "缺少交货日期")
	}

	// 2. 工序与版
	for _, check := range assetChecks {
		if check.selected(wo) {
			continue
		}
		var names []string
		for i := range wo.Processes {
			def := wo.Processes[i].Process
			if def == nil || !def.IsActive || !check.required(def) {
				continue
			}
			names = append(names, def.Name)
		}
		if len(names) > 0 {
			reasons = append(reasons, fmt.Sprintf("选择了需要%s的工序（%s），请至少选择一个%s",
				check.label, strings.Join(names, ", "), check.label))
		}
	}

	// 3. 数量
	if wo.ProductionQuantity == nil {
		reasons = append(reasons, "缺少生产数量")
	} else if *wo.ProductionQuantity <= 0 {
		reasons = append(reasons, fmt.Sprintf("生产数量必须大于0，当前值为%d", *wo.ProductionQuantity))
	}
	if len(wo.Products) > 0 {
		total := 0
		for _, p := range wo.Products {
			total += p.Quantity
		}
		if total <= 0 {
			reasons = append(reasons, fmt.Sprintf("产品数量总和必须大于0，当前总和为%d", total))
		}
	}

	// 4. 日期，只比较日期部分
	if wo.DeliveryDate != nil {
		delivery := dateOnly(*wo.DeliveryDate, today.Location())
		if !wo.OrderDate.IsZero() {
			ordered := dateOnly(wo.OrderDate, today.Location())
			if delivery.Before(ordered) {
				reasons = append(reasons, fmt.Sprintf("交货日期不能早于下单日期。交货日期：%s，下单日期：%s",
					delivery.Format(dateLayout), ordered.Format(dateLayout)))
			}
		}
		day := dateOnly(today, today.Location())
		if delivery.Before(day) {
			reasons = append(reasons, fmt.Sprintf("交货日期不能早于今天。交货日期：%s，今天：%s",
				delivery.Format(dateLayout), day.Format(dateLayout)))
		}
	}

	// 5. 物料
	for _, m := range wo.Materials {
		if m.NeedCutting && strings.TrimSpace(m.MaterialUsage) == "" {
			name := m.MaterialID
			if m.Material != nil {
				name = m.Material.Name
			}
			reasons = append(reasons, fmt.Sprintf("物料\"%s\"需要开料，请填写物料用量", name))
		}
	}

	// 6. 工序顺序
	seq := make(map[string]int, len(wo.Processes))
	for i := range wo.Processes {
		if code := wo.Processes[i].Code(); code != "" {
			if _, ok := seq[code]; !ok {
				seq[code] = wo.Processes[i].Sequence
			}
		}
	}
	if prt, ok := seq[catalog.CodePRT]; ok {
		if ctp, ok := seq[catalog.CodeCTP]; ok && ctp >= prt {
			reasons = append(reasons, "制版工序（CTP）应该在印刷工序（PRT）之前，请调整工序顺序")
		}
		if cut, ok := seq[catalog.CodeCUT]; ok && cut >= prt {
			reasons = append(reasons, "开料工序（CUT）应该在印刷工序（PRT）之前，请调整工序顺序")
		}
	}

	return reasons
}

func dateOnly(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
