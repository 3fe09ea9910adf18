package service

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

func TestParseMaterialUsage(t *testing.T) {
	tests := []struct {
		usage string
		want  int
	}{
		{"1000张", 1000},
		{"约2.5吨", 2},
		{"500", 500},
		{"12.", 12},
		{"", 0},
		{"若干", 0},
		{"A4 300张", 4},
	}
	for _, tt := range tests {
		if got := ParseMaterialUsage(tt.usage); got != tt.want {
			t.Errorf("ParseMaterialUsage(%q) = %d, want %d", tt.usage, got, tt.want)
		}
	}
}

func planOrder() *entity.WorkOrder {
	return &entity.WorkOrder{
		OrderNumber:        "202610001",
		ProductionQuantity: intPtr(500),
		Products: []entity.WorkOrderProduct{
			{ProductID: "p1", Quantity: 300, Product: &entity.Product{Name: "礼盒"}},
			{ProductID: "p2", Quantity: 200},
		},
		Materials: []entity.WorkOrderMaterial{
			{MaterialID: "m1", MaterialUsage: "800张", MaterialSize: "787×1092", NeedCutting: true},
			{MaterialID: "m2", MaterialUsage: "10卷"},
		},
		Artworks:        []entity.Artwork{{ID: "a1"}, {ID: "a2"}},
		Dies:            []entity.Die{{ID: "d1"}},
		FoilingPlates:   []entity.FoilingPlate{{ID: "f1"}},
		EmbossingPlates: []entity.EmbossingPlate{{ID: "e1"}},
	}
}

func TestPlanByProcessCode(t *testing.T) {
	g := NewTaskGenerator()
	wo := planOrder()

	tests := []struct {
		code     string
		count    int
		taskType string
		qty      int
	}{
		{"CTP", 5, entity.TaskTypePlateMaking, 1},
		{"CUT", 1, entity.TaskTypeCutting, 800},
		{"PRT", 2, entity.TaskTypePrinting, 500},
		{"FOIL_G", 1, entity.TaskTypeFoiling, 500},
		{"FOIL_S", 1, entity.TaskTypeGeneral, 500},
		{"EMB", 1, entity.TaskTypeEmbossing, 500},
		{"DIE", 1, entity.TaskTypeDieCutting, 500},
		{"PACK", 2, entity.TaskTypePackaging, 300},
		{"GLUE", 1, entity.TaskTypeGeneral, 500},
	}
	for _, tt := range tests {
		proc := procOf(tt.code, 10)
		tasks := g.Plan(wo, &proc)
		if len(tasks) != tt.count {
			t.Errorf("%s: expected %d tasks, got %d", tt.code, tt.count, len(tasks))
			continue
		}
		first := tasks[0]
		if first.TaskType != tt.taskType || first.ProductionQuantity != tt.qty {
			t.Errorf("%s: got %s/%d, want %s/%d", tt.code, first.TaskType, first.ProductionQuantity, tt.taskType, tt.qty)
		}
		if first.WorkOrderProcessID != proc.ID || first.Version != 1 {
			t.Errorf("%s: unexpected process or version", tt.code)
		}
	}
}

func TestPlanDetails(t *testing.T) {
	g := NewTaskGenerator()
	wo := planOrder()

	ctp := procOf("CTP", 10)
	plates := g.Plan(wo, &ctp)
	kinds := map[string]int{}
	for _, p := range plates {
		kind, _ := p.AssetRef()
		kinds[kind]++
		if !p.AutoCalculateQuantity || p.WorkContent != "202610001制版审核" {
			t.Errorf("unexpected plate task %+v", p)
		}
	}
	if kinds[entity.AssetArtwork] != 2 || kinds[entity.AssetDie] != 1 || kinds[entity.AssetFoilingPlate] != 1 || kinds[entity.AssetEmbossingPlate] != 1 {
		t.Errorf("unexpected plate kinds %v", kinds)
	}

	cut := procOf("CUT", 20)
	cutting := g.Plan(wo, &cut)[0]
	if deref(cutting.MaterialID) != "m1" || cutting.ProductionRequirements != "787×1092" || !cutting.AutoCalculateQuantity {
		t.Errorf("unexpected cutting task %+v", cutting)
	}

	pack := procOf("PACK", 90)
	packs := g.Plan(wo, &pack)
	if packs[0].WorkContent != "礼盒包装" || packs[1].WorkContent != "产品包装" {
		t.Errorf("unexpected packaging content %q / %q", packs[0].WorkContent, packs[1].WorkContent)
	}
	if deref(packs[1].ProductID) != "p2" || packs[1].ProductionQuantity != 200 {
		t.Errorf("unexpected second packaging task %+v", packs[1])
	}

	glue := procOf("GLUE", 80)
	if got := g.Plan(wo, &glue)[0].WorkContent; got != "粘胶：202610001" {
		t.Errorf("unexpected general content %q", got)
	}
}

func TestPlanWithoutAssetsOrQuantity(t *testing.T) {
	g := NewTaskGenerator()
	wo := &entity.WorkOrder{OrderNumber: "202610002"}

	for _, code := range []string{"CTP", "CUT", "PRT", "DIE", "PACK"} {
		proc := procOf(code, 10)
		if tasks := g.Plan(wo, &proc); len(tasks) != 0 {
			t.Errorf("%s: expected no tasks, got %d", code, len(tasks))
		}
	}
	proc := procOf("TRIM", 10)
	tasks := g.Plan(wo, &proc)
	if len(tasks) != 1 || tasks[0].ProductionQuantity != 0 {
		t.Fatalf("expected one general task with quantity 0, got %+v", tasks)
	}
}
