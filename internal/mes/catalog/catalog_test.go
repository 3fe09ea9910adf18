package catalog_test

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/catalog"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
)

func TestCatalogClosedSet(t *testing.T) {
	codes := catalog.Codes()
	if len(codes) != 21 {
		t.Fatalf("Expected 21 codes, got %d", len(codes))
	}
	if codes[0] != catalog.CodeCTP || codes[len(codes)-1] != catalog.CodeVAN {
		t.Errorf("Unexpected ordering: first=%s last=%s", codes[0], codes[len(codes)-1])
	}
	if catalog.IsKnown("OIL") {
		t.Errorf("OIL should not be a catalog code")
	}
}

func TestIsParallel(t *testing.T) {
	parallel := map[string]bool{
		"CTP": true, "DIE": true, "FOIL_G": true, "FOIL_S": true, "EMB": true, "TEX": true,
		"LAM_G": true, "LAM_M": true, "UV": true, "GLUE": true, "WINDOW": true, "STAPLE": true,
	}
	for _, code := range catalog.Codes() {
		if got := catalog.IsParallel(code); got != parallel[code] {
			t.Errorf("IsParallel(%s) = %v, want %v", code, got, parallel[code])
		}
	}
}

func TestRequiresMaterialCutStatus(t *testing.T) {
	want := map[string]bool{"PRT": true, "VAN": true, "LAM_G": true, "LAM_M": true, "UV": true}
	for _, code := range catalog.Codes() {
		if got := catalog.RequiresMaterialCutStatus(code); got != want[code] {
			t.Errorf("RequiresMaterialCutStatus(%s) = %v, want %v", code, got, want[code])
		}
	}
}

func TestAssetRequirements(t *testing.T) {
	ctp, _ := catalog.Lookup("CTP")
	if !ctp.Artwork.Hard() {
		t.Errorf("CTP should hard-require artwork")
	}
	if ctp.Die.Hard() || !ctp.Die.Requires {
		t.Errorf("CTP die requirement should be soft")
	}
	die, _ := catalog.Lookup("DIE")
	if !die.Die.Hard() {
		t.Errorf("DIE should hard-require a die")
	}
	pack, _ := catalog.Lookup("PACK")
	if pack.Artwork.Requires || pack.Die.Requires {
		t.Errorf("PACK should not require assets")
	}
}

func TestParseOrgSeed(t *testing.T) {
	data := []byte(`
departments:
  - code: print
    name: 印刷车间
    sort_order: 10
    processes: [PRT, VAN]
users:
  - username: op1
    name: 操作员一
    departments: [print]
rules:
  - process: PRT
    department: print
    priority: 5
    strategy: round_robin
`)
	seed, err := catalog.ParseOrgSeed(data)
	if err != nil {
		t.Fatalf("ParseOrgSeed failed: %v", err)
	}
	if len(seed.Departments) != 1 || len(seed.Users) != 1 || len(seed.Rules) != 1 {
		t.Fatalf("Unexpected seed sizes: %+v", seed)
	}
	if seed.Rules[0].Strategy != entity.StrategyRoundRobin {
		t.Errorf("Expected round_robin, got %s", seed.Rules[0].Strategy)
	}

	if _, err := catalog.ParseOrgSeed([]byte("rules:\n  - process: OIL\n    department: x\n")); err == nil {
		t.Errorf("Expected unknown process to be rejected")
	}
	if _, err := catalog.ParseOrgSeed([]byte("rules:\n  - process: PRT\n    department: x\n    strategy: fastest\n")); err == nil {
		t.Errorf("Expected unknown strategy to be rejected")
	}
}

func TestSeedAndApplyOrgSeed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	if err := catalog.Seed(db); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	// 重复执行不产生重复行
	if err := catalog.Seed(db); err != nil {
		t.Fatalf("Second seed failed: %v", err)
	}
	var count int64
	db.Model(&entity.Process{}).Count(&count)
	if count != 21 {
		t.Fatalf("Expected 21 processes, got %d", count)
	}

	seed, err := catalog.ParseOrgSeed([]byte(`
departments:
  - code: print
    name: 印刷车间
    sort_order: 10
    processes: [PRT]
users:
  - username: op1
    name: 操作员一
    departments: [print]
rules:
  - process: PRT
    department: print
    priority: 5
`))
	if err != nil {
		t.Fatalf("ParseOrgSeed failed: %v", err)
	}
	repos := repository.NewRepositories(db)
	if err := catalog.ApplyOrgSeed(repos, seed); err != nil {
		t.Fatalf("ApplyOrgSeed failed: %v", err)
	}
	if err := catalog.ApplyOrgSeed(repos, seed); err != nil {
		t.Fatalf("Second ApplyOrgSeed failed: %v", err)
	}

	var dept entity.Department
	if err := db.Preload("Processes").Where("code = ?", "print").First(&dept).Error; err != nil {
		t.Fatalf("Department not found: %v", err)
	}
	if len(dept.Processes) != 1 || dept.Processes[0].Code != "PRT" {
		t.Errorf("Expected department capable of PRT, got %+v", dept.Processes)
	}
	var rules []entity.AssignmentRule
	db.Find(&rules)
	if len(rules) != 1 || rules[0].OperatorSelectionStrategy != entity.StrategyLeastTasks {
		t.Errorf("Expected one least_tasks rule, got %+v", rules)
	}
}

func TestApplyOrgSeedRefreshesCachedCapabilities(t *testing.T) {
	db := testutil.SetupTestDB(t)
	if err := catalog.Seed(db); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	repos := repository.NewRepositories(db)
	prt, err := repos.Org.ProcessByCode("PRT")
	if err != nil {
		t.Fatalf("ProcessByCode failed: %v", err)
	}
	// 空结果也会进入缓存
	depts, err := repos.Org.CapableDepartments(prt.ID)
	if err != nil || len(depts) != 0 {
		t.Fatalf("Expected no capable departments, got %d, %v", len(depts), err)
	}

	seed, err := catalog.ParseOrgSeed([]byte(`
departments:
  - code: print
    name: 印刷车间
    processes: [PRT]
`))
	if err != nil {
		t.Fatalf("ParseOrgSeed failed: %v", err)
	}
	if err := catalog.ApplyOrgSeed(repos, seed); err != nil {
		t.Fatalf("ApplyOrgSeed failed: %v", err)
	}
	depts, err = repos.Org.CapableDepartments(prt.ID)
	if err != nil {
		t.Fatalf("CapableDepartments failed: %v", err)
	}
	if len(depts) != 1 || depts[0].Code != "print" {
		t.Errorf("Expected print department after seeding, got %+v", depts)
	}
}
