package repository_test

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
)

func TestReplaceAssetsAllKinds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewWorkOrderRepository(db)

	wo := &entity.WorkOrder{ID: "wo1", OrderNumber: "202610001", Status: entity.WOStatusPending, ApprovalStatus: entity.ApprovalPending}
	if err := db.Create(wo).Error; err != nil {
		t.Fatalf("Failed to create work order: %v", err)
	}
	art := testutil.SeedArtwork(t, db, "a1", "ART202610001", false)
	die := entity.Die{ID: "d1", Code: "DIE202610001", Name: "刀模一"}
	fp := entity.FoilingPlate{ID: "f1", Code: "FP202610001", Name: "烫金版一", FoilingType: entity.FoilingGold}
	ep := entity.EmbossingPlate{ID: "e1", Code: "EP202610001", Name: "击凸版一"}
	for _, v := range []interface{}{&die, &fp, &ep} {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("Failed to seed asset: %v", err)
		}
	}

	err := repo.ReplaceAssets(wo, []entity.Artwork{*art}, []entity.Die{die},
		[]entity.FoilingPlate{fp}, []entity.EmbossingPlate{ep})
	if err != nil {
		t.Fatalf("ReplaceAssets failed: %v", err)
	}

	got, err := repo.GetByID("wo1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(got.Artworks) != 1 || len(got.Dies) != 1 || len(got.FoilingPlates) != 1 || len(got.EmbossingPlates) != 1 {
		t.Fatalf("Expected one asset of each kind, got %d/%d/%d/%d",
			len(got.Artworks), len(got.Dies), len(got.FoilingPlates), len(got.EmbossingPlates))
	}

	// 再次替换为空，关联全部清除
	if err := repo.ReplaceAssets(got, nil, nil, nil, nil); err != nil {
		t.Fatalf("Clearing assets failed: %v", err)
	}
	got, _ = repo.GetByID("wo1")
	if len(got.Artworks)+len(got.Dies)+len(got.FoilingPlates)+len(got.EmbossingPlates) != 0 {
		t.Errorf("Expected no linked assets after clearing")
	}
	var dies int64
	db.Model(&entity.Die{}).Count(&dies)
	if dies != 1 {
		t.Errorf("Clearing links must keep the die row, got %d", dies)
	}
}
