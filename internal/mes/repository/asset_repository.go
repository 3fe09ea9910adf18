package repository

import (
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// AssetRepository 图稿、刀模、烫金版、压凸版
type AssetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// modelFor 版类型对应的模型
func modelFor(kind string) (interface{}, error) {
	switch kind {
	case entity.AssetArtwork:
		return &entity.Artwork{}, nil
	case entity.AssetDie:
		return &entity.Die{}, nil
	case entity.AssetFoilingPlate:
		return &entity.FoilingPlate{}, nil
	case entity.AssetEmbossingPlate:
		return &entity.EmbossingPlate{}, nil
	}
	return nil, fmt.Errorf("未知的版类型: %s", kind)
}

func assetNotFound(kind string) string {
	switch kind {
	case entity.AssetArtwork:
		return "图稿不存在"
	case entity.AssetDie:
		return "刀模不存在"
	case entity.AssetFoilingPlate:
		return "烫金版不存在"
	case entity.AssetEmbossingPlate:
		return "压凸版不存在"
	}
	return "版不存在"
}

// IsConfirmed 版是否已确认
func (r *AssetRepository) IsConfirmed(kind, id string) (bool, error) {
	model, err := modelFor(kind)
	if err != nil {
		return false, err
	}
	var flags []bool
	if err := r.db.Model(model).Where("id = ?", id).Pluck("confirmed", &flags).Error; err != nil {
		return false, wrap(err, "")
	}
	if len(flags) == 0 {
		return false, wrap(gorm.ErrRecordNotFound, assetNotFound(kind))
	}
	return flags[0], nil
}

// LockConfirmation 加锁读取确认状态
func (r *AssetRepository) LockConfirmation(kind, id string) (entity.Confirmation, error) {
	model, err := modelFor(kind)
	if err != nil {
		return entity.Confirmation{}, err
	}
	var c entity.Confirmation
	res := r.db.Model(model).Clauses(forUpdate).
		Select("confirmed", "confirmed_by_id", "confirmed_at").
		Where("id = ?", id).
		Limit(1).
		Scan(&c)
	if res.Error != nil {
		return c, wrap(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return c, wrap(gorm.ErrRecordNotFound, assetNotFound(kind))
	}
	return c, nil
}

func (r *AssetRepository) SetConfirmation(kind, id string, c entity.Confirmation) error {
	model, err := modelFor(kind)
	if err != nil {
		return err
	}
	return wrap(r.db.Model(model).Where("id = ?", id).Updates(map[string]interface{}{
		"confirmed":       c.Confirmed,
		"confirmed_by_id": c.ConfirmedByID,
		"confirmed_at":    c.ConfirmedAt,
	}).Error, "")
}

// Create 写入任意类型的版
func (r *AssetRepository) Create(asset interface{}) error {
	return wrap(r.db.Create(asset).Error, "")
}

func (r *AssetRepository) GetArtwork(id string) (*entity.Artwork, error) {
	var a entity.Artwork
	if err := r.db.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, wrap(err, assetNotFound(entity.AssetArtwork))
	}
	return &a, nil
}

// Get 按类型读取单个版
func (r *AssetRepository) Get(kind, id string) (interface{}, error) {
	model, err := modelFor(kind)
	if err != nil {
		return nil, err
	}
	if err := r.db.Where("id = ?", id).First(model).Error; err != nil {
		return nil, wrap(err, assetNotFound(kind))
	}
	return model, nil
}

func (r *AssetRepository) FindArtworks(ids []string) ([]entity.Artwork, error) {
	var list []entity.Artwork
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&list).Error
	if err == nil && len(list) != len(unique(ids)) {
		return nil, wrap(gorm.ErrRecordNotFound, assetNotFound(entity.AssetArtwork))
	}
	return list, wrap(err, "")
}

func (r *AssetRepository) FindDies(ids []string) ([]entity.Die, error) {
	var list []entity.Die
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&list).Error
	if err == nil && len(list) != len(unique(ids)) {
		return nil, wrap(gorm.ErrRecordNotFound, assetNotFound(entity.AssetDie))
	}
	return list, wrap(err, "")
}

func (r *AssetRepository) FindFoilingPlates(ids []string) ([]entity.FoilingPlate, error) {
	var list []entity.FoilingPlate
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&list).Error
	if err == nil && len(list) != len(unique(ids)) {
		return nil, wrap(gorm.ErrRecordNotFound, assetNotFound(entity.AssetFoilingPlate))
	}
	return list, wrap(err, "")
}

func (r *AssetRepository) FindEmbossingPlates(ids []string) ([]entity.EmbossingPlate, error) {
	var list []entity.EmbossingPlate
	if len(ids) == 0 {
		return list, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&list).Error
	if err == nil && len(list) != len(unique(ids)) {
		return nil, wrap(gorm.ErrRecordNotFound, assetNotFound(entity.AssetEmbossingPlate))
	}
	return list, wrap(err, "")
}

func unique(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
