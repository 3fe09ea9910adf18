package service

import (
	"context"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
)

// AssetService 图稿、刀模、烫金版、压凸版
type AssetService struct {
	*engine
}

// IsAssetKind 是否为已知的版类型
func IsAssetKind(kind string) bool {
	switch kind {
	case entity.AssetArtwork, entity.AssetDie, entity.AssetFoilingPlate, entity.AssetEmbossingPlate:
		return true
	}
	return false
}

// CreateAssetInput 新建版，按类型取用字段
type CreateAssetInput struct {
	Name        string `json:"name"`
	CMYKColors  string `json:"cmyk_colors"`
	OtherColors string `json:"other_colors"`
	Size        string `json:"size"`
	FoilingType string `json:"foiling_type"`
	Notes       string `json:"notes"`
}

func checkAssetEditor(actor auth.Actor) error {
	if actor.IsSystem() || actor.CanManageAll() || actor.Can(auth.CapChangeWorkOrder) {
		return nil
	}
	return apperr.PermissionDenied("没有维护版的权限")
}

// Create 生成编号并新建版
func (s *AssetService) Create(ctx context.Context, actor auth.Actor, kind string, in CreateAssetInput) (interface{}, error) {
	if !IsAssetKind(kind) {
		return nil, apperr.Validationf("未知的版类型: %s", kind)
	}
	if err := checkAssetEditor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Validation("请填写名称")
	}
	var created interface{}
	err := s.mint(ctx, actor, func(sc *scope) error {
		code, err := sc.repos.Sequence.NextAssetCode(kind, sc.now)
		if err != nil {
			return err
		}
		id := newID()
		switch kind {
		case entity.AssetArtwork:
			created = &entity.Artwork{
				ID:          id,
				BaseCode:    code,
				Version:     1,
				Name:        in.Name,
				CMYKColors:  in.CMYKColors,
				OtherColors: in.OtherColors,
				Notes:       in.Notes,
				CreatedAt:   sc.now,
				UpdatedAt:   sc.now,
			}
		case entity.AssetDie:
			created = &entity.Die{ID: id, Code: code, Name: in.Name, Size: in.Size, Notes: in.Notes, CreatedAt: sc.now, UpdatedAt: sc.now}
		case entity.AssetFoilingPlate:
			ft := in.FoilingType
			if ft == "" {
				ft = entity.FoilingGold
			}
			if ft != entity.FoilingGold && ft != entity.FoilingSilver {
				return apperr.Validationf("无效的烫金类型: %s", ft)
			}
			created = &entity.FoilingPlate{ID: id, Code: code, Name: in.Name, FoilingType: ft, Size: in.Size, Notes: in.Notes, CreatedAt: sc.now, UpdatedAt: sc.now}
		case entity.AssetEmbossingPlate:
			created = &entity.EmbossingPlate{ID: id, Code: code, Name: in.Name, Size: in.Size, Notes: in.Notes, CreatedAt: sc.now, UpdatedAt: sc.now}
		}
		return sc.repos.Asset.Create(created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// NewArtworkVersion 基于已有图稿新建版本，编码沿用 base_code
func (s *AssetService) NewArtworkVersion(ctx context.Context, actor auth.Actor, artworkID string, in CreateAssetInput) (*entity.Artwork, error) {
	if err := checkAssetEditor(actor); err != nil {
		return nil, err
	}
	var created *entity.Artwork
	err := s.mint(ctx, actor, func(sc *scope) error {
		base, err := sc.repos.Asset.GetArtwork(artworkID)
		if err != nil {
			return err
		}
		version, err := sc.repos.Sequence.NextArtworkVersion(base.BaseCode)
		if err != nil {
			return err
		}
		a := &entity.Artwork{
			ID:          newID(),
			BaseCode:    base.BaseCode,
			Version:     version,
			Name:        base.Name,
			CMYKColors:  base.CMYKColors,
			OtherColors: base.OtherColors,
			Notes:       in.Notes,
			CreatedAt:   sc.now,
			UpdatedAt:   sc.now,
		}
		if in.Name != "" {
			a.Name = in.Name
		}
		if in.CMYKColors != "" {
			a.CMYKColors = in.CMYKColors
		}
		if in.OtherColors != "" {
			a.OtherColors = in.OtherColors
		}
		created = a
		return sc.repos.Asset.Create(a)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Confirm 确认版；只有由未确认变为已确认时才触发制版任务自动完成
func (s *AssetService) Confirm(ctx context.Context, actor auth.Actor, kind, id string) (bool, error) {
	if !IsAssetKind(kind) {
		return false, apperr.Validationf("未知的版类型: %s", kind)
	}
	if err := checkAssetEditor(actor); err != nil {
		return false, err
	}
	flipped := false
	err := s.run(ctx, actor, func(sc *scope) error {
		flipped = false
		current, err := sc.repos.Asset.LockConfirmation(kind, id)
		if err != nil {
			return err
		}
		if current.Confirmed {
			return nil
		}
		now := sc.now
		if err := sc.repos.Asset.SetConfirmation(kind, id, entity.Confirmation{
			Confirmed:     true,
			ConfirmedByID: sc.actor.OperatorID(),
			ConfirmedAt:   &now,
		}); err != nil {
			return err
		}
		flipped = true
		return s.bus.Publish(sc.ctx, sc, AssetConfirmed{AssetKind: kind, ID: id})
	})
	return flipped, err
}

// Unconfirm 取消确认，已完成的制版任务不回退
func (s *AssetService) Unconfirm(ctx context.Context, actor auth.Actor, kind, id string) error {
	if !IsAssetKind(kind) {
		return apperr.Validationf("未知的版类型: %s", kind)
	}
	if err := checkAssetEditor(actor); err != nil {
		return err
	}
	return s.run(ctx, actor, func(sc *scope) error {
		current, err := sc.repos.Asset.LockConfirmation(kind, id)
		if err != nil {
			return err
		}
		if !current.Confirmed {
			return nil
		}
		return sc.repos.Asset.SetConfirmation(kind, id, entity.Confirmation{})
	})
}

func (s *AssetService) Get(ctx context.Context, kind, id string) (interface{}, error) {
	if !IsAssetKind(kind) {
		return nil, apperr.Validationf("未知的版类型: %s", kind)
	}
	return s.repos.Asset.Get(kind, id)
}
