package entity

import (
	"fmt"
	"time"
)

// 版类型
const (
	AssetArtwork        = "artwork"
	AssetDie            = "die"
	AssetFoilingPlate   = "foiling_plate"
	AssetEmbossingPlate = "embossing_plate"
)

// Confirmation 版的确认信息
type Confirmation struct {
	Confirmed     bool       `json:"confirmed" gorm:"default:false"`
	ConfirmedByID *string    `json:"confirmed_by_id" gorm:"size:36"`
	ConfirmedAt   *time.Time `json:"confirmed_at"`
}

// Artwork 图稿，同一 base_code 下版本递增
type Artwork struct {
	ID          string `json:"id" gorm:"primaryKey;size:36"`
	BaseCode    string `json:"base_code" gorm:"size:20;not null;uniqueIndex:idx_artwork_code_version"`
	Version     int    `json:"version" gorm:"not null;default:1;uniqueIndex:idx_artwork_code_version"`
	Name        string `json:"name" gorm:"size:200;not null"`
	CMYKColors  string `json:"cmyk_colors" gorm:"size:20"`
	OtherColors string `json:"other_colors" gorm:"size:200"`
	Notes       string `json:"notes" gorm:"type:text"`
	Confirmation
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Artwork) TableName() string {
	return "mes_artworks"
}

// Code 完整编码，v1 不带后缀
func (a *Artwork) Code() string {
	if a.Version > 1 {
		return fmt.Sprintf("%s-v%d", a.BaseCode, a.Version)
	}
	return a.BaseCode
}

// Die 刀模
type Die struct {
	ID    string `json:"id" gorm:"primaryKey;size:36"`
	Code  string `json:"code" gorm:"size:20;uniqueIndex;not null"`
	Name  string `json:"name" gorm:"size:200;not null"`
	Size  string `json:"size" gorm:"size:100"`
	Notes string `json:"notes" gorm:"type:text"`
	Confirmation
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Die) TableName() string {
	return "mes_dies"
}

// 烫金类型
const (
	FoilingGold   = "gold"
	FoilingSilver = "silver"
)

// FoilingPlate 烫金版
type FoilingPlate struct {
	ID          string `json:"id" gorm:"primaryKey;size:36"`
	Code        string `json:"code" gorm:"size:20;uniqueIndex;not null"`
	Name        string `json:"name" gorm:"size:200;not null"`
	FoilingType string `json:"foiling_type" gorm:"size:10;default:gold"`
	Size        string `json:"size" gorm:"size:100"`
	Notes       string `json:"notes" gorm:"type:text"`
	Confirmation
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (FoilingPlate) TableName() string {
	return "mes_foiling_plates"
}

// EmbossingPlate 压凸版
type EmbossingPlate struct {
	ID    string `json:"id" gorm:"primaryKey;size:36"`
	Code  string `json:"code" gorm:"size:20;uniqueIndex;not null"`
	Name  string `json:"name" gorm:"size:200;not null"`
	Size  string `json:"size" gorm:"size:100"`
	Notes string `json:"notes" gorm:"type:text"`
	Confirmation
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EmbossingPlate) TableName() string {
	return "mes_embossing_plates"
}
