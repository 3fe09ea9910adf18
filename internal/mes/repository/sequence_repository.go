package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"gorm.io/gorm"
)

// 编号宽度
const (
	WorkOrderWidth     = 3
	PurchaseOrderWidth = 4
	AssetWidth         = 3
)

func WorkOrderPrefix(t time.Time) string      { return t.Format("200601") }
func PurchaseOrderPrefix(t time.Time) string  { return "PO" + t.Format("20060102") }
func ArtworkPrefix(t time.Time) string        { return "ART" + t.Format("200601") }
func DiePrefix(t time.Time) string            { return "DIE" + t.Format("200601") }
func FoilingPlatePrefix(t time.Time) string   { return "FP" + t.Format("200601") }
func EmbossingPlatePrefix(t time.Time) string { return "EP" + t.Format("200601") }

// SequenceRepository 编号生成
type SequenceRepository struct {
	db *gorm.DB
}

func NewSequenceRepository(db *gorm.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// scanWindow 一次读取的候选行数，跳过后缀非数字的历史编号
const scanWindow = 20

// Next 锁定当前最大编号行，返回 prefix + 补零后的下一个序号。须在事务中调用
func (r *SequenceRepository) Next(table, column, prefix string, width int) (string, error) {
	var existing []string
	err := r.db.Table(table).
		Where(column+" LIKE ?", prefix+"%").
		Order("LENGTH(" + column + ") DESC").
		Order(column + " DESC").
		Limit(scanWindow).
		Clauses(forUpdate).
		Pluck(column, &existing).Error
	if err != nil {
		return "", wrap(err, "")
	}

	next := 1
	for _, code := range existing {
		n, ok := numericSuffix(code, prefix)
		if ok {
			next = n + 1
			break
		}
	}
	return FormatCode(prefix, next, width), nil
}

// FormatCode prefix + 至少 width 位的序号
func FormatCode(prefix string, n, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

func numericSuffix(code, prefix string) (int, bool) {
	suffix, ok := strings.CutPrefix(code, prefix)
	if !ok || suffix == "" {
		return 0, false
	}
	for _, ch := range suffix {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *SequenceRepository) NextWorkOrderNumber(now time.Time) (string, error) {
	return r.Next(entity.WorkOrder{}.TableName(), "order_number", WorkOrderPrefix(now), WorkOrderWidth)
}

func (r *SequenceRepository) NextPurchaseOrderNumber(now time.Time) (string, error) {
	return r.Next(entity.PurchaseOrder{}.TableName(), "order_number", PurchaseOrderPrefix(now), PurchaseOrderWidth)
}

// NextAssetCode 按版类型生成编号
func (r *SequenceRepository) NextAssetCode(kind string, now time.Time) (string, error) {
	switch kind {
	case entity.AssetArtwork:
		return r.Next(entity.Artwork{}.TableName(), "base_code", ArtworkPrefix(now), AssetWidth)
	case entity.AssetDie:
		return r.Next(entity.Die{}.TableName(), "code", DiePrefix(now), AssetWidth)
	case entity.AssetFoilingPlate:
		return r.Next(entity.FoilingPlate{}.TableName(), "code", FoilingPlatePrefix(now), AssetWidth)
	case entity.AssetEmbossingPlate:
		return r.Next(entity.EmbossingPlate{}.TableName(), "code", EmbossingPlatePrefix(now), AssetWidth)
	}
	return "", fmt.Errorf("未知的版类型: %s", kind)
}

// NextArtworkVersion 锁定同一 base_code 的最新版本，返回下一个版本号
func (r *SequenceRepository) NextArtworkVersion(baseCode string) (int, error) {
	var versions []int
	err := r.db.Model(&entity.Artwork{}).
		Where("base_code = ?", baseCode).
		Order("version DESC").
		Limit(1).
		Clauses(forUpdate).
		Pluck("version", &versions).Error
	if err != nil {
		return 0, wrap(err, "")
	}
	if len(versions) == 0 {
		return 0, apperr.NotFound("图稿不存在")
	}
	return versions[0] + 1, nil
}
