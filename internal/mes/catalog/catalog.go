package catalog

import (
	"sort"
)

// 内置工序编码
const (
	CodeCTP    = "CTP"
	CodeCUT    = "CUT"
	CodePRT    = "PRT"
	CodeFOILG  = "FOIL_G"
	CodeFOILS  = "FOIL_S"
	CodeEMB    = "EMB"
	CodeTEX    = "TEX"
	CodeSCORE  = "SCORE"
	CodeDIE    = "DIE"
	CodeLAMG   = "LAM_G"
	CodeLAMM   = "LAM_M"
	CodeUV     = "UV"
	CodeTRIM   = "TRIM"
	CodeLAMB   = "LAM_B"
	CodeMOUNT  = "MOUNT"
	CodeGLUE   = "GLUE"
	CodeBOX    = "BOX"
	CodeWINDOW = "WINDOW"
	CodeSTAPLE = "STAPLE"
	CodePACK   = "PACK"
	CodeVAN    = "VAN"
)

// Requirement 版需求：Requires 表示工序会用到，Required 表示审核时必须已选择
type Requirement struct {
	Requires bool
	Required bool
}

// Hard 审核时强制要求
func (r Requirement) Hard() bool {
	return r.Requires && r.Required
}

var (
	hard = Requirement{Requires: true, Required: true}
	soft = Requirement{Requires: true}
)

// Definition 工序定义
type Definition struct {
	Code           string
	Name           string
	SortOrder      int
	Parallel       bool
	MaterialCut    bool
	Artwork        Requirement
	Die            Requirement
	FoilingPlate   Requirement
	EmbossingPlate Requirement
}

var definitions = []Definition{
	{Code: CodeCTP, Name: "制版", SortOrder: 10, Parallel: true,
		Artwork: hard, Die: soft, FoilingPlate: soft, EmbossingPlate: soft},
	{Code: CodeCUT, Name: "开料", SortOrder: 20},
	{Code: CodePRT, Name: "印刷", SortOrder: 30, MaterialCut: true, Artwork: hard},
	{Code: CodeFOILG, Name: "烫金", SortOrder: 40, Parallel: true, FoilingPlate: hard},
	{Code: CodeFOILS, Name: "烫银", SortOrder: 50, Parallel: true, FoilingPlate: hard},
	{Code: CodeEMB, Name: "压凸", SortOrder: 60, Parallel: true, EmbossingPlate: hard},
	{Code: CodeTEX, Name: "压纹", SortOrder: 70, Parallel: true},
	{Code: CodeSCORE, Name: "压线", SortOrder: 80},
	{Code: CodeDIE, Name: "模切", SortOrder: 90, Parallel: true, Die: hard},
	{Code: CodeLAMG, Name: "覆光膜", SortOrder: 100, Parallel: true, MaterialCut: true},
	{Code: CodeLAMM, Name: "覆哑膜", SortOrder: 110, Parallel: true, MaterialCut: true},
	{Code: CodeUV, Name: "UV", SortOrder: 120, Parallel: true, MaterialCut: true},
	{Code: CodeTRIM, Name: "切成品", SortOrder: 130},
	{Code: CodeLAMB, Name: "对裱", SortOrder: 140},
	{Code: CodeMOUNT, Name: "裱坑", SortOrder: 150},
	{Code: CodeGLUE, Name: "粘胶", SortOrder: 160, Parallel: true},
	{Code: CodeBOX, Name: "粘盒", SortOrder: 170},
	{Code: CodeWINDOW, Name: "粘窗口", SortOrder: 180, Parallel: true},
	{Code: CodeSTAPLE, Name: "打钉", SortOrder: 190, Parallel: true},
	{Code: CodePACK, Name: "包装", SortOrder: 200},
	{Code: CodeVAN, Name: "过油", SortOrder: 210, MaterialCut: true},
}

var byCode = func() map[string]Definition {
	m := make(map[string]Definition, len(definitions))
	for _, d := range definitions {
		m[d.Code] = d
	}
	return m
}()

// Lookup 按编码查找工序定义
func Lookup(code string) (Definition, bool) {
	d, ok := byCode[code]
	return d, ok
}

func IsKnown(code string) bool {
	_, ok := byCode[code]
	return ok
}

// IsParallel 并行工序不受前序工序约束
func IsParallel(code string) bool {
	return byCode[code].Parallel
}

// RequiresMaterialCutStatus 开工前需要物料全部开料
func RequiresMaterialCutStatus(code string) bool {
	return byCode[code].MaterialCut
}

// Codes 按默认排序返回全部编码
func Codes() []string {
	defs := All()
	codes := make([]string, 0, len(defs))
	for _, d := range defs {
		codes = append(codes, d.Code)
	}
	return codes
}

// All 按默认排序返回全部定义的副本
func All() []Definition {
	defs := make([]Definition, len(definitions))
	copy(defs, definitions)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].SortOrder < defs[j].SortOrder })
	return defs
}
