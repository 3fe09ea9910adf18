package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/mes/apperr"
	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DesignFiles 设计文件预签名，未配置对象存储时为 nil
type DesignFiles interface {
	PresignUpload(ctx context.Context, key string) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Handlers 处理器集合
type Handlers struct {
	WorkOrder    *WorkOrderHandler
	Process      *ProcessHandler
	Task         *TaskHandler
	Asset        *AssetHandler
	Material     *MaterialHandler
	Notification *NotificationHandler
	Dispatch     *DispatchHandler
	Health       *HealthHandler
}

// Deps 构造处理器所需的依赖
type Deps struct {
	Services *service.Services
	DB       *gorm.DB
	Hub      *notify.Hub
	Designs  DesignFiles
	Logger   *zap.Logger
	Version  string
}

func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		WorkOrder:    &WorkOrderHandler{svc: d.Services.WorkOrder, export: d.Services.Export, designs: d.Designs},
		Process:      &ProcessHandler{svc: d.Services.Process},
		Task:         &TaskHandler{svc: d.Services.Task},
		Asset:        &AssetHandler{svc: d.Services.Asset},
		Material:     &MaterialHandler{material: d.Services.Material, purchase: d.Services.Purchase, stock: d.Services.Stock, export: d.Services.Export},
		Notification: &NotificationHandler{svc: d.Services.Notification, hub: d.Hub, logger: logger},
		Dispatch:     &DispatchHandler{router: d.Services.Router},
		Health:       &HealthHandler{db: d.DB, version: d.Version},
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 业务错误响应，冲突时带当前版本，校验失败时带原因列表
type ErrorResponse struct {
	Code           int      `json:"code"`
	Message        string   `json:"message"`
	CurrentVersion *int     `json:"current_version,omitempty"`
	Details        []string `json:"details,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

func newPagination(page, size int, total int64) *Pagination {
	pages := total / int64(size)
	if total%int64(size) != 0 {
		pages++
	}
	return &Pagination{Page: page, PageSize: size, Total: total, TotalPages: pages}
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// Fail 按错误类别输出状态码与业务码
func Fail(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindIntegrityFault {
		_ = c.Error(err)
		InternalError(c, "服务器内部错误")
		return
	}
	status := apperr.HTTPStatus(err)
	resp := ErrorResponse{Code: status * 100, Message: e.Message}
	switch e.Kind {
	case apperr.KindConcurrencyConflict:
		v := e.CurrentVersion
		resp.CurrentVersion = &v
	case apperr.KindValidation:
		resp.Details = e.Reasons
	}
	c.JSON(status, resp)
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

var strict = bluemonday.StrictPolicy()

// clean 去掉自由文本中的标签
func clean(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}

func cleanPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := clean(*s)
	return &v
}

// bind 解析请求体，失败时已写出响应
func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

// bindOptional 允许空请求体
func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bind(c, v)
}
