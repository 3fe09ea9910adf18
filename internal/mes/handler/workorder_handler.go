package handler

import (
	"net/url"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/storage"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
)

// WorkOrderHandler 施工单
type WorkOrderHandler struct {
	svc     *service.WorkOrderService
	export  *service.ExportService
	designs DesignFiles
}

// Create POST /work-orders
func (h *WorkOrderHandler) Create(c *gin.Context) {
	var in service.CreateWorkOrderInput
	if !bind(c, &in) {
		return
	}
	in.Notes = clean(in.Notes)
	in.PrintingOtherColors = clean(in.PrintingOtherColors)
	for i := range in.Materials {
		in.Materials[i].Notes = clean(in.Materials[i].Notes)
	}
	wo, err := h.svc.Create(c.Request.Context(), middleware.CurrentActor(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, wo)
}

// List GET /work-orders
func (h *WorkOrderHandler) List(c *gin.Context) {
	page, size := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.WOListParams{
		Status:         c.Query("status"),
		ApprovalStatus: c.Query("approval_status"),
		CustomerID:     c.Query("customer_id"),
		CreatedByID:    c.Query("created_by"),
		Keyword:        c.Query("keyword"),
		Page:           page,
		Size:           size,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, size, total)})
}

// Get GET /work-orders/:id
func (h *WorkOrderHandler) Get(c *gin.Context) {
	wo, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Update PUT /work-orders/:id
func (h *WorkOrderHandler) Update(c *gin.Context) {
	var in service.UpdateWorkOrderInput
	if !bind(c, &in) {
		return
	}
	in.Notes = cleanPtr(in.Notes)
	in.PrintingOtherColors = cleanPtr(in.PrintingOtherColors)
	wo, err := h.svc.Update(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

type processLinesRequest struct {
	Processes []service.ProcessLine `json:"processes" binding:"required"`
}

// PreviewProcesses POST /work-orders/:id/processes/preview
func (h *WorkOrderHandler) PreviewProcesses(c *gin.Context) {
	var req processLinesRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.PreviewProcesses(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), req.Processes)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// UpdateProcesses PUT /work-orders/:id/processes
func (h *WorkOrderHandler) UpdateProcesses(c *gin.Context) {
	var req processLinesRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.svc.UpdateProcesses(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), req.Processes)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

type commentRequest struct {
	Comment string `json:"comment"`
	Reason  string `json:"reason"`
}

// Submit POST /work-orders/:id/submit
func (h *WorkOrderHandler) Submit(c *gin.Context) {
	wo, err := h.svc.SubmitForApproval(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Approve POST /work-orders/:id/approve
func (h *WorkOrderHandler) Approve(c *gin.Context) {
	var req commentRequest
	if !bindOptional(c, &req) {
		return
	}
	wo, err := h.svc.Approve(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), clean(req.Comment))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Reject POST /work-orders/:id/reject
func (h *WorkOrderHandler) Reject(c *gin.Context) {
	var req commentRequest
	if !bindOptional(c, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Comment
	}
	wo, err := h.svc.Reject(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), clean(reason))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Resubmit POST /work-orders/:id/resubmit
func (h *WorkOrderHandler) Resubmit(c *gin.Context) {
	wo, err := h.svc.Resubmit(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// RequestReapproval POST /work-orders/:id/request-reapproval
func (h *WorkOrderHandler) RequestReapproval(c *gin.Context) {
	var req commentRequest
	if !bindOptional(c, &req) {
		return
	}
	wo, err := h.svc.RequestReapproval(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), clean(req.Reason))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Cancel POST /work-orders/:id/cancel
func (h *WorkOrderHandler) Cancel(c *gin.Context) {
	var req commentRequest
	if !bindOptional(c, &req) {
		return
	}
	wo, err := h.svc.Cancel(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), clean(req.Reason))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Pause POST /work-orders/:id/pause
func (h *WorkOrderHandler) Pause(c *gin.Context) {
	wo, err := h.svc.Pause(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Resume POST /work-orders/:id/resume
func (h *WorkOrderHandler) Resume(c *gin.Context) {
	wo, err := h.svc.Resume(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, wo)
}

// Validate GET /work-orders/:id/validate
func (h *WorkOrderHandler) Validate(c *gin.Context) {
	reasons, err := h.svc.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"valid": len(reasons) == 0, "reasons": reasons})
}

// ApprovalLogs GET /work-orders/:id/approval-logs
func (h *WorkOrderHandler) ApprovalLogs(c *gin.Context) {
	logs, err := h.svc.ApprovalLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": logs})
}

// ExportTasks GET /work-orders/:id/tasks/export
func (h *WorkOrderHandler) ExportTasks(c *gin.Context) {
	f, filename, err := h.export.ExportTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

// DesignUploadURL GET /work-orders/:id/design-file/upload-url?filename=
func (h *WorkOrderHandler) DesignUploadURL(c *gin.Context) {
	if h.designs == nil {
		Error(c, 50300, "未配置文件存储")
		return
	}
	filename := c.Query("filename")
	if filename == "" {
		BadRequest(c, "请提供文件名")
		return
	}
	wo, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	key := storage.ObjectKey(wo.OrderNumber, filename)
	u, err := h.designs.PresignUpload(c.Request.Context(), key)
	if err != nil {
		_ = c.Error(err)
		InternalError(c, "生成上传地址失败")
		return
	}
	// 上传完成后由前端把 key 写回 design_file
	Success(c, gin.H{"url": u, "key": key})
}

// DesignDownloadURL GET /work-orders/:id/design-file/download-url
func (h *WorkOrderHandler) DesignDownloadURL(c *gin.Context) {
	if h.designs == nil {
		Error(c, 50300, "未配置文件存储")
		return
	}
	wo, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	if wo.DesignFile == "" {
		Error(c, 40400, "施工单没有设计文件")
		return
	}
	u, err := h.designs.PresignDownload(c.Request.Context(), wo.DesignFile)
	if err != nil {
		_ = c.Error(err)
		InternalError(c, "生成下载地址失败")
		return
	}
	Success(c, gin.H{"url": u})
}
