package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
)

// ProcessHandler 施工单工序
type ProcessHandler struct {
	svc *service.ProcessService
}

// Start POST /processes/:id/start
func (h *ProcessHandler) Start(c *gin.Context) {
	var in service.StartInput
	if !bindOptional(c, &in) {
		return
	}
	proc, err := h.svc.Start(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, proc)
}

// Complete POST /processes/:id/complete
func (h *ProcessHandler) Complete(c *gin.Context) {
	var in service.CompleteInput
	if !bindOptional(c, &in) {
		return
	}
	in.ForceReason = clean(in.ForceReason)
	proc, err := h.svc.Complete(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, proc)
}

// Skip POST /processes/:id/skip
func (h *ProcessHandler) Skip(c *gin.Context) {
	var req commentRequest
	if !bindOptional(c, &req) {
		return
	}
	proc, err := h.svc.Skip(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), clean(req.Reason))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, proc)
}

// ReassignTasks POST /processes/:id/reassign-tasks
func (h *ProcessHandler) ReassignTasks(c *gin.Context) {
	var in service.AssignInput
	if !bind(c, &in) {
		return
	}
	in.Reason = clean(in.Reason)
	in.Notes = clean(in.Notes)
	n, err := h.svc.ReassignProcessTasks(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"reassigned": n})
}

// Logs GET /processes/:id/logs
func (h *ProcessHandler) Logs(c *gin.Context) {
	logs, err := h.svc.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": logs})
}

// TaskHandler 施工单任务
type TaskHandler struct {
	svc *service.TaskService
}

// List GET /tasks
func (h *TaskHandler) List(c *gin.Context) {
	page, size := GetPagination(c)
	operator := c.Query("operator_id")
	if c.Query("mine") == "true" {
		operator = middleware.CurrentActor(c).UserID
	}
	items, total, err := h.svc.List(c.Request.Context(), repository.TaskListParams{
		Status:       c.Query("status"),
		OperatorID:   operator,
		DepartmentID: c.Query("department_id"),
		WorkOrderID:  c.Query("work_order_id"),
		ProcessID:    c.Query("process_id"),
		Page:         page,
		Size:         size,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, size, total)})
}

// Get GET /tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, task)
}

// Logs GET /tasks/:id/logs
func (h *TaskHandler) Logs(c *gin.Context) {
	logs, err := h.svc.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": logs})
}

// UpdateQuantity POST /tasks/:id/update-quantity
func (h *TaskHandler) UpdateQuantity(c *gin.Context) {
	var in service.UpdateQuantityInput
	if !bind(c, &in) {
		return
	}
	in.Notes = clean(in.Notes)
	task, err := h.svc.UpdateQuantity(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, task)
}

// Complete POST /tasks/:id/complete
func (h *TaskHandler) Complete(c *gin.Context) {
	var in service.ForceCompleteInput
	if !bind(c, &in) {
		return
	}
	in.CompletionReason = clean(in.CompletionReason)
	in.Notes = clean(in.Notes)
	task, err := h.svc.ForceComplete(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, task)
}

// Cancel POST /tasks/:id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	var in service.CancelInput
	if !bindOptional(c, &in) {
		return
	}
	in.CancellationReason = clean(in.CancellationReason)
	in.Notes = clean(in.Notes)
	task, err := h.svc.Cancel(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, task)
}

// Split POST /tasks/:id/split
func (h *TaskHandler) Split(c *gin.Context) {
	var in service.SplitInput
	if !bind(c, &in) {
		return
	}
	for i := range in.Parts {
		in.Parts[i].WorkContent = clean(in.Parts[i].WorkContent)
	}
	children, err := h.svc.Split(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, gin.H{"items": children})
}

// Assign POST /tasks/:id/assign
func (h *TaskHandler) Assign(c *gin.Context) {
	var in service.AssignInput
	if !bind(c, &in) {
		return
	}
	in.Reason = clean(in.Reason)
	in.Notes = clean(in.Notes)
	task, err := h.svc.Assign(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, task)
}
