package handler

import (
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
)

// DispatchHandler 分派预览、规则开关与部门工序
type DispatchHandler struct {
	router *service.AssignmentRouter
}

// Preview GET /dispatch/preview
func (h *DispatchHandler) Preview(c *gin.Context) {
	items, err := h.router.PreviewAll(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": items, "rules_enabled": h.router.RulesEnabled()})
}

// PreviewProcess GET /dispatch/preview/:processId
func (h *DispatchHandler) PreviewProcess(c *gin.Context) {
	pv, err := h.router.Preview(c.Request.Context(), c.Param("processId"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, pv)
}

type dispatchSettings struct {
	RulesEnabled *bool `json:"rules_enabled" binding:"required"`
}

// Settings GET /dispatch/settings
func (h *DispatchHandler) Settings(c *gin.Context) {
	Success(c, gin.H{"rules_enabled": h.router.RulesEnabled()})
}

// UpdateSettings PUT /dispatch/settings
func (h *DispatchHandler) UpdateSettings(c *gin.Context) {
	var req dispatchSettings
	if !bind(c, &req) {
		return
	}
	if err := h.router.SetRulesEnabled(c.Request.Context(), middleware.CurrentActor(c), *req.RulesEnabled); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"rules_enabled": h.router.RulesEnabled()})
}

// SetProcesses PUT /departments/:id/processes
func (h *DispatchHandler) SetProcesses(c *gin.Context) {
	var req struct {
		ProcessIDs []string `json:"process_ids"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.router.SetCapabilities(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), req.ProcessIDs); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"department_id": c.Param("id"), "process_ids": req.ProcessIDs})
}

// SetActive PUT /departments/:id/active
func (h *DispatchHandler) SetActive(c *gin.Context) {
	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	if err := h.router.SetDepartmentActive(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), *req.IsActive); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"department_id": c.Param("id"), "is_active": *req.IsActive})
}
