package handler

import (
	"net/http"

	"github.com/bitfantasy/nimo-mes/internal/mes/auth"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Register 注册健康检查与 /api/v1/mes 路由
func Register(r *gin.Engine, h *Handlers, jwtSecret string) {
	r.GET("/health/live", h.Health.Live)
	r.GET("/health/ready", h.Health.Ready)
	r.GET("/version", h.Health.Version)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})

	mes := r.Group("/api/v1/mes")
	mes.Use(middleware.JWTAuth(jwtSecret))
	view := middleware.RequirePermission(auth.CapViewWorkOrder)

	workOrders := mes.Group("/work-orders")
	{
		workOrders.POST("", h.WorkOrder.Create)
		workOrders.GET("", view, h.WorkOrder.List)
		workOrders.GET("/:id", view, h.WorkOrder.Get)
		workOrders.PUT("/:id", h.WorkOrder.Update)
		workOrders.PUT("/:id/processes", h.WorkOrder.UpdateProcesses)
		workOrders.POST("/:id/processes/preview", h.WorkOrder.PreviewProcesses)
		workOrders.POST("/:id/submit", h.WorkOrder.Submit)
		workOrders.POST("/:id/approve", h.WorkOrder.Approve)
		workOrders.POST("/:id/reject", h.WorkOrder.Reject)
		workOrders.POST("/:id/resubmit", h.WorkOrder.Resubmit)
		workOrders.POST("/:id/request-reapproval", h.WorkOrder.RequestReapproval)
		workOrders.POST("/:id/cancel", h.WorkOrder.Cancel)
		workOrders.POST("/:id/pause", h.WorkOrder.Pause)
		workOrders.POST("/:id/resume", h.WorkOrder.Resume)
		workOrders.GET("/:id/validate", view, h.WorkOrder.Validate)
		workOrders.GET("/:id/approval-logs", view, h.WorkOrder.ApprovalLogs)
		workOrders.GET("/:id/notifications", view, h.Notification.ListByWorkOrder)
		workOrders.GET("/:id/tasks/export", view, h.WorkOrder.ExportTasks)
		workOrders.GET("/:id/design-file/upload-url", h.WorkOrder.DesignUploadURL)
		workOrders.GET("/:id/design-file/download-url", view, h.WorkOrder.DesignDownloadURL)
	}

	processes := mes.Group("/processes")
	{
		processes.POST("/:id/start", h.Process.Start)
		processes.POST("/:id/complete", h.Process.Complete)
		processes.POST("/:id/skip", h.Process.Skip)
		processes.POST("/:id/reassign-tasks", h.Process.ReassignTasks)
		processes.GET("/:id/logs", view, h.Process.Logs)
	}

	tasks := mes.Group("/tasks")
	{
		tasks.GET("", h.Task.List)
		tasks.GET("/:id", h.Task.Get)
		tasks.GET("/:id/logs", h.Task.Logs)
		tasks.POST("/:id/update-quantity", h.Task.UpdateQuantity)
		tasks.POST("/:id/complete", h.Task.Complete)
		tasks.POST("/:id/cancel", h.Task.Cancel)
		tasks.POST("/:id/split", h.Task.Split)
		tasks.POST("/:id/assign", h.Task.Assign)
	}

	assets := mes.Group("/assets")
	{
		assets.POST("/:kind", h.Asset.Create)
		assets.GET("/:kind/:id", h.Asset.Get)
		assets.POST("/:kind/:id/confirm", h.Asset.Confirm)
		assets.POST("/:kind/:id/unconfirm", h.Asset.Unconfirm)
	}
	mes.POST("/artworks/:id/versions", h.Asset.NewArtworkVersion)

	mes.PUT("/work-order-materials/:id/purchase-status", h.Material.UpdatePurchaseStatus)
	mes.POST("/purchase-orders", h.Material.CreatePurchaseOrder)
	mes.GET("/products/:id/stock-logs", h.Material.StockLogs)
	mes.GET("/products/:id/stock-logs/export", h.Material.ExportStockLogs)

	dispatch := mes.Group("/dispatch")
	{
		dispatch.GET("/preview", view, h.Dispatch.Preview)
		dispatch.GET("/preview/:processId", view, h.Dispatch.PreviewProcess)
		dispatch.GET("/settings", view, h.Dispatch.Settings)
		dispatch.PUT("/settings", h.Dispatch.UpdateSettings)
	}
	mes.PUT("/departments/:id/processes", h.Dispatch.SetProcesses)
	mes.PUT("/departments/:id/active", h.Dispatch.SetActive)

	notifications := mes.Group("/notifications")
	{
		notifications.GET("", h.Notification.List)
		notifications.GET("/stream", h.Notification.Stream)
		notifications.POST("/:id/read", h.Notification.MarkRead)
	}
}
