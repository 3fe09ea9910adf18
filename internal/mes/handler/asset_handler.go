package handler

import (
	"bytes"
	"net/url"

	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
)

// AssetHandler 图稿、刀模、烫金版、压凸版
type AssetHandler struct {
	svc *service.AssetService
}

// Create POST /assets/:kind
func (h *AssetHandler) Create(c *gin.Context) {
	var in service.CreateAssetInput
	if !bind(c, &in) {
		return
	}
	in.Name = clean(in.Name)
	in.Notes = clean(in.Notes)
	asset, err := h.svc.Create(c.Request.Context(), middleware.CurrentActor(c), c.Param("kind"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, asset)
}

// Get GET /assets/:kind/:id
func (h *AssetHandler) Get(c *gin.Context) {
	asset, err := h.svc.Get(c.Request.Context(), c.Param("kind"), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, asset)
}

// Confirm POST /assets/:kind/:id/confirm
func (h *AssetHandler) Confirm(c *gin.Context) {
	changed, err := h.svc.Confirm(c.Request.Context(), middleware.CurrentActor(c), c.Param("kind"), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"confirmed": true, "changed": changed})
}

// Unconfirm POST /assets/:kind/:id/unconfirm
func (h *AssetHandler) Unconfirm(c *gin.Context) {
	if err := h.svc.Unconfirm(c.Request.Context(), middleware.CurrentActor(c), c.Param("kind"), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"confirmed": false})
}

// NewArtworkVersion POST /artworks/:id/versions
func (h *AssetHandler) NewArtworkVersion(c *gin.Context) {
	var in service.CreateAssetInput
	if !bindOptional(c, &in) {
		return
	}
	in.Name = clean(in.Name)
	in.Notes = clean(in.Notes)
	art, err := h.svc.NewArtworkVersion(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, art)
}

// MaterialHandler 物料采购状态、采购单与产品库存
type MaterialHandler struct {
	material *service.MaterialService
	purchase *service.PurchaseService
	stock    *service.StockService
	export   *service.ExportService
}

type purchaseStatusRequest struct {
	PurchaseStatus string `json:"purchase_status" binding:"required"`
}

// UpdatePurchaseStatus PUT /work-order-materials/:id/purchase-status
func (h *MaterialHandler) UpdatePurchaseStatus(c *gin.Context) {
	var req purchaseStatusRequest
	if !bind(c, &req) {
		return
	}
	line, err := h.material.UpdatePurchaseStatus(c.Request.Context(), middleware.CurrentActor(c), c.Param("id"), req.PurchaseStatus)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, line)
}

// CreatePurchaseOrder POST /purchase-orders
func (h *MaterialHandler) CreatePurchaseOrder(c *gin.Context) {
	var in service.CreatePurchaseOrderInput
	if !bind(c, &in) {
		return
	}
	in.SupplierName = clean(in.SupplierName)
	in.Notes = clean(in.Notes)
	po, err := h.purchase.Create(c.Request.Context(), middleware.CurrentActor(c), in)
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, po)
}

// StockLogs GET /products/:id/stock-logs
func (h *MaterialHandler) StockLogs(c *gin.Context) {
	logs, err := h.stock.StockLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": logs})
}

// ExportStockLogs GET /products/:id/stock-logs/export
func (h *MaterialHandler) ExportStockLogs(c *gin.Context) {
	var buf bytes.Buffer
	filename, err := h.export.ExportStockLogsCSV(c.Request.Context(), c.Param("id"), &buf)
	if err != nil {
		Fail(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	c.Data(200, "text/csv; charset=GB18030", buf.Bytes())
}
