// Package api is the HTTP boundary: gin routes, request binding, identity
// extraction, and the mapping from the service error taxonomy to status
// codes.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sales-service/internal/authz"
	"sales-service/internal/fulfillment"
	"sales-service/internal/models"
	"sales-service/internal/service"
	"sales-service/internal/store"
)

type Handler struct {
	sales  *service.SaleService
	orders *service.OrderService
	ready  func() error
}

// NewHandler creates the HTTP handler. ready reports whether downstream
// dependencies are reachable; nil means always ready.
func NewHandler(sales *service.SaleService, orders *service.OrderService, ready func() error) *Handler {
	return &Handler{sales: sales, orders: orders, ready: ready}
}

// Router builds the gin engine with all routes and middleware.
func (h *Handler) Router(env string) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), MetricsMiddleware())

	r.GET("/health", h.health)
	r.GET("/ready", h.readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1", IdentityMiddleware())
	{
		v1.POST("/sales/cash", h.createCashSale)
		v1.POST("/sales/transfer", h.createTransferSale)
		v1.POST("/sales/:id/confirm-transfer", h.confirmSaleTransfer)
		v1.GET("/sales/:id", h.getSale)
		v1.GET("/sales", h.listSales)

		v1.POST("/orders", h.createOrder)
		v1.POST("/orders/:id/confirm", h.confirmOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/confirm-transfer", h.confirmOrderTransfer)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders", h.listOrders)

		v1.GET("/movements", h.listMovements)
		v1.GET("/transfer-confirmations", h.listTransferConfirmations)
	}

	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) readiness(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) createCashSale(c *gin.Context) {
	var req service.CreateCashSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sale, err := h.sales.CreateCashSale(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

func (h *Handler) createTransferSale(c *gin.Context) {
	var req service.CreateTransferSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sale, err := h.sales.CreateTransferSale(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

type confirmTransferRequest struct {
	Note string `json:"note"`
}

func (h *Handler) confirmSaleTransfer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req confirmTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sale, err := h.sales.ConfirmTransfer(c.Request.Context(), id, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) getSale(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sale, err := h.sales.GetSale(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) listSales(c *gin.Context) {
	sales, err := h.sales.ListSales(c.Request.Context(),
		models.SaleStatus(c.Query("status")), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	order, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

type confirmOrderRequest struct {
	EstimatedDate time.Time `json:"estimated_date" binding:"required"`
	Note          string    `json:"note"`
}

func (h *Handler) confirmOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req confirmOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.orders.ConfirmOrder(c.Request.Context(), id, req.EstimatedDate, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type updateStatusRequest struct {
	Status         models.OrderStatus `json:"status" binding:"required"`
	TrackingNumber string             `json:"tracking_number"`
	Note           string             `json:"note"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), id, req.Status, req.TrackingNumber, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmOrderTransfer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req confirmTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.orders.ConfirmTransfer(c.Request.Context(), id, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(),
		models.OrderStatus(c.Query("status")), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) listMovements(c *gin.Context) {
	movements, err := h.orders.ListMovements(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

func (h *Handler) listTransferConfirmations(c *gin.Context) {
	confirmations, err := h.orders.ListTransferConfirmations(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfer_confirmations": confirmations})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	return limit
}

// respondError maps the service error taxonomy to HTTP status codes.
func respondError(c *gin.Context, err error) {
	var stockErr *store.StockError
	var transitionErr *fulfillment.TransitionError

	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, fulfillment.ErrTrackingRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, authz.ErrPermission):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductID,
			"sku":        stockErr.SKU,
		})
	case errors.As(err, &transitionErr),
		errors.Is(err, store.ErrTransferAlreadyConfirmed),
		errors.Is(err, store.ErrNotTransferPayment),
		errors.Is(err, store.ErrOrderClosed),
		errors.Is(err, store.ErrDuplicateOrder):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
