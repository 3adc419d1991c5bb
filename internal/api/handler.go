package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"stall-reservation/internal/apperr"
	"stall-reservation/internal/models"
	"stall-reservation/internal/service"
	"stall-reservation/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// VendorIDHeader carries the authenticated vendor, set by the gateway
const VendorIDHeader = "X-Vendor-ID"

// Booker creates reservations
type Booker interface {
	CreateReservation(ctx context.Context, vendorID int64, req *service.CreateReservationRequest) (*models.Reservation, error)
}

// Controller drives reservations after booking and answers queries about them
type Controller interface {
	Approve(ctx context.Context, reservationID int64) (*models.Reservation, error)
	Reject(ctx context.Context, reservationID int64) (*models.Reservation, error)
	Refund(ctx context.Context, reservationID int64) (*models.Reservation, error)
	RejectAndRefund(ctx context.Context, reservationID int64) (*models.Reservation, error)
	VendorCancel(ctx context.Context, reservationID, vendorID int64) (*models.Reservation, error)
	Acknowledge(ctx context.Context, reservationID int64) (*models.Reservation, error)
	RemoveEvent(ctx context.Context, eventID int64) error
	DeactivateVendor(ctx context.Context, vendorID int64) error

	HasActiveReservation(ctx context.Context, vendorID, eventID int64) (bool, error)
	BookedStallIDs(ctx context.Context, eventID int64) ([]int64, error)
	StallMap(ctx context.Context, eventID int64) ([]models.StallAvailability, error)
	GetPayment(ctx context.Context, reservationID int64) (*models.Payment, error)
	GetReservation(ctx context.Context, reservationID int64) (*models.Reservation, error)
	GetReservationByBookingCode(ctx context.Context, code string) (*models.Reservation, error)
	ListVendorReservations(ctx context.Context, vendorID int64) ([]models.Reservation, error)
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	booker     Booker
	controller Controller
	checks     map[string]ReadinessCheck
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(booker Booker, controller Controller, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		booker:     booker,
		controller: controller,
		checks:     checks,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reservations", h.createReservation)
		v1.GET("/reservations/:id", h.getReservation)
		v1.GET("/reservations/:id/payment", h.getPayment)
		v1.GET("/bookings/:code", h.getReservationByCode)
		v1.POST("/reservations/:id/cancel", h.vendorCancel)

		v1.GET("/vendors/:id/reservations", h.listVendorReservations)
		v1.GET("/vendors/:id/events/:eventId/active", h.hasActiveReservation)

		v1.GET("/events/:id/stalls", h.stallMap)
		v1.GET("/events/:id/booked-stalls", h.bookedStalls)
	}

	admin := v1.Group("/admin")
	{
		admin.POST("/reservations/:id/approve", h.transition(h.controller.Approve))
		admin.POST("/reservations/:id/reject", h.transition(h.controller.Reject))
		admin.POST("/reservations/:id/refund", h.transition(h.controller.Refund))
		admin.POST("/reservations/:id/reject-refund", h.transition(h.controller.RejectAndRefund))
		admin.POST("/reservations/:id/acknowledge", h.transition(h.controller.Acknowledge))

		admin.DELETE("/events/:id", h.removeEvent)
		admin.POST("/vendors/:id/deactivate", h.deactivateVendor)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createReservation handles stall booking by the calling vendor
func (h *Handler) createReservation(c *gin.Context) {
	vendorID, ok := vendorFromHeader(c)
	if !ok {
		return
	}

	var req service.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.booker.CreateReservation(c.Request.Context(), vendorID, &req)
	if err != nil {
		h.writeError(c, "Failed to create reservation", err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// getReservation handles get reservation by ID
func (h *Handler) getReservation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	res, err := h.controller.GetReservation(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get reservation", err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) getPayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	payment, err := h.controller.GetPayment(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get payment", err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// getReservationByCode handles lookups by booking code, used at the gate
func (h *Handler) getReservationByCode(c *gin.Context) {
	res, err := h.controller.GetReservationByBookingCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, "Failed to get reservation", err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// vendorCancel handles a vendor cancelling their own reservation
func (h *Handler) vendorCancel(c *gin.Context) {
	vendorID, ok := vendorFromHeader(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	res, err := h.controller.VendorCancel(c.Request.Context(), id, vendorID)
	if err != nil {
		h.writeError(c, "Failed to cancel reservation", err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) listVendorReservations(c *gin.Context) {
	vendorID, ok := idParam(c, "id")
	if !ok {
		return
	}

	reservations, err := h.controller.ListVendorReservations(c.Request.Context(), vendorID)
	if err != nil {
		h.writeError(c, "Failed to list reservations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

func (h *Handler) hasActiveReservation(c *gin.Context) {
	vendorID, ok := idParam(c, "id")
	if !ok {
		return
	}
	eventID, ok := idParam(c, "eventId")
	if !ok {
		return
	}

	active, err := h.controller.HasActiveReservation(c.Request.Context(), vendorID, eventID)
	if err != nil {
		h.writeError(c, "Failed to check reservation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"active": active})
}

// stallMap serves the stall layout of an event with availability flags
func (h *Handler) stallMap(c *gin.Context) {
	eventID, ok := idParam(c, "id")
	if !ok {
		return
	}

	stalls, err := h.controller.StallMap(c.Request.Context(), eventID)
	if err != nil {
		h.writeError(c, "Failed to get stalls", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "stalls": stalls})
}

func (h *Handler) bookedStalls(c *gin.Context) {
	eventID, ok := idParam(c, "id")
	if !ok {
		return
	}

	ids, err := h.controller.BookedStallIDs(c.Request.Context(), eventID)
	if err != nil {
		h.writeError(c, "Failed to get booked stalls", err)
		return
	}

	c.JSON(http.StatusOK, models.BookedStallsMessage{FairEventID: eventID, BookedStallIDs: ids})
}

// transition adapts a single-reservation admin action to a handler
func (h *Handler) transition(action func(ctx context.Context, reservationID int64) (*models.Reservation, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}

		res, err := action(c.Request.Context(), id)
		if err != nil {
			h.writeError(c, "Failed to update reservation", err)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

func (h *Handler) removeEvent(c *gin.Context) {
	eventID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.controller.RemoveEvent(c.Request.Context(), eventID); err != nil {
		h.writeError(c, "Failed to remove event", err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) deactivateVendor(c *gin.Context) {
	vendorID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.controller.DeactivateVendor(c.Request.Context(), vendorID); err != nil {
		h.writeError(c, "Failed to deactivate vendor", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// writeError maps an error kind to its HTTP status
func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func vendorFromHeader(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader(VendorIDHeader), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Missing or invalid " + VendorIDHeader + " header",
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
