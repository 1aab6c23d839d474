// Delegate Request Handlers
//
//	intake, authorization and queries for delegated transaction requests
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"go-relayer/internal/repository"
	"go-relayer/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestHandler handles /api/requests
type RequestHandler struct {
	service *services.RequestService
	logger  logrus.FieldLogger
}

// NewRequestHandler creates a new RequestHandler instance
func NewRequestHandler(service *services.RequestService, logger logrus.FieldLogger) *RequestHandler {
	return &RequestHandler{service: service, logger: logger}
}

// CreateRequestHandler stores a new request
// POST /api/requests
func (h *RequestHandler) CreateRequestHandler(c *gin.Context) {
	var input services.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body", "details": err.Error()})
		return
	}

	req, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": req})
}

// GetRequestHandler returns one request
// GET /api/requests/:id
func (h *RequestHandler) GetRequestHandler(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": req})
}

// ListRequestsHandler lists requests in natural order
// GET /api/requests?status=&limit=&offset=
func (h *RequestHandler) ListRequestsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid offset"})
		return
	}

	requests, total, err := h.service.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    requests,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// ConfirmRequestHandler authorizes a new request for publishing
// POST /api/requests/:id/confirm
func (h *RequestHandler) ConfirmRequestHandler(c *gin.Context) {
	req, err := h.service.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": req})
}

// StatsHandler request counts per status
// GET /api/stats
func (h *RequestHandler) StatsHandler(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (h *RequestHandler) writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateRequest), errors.Is(err, services.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, services.ErrRequestExpired):
		code = http.StatusGone
	}

	if code == http.StatusInternalServerError {
		h.logger.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Error("[RequestHandler] Request failed")
		c.JSON(code, gin.H{"success": false, "error": "Internal server error"})
		return
	}
	c.JSON(code, gin.H{"success": false, "error": err.Error()})
}
