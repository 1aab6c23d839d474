package handlers

import (
	"errors"
	"net/http"

	"go-relayer/internal/relayer"
	"go-relayer/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PassTrigger *services.ReconcileScheduler
type PassTrigger interface {
	Trigger() (*relayer.PassResult, error)
	LastStatus() *services.PassStatus
}

// AdminHandler operator endpoints, mounted behind admin auth
type AdminHandler struct {
	scheduler PassTrigger
	logger    logrus.FieldLogger
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(scheduler PassTrigger, logger logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{scheduler: scheduler, logger: logger}
}

// TriggerReconcileHandler runs one reconciliation pass and waits for it. The
// pass is not tied to the request and completes even if the client disconnects.
// POST /api/admin/reconcile
func (h *AdminHandler) TriggerReconcileHandler(c *gin.Context) {
	result, err := h.scheduler.Trigger()
	if errors.Is(err, services.ErrPassInProgress) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"admin": c.GetString("admin_username"),
			"error": err.Error(),
		}).Error("[AdminHandler] Manual reconciliation pass failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "data": result})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"admin":     c.GetString("admin_username"),
		"processed": result.Processed,
	}).Info("[AdminHandler] Manual reconciliation pass finished")
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// PassStatusHandler outcome of the most recent pass
// GET /api/admin/reconcile
func (h *AdminHandler) PassStatusHandler(c *gin.Context) {
	status := h.scheduler.LastStatus()
	if status == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": nil, "message": "no pass has run yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}
