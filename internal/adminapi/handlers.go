package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/google/uuid"
)

// httpHandler holds a Dispatcher built from the same dependencies as
// LineServer's, so the HTTP surface and the raw line channel execute
// commands identically.
type httpHandler struct {
	dispatcher *Dispatcher
}

// health godoc
// @Summary Health check
// @Description Returns server health status
// @Tags system
// @Produce json
// @Success 200 {object} adminapi.StatusResponse
// @Router /health [get]
func (h *httpHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// stats godoc
// @Summary Runtime and rule-engine statistics
// @Description Returns uptime, system CPU/memory usage, rule counts, and cache hit/miss rates
// @Tags system
// @Produce json
// @Success 200 {object} adminapi.GetStatusResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *httpHandler) stats(c *gin.Context) {
	resp := h.dispatcher.Handle(c.Request.Context(), CommandRequest{
		CommandID: uuid.NewString(),
		Type:      CommandGetStatus,
		Timestamp: time.Now(),
		Source:    "http",
	})
	if !resp.Success {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: resp.Error})
		return
	}
	c.JSON(http.StatusOK, resp.Data)
}

// postCommand godoc
// @Summary Submit an administrative command
// @Description HTTP form of the line-oriented command channel
// @Tags commands
// @Accept json
// @Produce json
// @Param command body adminapi.CommandRequest true "Command"
// @Success 200 {object} adminapi.CommandResponse
// @Failure 400 {object} adminapi.ErrorResponse
// @Security ApiKeyAuth
// @Router /commands [post]
func (h *httpHandler) postCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if req.CommandID == "" {
		req.CommandID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	if req.Source == "" {
		req.Source = "http"
	}

	resp := h.dispatcher.Handle(c.Request.Context(), req)
	c.JSON(http.StatusOK, resp)
}
