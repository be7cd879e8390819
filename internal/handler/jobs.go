package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/mediapro/api/internal/model"
	"github.com/mediapro/api/internal/service"
	ws "github.com/mediapro/api/internal/websocket"
	"github.com/mediapro/api/pkg/response"
)

type JobHandler struct {
	service *service.JobService
	hub     *ws.Hub
}

func NewJobHandler(svc *service.JobService, hub *ws.Hub) *JobHandler {
	return &JobHandler{
		service: svc,
		hub:     hub,
	}
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Get the recorded state, progress and outcome of a recent job
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Status(c.UserContext(), jobID)
	if err != nil {
		return writeJobError(c, err)
	}

	return response.OK(c, model.JobStatusResponse{Job: job})
}

// Upgrade rejects non-websocket requests to the progress endpoint.
func (h *JobHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Progress handles GET /ws/jobs/:jobId
func (h *JobHandler) Progress() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.hub.HandleConnection(c, c.Params("jobId"))
	})
}
