package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mediapro/api/internal/service"
	"github.com/mediapro/api/internal/workspace"
	"github.com/mediapro/api/pkg/response"
)

type SystemHandler struct {
	service *service.SystemService
}

func NewSystemHandler(svc *service.SystemService) *SystemHandler {
	return &SystemHandler{service: svc}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Report service status and the availability of yt-dlp and ffmpeg
// @Tags         System
// @Produce      json
// @Success      200 {object} service.HealthReport
// @Router       /health [get]
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return response.OK(c, h.service.Health(c.UserContext()))
}

// Platforms handles GET /api/platforms
// @Summary      List platforms
// @Description  List the source platforms recognised in metadata
// @Tags         System
// @Produce      json
// @Success      200 {array} model.Platform
// @Router       /api/platforms [get]
func (h *SystemHandler) Platforms(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"platforms": h.service.Platforms()})
}

// Stats handles GET /api/stats
// @Summary      Service statistics
// @Description  Workspace counters, scratch usage and tool slot usage
// @Tags         System
// @Produce      json
// @Success      200 {object} model.StatsResponse
// @Router       /api/stats [get]
func (h *SystemHandler) Stats(c *fiber.Ctx) error {
	return response.OK(c, h.service.Stats())
}

// Cleanup handles POST /api/cleanup
// @Summary      Sweep scratch space
// @Description  Remove stale scratch entries that belong to no active job
// @Tags         System
// @Produce      json
// @Success      200 {object} model.SweepResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/cleanup [post]
func (h *SystemHandler) Cleanup(c *fiber.Ctx) error {
	result, err := h.service.Sweep()
	if err != nil {
		if errors.Is(err, workspace.ErrSweepInProgress) {
			return response.Conflict(c, "Cleanup already in progress")
		}
		return writeJobError(c, err)
	}

	return response.OK(c, result)
}
