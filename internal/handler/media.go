package handler

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mediapro/api/internal/delivery"
	"github.com/mediapro/api/internal/model"
	"github.com/mediapro/api/internal/service"
	"github.com/mediapro/api/pkg/response"
)

type MediaHandler struct {
	service   *service.JobService
	validator *validator.Validate
	logger    *slog.Logger
}

func NewMediaHandler(svc *service.JobService, v *validator.Validate, logger *slog.Logger) *MediaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Info handles POST /api/info
// @Summary      Fetch media metadata
// @Description  Resolve a media URL and return its title, duration, formats and subtitles
// @Tags         Media
// @Accept       json
// @Produce      json
// @Param        request body model.InfoRequest true "Info request"
// @Success      200 {object} model.InfoResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/info [post]
func (h *MediaHandler) Info(c *fiber.Ctx) error {
	var req model.InfoRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Info(c.UserContext(), &req)
	if err != nil {
		return writeJobError(c, err)
	}

	return response.OK(c, result)
}

// Download handles POST /api/download
// @Summary      Download media
// @Description  Download media in the selected format and return it as an attachment
// @Tags         Media
// @Accept       json
// @Produce      octet-stream
// @Param        request body model.DownloadRequest true "Download request"
// @Success      200 {file} binary
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/download [post]
func (h *MediaHandler) Download(c *fiber.Ctx) error {
	var req model.DownloadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Download(c.UserContext(), &req)
	if err != nil {
		return writeJobError(c, err)
	}

	return delivery.Deliver(c, result, h.logger)
}

// ExtractAudio handles POST /api/extract-audio
// @Summary      Extract audio
// @Description  Stream the best audio track through ffmpeg into mp3 or wav
// @Tags         Media
// @Accept       json
// @Produce      octet-stream
// @Param        request body model.ExtractAudioRequest true "Extract audio request"
// @Success      200 {file} binary
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/extract-audio [post]
func (h *MediaHandler) ExtractAudio(c *fiber.Ctx) error {
	var req model.ExtractAudioRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.ExtractAudio(c.UserContext(), &req)
	if err != nil {
		return writeJobError(c, err)
	}

	return delivery.Deliver(c, result, h.logger)
}

// ProcessVideo handles POST /api/process-video
// @Summary      Trim and convert video
// @Description  Download media, cut the requested window and convert it to the output container
// @Tags         Media
// @Accept       json
// @Produce      octet-stream
// @Param        request body model.ProcessVideoRequest true "Process video request"
// @Success      200 {file} binary
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/process-video [post]
func (h *MediaHandler) ProcessVideo(c *fiber.Ctx) error {
	var req model.ProcessVideoRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Process(c.UserContext(), &req)
	if err != nil {
		return writeJobError(c, err)
	}

	return delivery.Deliver(c, result, h.logger)
}
