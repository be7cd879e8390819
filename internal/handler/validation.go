package handler

import (
	"errors"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/mediapro/api/internal/service"
	"github.com/mediapro/api/internal/tool"
	"github.com/mediapro/api/internal/workspace"
	"github.com/mediapro/api/pkg/response"
)

var (
	formatSelectorPattern = regexp.MustCompile(`^[A-Za-z0-9*+/\[\]<>=!?^$:._,()~#@%&'"|-]+$`)
	langTagPattern        = regexp.MustCompile(`^(all|[A-Za-z]{2,3}([-_][A-Za-z0-9]{2,8})*)$`)
)

// NewValidator returns a validator with the media request tags registered.
// Field errors are reported under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("media_url", validateMediaURL)
	_ = v.RegisterValidation("format_selector", func(fl validator.FieldLevel) bool {
		return formatSelectorPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("lang_tag", func(fl validator.FieldLevel) bool {
		return langTagPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("timecode", func(fl validator.FieldLevel) bool {
		_, err := tool.ParseTimecode(fl.Field().String())
		return err == nil
	})
	return v
}

func validateMediaURL(fl validator.FieldLevel) bool {
	raw := strings.TrimSpace(fl.Field().String())
	if raw == "" || strings.HasPrefix(raw, "-") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}

// writeJobError maps an orchestrator error to its response.
func writeJobError(c *fiber.Ctx, err error) error {
	var (
		validationErr  *service.ValidationError
		unsupportedErr *tool.UnsupportedFormatError
		fetchErr       *tool.FetchError
		transcodeErr   *tool.TranscodeError
		workspaceErr   *workspace.Error
	)
	switch {
	case errors.As(err, &validationErr):
		return response.ValidationError(c, "Validation failed", map[string]string{validationErr.Field: validationErr.Message})
	case errors.As(err, &unsupportedErr):
		return response.UnsupportedFormat(c, unsupportedErr.Error(), fiber.Map{"supported": supportedFormats(unsupportedErr.Kind)})
	case errors.As(err, &fetchErr):
		return response.FetchFailed(c, fetchErr.Reason())
	case errors.As(err, &transcodeErr):
		return response.TranscodeFailed(c, transcodeErr.Reason())
	case errors.As(err, &workspaceErr):
		return response.WorkspaceError(c, "Failed to prepare workspace")
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	}
	return response.ServiceError(c, err.Error())
}

func supportedFormats(kind string) []string {
	if kind == "audio" {
		return tool.AudioFormats()
	}
	return tool.VideoContainers()
}
