package service

import (
	"errors"
	"fmt"

	"github.com/mediapro/api/internal/tool"
	"github.com/mediapro/api/internal/workspace"
	"github.com/mediapro/api/pkg/response"
)

// ValidationError is a request problem detected before any tool runs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DeliveryError reports a transfer that did not reach the client. It is
// logged and recorded on the job but never returned to the client.
type DeliveryError struct {
	JobID string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver job %s: %v", e.JobID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ErrorCode classifies err into a response error code.
func ErrorCode(err error) string {
	var (
		validationErr  *ValidationError
		unsupportedErr *tool.UnsupportedFormatError
		fetchErr       *tool.FetchError
		transcodeErr   *tool.TranscodeError
		workspaceErr   *workspace.Error
		deliveryErr    *DeliveryError
	)
	switch {
	case errors.As(err, &validationErr):
		return response.CodeValidationError
	case errors.As(err, &unsupportedErr):
		return response.CodeUnsupportedFormat
	case errors.As(err, &fetchErr):
		return response.CodeFetchFailed
	case errors.As(err, &transcodeErr):
		return response.CodeTranscodeFailed
	case errors.As(err, &workspaceErr):
		return response.CodeWorkspaceError
	case errors.As(err, &deliveryErr):
		return response.CodeDeliveryFailed
	}
	return response.CodeServiceError
}

// ErrorReason returns a short client-facing message for err.
func ErrorReason(err error) string {
	var (
		fetchErr     *tool.FetchError
		transcodeErr *tool.TranscodeError
	)
	switch {
	case errors.As(err, &fetchErr):
		return fetchErr.Reason()
	case errors.As(err, &transcodeErr):
		return transcodeErr.Reason()
	}
	return err.Error()
}
