package delivery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/mediapro/api/internal/service"
	"github.com/mediapro/api/pkg/response"
)

// HeaderJobID carries the job id on file responses.
const HeaderJobID = "X-Job-Id"

// ErrIncomplete is reported when the transport closed the body before all of
// it was sent.
var ErrIncomplete = errors.New("transfer ended before the body was fully sent")

// Deliver streams result to the client as an attachment. The result is
// finished exactly once: when the transport closes the body, or here if the
// body cannot be opened.
func Deliver(c *fiber.Ctx, result *service.Result, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		src  io.ReadCloser
		size = result.Size
	)
	switch {
	case result.Stream != nil:
		src = result.Stream
		size = -1
	case result.Path != "":
		f, err := os.Open(result.Path)
		if err != nil {
			result.Finish(err)
			return response.DeliveryFailed(c, "Failed to open artifact")
		}
		src = f
	default:
		result.Finish(errors.New("result has no body"))
		return response.DeliveryFailed(c, "Nothing to deliver")
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, ContentDisposition(result.Filename))
	c.Set(HeaderJobID, result.JobID)

	b := &body{
		src:    src,
		size:   size,
		finish: result.Finish,
		logger: logger.With("component", "delivery", "job_id", result.JobID),
	}
	return c.SendStream(b, int(size))
}

// ContentDisposition builds an attachment header for filename. Non-ASCII
// names are sent in the RFC 2231 extended form.
func ContentDisposition(filename string) string {
	filename = filepath.Base(filename)
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

// body is handed to fasthttp as the response stream. fasthttp closes it once
// the response is written or the write fails.
type body struct {
	src    io.ReadCloser
	size   int64
	finish func(error)
	logger *slog.Logger

	mu      sync.Mutex
	sent    int64
	eof     bool
	readErr error
	once    sync.Once
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.src.Read(p)
	b.mu.Lock()
	b.sent += int64(n)
	switch {
	case err == io.EOF:
		b.eof = true
	case err != nil:
		b.readErr = err
	}
	b.mu.Unlock()
	return n, err
}

func (b *body) Close() error {
	b.once.Do(func() {
		closeErr := b.src.Close()

		b.mu.Lock()
		sent, eof, readErr := b.sent, b.eof, b.readErr
		b.mu.Unlock()

		var deliveryErr error
		switch {
		case readErr != nil:
			deliveryErr = fmt.Errorf("read body: %w", readErr)
		case b.size >= 0 && sent < b.size:
			deliveryErr = fmt.Errorf("%w: sent %d of %d bytes", ErrIncomplete, sent, b.size)
		case b.size < 0 && !eof:
			deliveryErr = fmt.Errorf("%w: sent %d bytes", ErrIncomplete, sent)
		}

		if deliveryErr != nil {
			b.logger.Warn("delivery failed", "error", deliveryErr, "sent_bytes", sent)
		} else {
			b.logger.Info("delivery finished", "sent_bytes", sent)
		}
		if closeErr != nil {
			b.logger.Debug("body close", "error", closeErr)
		}
		b.finish(deliveryErr)
	})
	return nil
}
