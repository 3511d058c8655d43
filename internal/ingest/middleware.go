package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samijaber1/aegis-telemetry/internal/event"
	"go.uber.org/zap"
)

const (
	maxCapturedBody = 64 << 10
	recordTimeout   = 5 * time.Second
)

// Middleware records 404s, 5xx responses and recovered panics as error events.
// A failed recording is logged and never changes the response.
func Middleware(ing *Ingestor) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := captureBody(c.Request)

		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ing.recordFromRequest(c, body, ErrorReport{
				Type:       "unhandled_exception",
				Message:    fmt.Sprint(r),
				Severity:   "critical",
				StackTrace: string(debug.Stack()),
			})
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred"})
				return
			}
			c.Abort()
		}()

		c.Next()

		status := c.Writer.Status()
		switch {
		case status == http.StatusNotFound:
			ing.recordFromRequest(c, body, ErrorReport{
				Type:     "not_found",
				Message:  fmt.Sprintf("%d %s: %s", status, http.StatusText(status), c.Request.URL.Path),
				Severity: "warning",
			})
		case status >= http.StatusInternalServerError:
			msg := http.StatusText(status)
			if len(c.Errors) > 0 {
				msg = c.Errors.String()
			}
			ing.recordFromRequest(c, body, ErrorReport{
				Type:     "internal_server_error",
				Message:  msg,
				Severity: "critical",
			})
		}
	}
}

func (i *Ingestor) recordFromRequest(c *gin.Context, body []byte, report ErrorReport) {
	report.Request = requestContext(c.Request, body)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), recordTimeout)
	defer cancel()

	if _, err := i.RecordError(ctx, report); err != nil {
		i.logger.Warn("error tracking failed",
			zap.String("type", report.Type),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
}

// captureBody reads up to maxCapturedBody bytes and restores the full body for downstream handlers
func captureBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxCapturedBody))
	if err != nil {
		return nil
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	return head
}

func requestContext(r *http.Request, body []byte) *event.RequestContext {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	return &event.RequestContext{
		URL:     r.URL.String(),
		Method:  r.Method,
		Headers: headers,
		Body:    string(body),
	}
}
