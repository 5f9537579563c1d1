package router

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ylv-consulting/landops/internal/audit"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("ip", c.ClientIP()),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
				)
			}
		}
	}
}

// VerifySignature validates the webhook signature header against the shared
// secret before any payload parsing. The comparison is constant time. On
// mismatch the caller gets a bare 401; details go to the log and audit trail
// only, never back to the sender.
func VerifySignature(logger *slog.Logger, secret string, auditor audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader(SignatureHeader)
		if signature == "" {
			rejectUnauthorized(c, logger, auditor, "missing signature header")
			return
		}

		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.Error("Failed to read request body", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "cannot read request body",
			})
			return
		}
		c.Request.Body.Close()

		// Restore the body for handlers that bind JSON directly.
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(bodyBytes)
		expected := hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(signature), []byte(expected)) {
			rejectUnauthorized(c, logger, auditor, "signature mismatch")
			return
		}

		c.Next()
	}
}

// rejectUnauthorized aborts with 401 and records the rejection internally.
func rejectUnauthorized(c *gin.Context, logger *slog.Logger, auditor audit.Recorder, reason string) {
	logger.Warn("Rejected webhook request",
		slog.String("path", c.Request.URL.Path),
		slog.String("ip", c.ClientIP()),
		slog.String("reason", reason),
	)

	if err := auditor.Record(c.Request.Context(), audit.Entry{
		Action:  "webhook.reject",
		Status:  audit.StatusWarning,
		Subject: c.Request.URL.Path,
		Detail:  reason,
	}); err != nil {
		logger.Error("Failed to append audit entry", slog.Any("error", err))
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": "unauthorized",
	})
}
