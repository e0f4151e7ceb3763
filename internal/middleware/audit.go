package middleware

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/services"
)

const maxAuditBody = 2000

// AuditLog records write operations (POST/PUT/PATCH/DELETE) to system_logs.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "PATCH" && method != "DELETE" {
			c.Next()
			return
		}

		// Uploads are recorded by name only.
		var bodySnippet string
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			bodySnippet = "[multipart upload]"
		} else if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody+1))
			rest := c.Request.Body
			c.Request.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(bodyBytes), rest), rest}
			bodySnippet = truncateBody(bodyBytes, maxAuditBody)
		}

		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)
		services.LogInfo(module, action, formatAuditMessage(method, c.Request.URL.Path, status),
			c.ClientIP(), c.Request.UserAgent(), map[string]interface{}{
				"method": method,
				"path":   c.Request.URL.Path,
				"status": status,
				"body":   bodySnippet,
				"audit":  true,
			})
	}
}

// truncateBody cuts b to at most limit bytes without splitting a rune.
func truncateBody(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "...[truncated]"
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/config/teams/:id" + "PUT" -> module="config", action="update"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	module = strings.SplitN(path, "/", 2)[0]
	if module == "" {
		module = "unknown"
	}

	switch method {
	case "POST":
		action = "create"
	case "PUT", "PATCH":
		action = "update"
	case "DELETE":
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	if strings.HasSuffix(fullPath, "/upload") || strings.HasSuffix(fullPath, "/import") {
		action = path[strings.LastIndex(path, "/")+1:]
	}
	if strings.HasSuffix(fullPath, "/move-and-delete") {
		action = "move"
	}
	return module, action
}

func formatAuditMessage(method, path string, status int) string {
	outcome := "OK"
	if status < 200 || status >= 300 {
		outcome = "Failed"
	}
	return fmt.Sprintf("[Audit] %s %s -> %s (%d)", method, path, outcome, status)
}
