package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/vanish/config"
)

// WebUIHandler handles web interface
type WebUIHandler struct {
	config *config.Config
}

// NewWebUIHandler creates a new web UI handler
func NewWebUIHandler(config *config.Config) *WebUIHandler {
	return &WebUIHandler{
		config: config,
	}
}

// Index handles the create form via GET /
func (h *WebUIHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", struct {
		Title      string
		BaseURL    string
		Version    string
		BuildTime  string
		CommitHash string
	}{
		Title:      "vanish - expiring pastes",
		BaseURL:    baseURL(c, h.config),
		Version:    h.config.Version,
		BuildTime:  h.config.BuildTime,
		CommitHash: h.config.CommitHash,
	})
}

// baseURL uses the configured URL or derives one from the request
func baseURL(c *gin.Context, cfg *config.Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}
	scheme := "http"
	if isHTTPS(c) {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}

// isHTTPS detects if the original request was HTTPS, even behind proxies
func isHTTPS(c *gin.Context) bool {
	// Direct TLS connection
	if c.Request.TLS != nil {
		return true
	}

	// Check common proxy headers for original protocol
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "https" {
		return true
	}
	if proto := c.GetHeader("X-Forwarded-Protocol"); proto == "https" {
		return true
	}
	if scheme := c.GetHeader("X-Forwarded-Scheme"); scheme == "https" {
		return true
	}
	if c.GetHeader("X-Forwarded-Ssl") == "on" {
		return true
	}

	return false
}
