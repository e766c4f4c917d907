package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/vanish/config"
	"github.com/johnwmail/vanish/internal/services"
	"github.com/johnwmail/vanish/models"
)

// TestNowHeader overrides the consume clock when test mode is on
const TestNowHeader = "x-test-now-ms"

// PasteHandler handles paste-related operations
type PasteHandler struct {
	service *services.PasteService
	config  *config.Config
	now     func() time.Time
}

// NewPasteHandler creates a new paste handler
func NewPasteHandler(service *services.PasteService, cfg *config.Config) *PasteHandler {
	return &PasteHandler{
		service: service,
		config:  cfg,
		now:     time.Now,
	}
}

// createPasteBody keeps raw fields so types can be checked strictly. A map
// is used because struct decoding matches keys case-insensitively.
type createPasteBody map[string]json.RawMessage

// Helper: respondError sends a JSON error response
func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// parsePositiveInt accepts absent or null as unset; anything else must be
// a JSON integer literal of at least 1.
func parsePositiveInt(raw json.RawMessage, field string) (*int64, error) {
	if isNull(raw) {
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", services.ErrInvalidInput, field)
	}
	return &n, nil
}

func parseCreateBody(body createPasteBody) (services.CreatePasteRequest, error) {
	var req services.CreatePasteRequest
	content := body["content"]
	if isNull(content) {
		return req, fmt.Errorf("%w: content is required", services.ErrInvalidInput)
	}
	if err := json.Unmarshal(content, &req.Content); err != nil {
		return req, fmt.Errorf("%w: content must be a string", services.ErrInvalidInput)
	}

	var err error
	if req.TTLSeconds, err = parsePositiveInt(body["ttl_seconds"], "ttl_seconds"); err != nil {
		return req, err
	}
	if req.MaxViews, err = parsePositiveInt(body["max_views"], "max_views"); err != nil {
		return req, err
	}
	return req, nil
}

// Create handles paste creation via POST /api/pastes
func (h *PasteHandler) Create(c *gin.Context) {
	// JSON escaping can grow content up to six times
	limit := h.config.MaxContentBytes*6 + 4096
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var body createPasteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := parseCreateBody(body)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.CreatePaste(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":  resp.ID,
		"url": fmt.Sprintf("%s/p/%s", baseURL(c, h.config), resp.ID),
	})
}

// requestNow returns the consume clock for this request; the test header is
// honored only in test mode and malformed values fall back to the real clock
func (h *PasteHandler) requestNow(c *gin.Context) time.Time {
	if h.config.TestMode {
		if raw := c.GetHeader(TestNowHeader); raw != "" {
			if ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return h.now()
}

func (h *PasteHandler) consume(c *gin.Context) (*models.Paste, error) {
	return h.service.ConsumePaste(c.Request.Context(), c.Param("id"), h.requestNow(c))
}

// Get returns paste data via GET /api/pastes/:id
func (h *PasteHandler) Get(c *gin.Context) {
	paste, err := h.consume(c)
	if err != nil {
		if errors.Is(err, services.ErrUnavailable) {
			respondError(c, http.StatusNotFound, "Unavailable")
			return
		}
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content":         paste.Content,
		"remaining_views": paste.RemainingViews,
		"expires_at":      paste.FormatExpiry(),
	})
}

// View renders the paste via GET /p/:id
func (h *PasteHandler) View(c *gin.Context) {
	paste, err := h.consume(c)
	if err != nil {
		if errors.Is(err, services.ErrUnavailable) {
			c.HTML(http.StatusNotFound, "unavailable.html", nil)
			return
		}
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}

	data := struct {
		Content        string
		Limited        bool
		RemainingViews int64
		ExpiresAt      string
	}{Content: paste.Content}
	if paste.RemainingViews != nil {
		data.Limited = true
		data.RemainingViews = *paste.RemainingViews
	}
	if exp := paste.FormatExpiry(); exp != nil {
		data.ExpiresAt = *exp
	}
	c.HTML(http.StatusOK, "view.html", data)
}
