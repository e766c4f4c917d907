package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/vanish/config"
	"github.com/johnwmail/vanish/internal/services"
	"github.com/johnwmail/vanish/static"
	"github.com/johnwmail/vanish/storage"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

// newTestRouter wires a memory-backed service behind the paste routes
func newTestRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	r, _ := newTestRouterWithStore(t, cfg)
	return r
}

func newTestRouterWithStore(t *testing.T, cfg *config.Config) (*gin.Engine, *storage.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	svc := services.NewPasteService(store, cfg, services.WithClock(func() time.Time { return fixedNow }))
	pastes := NewPasteHandler(svc, cfg)
	pastes.now = func() time.Time { return fixedNow }

	tmpl, err := static.Templates()
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}

	r := gin.New()
	r.SetHTMLTemplate(tmpl)
	r.GET("/", NewWebUIHandler(cfg).Index)
	r.POST("/api/pastes", pastes.Create)
	r.GET("/api/pastes/:id", pastes.Get)
	r.GET("/p/:id", pastes.View)
	return r, store
}

func doJSON(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Host = "localhost:3000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func createPaste(t *testing.T, r http.Handler, body string) string {
	t.Helper()
	w := doJSON(r, "POST", "/api/pastes", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.ID
}

func TestPasteHandler_Create(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())

	w := doJSON(r, "POST", "/api/pastes", `{"content":"hello"}`, map[string]string{"X-Forwarded-Proto": "https"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] == "" {
		t.Fatal("expected an id")
	}
	if want := "https://localhost:3000/p/" + resp["id"]; resp["url"] != want {
		t.Errorf("url = %s, want %s", resp["url"], want)
	}
}

func TestPasteHandler_CreateConfiguredBaseURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://paste.example.com"
	r := newTestRouter(t, cfg)

	w := doJSON(r, "POST", "/api/pastes", `{"content":"hello"}`, nil)
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp["url"], "https://paste.example.com/p/") {
		t.Errorf("unexpected url %s", resp["url"])
	}
}

func TestPasteHandler_CreateValidation(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing content", `{}`, http.StatusBadRequest},
		{"null content", `{"content":null}`, http.StatusBadRequest},
		{"empty content", `{"content":""}`, http.StatusBadRequest},
		{"numeric content", `{"content":42}`, http.StatusBadRequest},
		{"zero ttl", `{"content":"x","ttl_seconds":0}`, http.StatusBadRequest},
		{"negative ttl", `{"content":"x","ttl_seconds":-1}`, http.StatusBadRequest},
		{"fractional ttl", `{"content":"x","ttl_seconds":1.5}`, http.StatusBadRequest},
		{"string ttl", `{"content":"x","ttl_seconds":"60"}`, http.StatusBadRequest},
		{"zero views", `{"content":"x","max_views":0}`, http.StatusBadRequest},
		{"string views", `{"content":"x","max_views":"abc"}`, http.StatusBadRequest},
		{"bool views", `{"content":"x","max_views":true}`, http.StatusBadRequest},
		{"invalid json", `{"content":`, http.StatusBadRequest},
		{"array body", `[]`, http.StatusBadRequest},
		{"uppercase content key", `{"CONTENT":"x"}`, http.StatusBadRequest},
		{"ttl past year 9999", `{"content":"x","ttl_seconds":300000000000}`, http.StatusBadRequest},
		{"views beyond 2^53", `{"content":"x","max_views":9007199254740992}`, http.StatusBadRequest},
		{"null policies", `{"content":"x","ttl_seconds":null,"max_views":null}`, http.StatusCreated},
		{"full policy", `{"content":"x","ttl_seconds":60,"max_views":3}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, "POST", "/api/pastes", tt.body, nil)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusBadRequest {
				var resp map[string]string
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["error"] == "" {
					t.Errorf("expected JSON error body, got %s", w.Body.String())
				}
			}
		})
	}
}

func TestPasteHandler_CreateKeysAreCaseSensitive(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())
	id := createPaste(t, r, `{"content":"x","Max_Views":1,"TTL_SECONDS":1}`)

	for i := 0; i < 3; i++ {
		w := doJSON(r, "GET", "/api/pastes/"+id, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("read %d: expected 200, got %d", i, w.Code)
		}
		var resp map[string]interface{}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["remaining_views"] != nil || resp["expires_at"] != nil {
			t.Fatalf("miscased keys set a policy: %v", resp)
		}
	}
}

func TestPasteHandler_CreateTooLarge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxContentBytes = 8
	r := newTestRouter(t, cfg)

	w := doJSON(r, "POST", "/api/pastes", `{"content":"123456789"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized content: expected 400, got %d", w.Code)
	}

	huge := `{"content":"` + strings.Repeat("a", 10000) + `"}`
	w = doJSON(r, "POST", "/api/pastes", huge, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: expected 413, got %d", w.Code)
	}
}

func TestPasteHandler_GetViewLimit(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())
	id := createPaste(t, r, `{"content":"secret","max_views":2}`)

	for _, want := range []float64{1, 0} {
		w := doJSON(r, "GET", "/api/pastes/"+id, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp["content"] != "secret" {
			t.Errorf("content = %v", resp["content"])
		}
		if resp["remaining_views"] != want {
			t.Errorf("remaining_views = %v, want %v", resp["remaining_views"], want)
		}
		if resp["expires_at"] != nil {
			t.Errorf("expires_at = %v, want null", resp["expires_at"])
		}
	}

	w := doJSON(r, "GET", "/api/pastes/"+id, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after exhaustion, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"Unavailable"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestPasteHandler_GetUnlimitedShape(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())
	id := createPaste(t, r, `{"content":"hello"}`)

	w := doJSON(r, "GET", "/api/pastes/"+id, "", nil)
	want := `{"content":"hello","expires_at":null,"remaining_views":null}`
	if w.Body.String() != want {
		t.Errorf("body = %s, want %s", w.Body.String(), want)
	}
}

func TestPasteHandler_GetExpiresAtFormat(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())
	id := createPaste(t, r, `{"content":"hello","ttl_seconds":60}`)

	w := doJSON(r, "GET", "/api/pastes/"+id, "", nil)
	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["expires_at"] != "2023-11-14T22:14:20.000Z" {
		t.Errorf("expires_at = %v", resp["expires_at"])
	}
}

func TestPasteHandler_GetUnknown(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())
	for _, id := range []string{"3f1c2b44-8d4e-4b7a-9c61-2f0e5d7a9b10", "nope"} {
		w := doJSON(r, "GET", "/api/pastes/"+id, "", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("id %s: expected 404, got %d", id, w.Code)
		}
	}
}

func TestPasteHandler_TestClockHeader(t *testing.T) {
	expiredAt := strconv.FormatInt(fixedNow.Add(10001*time.Millisecond).UnixMilli(), 10)
	validAt := strconv.FormatInt(fixedNow.Add(9999*time.Millisecond).UnixMilli(), 10)

	t.Run("honored in test mode", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.TestMode = true
		r := newTestRouter(t, cfg)
		id := createPaste(t, r, `{"content":"x","ttl_seconds":10}`)

		if w := doJSON(r, "GET", "/api/pastes/"+id, "", map[string]string{TestNowHeader: validAt}); w.Code != http.StatusOK {
			t.Errorf("before expiry: expected 200, got %d", w.Code)
		}
		if w := doJSON(r, "GET", "/api/pastes/"+id, "", map[string]string{TestNowHeader: expiredAt}); w.Code != http.StatusNotFound {
			t.Errorf("after expiry: expected 404, got %d", w.Code)
		}
		if w := doJSON(r, "GET", "/api/pastes/"+id, "", map[string]string{TestNowHeader: validAt}); w.Code != http.StatusNotFound {
			t.Errorf("moving the clock back must not revive the paste, got %d", w.Code)
		}

		fresh := createPaste(t, r, `{"content":"x","ttl_seconds":10}`)
		if w := doJSON(r, "GET", "/api/pastes/"+fresh, "", map[string]string{TestNowHeader: "soon"}); w.Code != http.StatusOK {
			t.Errorf("malformed header should fall back to the real clock, got %d", w.Code)
		}
	})

	t.Run("ignored outside test mode", func(t *testing.T) {
		r := newTestRouter(t, config.DefaultConfig())
		id := createPaste(t, r, `{"content":"x","ttl_seconds":10}`)

		if w := doJSON(r, "GET", "/api/pastes/"+id, "", map[string]string{TestNowHeader: expiredAt}); w.Code != http.StatusOK {
			t.Errorf("header must be ignored outside test mode, got %d", w.Code)
		}
	})
}

func TestPasteHandler_View(t *testing.T) {
	r := newTestRouter(t, config.DefaultConfig())
	id := createPaste(t, r, `{"content":"<b>bold</b>","max_views":1}`)

	w := doJSON(r, "GET", "/p/"+id, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("expected HTML, got %s", w.Header().Get("Content-Type"))
	}
	body := w.Body.String()
	if strings.Contains(body, "<b>bold</b>") || !strings.Contains(body, "&lt;b&gt;bold&lt;/b&gt;") {
		t.Errorf("content not escaped: %s", body)
	}

	w = doJSON(r, "GET", "/p/"+id, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "This paste is no longer available.") {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestPasteHandler_ViewAndGetShareViews(t *testing.T) {
	r, store := newTestRouterWithStore(t, config.DefaultConfig())
	id := createPaste(t, r, `{"content":"x","max_views":2}`)

	if w := doJSON(r, "GET", "/p/"+id, "", nil); w.Code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d", w.Code)
	}
	if w := doJSON(r, "GET", "/api/pastes/"+id, "", nil); w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if w := doJSON(r, "GET", "/p/"+id, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("third read: expected 404, got %d", w.Code)
	}
	if w := doJSON(r, "GET", "/api/pastes/"+id, "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("fourth read: expected 404, got %d", w.Code)
	}

	stored, err := store.Get(t.Context(), id)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v, %v", stored, err)
	}
	if *stored.RemainingViews != 0 {
		t.Errorf("remaining_views = %d, want 0", *stored.RemainingViews)
	}
}

func TestPasteHandler_StoreFailure(t *testing.T) {
	r, store := newTestRouterWithStore(t, config.DefaultConfig())
	id := createPaste(t, r, `{"content":"x"}`)
	_ = store.Close()

	if w := doJSON(r, "POST", "/api/pastes", `{"content":"x"}`, nil); w.Code != http.StatusInternalServerError {
		t.Errorf("create: expected 500, got %d", w.Code)
	}
	if w := doJSON(r, "GET", "/api/pastes/"+id, "", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("get: expected 500, got %d", w.Code)
	}
	if w := doJSON(r, "GET", "/p/"+id, "", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("view: expected 500, got %d", w.Code)
	}
}
