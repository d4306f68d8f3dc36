package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrNotFound) })

	tests := []struct {
		name     string
		upstream string
		keep     bool
	}{
		{"well formed upstream", "edge-4f2a.91", true},
		{"missing", "", false},
		{"header injection", "abc\r\nX-Evil: 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.upstream != "" {
				req.Header.Set(HeaderRequestID, tt.upstream)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got := w.Header().Get(HeaderRequestID)
			if got == "" || body.Metadata.RequestID != got {
				t.Fatalf("header %q, metadata %q", got, body.Metadata.RequestID)
			}
			if (got == tt.upstream) != tt.keep {
				t.Errorf("request id = %q, upstream %q, keep %v", got, tt.upstream, tt.keep)
			}
			if body.Error == nil || body.Error.Code != ErrNotFound || body.Error.Message == "" {
				t.Errorf("error body = %+v", body.Error)
			}
		})
	}
}

func TestNewPagination(t *testing.T) {
	tests := []struct{ total, perPage, pages int }{
		{0, 20, 0},
		{20, 20, 1},
		{21, 20, 2},
	}
	for _, tt := range tests {
		if p := NewPagination(1, tt.perPage, tt.total); p.TotalPages != tt.pages {
			t.Errorf("NewPagination(total=%d, per=%d).TotalPages = %d, want %d", tt.total, tt.perPage, p.TotalPages, tt.pages)
		}
	}
}
