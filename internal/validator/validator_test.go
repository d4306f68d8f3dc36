package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestExamToken(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"a1b2c3d4", true},
		{"tok_3f9a-77c2-4b1e", true},
		{"short", false},
		{"has space in it", false},
		{"../../etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ExamToken(tt.token); got != tt.want {
			t.Errorf("ExamToken(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestBindTranslatesFieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"email":"not-an-email","password":"secret123"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req model.RecruiterLoginRequest
	fields := Bind(c, &req)
	if fields == nil {
		t.Fatal("invalid email accepted")
	}
	msg, ok := fields["email"]
	if !ok || !strings.Contains(msg, "email") {
		t.Fatalf("fields = %v, want a translated email error", fields)
	}
	if _, ok := fields["password"]; ok {
		t.Fatalf("valid password reported: %v", fields)
	}
}

func TestBindQuerySessionFilters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	tests := []struct {
		query string
		field string
	}{
		{"status=completed&page=2&per_page=50", ""},
		{"", ""},
		{"status=archived", "status"},
		{"per_page=500", "per_page"},
		{"page=0", ""},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/sessions?"+tt.query, nil)

		var q model.ListSessionsQuery
		fields := BindQuery(c, &q)
		if tt.field == "" {
			if fields != nil {
				t.Errorf("%q: unexpected errors %v", tt.query, fields)
			}
			continue
		}
		if _, ok := fields[tt.field]; !ok {
			t.Errorf("%q: fields = %v, want error on %s", tt.query, fields, tt.field)
		}
	}
}
