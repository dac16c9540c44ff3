package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hivemind-dev/hivemind/internal/config"
)

func serverWith(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func TestStatusProviders(t *testing.T) {
	s := serverWith(config.Default())
	if extras := s.statusExtras(); extras != nil {
		t.Fatalf("extras before registration = %v", extras)
	}

	s.RegisterStatusProvider("mcp", func() any { return []string{"index"} })
	extras := s.statusExtras()
	got, ok := extras["mcp"].([]string)
	if !ok || len(got) != 1 || got[0] != "index" {
		t.Errorf("extras = %v", extras)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no whitelist allows all", nil, "https://evil.example", true},
		{"empty origin always allowed", []string{"https://app.example"}, "", true},
		{"whitelisted origin", []string{"https://app.example"}, "https://app.example", true},
		{"unlisted origin rejected", []string{"https://app.example"}, "https://evil.example", false},
		{"wildcard entry", []string{"*"}, "https://anything.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Gateway.AllowedOrigins = tt.allowed
			s := serverWith(cfg)

			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorized(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		query  string
		want   bool
	}{
		{"no token configured (dev mode)", "", "", "", true},
		{"bearer header match", "s3cret", "Bearer s3cret", "", true},
		{"bearer header mismatch", "s3cret", "Bearer wrong", "", false},
		{"query parameter match", "s3cret", "", "s3cret", true},
		{"query parameter mismatch", "s3cret", "", "wrong", false},
		{"no credentials", "s3cret", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Gateway.Token = tt.token
			s := serverWith(cfg)

			url := "/api/agents"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			r := httptest.NewRequest("GET", url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := s.authorized(r); got != tt.want {
				t.Errorf("authorized() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Token = "s3cret"
	s := serverWith(cfg)
	s.rateLimiter = NewRateLimiter(0)

	called := false
	handler := s.auth(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/api/agents", nil))
	if called || w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated request: called=%v code=%d", called, w.Code)
	}

	w = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/agents", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	handler(w, r)
	if !called {
		t.Error("authenticated request did not reach the handler")
	}
}

func TestAuthMiddlewareRateLimits(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.RateLimitRPM = 2
	s := serverWith(cfg)
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM)

	handler := s.auth(func(w http.ResponseWriter, r *http.Request) {})
	var last int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/api/status", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		handler(w, r)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request code = %d, want 429", last)
	}
}
