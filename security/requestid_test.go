package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if !isValidRequestID(id) {
			t.Fatalf("GenerateRequestID() = %q, not a valid request ID", id)
		}
		if seen[id] {
			t.Fatalf("GenerateRequestID() returned duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestRequestIDContext(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}

	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
		wantKept bool
	}{
		{name: "no upstream ID", upstream: "", wantKept: false},
		{name: "valid upstream ID", upstream: "abc-123_DEF", wantKept: true},
		{name: "header injection attempt", upstream: "abc\r\nSet-Cookie: x=y", wantKept: false},
		{name: "too long", upstream: strings.Repeat("a", 129), wantKept: false},
		{name: "invalid characters", upstream: "abc<script>", wantKept: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.upstream != "" {
				r.Header.Set(RequestIDHeader, tt.upstream)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			got := w.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatal("response is missing X-Request-ID")
			}
			if got != seen {
				t.Errorf("context ID = %q, response ID = %q", seen, got)
			}
			if tt.wantKept && got != tt.upstream {
				t.Errorf("X-Request-ID = %q, want upstream %q", got, tt.upstream)
			}
			if !tt.wantKept && got == tt.upstream {
				t.Errorf("X-Request-ID = %q, should have been replaced", got)
			}
		})
	}
}
