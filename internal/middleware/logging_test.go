package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		reqID     string
		wantLevel string
	}{
		{"ok", http.StatusOK, "", "INFO"},
		{"client error", http.StatusPaymentRequired, "abc-123", "WARN"},
		{"server error", http.StatusServiceUnavailable, "", "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest("POST", "/api/listings/3/purchase", nil)
			if tt.reqID != "" {
				req.Header.Set(requestIDHeader, tt.reqID)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", line["level"], tt.wantLevel)
			}
			if line["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", line["status"], tt.status)
			}
			if line["path"] != "/api/listings/3/purchase" {
				t.Errorf("path = %v", line["path"])
			}

			echoed := rec.Header().Get(requestIDHeader)
			if echoed == "" {
				t.Fatal("expected request id header")
			}
			if tt.reqID != "" && echoed != tt.reqID {
				t.Errorf("request id = %q, want %q", echoed, tt.reqID)
			}
			if line["request_id"] != echoed {
				t.Errorf("logged request id = %v, want %q", line["request_id"], echoed)
			}
		})
	}
}
