package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestID(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		if r.Header.Get(RequestIDHeader) != seen {
			t.Error("request header and context should carry the same ID")
		}
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	RequestID()(handler).ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if seen == "" {
		t.Error("Request ID should be set in context")
	}
	if rr.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response header = %q, want %q", rr.Header().Get(RequestIDHeader), seen)
	}
}

func TestRequestIDTrusted(t *testing.T) {
	existingID := "existing-request-id"

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := RequestIDFromContext(r.Context()); id != existingID {
			t.Errorf("Expected request ID %s, got %s", existingID, id)
		}
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, existingID)
	rr := httptest.NewRecorder()
	RequestIDWithConfig(RequestIDConfig{TrustHeader: true})(handler).ServeHTTP(rr, req)

	if rr.Header().Get(RequestIDHeader) != existingID {
		t.Errorf("Expected response header %s, got %s", existingID, rr.Header().Get(RequestIDHeader))
	}
}

func TestRequestIDNotTrusted(t *testing.T) {
	existingID := "existing-request-id"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, existingID)
	rr := httptest.NewRecorder()
	RequestIDWithConfig(RequestIDConfig{TrustHeader: false})(handler).ServeHTTP(rr, req)

	responseID := rr.Header().Get(RequestIDHeader)
	if responseID == existingID {
		t.Error("Should not use incoming request ID when not trusted")
	}
	if responseID == "" {
		t.Error("Should generate new request ID")
	}
}

func TestRequestIDCustomGenerator(t *testing.T) {
	cfg := RequestIDConfig{
		Header:    "X-Trace",
		Generator: func() string { return "custom-generated-id" },
	}

	rr := httptest.NewRecorder()
	RequestIDWithConfig(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if rr.Header().Get("X-Trace") != "custom-generated-id" {
		t.Errorf("Expected custom ID in response, got %s", rr.Header().Get("X-Trace"))
	}
}

func TestRequestIDFromEmptyContext(t *testing.T) {
	if id := RequestIDFromContext(t.Context()); id != "" {
		t.Errorf("expected empty string, got %q", id)
	}
}
