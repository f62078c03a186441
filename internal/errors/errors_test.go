package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMissingOption(t *testing.T) {
	err := MissingOption("profile_interval")
	if !errors.Is(err, ErrMissingOption) {
		t.Fatalf("errors.Is(%v, ErrMissingOption) = false", err)
	}
	if !strings.Contains(err.Error(), "profile_interval") {
		t.Errorf("Error() = %q, want option name", err.Error())
	}
}

func TestInvalidOption(t *testing.T) {
	err := InvalidOption("mode", "object")
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("errors.Is(%v, ErrInvalidOption) = false", err)
	}
	if err.Error() != "invalid option: mode=object" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestInvalidPattern(t *testing.T) {
	inner := fmt.Errorf("missing closing )")
	err := InvalidPattern("(/v1", inner)
	if !errors.Is(err, ErrInvalidPattern) {
		t.Error("expected ErrInvalidPattern in chain")
	}
	if !errors.Is(err, inner) {
		t.Error("expected compile error in chain")
	}
}

func TestProfilerError(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := Profiler("save", inner)

	var pe *ProfilerError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should find ProfilerError")
	}
	if pe.Op != "save" {
		t.Errorf("Op = %q, want save", pe.Op)
	}
	if !errors.Is(err, ErrProfiler) {
		t.Error("expected ErrProfiler in chain")
	}
	if !errors.Is(err, inner) {
		t.Error("expected underlying error in chain")
	}
	if err.Error() != "profiler save: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestProfilerNil(t *testing.T) {
	if err := Profiler("stop", nil); err != nil {
		t.Errorf("Profiler(op, nil) = %v, want nil", err)
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	e := Wrap(inner, 502, "upstream error")

	if e.Code != 502 {
		t.Errorf("Code = %d, want 502", e.Code)
	}
	want := "upstream error: connection refused"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	if !errors.Is(e, inner) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestWithDetailsAndRequestID(t *testing.T) {
	inner := fmt.Errorf("root cause")
	e := Wrap(inner, 500, "wrapped").
		WithDetails("missing field").
		WithRequestID("req-456")

	if e.Details != "missing field" {
		t.Errorf("Details = %q, want %q", e.Details, "missing field")
	}
	if e.RequestID != "req-456" {
		t.Errorf("RequestID = %q, want %q", e.RequestID, "req-456")
	}
	if e.Unwrap() != inner {
		t.Error("WithDetails should preserve underlying error")
	}
}

func TestWriteJSON(t *testing.T) {
	e := ErrInternalServer.WithDetails("panic: boom").WithRequestID("req-abc")

	w := httptest.NewRecorder()
	e.WriteJSON(w)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["details"] != "panic: boom" {
		t.Errorf("body details = %v", body["details"])
	}
	if body["request_id"] != "req-abc" {
		t.Errorf("body request_id = %v", body["request_id"])
	}
}

func TestSingletonCodes(t *testing.T) {
	tests := []struct {
		err      *HTTPError
		wantCode int
	}{
		{ErrNotFound, 404},
		{ErrMethodNotAllowed, 405},
		{ErrInternalServer, 500},
	}

	for _, tt := range tests {
		t.Run(tt.err.Message, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.wantCode)
			}
		})
	}
}
