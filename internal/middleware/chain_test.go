package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func tag(order *[]string, name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name+"-before")
			next.ServeHTTP(w, r)
			*order = append(*order, name+"-after")
		})
	}
}

func TestChain(t *testing.T) {
	var order []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusOK)
	})

	final := NewChain(tag(&order, "m1"), tag(&order, "m2")).Then(handler)
	final.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	expected := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("At index %d: expected %s, got %s", i, v, order[i])
		}
	}
}

func TestChainAppendDoesNotMutate(t *testing.T) {
	var order []string
	base := NewChain(tag(&order, "m1"))
	extended := base.Append(tag(&order, "m2"))

	if base.Len() != 1 {
		t.Errorf("base chain length = %d, want 1", base.Len())
	}
	if extended.Len() != 2 {
		t.Errorf("extended chain length = %d, want 2", extended.Len())
	}
}

func TestChainNilHandler(t *testing.T) {
	if NewChain().Then(nil) != http.DefaultServeMux {
		t.Error("Then(nil) should fall back to DefaultServeMux")
	}
}

func TestBuilderUseIf(t *testing.T) {
	var order []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	final := NewBuilder().
		Use(tag(&order, "always")).
		UseIf(false, tag(&order, "never")).
		UseIf(true, tag(&order, "enabled")).
		Handler(handler)
	final.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	expected := []string{"always-before", "enabled-before", "handler", "enabled-after", "always-after"}
	if len(order) != len(expected) {
		t.Fatalf("got %v, want %v", order, expected)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Errorf("At index %d: expected %s, got %s", i, expected[i], order[i])
		}
	}
}
