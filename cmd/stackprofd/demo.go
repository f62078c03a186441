package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// demoApp is a small workload to profile: a cheap JSON endpoint, a CPU-bound
// one and a sleeping one.
func demoApp() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"status": "ok"})
	})

	mux.HandleFunc("/v1/users", func(w http.ResponseWriter, r *http.Request) {
		users := make([]map[string]interface{}, 0, 50)
		for i := 1; i <= 50; i++ {
			users = append(users, map[string]interface{}{
				"id":   i,
				"name": "user-" + strconv.Itoa(i),
			})
		}
		writeJSON(w, map[string]interface{}{"users": users})
	})

	mux.HandleFunc("/v1/work", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		if n <= 0 || n > 40 {
			n = 30
		}
		writeJSON(w, map[string]interface{}{"n": n, "fib": fib(n)})
	})

	mux.HandleFunc("/v1/slow", func(w http.ResponseWriter, r *http.Request) {
		d, err := time.ParseDuration(r.URL.Query().Get("d"))
		if err != nil || d <= 0 || d > 10*time.Second {
			d = 250 * time.Millisecond
		}
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
		writeJSON(w, map[string]interface{}{"slept": d.String()})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"path":      r.URL.Path,
			"method":    r.Method,
			"query":     r.URL.RawQuery,
			"timestamp": time.Now().Format(time.RFC3339),
			"headers":   headerMap(r.Header),
		})
	})

	return mux
}

func fib(n int) int {
	if n < 2 {
		return n
	}
	return fib(n-1) + fib(n-2)
}

func headerMap(h http.Header) map[string]string {
	result := make(map[string]string)
	for k, v := range h {
		if len(v) > 0 {
			result[k] = v[0]
		}
	}
	return result
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
