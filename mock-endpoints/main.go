// Mock webhook receiver for local testing of the delivery pipeline. Each
// route models one endpoint behavior: healthy, slow, permanently broken,
// flaky, and gone. When WEBHOOK_SECRET is set, every request's signature
// is verified against the raw body.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/carebridge/dispatch/internal/signer"
)

var (
	requestCount atomic.Int64
	flakyCount   atomic.Int64
	secret       = os.Getenv("WEBHOOK_SECRET")
)

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	// Always 200
	http.HandleFunc("/hooks/ok", handler(func(w http.ResponseWriter) {
		respond(w, http.StatusOK, map[string]string{"status": "received"})
	}))

	// 200 after a 3 second delay, for timeout testing
	http.HandleFunc("/hooks/slow", handler(func(w http.ResponseWriter) {
		time.Sleep(3 * time.Second)
		respond(w, http.StatusOK, map[string]string{"status": "received (slow)"})
	}))

	// Always 500 — exercises retry, backoff, and the endpoint breaker
	http.HandleFunc("/hooks/fail", handler(func(w http.ResponseWriter) {
		respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}))

	// Fails twice then succeeds, so a delivery lands on its third attempt
	http.HandleFunc("/hooks/flaky", handler(func(w http.ResponseWriter) {
		if flakyCount.Add(1)%3 != 0 {
			respond(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
			return
		}
		respond(w, http.StatusOK, map[string]string{"status": "received (eventually)"})
	}))

	// 410 — a permanent rejection that must not be retried
	http.HandleFunc("/hooks/gone", handler(func(w http.ResponseWriter) {
		respond(w, http.StatusGone, map[string]string{"error": "endpoint retired"})
	}))

	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("mock webhook receiver starting on :%s", port)
	log.Printf("  POST /hooks/ok     -> 200")
	log.Printf("  POST /hooks/slow   -> 200 (3s delay)")
	log.Printf("  POST /hooks/fail   -> 500")
	log.Printf("  POST /hooks/flaky  -> 503, 503, 200, ...")
	log.Printf("  POST /hooks/gone   -> 410")
	log.Printf("  GET  /stats        -> request count")
	if secret != "" {
		log.Printf("verifying signatures with WEBHOOK_SECRET")
	}

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func handler(respondWith func(http.ResponseWriter)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}

		verified := "-"
		if secret != "" {
			if signer.Verify(secret, body, r.Header.Get("X-Webhook-Signature")) {
				verified = "ok"
			} else {
				verified = "BAD"
				logRequest(r, count, http.StatusUnauthorized, verified)
				respond(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
				return
			}
		}

		logRequest(r, count, 0, verified)
		respondWith(w)
	}
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func logRequest(r *http.Request, count int64, status int, verified string) {
	fmt.Printf("[#%d] %s %s (%d) | sig=%s event=%s record=%s attempt=%s\n",
		count,
		r.Method,
		r.URL.Path,
		status,
		verified,
		r.Header.Get("X-Webhook-Event"),
		truncate(r.Header.Get("X-Webhook-ID"), 8),
		r.Header.Get("X-Webhook-Attempt"),
	)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
