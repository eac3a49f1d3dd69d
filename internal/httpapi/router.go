package httpapi

import (
	"net/http"
)

// Router wires the ledger endpoints. metrics may be nil.
func Router(h *Handlers, metrics http.Handler, maxInflight int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/v1/accounts", h.OpenAccount)    // POST
	mux.HandleFunc("/v1/accounts/", h.AccountByPath) // GET balance, POST deposit|withdraw
	mux.HandleFunc("/v1/transfers", h.PostTransfer)  // POST
	mux.HandleFunc("/v1/apr", h.APR)                 // GET
	mux.HandleFunc("/v1/journal/head", h.JournalHead)
	mux.HandleFunc("/v1/journal/export", h.JournalExport)

	// Scrapes stay outside the in-flight limit so a busy server is still observable.
	api := withConcurrencyLimit(mux, maxInflight)
	if metrics == nil {
		return api
	}
	root := http.NewServeMux()
	root.Handle("/metrics", metrics)
	root.Handle("/", api)
	return root
}

func withConcurrencyLimit(next http.Handler, max int) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			next.ServeHTTP(w, r)
		default:
			// Fast fail instead of queueing forever.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server busy"}`))
		}
	})
}
