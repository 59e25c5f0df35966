// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package responder

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRejectHandler answers every request with 503 and then calls onRequest.
// The installer treats the refusal as "no updates" and carries on, while the
// callback learns that the guest has reached the updates fetch.
func NewRejectHandler(logger *slog.Logger, onRequest func()) http.Handler {
	reject := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		http.Error(w, "Service Unavailable (fake)", http.StatusServiceUnavailable)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		if onRequest != nil {
			onRequest()
		}
	}
	return catchAll(logger, reject)
}

// NewSingleFileHandler answers every request with the full contents of path.
// The file is reopened per request so it may be replaced between requests.
func NewSingleFileHandler(logger *slog.Logger, path string) http.Handler {
	serve := func(w http.ResponseWriter, r *http.Request) {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("payload unavailable", "path", path, "error", err)
			http.Error(w, "payload unavailable", http.StatusNotFound)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			logger.Error("payload unreadable", "path", path, "error", err)
			http.Error(w, "payload unavailable", http.StatusNotFound)
			return
		}

		header := w.Header()
		header.Set("Content-Type", "application/octet-stream")
		header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
		header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, f); err != nil {
			logger.Warn("payload transfer interrupted", "path", path, "error", err)
		}
	}
	return catchAll(logger, serve)
}

func catchAll(logger *slog.Logger, fn http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.HandleFunc("/", fn)
	r.HandleFunc("/*", fn)
	r.NotFound(fn)
	r.MethodNotAllowed(fn)
	return r
}
