package web

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/research-mailer/internal/relay"
	"github.com/shineum/research-mailer/internal/report"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type indexPage struct {
	Title       string
	Label       string
	Placeholder string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, indexPage{
		Title:       "Deep Research",
		Label:       "What topic would you like to research?",
		Placeholder: "Enter your search query here",
	})
	if err != nil {
		slog.Error("rendering index", "error", err)
	}
}

// handleRun streams one research run as Server-Sent Events. Every chunk is
// the full current display, rendered from Markdown to sanitized HTML.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	events, err := newEventStream(w)
	if err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		slog.Warn("opening event stream", "error", err)
		return
	}

	log := slog.With("request_id", middleware.GetReqID(r.Context()))
	log.Info("research run started", "query", query)

	ctx := r.Context()
	n, err := relay.Relay(ctx, s.config.Producer, query, func(chunk string) error {
		html, err := report.ToSafeHTML(chunk)
		if err != nil {
			return err
		}
		return events.Send("chunk", strings.TrimSpace(html))
	})

	if ctx.Err() != nil {
		log.Info("research run cancelled", "chunks", n)
		return
	}
	if err != nil {
		log.Warn("research run failed", "chunks", n, "error", err)
		if sendErr := events.Send("error", err.Error()); sendErr != nil {
			return
		}
	}

	_ = events.Send("done", strconv.Itoa(n))
	log.Info("research run finished", "chunks", n)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
