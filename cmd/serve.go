package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caseward/forensics-cli/internal/model"
	"github.com/caseward/forensics-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only analysis API",
	Long:  "Serves ingested sources, messages, graphs, alerts, and ledgers over HTTP for case review tooling. The API is read-only; ingestion and analysis stay on the CLI.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		r := buildRouter(st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter wires the read-only API over the store.
func buildRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/sources", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		sources, err := st.ListSources(req.Context(), store.SourceFilter{
			CaseID: q.Get("case"),
			Status: model.SourceStatus(q.Get("status")),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sources)
	})

	r.Get("/sources/{id}", func(w http.ResponseWriter, req *http.Request) {
		src, err := st.GetSource(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, src)
	})

	r.Get("/sources/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		filter, err := messageFilterFromQuery(req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		msgs, err := st.GetMessages(req.Context(), chi.URLParam(req, "id"), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	})

	r.Get("/sources/{id}/graph", func(w http.ResponseWriter, req *http.Request) {
		av, err := st.GetAnalysis(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, av.Graph)
	})

	r.Get("/sources/{id}/alerts", func(w http.ResponseWriter, req *http.Request) {
		av, err := st.GetAnalysis(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, av.Alerts)
	})

	r.Get("/sources/{id}/ledger", func(w http.ResponseWriter, req *http.Request) {
		entries, err := st.GetLedger(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return r
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func messageFilterFromQuery(req *http.Request) (model.MessageFilter, error) {
	var filter model.MessageFilter
	q := req.URL.Query()

	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, eris.Wrap(err, "parse after")
		}
		filter.After = &t
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, eris.Wrap(err, "parse before")
		}
		filter.Before = &t
	}
	filter.Participant = q.Get("participant")
	filter.TextContains = q.Get("contains")
	if v := q.Get("min_sentiment"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, eris.Wrap(err, "parse min_sentiment")
		}
		filter.MinSentiment = &f
	}
	if v := q.Get("max_sentiment"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, eris.Wrap(err, "parse max_sentiment")
		}
		filter.MaxSentiment = &f
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "source not found"})
	case errors.Is(err, store.ErrNotAnalyzed):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "source has no completed analysis"})
	default:
		zap.L().Error("api error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
