package main

import (
	"context"
	"encoding/json"
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

	"github.com/kestrel-commerce/sourcing-cli/internal/feedback"
	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
	"github.com/kestrel-commerce/sourcing-cli/internal/report"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policy HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPolicyEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		deps := serverDeps{
			evaluator: env.evaluator,
			mapper:    env.mapper,
			mode:      actionMode(),
			intake:    feedback.NewIntake(env.events, env.store, cfg.Policy),
			reports:   report.NewBuilder(env.stats, env.evaluator, env.store, cfg.Report.Concurrency),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(deps),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type evalService interface {
	Evaluate(ctx context.Context, categoryCode string) (*model.PolicyEvaluation, error)
	EvaluateKeyword(ctx context.Context, keyword string) (*model.PolicyEvaluation, error)
}

type feedbackService interface {
	Submit(ctx context.Context, sig feedback.Signal) ([]feedback.Receipt, error)
	ApprovePivot(ctx context.Context, categoryCode, reason string) (*feedback.Receipt, error)
}

type reportService interface {
	GradeDistribution(ctx context.Context, windowDays int) (*report.Distribution, error)
	Feed(ctx context.Context, since time.Time, limit int) ([]report.FeedItem, error)
	FailureHeatmap(ctx context.Context, windowDays int) ([]report.HeatmapRow, error)
}

type serverDeps struct {
	evaluator evalService
	mapper    *policy.ActionMapper
	mode      model.Mode
	intake    feedbackService
	reports   reportService
}

func newRouter(deps serverDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/categories/{code}/evaluation", deps.handleEvaluate)
		r.Get("/keywords/{keyword}/evaluation", deps.handleEvaluateKeyword)
		r.Post("/feedback", deps.handleFeedback)
		r.Post("/categories/{code}/pivot", deps.handlePivot)
		r.Get("/reports/grades", deps.handleGrades)
		r.Get("/reports/events", deps.handleEvents)
		r.Get("/reports/heatmap", deps.handleHeatmap)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (d serverDeps) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ev, err := d.evaluator.Evaluate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	d.writeEvaluation(w, r, ev)
}

func (d serverDeps) handleEvaluateKeyword(w http.ResponseWriter, r *http.Request) {
	ev, err := d.evaluator.EvaluateKeyword(r.Context(), chi.URLParam(r, "keyword"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	d.writeEvaluation(w, r, ev)
}

func (d serverDeps) writeEvaluation(w http.ResponseWriter, r *http.Request, ev *model.PolicyEvaluation) {
	resp := struct {
		*model.PolicyEvaluation
		Decision *model.ActionDecision `json:"decision,omitempty"`
	}{PolicyEvaluation: ev}

	if r.URL.Query().Get("decide") == "true" {
		decision := d.mapper.Decide(ev, d.mode)
		resp.Decision = &decision
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d serverDeps) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var sig feedback.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
		return
	}

	receipts, err := d.intake.Submit(r.Context(), sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (d serverDeps) handlePivot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	receipt, err := d.intake.ApprovePivot(r.Context(), chi.URLParam(r, "code"), req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (d serverDeps) handleGrades(w http.ResponseWriter, r *http.Request) {
	dist, err := d.reports.GradeDistribution(r.Context(), queryInt(r, "window", 365))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (d serverDeps) handleEvents(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	limit := queryInt(r, "limit", 50)

	items, err := d.reports.Feed(r.Context(), time.Now().UTC().AddDate(0, 0, -days), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

func (d serverDeps) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	rows, err := d.reports.FailureHeatmap(r.Context(), queryInt(r, "window", 7))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"heatmap": rows})
}
