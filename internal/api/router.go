// Package api exposes the predictor, orchestrator and rule learner over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/learner"
	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/predictor"
	"github.com/sells-group/mca-router/internal/store"
	"github.com/sells-group/mca-router/internal/submission"
)

// Predictor scores lenders.
type Predictor interface {
	Predict(ctx context.Context, lenderName string, criteria model.DealCriteria) (*model.Prediction, error)
	PredictAll(ctx context.Context, lenders []string, criteria model.DealCriteria) ([]model.Prediction, error)
}

// ProfileCache serves and rebuilds lender profiles.
type ProfileCache interface {
	Get(ctx context.Context) (predictor.Profiles, error)
	Refresh(ctx context.Context) (predictor.Profiles, error)
	BuiltAt() time.Time
}

// Submitter sends and resends submissions.
type Submitter interface {
	SendBatch(ctx context.Context, req submission.BatchRequest) (*submission.BatchResult, error)
	Resend(ctx context.Context, submissionID string, documentIDs []string, msg submission.Message) (*submission.LenderResult, error)
}

// DeclineAnalyzer runs the decline rule learner.
type DeclineAnalyzer interface {
	AnalyzeDeclines(ctx context.Context) (*learner.BatchReport, error)
	AnalyzeDeclineByID(ctx context.Context, id string) (*learner.RecordResult, error)
}

// RuleWorkflow manages lender rules.
type RuleWorkflow interface {
	Suggested(ctx context.Context) ([]model.SuggestedRule, error)
	List(ctx context.Context, filter store.RuleFilter) ([]model.SuggestedRule, error)
	Create(ctx context.Context, rule model.SuggestedRule) (*model.SuggestedRule, error)
	Approve(ctx context.Context, id string) (*model.SuggestedRule, error)
	Reject(ctx context.Context, id string) (bool, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Predictor Predictor
	Profiles  ProfileCache
	Submitter Submitter
	Learner   DeclineAnalyzer
	Rules     RuleWorkflow
}

// Server holds the handlers.
type Server struct {
	deps Deps
}

// NewRouter builds the chi router with CORS for allowedOrigins.
func NewRouter(deps Deps, allowedOrigins []string) http.Handler {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/predictions", func(r chi.Router) {
		r.Post("/", s.predictAll)
		r.Post("/lender", s.predictOne)
	})
	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", s.getProfiles)
		r.Post("/refresh", s.refreshProfiles)
	})

	r.Post("/requests/{id}/submissions", s.sendBatch)
	r.Post("/submissions/{id}/resend", s.resend)

	r.Post("/declines/analyze", s.analyzeDeclines)
	r.Post("/declines/{id}/analyze", s.analyzeDecline)

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", s.listRules)
		r.Post("/", s.createRule)
		r.Get("/suggested", s.suggestedRules)
		r.Post("/{id}/approve", s.approveRule)
		r.Delete("/{id}", s.rejectRule)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
