package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/predictor"
	"github.com/sells-group/mca-router/internal/report"
	"github.com/sells-group/mca-router/internal/store"
	"github.com/sells-group/mca-router/internal/submission"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type predictOneRequest struct {
	Lender   string             `json:"lender"`
	Criteria model.DealCriteria `json:"criteria"`
}

type predictAllRequest struct {
	Lenders  []string           `json:"lenders"`
	Criteria model.DealCriteria `json:"criteria"`
}

func (s *Server) predictOne(w http.ResponseWriter, r *http.Request) {
	var req predictOneRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	pred, err := s.deps.Predictor.Predict(r.Context(), req.Lender, req.Criteria)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// predictAll returns ranked predictions as JSON, or as an xlsx workbook
// when format=xlsx is requested.
func (s *Server) predictAll(w http.ResponseWriter, r *http.Request) {
	var req predictAllRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	preds, err := s.deps.Predictor.PredictAll(r.Context(), req.Lenders, req.Criteria)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="predictions.xlsx"`)
		if err := report.WritePredictions(w, preds, report.Meta{Criteria: req.Criteria}); err != nil {
			writeError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": preds})
}

type profilesResponse struct {
	BuiltAt  *time.Time         `json:"built_at,omitempty"`
	Count    int                `json:"count"`
	Profiles predictor.Profiles `json:"profiles"`
}

func (s *Server) profilesBody(p predictor.Profiles) profilesResponse {
	resp := profilesResponse{Count: len(p), Profiles: p}
	if built := s.deps.Profiles.BuiltAt(); !built.IsZero() {
		resp.BuiltAt = &built
	}
	return resp
}

func (s *Server) getProfiles(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.profilesBody(p))
}

func (s *Server) refreshProfiles(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.Refresh(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.profilesBody(p))
}

type sendBatchRequest struct {
	Lenders     []submission.Candidate `json:"lenders"`
	DocumentIDs []string               `json:"document_ids"`
	Message     submission.Message     `json:"message"`
}

func (s *Server) sendBatch(w http.ResponseWriter, r *http.Request) {
	var req sendBatchRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Submitter.SendBatch(r.Context(), submission.BatchRequest{
		RequestID:   chi.URLParam(r, "id"),
		Lenders:     req.Lenders,
		DocumentIDs: req.DocumentIDs,
		Message:     req.Message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resendRequest struct {
	DocumentIDs []string           `json:"document_ids"`
	Message     submission.Message `json:"message"`
}

func (s *Server) resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Submitter.Resend(r.Context(), chi.URLParam(r, "id"), req.DocumentIDs, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) analyzeDeclines(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Learner.AnalyzeDeclines(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) analyzeDecline(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Learner.AnalyzeDeclineByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) suggestedRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Rules.Suggested(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": nonNilRules(rules)})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RuleFilter{
		LenderName: q.Get("lender"),
		RuleType:   model.RuleType(q.Get("rule_type")),
		Source:     model.RuleSource(q.Get("source")),
	}
	switch q.Get("active") {
	case "true":
		v := true
		filter.Active = &v
	case "false":
		v := false
		filter.Active = &v
	}
	rules, err := s.deps.Rules.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": nonNilRules(rules)})
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var rule model.SuggestedRule
	if err := decode(r, &rule, false); err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.deps.Rules.Create(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) approveRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.deps.Rules.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) rejectRule(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.deps.Rules.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func nonNilRules(rules []model.SuggestedRule) []model.SuggestedRule {
	if rules == nil {
		return []model.SuggestedRule{}
	}
	return rules
}
