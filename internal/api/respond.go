package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/learner"
	"github.com/sells-group/mca-router/internal/predictor"
	"github.com/sells-group/mca-router/internal/store"
	"github.com/sells-group/mca-router/internal/submission"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks malformed request bodies.
var errBadRequest = eris.New("api: bad request")

var contractErrors = []error{
	errBadRequest,
	predictor.ErrMissingLender,
	submission.ErrMissingRequest,
	submission.ErrNoLenders,
	submission.ErrNotResendable,
	learner.ErrNotDeclined,
	learner.ErrInvalidRule,
}

// statusFor maps an error to an HTTP status: contract violations are 400,
// missing rows 404, backward transitions 409, everything else 500.
func statusFor(err error) int {
	for _, target := range contractErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decode(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return eris.Wrapf(errBadRequest, "api: invalid request body: %v", err)
	}
	return nil
}
