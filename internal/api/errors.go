package api

import (
	"net/http"

	"github.com/querypilot/querypilot/internal/failure"
)

// statusForKind maps failure kinds onto HTTP statuses and whether repeating
// the request can succeed.
func statusForKind(kind failure.Kind) (int, bool) {
	switch kind {
	case failure.KindConfiguration:
		return http.StatusPreconditionFailed, false
	case failure.KindUpstream:
		return http.StatusBadGateway, true
	case failure.KindQuery, failure.KindValidation, failure.KindResultShape:
		return http.StatusUnprocessableEntity, false
	case failure.KindInvalidInput:
		return http.StatusBadRequest, false
	case failure.KindNotFound:
		return http.StatusNotFound, false
	case failure.KindBusy:
		return http.StatusConflict, true
	case failure.KindLimit:
		return http.StatusTooManyRequests, true
	default:
		return http.StatusInternalServerError, false
	}
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	kind := failure.KindOf(err)
	status, retryable := statusForKind(kind)
	writeError(r.Context(), w, status, string(kind), failure.MessageOf(err), retryable, extra)
}
