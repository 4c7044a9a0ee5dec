package api

import (
	"encoding/json"
	"net/http"

	"github.com/confidentio/tdxid/pkg/tdxerr"
)

// statusFor maps an error taxonomy Kind to the HTTP status spec.md §6
// assigns it. Kinds that don't apply to a given service (e.g. MountFailed
// on the registry side) simply never occur there.
func statusFor(kind tdxerr.Kind) int {
	switch kind {
	case tdxerr.WrongState, tdxerr.Conflict:
		return http.StatusConflict
	case tdxerr.BadSignature, tdxerr.BadToken:
		return http.StatusUnauthorized
	case tdxerr.AttestationRejected:
		return http.StatusForbidden
	case tdxerr.NotFound:
		return http.StatusNotFound
	case tdxerr.ConfigInvalid:
		return http.StatusBadRequest
	case tdxerr.LedgerUnavailable:
		return http.StatusBadGateway
	case tdxerr.MountFailed, tdxerr.LaunchFailed, tdxerr.ShutdownFailed, tdxerr.Corruption:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to a status via its taxonomy Kind (defaulting to
// 500 for an error that never went through tdxerr) and writes it as the
// sole detail - no message beyond the kind ever reaches the caller, per
// spec.md §7.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := tdxerr.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}
	writeJSON(w, statusFor(kind), errorResponse{Error: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
