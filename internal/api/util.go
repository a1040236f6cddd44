package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/org/passkeeper/internal/shared"
	"github.com/rs/zerolog/hlog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind shared.Kind) int {
	switch kind {
	case shared.KindInvalidCredentials, shared.KindInvalidToken, shared.KindExpiredToken, shared.KindUnauthenticated:
		return http.StatusUnauthorized
	case shared.KindConflict:
		return http.StatusConflict
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with the status of its kind. The client
// gets the safe message; 5xx causes are logged with the request.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := shared.KindOf(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("kind", kind.String()).Msg("request failed")
	}
	writeError(w, code, shared.MessageOf(err))
}
