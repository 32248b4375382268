package storefront

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	sferrors "github.com/rcourtman/storefront/internal/errors"
	"github.com/rcourtman/storefront/internal/logging"
)

const maxRequestBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the taxonomy's HTTP status. Only validation field
// maps and messages attached by the error constructors reach the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := sferrors.HTTPStatus(err)
	body := map[string]any{}

	switch sferrors.KindOf(err) {
	case sferrors.KindValidation:
		body["error"] = "Invalid payload"
		if fields := sferrors.FieldsOf(err); len(fields) > 0 {
			body["details"] = fields
		}
	case sferrors.KindNotFound, sferrors.KindConflict, sferrors.KindConfiguration:
		body["error"] = sferrors.MessageOf(err)
	case sferrors.KindProvider:
		body["error"] = "Upstream service error"
	default:
		body["error"] = "Internal server error"
	}

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a size-limited JSON body into v. Unknown fields are
// tolerated; malformed JSON is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		msg := "must be valid JSON"
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			msg = "is required"
		case errors.As(err, &maxErr):
			msg = "is too large"
		}
		return sferrors.Validation("http.decode", map[string][]string{"body": {msg}})
	}
	return nil
}

// relay writes a downstream response through unchanged.
func relay(w http.ResponseWriter, status int, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
