package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/and161185/goph-auth/internal/errs"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads one JSON object into dst. Failures come back as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		v := errs.NewValidation()
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			v.Add("body", "is required")
		case errors.As(err, &tooBig):
			v.Add("body", "is too large")
		default:
			v.Add("body", "must be a JSON object")
		}
		return v
	}
	return nil
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}
