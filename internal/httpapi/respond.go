package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mos-fine/One-Web/internal/apperr"
)

const maxBodyBytes = 1 << 20

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes the failure envelope: {"success":false,"message":..,"kind":..}.
func jsonError(w http.ResponseWriter, msg string, kind apperr.Kind, code int) {
	writeJSON(w, code, map[string]any{
		"success": false,
		"message": msg,
		"kind":    kind,
	})
}

// writeError classifies err and writes the matching envelope. Unclassified
// errors are logged and reported as internal without their detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			slog.Error("request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
		}
	}
	jsonError(w, apperr.MessageOf(err), kind, apperr.HTTPStatus(kind))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.InvalidInput, "request body is empty")
		}
		return apperr.Wrap(apperr.InvalidInput, "invalid JSON body", err)
	}
	return nil
}

func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}
