package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mos-fine/One-Web/internal/apperr"
	"github.com/mos-fine/One-Web/internal/orchestrator"
)

// SignedURLHandler handles GET /api/ai/signed-url?appId=&model=
func SignedURLHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := d.Orchestrator.Sign(r.Context(), orchestrator.SignRequest{
			AppID: strings.TrimSpace(q.Get("appId")),
			Model: q.Get("model"),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"url":     res.URL,
			"model":   res.ModelType,
		})
	}
}

// ValidateConfigHandler handles GET /api/ai/validate-config. The verdict is
// carried in the body; the status is always 200.
func ValidateConfigHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := d.Orchestrator.Validate(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   res.OK,
			"message":   res.Message,
			"modelType": res.ModelType,
		})
	}
}

type tokenUsageRequest struct {
	ModelType string          `json:"modelType"`
	Count     json.RawMessage `json:"count"`
}

// TokenUsageHandler handles POST /api/ai/token-usage.
func TokenUsageHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenUsageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		count, err := parseCount(req.Count)
		if err != nil {
			writeError(w, r, err)
			return
		}
		u, err := d.Ledger.Record(r.Context(), count)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if d.Metrics != nil {
			d.Metrics.TokensRecorded.Add(float64(count))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "token usage recorded",
			"stats": map[string]any{
				"dailyTokens":   u.DailyTokens,
				"monthlyTokens": u.MonthlyTokens,
				"totalCalls":    u.TotalCalls,
			},
		})
	}
}

// parseCount accepts a JSON integer or a string holding one.
func parseCount(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperr.New(apperr.InvalidInput, "count is required")
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, apperr.New(apperr.InvalidInput, "count must be a number")
		}
		text = strings.TrimSpace(text)
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.InvalidInput, "count must be an integer")
	}
	if n <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "count must be positive")
	}
	return n, nil
}
