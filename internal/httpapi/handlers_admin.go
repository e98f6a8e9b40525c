package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mos-fine/One-Web/internal/aisettings"
	"github.com/mos-fine/One-Web/internal/apperr"
	"github.com/mos-fine/One-Web/internal/store"
	"github.com/mos-fine/One-Web/internal/usage"
)

// SettingsGetHandler handles GET /api/ai/settings. Secrets are masked.
func SettingsGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := d.Settings.Get(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": s})
	}
}

// SettingsSaveHandler handles POST /api/ai/settings.
func SettingsSaveHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in aisettings.Settings
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		saved, err := d.Settings.Save(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		detail, _ := json.Marshal(map[string]any{
			"enabled":         saved.IsEnabled(),
			"dailyTokenLimit": saved.Limits.DailyTokenLimit,
		})
		audit(d, r, "ai_settings.update", string(saved.ResolvedModelType()), string(detail))
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"message":  "AI settings saved",
			"settings": saved,
		})
	}
}

// UsageStatsHandler handles GET /api/ai/usage-stats.
func UsageStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := d.Ledger.Read(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		history := u.History
		if history == nil {
			history = []usage.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"stats": map[string]any{
				"monthlyTokens": u.MonthlyTokens,
				"dailyTokens":   u.DailyTokens,
				"totalCalls":    u.TotalCalls,
				"history":       history,
			},
		})
	}
}

type testAIRequest struct {
	ModelType aisettings.ModelType `json:"modelType"`
	Prompt    string               `json:"prompt"`
}

// TestAIHandler handles POST /api/ai/test.
func TestAIHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req testAIRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		result, err := d.Prober.Test(r.Context(), req.ModelType, req.Prompt)
		audit(d, r, "ai.test", string(req.ModelType), outcome(err))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
	}
}

// AuditLogsHandler handles GET /api/admin/audit?limit=N&offset=N
func AuditLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		offset := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := r.URL.Query().Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}
		entries, err := d.Store.ListAuditLogs(r.Context(), limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = []store.AuditEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
	}
}

// AdminTokenRotateHandler handles POST /api/admin/token/rotate. The new
// token is returned once; existing sessions stay valid until they expire.
func AdminTokenRotateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := d.AdminToken.Rotate(slog.Default())
		if err != nil {
			writeError(w, r, err)
			return
		}
		audit(d, r, "admin_token.rotate", "admin_token", "")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": tok})
	}
}

type sessionRequest struct {
	Token string `json:"token"`
}

// SessionCreateHandler handles POST /api/auth/session. It exchanges the
// admin token for a session JWT, also set as a cookie.
func SessionCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if d.AdminToken == nil || d.Sessions == nil || !d.AdminToken.ConstantTimeEqual(req.Token) {
			jsonError(w, "invalid admin token", apperr.Unauthorized, http.StatusUnauthorized)
			return
		}
		tok, exp, err := d.Sessions.Issue()
		if err != nil {
			writeError(w, r, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    tok,
			Path:     "/",
			Expires:  exp,
			HttpOnly: true,
			Secure:   d.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		audit(d, r, "session.create", "admin", "")
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"token":     tok,
			"expiresAt": exp.UTC(),
		})
	}
}

// SessionDeleteHandler handles DELETE /api/auth/session.
func SessionDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   d.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func audit(d Dependencies, r *http.Request, action, resource, detail string) {
	if d.Store == nil {
		return
	}
	warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Resource:  resource,
		Detail:    detail,
		RequestID: middleware.GetReqID(r.Context()),
	}))
}

func outcome(err error) string {
	if err == nil {
		return `{"ok":true}`
	}
	b, _ := json.Marshal(map[string]any{"ok": false, "kind": apperr.KindOf(err)})
	return string(b)
}
