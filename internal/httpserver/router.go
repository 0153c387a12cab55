package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rishisurf/erads/internal/admission"
	"github.com/rishisurf/erads/internal/apierr"
	Lm "github.com/rishisurf/erads/internal/middleware"
	"github.com/rishisurf/erads/internal/reputation"
	"github.com/rishisurf/erads/internal/store"
)

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

// RouterDeps wires the engines the router dispatches to.
type RouterDeps struct {
	Store      *store.Store
	Pipeline   *admission.Pipeline
	Reputation *reputation.Engine
}

// NewRouter builds the Chi router exposing the admission check, the
// reputation check, and the admin CRUD surface over bans, API keys,
// geo-blocks, and manual blocks.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(Lm.AccessLoggerFromEnv())

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "erads", "status": "ok", "hint": "see /health and /metrics"})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if IsDraining() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/check", handleCheck(d))
	r.Get("/v1/reputation/{address}", handleReputation(d))

	r.Route("/v1/admin", func(admin chi.Router) {
		admin.Route("/keys", func(rt chi.Router) {
			rt.Get("/", handleListKeys(d))
			rt.Post("/", handleCreateKey(d))
			rt.Get("/{id}", handleGetKey(d))
			rt.Post("/{id}/rotate", handleRotateKey(d))
			rt.Delete("/{id}", handleDeleteKey(d))
		})
		admin.Route("/bans", func(rt chi.Router) {
			rt.Get("/", handleListBans(d))
			rt.Post("/", handleCreateBan(d))
			rt.Delete("/{identifier}", handleRemoveBan(d))
		})
		admin.Route("/geo", func(rt chi.Router) {
			rt.Get("/", handleGeoList(d))
			rt.Put("/", handleGeoReplace(d))
			rt.Post("/{code}", handleGeoAdd(d))
			rt.Delete("/{code}", handleGeoRemove(d))
		})
		admin.Route("/manual-blocks", func(rt chi.Router) {
			rt.Get("/", handleListManualBlocks(d))
			rt.Post("/", handleAddManualBlock(d))
			rt.Delete("/{kind}/{identifier}", handleRemoveManualBlock(d))
		})
		admin.Get("/stats", handleStats(d))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apierr.Validation:
		status = http.StatusBadRequest
	case apierr.NotFound:
		status = http.StatusNotFound
	case apierr.Unauthorized:
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"error": string(kind), "message": err.Error()})
}

// clientAddress extracts the caller's address from proxy headers,
// preferring the ones a fronting CDN/LB sets over raw RemoteAddr.
func clientAddress(r *http.Request) string {
	if v := r.Header.Get("Cf-Connecting-Ip"); v != "" {
		return v
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		parts := strings.Split(v, ",")
		return strings.TrimSpace(parts[0])
	}
	if v := r.Header.Get("X-Real-Ip"); v != "" {
		return v
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func handleCheck(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Path    string `json:"path"`
			Method  string `json:"method"`
			ApiKey  string `json:"api_key"`
			Country string `json:"country"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		env := admission.Envelope{
			Address:   clientAddress(r),
			ApiKey:    body.ApiKey,
			Path:      body.Path,
			Method:    body.Method,
			Country:   body.Country,
			UserAgent: r.Header.Get("User-Agent"),
		}
		decision := d.Pipeline.Check(r.Context(), env)

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt, 10))
		if decision.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfter, 10))
		}
		status := http.StatusOK
		if !decision.Allowed {
			status = http.StatusForbidden
		}
		writeJSON(w, status, decision)
	}
}

func handleReputation(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := chi.URLParam(r, "address")
		bypass := r.URL.Query().Get("refresh") == "true"
		c, err := d.Reputation.Classify(r.Context(), address, bypass)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleListKeys(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		keys, err := d.Store.ListApiKeys(r.Context(), limit, offset)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, keys)
	}
}

func handleCreateKey(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name          string            `json:"name"`
			Limit         int64             `json:"limit"`
			WindowSeconds int64             `json:"window_seconds"`
			ExpiresInSecs int64             `json:"expires_in_seconds"`
			Metadata      map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, apierr.Validationf("invalid request body"))
			return
		}
		var expiresAt *time.Time
		if body.ExpiresInSecs > 0 {
			t := d.Store.Now().Add(time.Duration(body.ExpiresInSecs) * time.Second)
			expiresAt = &t
		}
		key, plaintext, err := d.Store.CreateApiKey(r.Context(), body.Name, body.Limit, body.WindowSeconds, expiresAt, body.Metadata)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"key": key, "plaintext": plaintext})
	}
}

func handleGetKey(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		key, err := d.Store.GetApiKeyByID(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if key == nil {
			writeErr(w, apierr.NotFoundf("api key %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, key)
	}
}

func handleRotateKey(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		key, plaintext, err := d.Store.RotateApiKey(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "plaintext": plaintext})
	}
}

func handleDeleteKey(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Store.DeleteApiKey(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListBans(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		bans, err := d.Store.ListActiveBans(r.Context(), limit, offset)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bans)
	}
}

func handleCreateBan(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Identifier        string `json:"identifier"`
			Reason            string `json:"reason"`
			DurationSeconds   *int64 `json:"duration_seconds"`
			CreatedBy         string `json:"created_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, apierr.Validationf("invalid request body"))
			return
		}
		ban, err := d.Store.CreateBan(r.Context(), body.Identifier, body.Reason, body.DurationSeconds, body.CreatedBy)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ban)
	}
}

func handleRemoveBan(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := chi.URLParam(r, "identifier")
		if err := d.Store.RemoveAllBans(r.Context(), identifier); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGeoList(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enabled, err := d.Store.GeoIsEnabled(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		codes, err := d.Store.GeoList(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled, "countries": codes})
	}
}

func handleGeoReplace(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Enabled   bool     `json:"enabled"`
			Countries []string `json:"countries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, apierr.Validationf("invalid request body"))
			return
		}
		if err := d.Store.GeoReplaceAll(r.Context(), body.Countries); err != nil {
			writeErr(w, err)
			return
		}
		if err := d.Store.GeoSetEnabled(r.Context(), body.Enabled); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGeoAdd(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if err := d.Store.GeoAdd(r.Context(), code); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGeoRemove(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		if err := d.Store.GeoRemove(r.Context(), code); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListManualBlocks(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.Store.ListManualBlocks(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleAddManualBlock(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Identifier string `json:"identifier"`
			Kind       string `json:"kind"`
			Reason     string `json:"reason"`
			BlockedBy  string `json:"blocked_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, apierr.Validationf("invalid request body"))
			return
		}
		entry := store.ManualBlockEntry{
			Identifier: body.Identifier,
			Kind:       body.Kind,
			Reason:     body.Reason,
			BlockedBy:  body.BlockedBy,
		}
		if err := d.Store.AddManualBlock(r.Context(), entry); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func handleRemoveManualBlock(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := chi.URLParam(r, "kind")
		identifier := chi.URLParam(r, "identifier")
		if err := d.Store.RemoveManualBlock(r.Context(), identifier, kind); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStats(d RouterDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				days = n
			}
		}
		end := d.Store.Now()
		start := end.AddDate(0, 0, -days)
		agg, err := d.Store.Aggregate(r.Context(), start, end, 10)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agg)
	}
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, offset = 100, 0
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
	return
}
