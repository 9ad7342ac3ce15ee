package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"igcollector/internal/service"
	"igcollector/pkg/account"
	"igcollector/pkg/auth"
	"igcollector/pkg/collector"
	"igcollector/pkg/errors"
	"igcollector/pkg/logger"
)

// usernamePattern matches valid target and account handles
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// Handlers holds the HTTP handlers and their dependencies
type Handlers struct {
	svc      *service.Service
	resolver *auth.Resolver
	log      logger.Logger
}

// NewHandlers creates the handler set
func NewHandlers(svc *service.Service, resolver *auth.Resolver, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Handlers{svc: svc, resolver: resolver, log: log}
}

// Info serves the service banner
func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Service: "igcollector",
		Version: "1.0.0",
		Endpoints: []string{
			"GET /health",
			"GET /pool-status",
			"POST /collect/{username}",
			"POST /accounts",
			"DELETE /accounts/{username}",
			"POST /cleanup",
		},
	})
}

// Health serves the service health check
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.svc.CheckHealth()

	status := http.StatusOK
	if health.Status == service.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// PoolStatus serves the account pool summary
func (h *Handlers) PoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.PoolStatus())
}

// Collect runs a collection request for the target in the path
func (h *Handlers) Collect(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if !usernamePattern.MatchString(username) {
		writeError(w, r, http.StatusBadRequest, "", "invalid target username")
		return
	}

	req := collector.Request{
		Username:       username,
		IncludeStories: boolQuery(r, "include_stories", true),
		IncludeFeed:    boolQuery(r, "include_feed", true),
	}

	if raw := r.URL.Query().Get("max_feed_posts"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			writeError(w, r, http.StatusBadRequest, "", "max_feed_posts must be an integer in 1-50")
			return
		}
		req.MaxFeedPosts = n
	}

	start := time.Now()
	result := h.svc.CollectMedia(r.Context(), req)

	h.log.InfoWithFields("collect request finished", map[string]interface{}{
		"request_id": requestIDFrom(r),
		"target":     username,
		"success":    result.Success,
		"code":       string(result.Code),
		"duration":   time.Since(start).String(),
	})

	if !result.Success {
		writeJSON(w, statusForCode(result.Code), result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// addAccountRequest is the body of POST /accounts. Password may be a
// secret reference (env:VAR or keyring:item).
type addAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Proxy    string `json:"proxy"`
}

// AddAccount admits a new account into the pool
func (h *Handlers) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "", "invalid request body")
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		writeError(w, r, http.StatusBadRequest, "", "invalid account username")
		return
	}

	password, err := h.resolver.Resolve(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "", "could not resolve account password")
		return
	}

	if err := h.svc.AddAccount(r.Context(), req.Username, password, req.Proxy); err != nil {
		switch {
		case stderrors.Is(err, account.ErrAccountExists):
			writeError(w, r, http.StatusConflict, "", "account already in pool")
		case stderrors.Is(err, account.ErrPoolFull):
			writeError(w, r, http.StatusConflict, "", "account pool is full")
		default:
			h.log.WithError(err).WithField("account", req.Username).Error("failed to add account")
			writeError(w, r, http.StatusBadGateway, "", "account login probe failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse{
		Username: req.Username,
		Message:  "account added to pool",
	})
}

// RemoveAccount drops an account from the pool
func (h *Handlers) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if !usernamePattern.MatchString(username) {
		writeError(w, r, http.StatusBadRequest, "", "invalid account username")
		return
	}

	if err := h.svc.RemoveAccount(username); err != nil {
		if stderrors.Is(err, account.ErrAccountNotFound) {
			writeError(w, r, http.StatusNotFound, "", "account not found")
			return
		}
		h.log.WithError(err).WithField("account", username).Error("failed to remove account")
		writeError(w, r, http.StatusInternalServerError, errors.CodeInternal, "failed to remove account")
		return
	}

	writeJSON(w, http.StatusOK, accountResponse{
		Username: username,
		Message:  "account removed from pool",
	})
}

// Cleanup sweeps expired temp downloads
func (h *Handlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.Cleanup()
	if err != nil {
		h.log.WithError(err).Error("cleanup sweep failed")
		writeError(w, r, http.StatusInternalServerError, errors.CodeInternal, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{
		RemovedFiles: removed,
		Timestamp:    time.Now(),
	})
}

// boolQuery reads a boolean query parameter with a default
func boolQuery(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}
