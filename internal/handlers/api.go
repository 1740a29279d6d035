package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/cf-ai-aether-go/internal/gate"
	"github.com/cf-ai-aether-go/internal/i18n"
	"github.com/cf-ai-aether-go/internal/middleware"
	"github.com/cf-ai-aether-go/internal/models"
	"github.com/cf-ai-aether-go/internal/services/chat"
	"github.com/cf-ai-aether-go/internal/services/reasoning"
	"github.com/cf-ai-aether-go/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// OpenIDHeader carries the identity asserted by the upstream auth proxy
const OpenIDHeader = "X-Open-Id"

type userKey struct{}

// APIHandler serves the JSON API
type APIHandler struct {
	chat      *chat.Service
	gate      *gate.Gate
	security  *middleware.SecurityMiddleware
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(
	chatService *chat.Service,
	g *gate.Gate,
	security *middleware.SecurityMiddleware,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *APIHandler {
	return &APIHandler{
		chat:      chatService,
		gate:      g,
		security:  security,
		localizer: localizer,
		logger:    logger,
	}
}

// NewRouter wires every route. metrics may be nil.
func NewRouter(h *APIHandler, metrics *middleware.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.AccessLog(h.logger))
	if metrics != nil {
		r.Use(metrics.Instrument)
	}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", middleware.MetricsHandler()).Methods(http.MethodGet)

	public := r.PathPrefix("/api/v1/reasoning").Subrouter()
	public.Use(h.rateLimit)
	public.HandleFunc("/compose", h.compose).Methods(http.MethodPost)
	public.HandleFunc("/parse", h.parse).Methods(http.MethodPost)
	public.HandleFunc("/stages", h.stages).Methods(http.MethodGet)

	r.Handle("/api/v1/session", h.rateLimit(http.HandlerFunc(h.createSession))).Methods(http.MethodPost)

	private := r.PathPrefix("/api/v1").Subrouter()
	private.Use(h.authenticate, h.rateLimit)
	private.HandleFunc("/me", h.me).Methods(http.MethodGet)
	private.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	private.HandleFunc("/conversations", h.createConversation).Methods(http.MethodPost)
	private.HandleFunc("/conversations/{id:[0-9]+}", h.getConversation).Methods(http.MethodGet)
	private.HandleFunc("/conversations/{id:[0-9]+}", h.renameConversation).Methods(http.MethodPatch)
	private.HandleFunc("/conversations/{id:[0-9]+}", h.deleteConversation).Methods(http.MethodDelete)
	private.HandleFunc("/conversations/{id:[0-9]+}/messages", h.sendMessage).Methods(http.MethodPost)
	private.HandleFunc("/conversations/{id:[0-9]+}/exports", h.listExports).Methods(http.MethodGet)
	private.HandleFunc("/conversations/{id:[0-9]+}/exports", h.createExport).Methods(http.MethodPost)
	private.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	private.HandleFunc("/settings", h.updateSettings).Methods(http.MethodPut)

	return r
}

// authenticate resolves the caller from the identity header
func (h *APIHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.gate.Authenticate(r.Context(), r.Header.Get(OpenIDHeader), middleware.ClientIP(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

// rateLimit applies the api limiter to the caller, or its address when
// unauthenticated
func (h *APIHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID int64
		if user := userFrom(r.Context()); user != nil {
			userID = user.ID
		}

		decision, err := h.gate.IsAllowed(middleware.LimiterAPI, middleware.RateLimitKey(userID, middleware.ClientIP(r)))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			h.writeError(w, r, &gate.RateLimitError{Limiter: middleware.LimiterAPI, ResetIn: decision.ResetIn})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey{}).(*models.User)
	return user
}

func (h *APIHandler) lang(r *http.Request) string {
	return h.localizer.Match(r.Header.Get("Accept-Language"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps domain errors to status codes and localized messages
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	lang := h.lang(r)

	var rle *gate.RateLimitError
	switch {
	case errors.As(err, &rle):
		seconds := retryAfter(rle)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error: h.localizer.Get(lang, i18n.MsgRateLimitExceeded, map[string]interface{}{"Seconds": seconds}),
			Code:  "rate_limited",
		})
	case errors.Is(err, gate.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error: h.localizer.Get(lang, i18n.MsgUnauthenticated, nil),
			Code:  "unauthenticated",
		})
	case errors.Is(err, chat.ErrConversationNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{
			Error: h.localizer.Get(lang, i18n.MsgConversationMissing, nil),
			Code:  "not_found",
		})
	case errors.Is(err, chat.ErrInvalidSettings):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: h.localizer.Get(lang, i18n.MsgInvalidSettings, map[string]interface{}{"Reason": reason(err)}),
			Code:  "invalid_settings",
		})
	case errors.Is(err, chat.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: h.localizer.Get(lang, i18n.MsgInvalidInput, map[string]interface{}{"Reason": reason(err)}),
			Code:  "invalid_input",
		})
	case errors.Is(err, chat.ErrAIUnavailable):
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error: h.localizer.Get(lang, i18n.MsgAIUnavailable, nil),
			Code:  "ai_unavailable",
		})
	default:
		var userID int64
		if user := userFrom(r.Context()); user != nil {
			userID = user.ID
		}
		logger.WithUser(h.logger, middleware.RequestIDFrom(r.Context()), userID).
			WithField("path", r.URL.Path).
			WithError(err).
			Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: h.localizer.Get(lang, i18n.MsgError, nil),
			Code:  "internal",
		})
	}
}

// retryAfter rounds the remaining window up to whole seconds
func retryAfter(rle *gate.RateLimitError) int {
	seconds := int(math.Ceil(rle.ResetIn.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// reason strips the sentinel prefix from a wrapped error
func reason(err error) string {
	msg := err.Error()
	if _, after, found := strings.Cut(msg, ": "); found {
		return after
	}
	return msg
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := r.Body
	if limit := h.security.BodyLimit(); limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", chat.ErrInvalidInput, tooLarge.Limit)
		}
		return fmt.Errorf("%w: malformed request body", chat.ErrInvalidInput)
	}
	return nil
}

func pathID(r *http.Request) int64 {
	// The route pattern only admits digits
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (h *APIHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) compose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.security.ValidateInput(req.Prompt); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", chat.ErrInvalidInput, err))
		return
	}
	writeJSON(w, http.StatusOK, h.gate.ComposePrompt(req.Prompt))
}

func (h *APIHandler) parse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gate.ParseResponse(req.Text))
}

func (h *APIHandler) stages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, reasoning.ThinkingStages())
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request) {
	openID := strings.TrimSpace(r.Header.Get(OpenIDHeader))
	if openID == "" {
		h.writeError(w, r, gate.ErrUnauthenticated)
		return
	}
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if err := h.gate.Allow(middleware.LimiterAuth, 0, middleware.ClientIP(r)); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.chat.RegisterUser(r.Context(), openID, req.Name, req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

func (h *APIHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.chat.ListConversations(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = h.localizer.Get(h.lang(r), i18n.MsgNewConversation, nil)
	}

	conv, err := h.chat.CreateConversation(r.Context(), userFrom(r.Context()).ID, req.Title, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *APIHandler) getConversation(w http.ResponseWriter, r *http.Request) {
	detail, err := h.chat.GetConversation(r.Context(), userFrom(r.Context()).ID, pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *APIHandler) renameConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.chat.RenameConversation(r.Context(), userFrom(r.Context()).ID, pathID(r), req.Title); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *APIHandler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteConversation(r.Context(), userFrom(r.Context()).ID, pathID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *APIHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.chat.SendMessage(r.Context(), userFrom(r.Context()), pathID(r), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) listExports(w http.ResponseWriter, r *http.Request) {
	exports, err := h.chat.ListExports(r.Context(), userFrom(r.Context()).ID, pathID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exports)
}

// createExport renders the conversation. With ?download=1 the rendered
// file is returned instead of the JSON record.
func (h *APIHandler) createExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Format string `json:"format"`
	}
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Format == "" {
		req.Format = models.ExportMarkdown
	}

	titles := h.localizer.SectionTitles(h.lang(r))
	result, err := h.chat.ExportConversation(r.Context(), userFrom(r.Context()).ID, pathID(r), req.Format, titles)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Type", result.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Export.FileName))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(result.Content))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *APIHandler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.chat.GetSettings(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *APIHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var update chat.SettingsUpdate
	if err := h.decode(w, r, &update); err != nil {
		h.writeError(w, r, err)
		return
	}
	settings, err := h.chat.UpdateSettings(r.Context(), userFrom(r.Context()).ID, update)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
