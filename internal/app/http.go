package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"tilly/api/internal/auth"
	"tilly/api/internal/config"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	cronSecret string
}

func NewHTTPServer(service *Service, cfg config.Config) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: cfg.CORSOrigin, cronSecret: cfg.CronSecret}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ok, checks := s.service.Readiness(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ok {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ok,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/cron/notifications" {
		if !s.cronAuthorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		payload, err := s.service.DispatchNotifications(r.Context())
		respond(w, r, http.StatusOK, payload, err)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "me":
		if r.Method == http.MethodGet && len(parts) == 2 {
			payload, err := s.service.Me(r.Context(), session)
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "settings":
		if s.handleSettings(w, r, session, parts[2:]) {
			return
		}
	case "push":
		if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "test" {
			payload, err := s.service.SendTestPush(r.Context(), session)
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "people":
		if s.handlePeople(w, r, session, parts[2:]) {
			return
		}
	case "notes":
		if r.Method == http.MethodGet && len(parts) == 2 {
			query := r.URL.Query()
			payload, err := s.service.ListNotes(r.Context(), session, query.Get("q"), query.Get("status"))
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "reminders":
		if r.Method == http.MethodGet && len(parts) == 2 {
			query := r.URL.Query()
			payload, err := s.service.ListReminders(r.Context(), session, query.Get("q"), query.Get("status"))
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "tags":
		if r.Method == http.MethodGet && len(parts) == 2 {
			payload, err := s.service.ListTags(r.Context(), session)
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "search":
		if r.Method == http.MethodGet && len(parts) == 2 {
			query := r.URL.Query()
			limit, _ := strconv.Atoi(query.Get("limit"))
			offset, _ := strconv.Atoi(query.Get("offset"))
			payload, err := s.service.Search(r.Context(), session, query.Get("q"), query.Get("type"), limit, offset)
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "invites":
		if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "accept" {
			var body struct {
				Token string `json:"token"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AcceptInvite(r.Context(), session, body.Token)
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	case "assistant":
		if s.handleAssistant(w, r, session, parts[2:]) {
			return
		}
	case "export":
		if r.Method == http.MethodGet && len(parts) == 2 {
			s.handleExport(w, r, session)
			return
		}
	case "maintenance":
		if r.Method == http.MethodPost && len(parts) == 2 {
			payload, err := s.service.RunMaintenance(r.Context(), session)
			respond(w, r, http.StatusOK, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	switch {
	case len(parts) == 1 && parts[0] == "notifications" && r.Method == http.MethodGet:
		payload, err := s.service.GetNotificationSettings(r.Context(), session)
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 1 && parts[0] == "notifications" && r.Method == http.MethodPut:
		var body SettingsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.UpdateNotificationSettings(r.Context(), session, body)
		respond(w, r, http.StatusOK, payload, err)
	case len(parts) == 1 && parts[0] == "devices" && r.Method == http.MethodPost:
		var body DeviceInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.RegisterDevice(r.Context(), session, body)
		respond(w, r, http.StatusCreated, payload, err)
	case len(parts) == 2 && parts[0] == "devices" && r.Method == http.MethodDelete:
		payload, err := s.service.DeleteDevice(r.Context(), session, parts[1])
		respond(w, r, http.StatusOK, payload, err)
	default:
		return false
	}
	return true
}

func (s *HTTPServer) handleAssistant(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) != 1 {
		return false
	}
	switch {
	case parts[0] == "messages" && r.Method == http.MethodGet:
		payload, err := s.service.ListAssistantMessages(r.Context(), session)
		respond(w, r, http.StatusOK, payload, err)
	case parts[0] == "messages" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.SendAssistantMessage(r.Context(), session, body.Content)
		respond(w, r, http.StatusCreated, payload, err)
	case parts[0] == "messages" && r.Method == http.MethodDelete:
		payload, err := s.service.ClearAssistantMessages(r.Context(), session)
		respond(w, r, http.StatusOK, payload, err)
	case parts[0] == "due-date" && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		payload, err := s.service.ResolveDueDate(r.Context(), session, body.Text)
		respond(w, r, http.StatusOK, payload, err)
	default:
		return false
	}
	return true
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	includeDeleted, _ := strconv.ParseBool(query.Get("includeDeleted"))
	result, err := s.service.Export(r.Context(), session, query.Get("format"), includeDeleted)
	if err != nil {
		respond(w, r, http.StatusOK, nil, err)
		return
	}
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) cronAuthorized(r *http.Request) bool {
	token := bearerToken(r)
	if s.cronSecret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			logger(r.Context()).Error("resolve session", "err", err)
		}
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

// uploadBody returns the image in r: either the raw body with its
// Content-Type, or the "file" part of a multipart form.
func uploadBody(r *http.Request) (string, io.Reader, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "", nil, validationError("Content-Type is required")
	}
	if mediaType != "multipart/form-data" {
		return mediaType, r.Body, nil
	}
	reader, err := r.MultipartReader()
	if err != nil {
		return "", nil, validationError("invalid multipart body")
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, validationError("file part is required")
		}
		if err != nil {
			return "", nil, validationError("invalid multipart body")
		}
		if part.FormName() == "file" {
			return part.Header.Get("Content-Type"), part, nil
		}
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.metrics.ObserveRequest(r.Method, writer.status, elapsed)
		logger(ctx).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"durationMs", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

// logger returns the default logger tagged with the request id, if any.
func logger(ctx context.Context) *log.Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return log.With("requestId", id)
	}
	return log.Default()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// respond writes payload with status, or the mapped error when err is set.
func respond(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		code, errCode, message, details := mapError(err)
		if code == http.StatusInternalServerError {
			logger(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		}
		writeError(w, code, errCode, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrMissingIdentity) ||
		errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
