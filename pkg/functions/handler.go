package functions

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"propchain/pkg/logging"
	"propchain/pkg/session"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler exposes a Service over the managed-backend HTTP surface:
//
//	POST /functions/v1/{name}
//	GET  /rest/v1/{table}?col=eq.value&order=col.desc
//	GET  /auth/v1/user
//
// Errors are written as {"error": message}.
type Handler struct {
	service *Service
	anonKey string
	logger  *logging.Logger
}

// NewHandler creates a handler. A non-empty anonKey must be presented in the
// apikey header of every request.
func NewHandler(service *Service, anonKey string, logger *logging.Logger) *Handler {
	return &Handler{
		service: service,
		anonKey: anonKey,
		logger:  logging.OrGlobal(logger).Named("functions"),
	}
}

// Register mounts the handler's routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/functions/v1/{name}", h.requireAPIKey(h.invoke)).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/{table}", h.requireAPIKey(h.queryRows)).Methods(http.MethodGet)
	r.HandleFunc("/auth/v1/user", h.requireAPIKey(h.user)).Methods(http.MethodGet)
}

// RequireAPIKey applies the apikey check to a handler mounted beside the
// functions.
func (h *Handler) RequireAPIKey(next http.Handler) http.Handler {
	return h.requireAPIKey(next.ServeHTTP)
}

func (h *Handler) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.anonKey != "" {
			key := r.Header.Get("apikey")
			if subtle.ConstantTimeCompare([]byte(key), []byte(h.anonKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) caller(r *http.Request) Caller {
	return h.service.Caller(session.BearerToken(r.Header.Get("Authorization")))
}

func (h *Handler) invoke(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	result, err := h.service.Invoke(r.Context(), h.caller(r), name, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) queryRows(w http.ResponseWriter, r *http.Request) {
	q, err := ParseRowQuery(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rows, err := h.service.QueryRows(r.Context(), h.caller(r), mux.Vars(r)["table"], q)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) {
	s := h.service.Session(session.BearerToken(r.Header.Get("Authorization")))
	if !s.Authenticated() {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": s.UserID})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := AsRejection(err); ok {
		writeError(w, rej.Status, rej.Message)
		return
	}

	h.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, MsgInternal)
}

// ParseRowQuery reads filters written as col=eq.value and an order written
// as order=col.asc or order=col.desc. The select parameter is ignored.
func ParseRowQuery(values map[string][]string) (RowQuery, error) {
	q := RowQuery{Filter: make(map[string]string)}

	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]

		switch key {
		case "select":
			continue
		case "order":
			column, dir, _ := strings.Cut(val, ".")
			switch dir {
			case "", "asc":
			case "desc":
				q.Descending = true
			default:
				return q, reject(http.StatusBadRequest, "invalid order direction "+dir)
			}
			q.Order = column
		default:
			op, operand, ok := strings.Cut(val, ".")
			if !ok || op != "eq" {
				return q, reject(http.StatusBadRequest, "unsupported filter on "+key)
			}
			q.Filter[key] = operand
		}
	}

	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
