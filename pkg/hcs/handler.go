package hcs

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"propchain/pkg/logging"
	"propchain/pkg/models"

	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type createRequest struct {
	Memo *string `json:"memo"`
}

// Response is the body of every topic-creation response.
type Response struct {
	Success bool                 `json:"success"`
	Data    *models.TopicReceipt `json:"data,omitempty"`
	Message string               `json:"message,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Handler serves topic creation. Only POST is accepted; any other method gets
// 405 without touching the creator.
type Handler struct {
	creator TopicCreator
	logger  *logging.Logger
}

func NewHandler(creator TopicCreator, logger *logging.Logger) *Handler {
	return &Handler{
		creator: creator,
		logger:  logging.OrGlobal(logger).Named("hcs"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "Method not allowed"})
		return
	}

	memo, err := readMemo(r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}

	receipt, err := h.creator.CreateTopic(r.Context(), memo)
	if err != nil {
		h.logger.Error("topic creation failed", zap.String("memo", memo), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Response{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    &receipt,
		Message: "Topic created successfully",
	})
}

// readMemo returns the requested memo, or DefaultMemo when the body is empty
// or the memo is missing or blank.
func readMemo(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return DefaultMemo, nil
	}

	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", errInvalidBody
	}
	if req.Memo == nil || strings.TrimSpace(*req.Memo) == "" {
		return DefaultMemo, nil
	}
	return strings.TrimSpace(*req.Memo), nil
}

type bodyError string

func (e bodyError) Error() string { return string(e) }

const errInvalidBody = bodyError("Invalid JSON body")

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
