package hcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"propchain/pkg/logging"
	"propchain/pkg/models"
)

type fakeCreator struct {
	mu    sync.Mutex
	memos []string
	err   error
}

func (f *fakeCreator) CreateTopic(ctx context.Context, memo string) (models.TopicReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memos = append(f.memos, memo)
	if f.err != nil {
		return models.TopicReceipt{}, f.err
	}
	return models.TopicReceipt{
		TopicID:       fmt.Sprintf("0.0.%d", 1000+len(f.memos)),
		TransactionID: "0.0.2@1700000000.000000001",
	}, nil
}

func serve(h http.Handler, method, body string) (*httptest.ResponseRecorder, Response) {
	req := httptest.NewRequest(method, "/functions/v1/create-hcs-topic", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp Response
	json.NewDecoder(w.Body).Decode(&resp)
	return w, resp
}

func TestHandler_DefaultMemo(t *testing.T) {
	for _, body := range []string{"", "{}", `{"memo":""}`, `{"memo":"   "}`} {
		creator := &fakeCreator{}
		h := NewHandler(creator, logging.NewNoOpLogger())

		w, resp := serve(h, http.MethodPost, body)

		if w.Code != http.StatusOK {
			t.Fatalf("body %q: expected 200, got %d", body, w.Code)
		}
		if len(creator.memos) != 1 || creator.memos[0] != DefaultMemo {
			t.Errorf("body %q: expected default memo, got %v", body, creator.memos)
		}
		if !resp.Success || resp.Data == nil || resp.Data.TopicID == "" {
			t.Errorf("body %q: unexpected response %+v", body, resp)
		}
		if resp.Data.TransactionID == "" {
			t.Errorf("body %q: expected transaction id", body)
		}
	}
}

func TestHandler_CustomMemo(t *testing.T) {
	creator := &fakeCreator{}
	h := NewHandler(creator, logging.NewNoOpLogger())

	w, resp := serve(h, http.MethodPost, `{"memo":"Lekki Villa #12"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if creator.memos[0] != "Lekki Villa #12" {
		t.Errorf("Expected custom memo, got %q", creator.memos[0])
	}
	if resp.Message == "" {
		t.Error("Expected a success message")
	}
}

func TestHandler_CreatorFailure(t *testing.T) {
	creator := &fakeCreator{err: errors.New("INSUFFICIENT_PAYER_BALANCE")}
	h := NewHandler(creator, logging.NewNoOpLogger())

	w, resp := serve(h, http.MethodPost, `{"memo":"x"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if resp.Success || resp.Error != "INSUFFICIENT_PAYER_BALANCE" {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestHandler_MalformedJSON(t *testing.T) {
	creator := &fakeCreator{}
	h := NewHandler(creator, logging.NewNoOpLogger())

	w, resp := serve(h, http.MethodPost, `{"memo":`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if resp.Success || resp.Error == "" {
		t.Errorf("Unexpected response %+v", resp)
	}
	if len(creator.memos) != 0 {
		t.Error("Creator must not be called for a malformed body")
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions} {
		creator := &fakeCreator{}
		h := NewHandler(creator, logging.NewNoOpLogger())

		w, resp := serve(h, method, `{"memo":"x"}`)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, w.Code)
		}
		if w.Header().Get("Content-Type") != "application/json" {
			t.Errorf("%s: expected JSON body", method)
		}
		if resp.Success || resp.Error == "" {
			t.Errorf("%s: unexpected response %+v", method, resp)
		}
		if len(creator.memos) != 0 {
			t.Errorf("%s: creator must not be called", method)
		}
	}
}
