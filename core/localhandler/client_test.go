package localhandler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agent-fabric/connector/core/forwarder"
	"github.com/gorilla/mux"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/handle-payment", handler).Methods("POST")
	return httptest.NewServer(r)
}

func TestHandleAccept(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PaymentID != "pay-1" || req.Amount != 100 || req.Destination != "g.agent.bob" {
			t.Fatalf("unexpected request: %+v", req)
		}
		if req.Payload != base64.StdEncoding.EncodeToString([]byte("hello")) {
			t.Fatalf("unexpected payload: %s", req.Payload)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{
			Accept:          true,
			ResponsePayload: base64.StdEncoding.EncodeToString([]byte("receipt")),
		})
	})
	defer srv.Close()

	c := NewClient(srv.URL+"/handle-payment", time.Second)
	resp, err := c.Handle(context.Background(), forwarder.HandlerRequest{
		PaymentID:   "pay-1",
		Amount:      100,
		Destination: "g.agent.bob",
		Payload:     []byte("hello"),
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if !resp.Accept {
		t.Fatalf("expected accept")
	}
	if string(resp.ResponsePayload) != "receipt" {
		t.Fatalf("unexpected response payload: %q", resp.ResponsePayload)
	}
}

func TestHandleReject(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{
			Accept: false,
			RejectReason: &rejectReason{
				Code:    "unknown-invoice",
				Message: "no invoice matches this payment",
			},
		})
	})
	defer srv.Close()

	c := NewClient(srv.URL+"/handle-payment", time.Second)
	resp, err := c.Handle(context.Background(), forwarder.HandlerRequest{PaymentID: "pay-2"})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if resp.Accept {
		t.Fatalf("expected reject")
	}
	if resp.RejectCode != "unknown-invoice" {
		t.Fatalf("unexpected reject code: %s", resp.RejectCode)
	}
}

func TestHandleNon2xxIsError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})
	defer srv.Close()

	c := NewClient(srv.URL+"/handle-payment", time.Second)
	_, err := c.Handle(context.Background(), forwarder.HandlerRequest{PaymentID: "pay-3"})
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestHandleTimeout(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	c := NewClient(srv.URL+"/handle-payment", 5*time.Millisecond)
	_, err := c.Handle(context.Background(), forwarder.HandlerRequest{PaymentID: "pay-4"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestHandleContextCancelled(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL+"/handle-payment", time.Second)
	_, err := c.Handle(ctx, forwarder.HandlerRequest{PaymentID: "pay-5"})
	if err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
