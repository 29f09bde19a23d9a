// Package localhandler implements the HTTP client side of §6.4's Local
// Payload Handler contract: the single out-of-core endpoint the forwarder
// invokes on local termination. The client never interprets payload bytes —
// it only carries them to the handler and back.
//
// Grounded on the teacher's core/ipfs.go and core/storage.go HTTP-gateway
// client shape: a struct wrapping *http.Client with a configured timeout,
// http.NewRequestWithContext, and non-2xx status mapped to an error.
package localhandler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agent-fabric/connector/core/forwarder"
	"github.com/agent-fabric/connector/core/log"
)

// wireRequest is the §6.4 POST body.
type wireRequest struct {
	PaymentID   string `json:"paymentId"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
	Payload     string `json:"payload"` // base64
}

// wireResponse is the §6.4 response body.
type wireResponse struct {
	Accept          bool          `json:"accept"`
	RejectReason    *rejectReason `json:"rejectReason,omitempty"`
	ResponsePayload string        `json:"responsePayload,omitempty"` // base64
}

type rejectReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client invokes the handler over HTTP POST /handle-payment. It implements
// forwarder.LocalHandler.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a Client for the configured handlerUrl (§6.6
// deploymentMode=standalone with local delivery enabled requires this set).
// timeout bounds the whole round trip, independent of (and normally shorter
// than) the forwarder's own handler-call timeout.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

var log2 = log.For("localhandler")

// Handle implements forwarder.LocalHandler (§6.4): timeouts and non-2xx
// responses are surfaced as an error, which the forwarder maps to T00.
func (c *Client) Handle(ctx context.Context, req forwarder.HandlerRequest) (forwarder.HandlerResponse, error) {
	body, err := json.Marshal(wireRequest{
		PaymentID:   req.PaymentID,
		Amount:      req.Amount,
		Destination: req.Destination,
		Payload:     base64.StdEncoding.EncodeToString(req.Payload),
	})
	if err != nil {
		return forwarder.HandlerResponse{}, fmt.Errorf("localhandler: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return forwarder.HandlerResponse{}, fmt.Errorf("localhandler: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return forwarder.HandlerResponse{}, fmt.Errorf("localhandler: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return forwarder.HandlerResponse{}, fmt.Errorf("localhandler: handler returned %d: %s", resp.StatusCode, string(b))
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return forwarder.HandlerResponse{}, fmt.Errorf("localhandler: decode response: %w", err)
	}

	out := forwarder.HandlerResponse{Accept: wr.Accept}
	if wr.ResponsePayload != "" {
		p, err := base64.StdEncoding.DecodeString(wr.ResponsePayload)
		if err != nil {
			return forwarder.HandlerResponse{}, fmt.Errorf("localhandler: decode responsePayload: %w", err)
		}
		out.ResponsePayload = p
	}
	if !wr.Accept && wr.RejectReason != nil {
		out.RejectCode = wr.RejectReason.Code
		out.RejectMessage = wr.RejectReason.Message
	}
	log2.WithField("paymentId", req.PaymentID).WithField("accept", out.Accept).Debug("local handler responded")
	return out, nil
}
