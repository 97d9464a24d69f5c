package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"servis/internal/domain"
	"servis/internal/errors"
)

// wireRequest is the JSON body POSTed to HTTP services.
type wireRequest struct {
	RequestID  string         `json:"request_id"`
	Intent     string         `json:"intent"`
	Parameters map[string]any `json:"parameters"`
	Context    wireContext    `json:"context"`
}

type wireContext struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// HTTPInvoker POSTs the command to http://<endpoint>/command and decodes
// the {success, response, error} answer.
type HTTPInvoker struct {
	client *http.Client
}

func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

const maxResponseBytes = 1 << 20

func (h *HTTPInvoker) Invoke(ctx context.Context, desc *domain.ServiceDescriptor, call *Call) (*Response, error) {
	body, err := json.Marshal(wireRequest{
		RequestID:  call.RequestID,
		Intent:     string(call.Intent.Name),
		Parameters: call.Intent.WireParameters(),
		Context: wireContext{
			UserID:    call.UserID,
			SessionID: call.SessionID,
			Locale:    call.Locale,
		},
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "encode invocation")
	}

	url := fmt.Sprintf("http://%s/command", desc.Endpoint())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "build invocation request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := h.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(ctx, err, desc.Name)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportErr(ctx, err, desc.Name)
	}

	var resp Response
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr == nil && (httpResp.StatusCode < 500 || resp.Err != "") {
		// A structured body wins even on an error status; success=false
		// carries the downstream error without triggering retries.
		if httpResp.StatusCode >= 400 && resp.Err == "" && !resp.Success {
			resp.Err = fmt.Sprintf("service returned status %d", httpResp.StatusCode)
		}
		return &resp, nil
	}
	if httpResp.StatusCode >= 500 {
		return nil, errors.New(errors.KindTransportError,
			fmt.Sprintf("service %s returned status %d", desc.Name, httpResp.StatusCode))
	}
	return nil, errors.New(errors.KindServiceError,
		fmt.Sprintf("service %s returned undecodable response (status %d)", desc.Name, httpResp.StatusCode))
}
