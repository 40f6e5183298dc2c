// Package imsms wraps the IMSMS messaging platform REST API used by the demo relay.
//
// All calls are synchronous JSON request/response exchanges authenticated with an
// X-API-KEY header. A non-success result code or a transport failure is returned as
// an error and is never retried here.
package imsms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Constants for the IMSMS client
const (
	// ResultCodeSuccess is the result code the platform reports for an accepted request.
	ResultCodeSuccess = "000"
	// SendTypeImmediate requests immediate delivery, the only send type API v1.0 supports.
	SendTypeImmediate = "S"
	// DefaultAgentID is the demo agent registered with the platform.
	DefaultAgentID = "ims-demo-web-kr"
	// DefaultHTTPTimeout bounds every outbound call.
	DefaultHTTPTimeout = 10 * time.Second
	// APIKeyHeader carries the platform API key.
	APIKeyHeader = "X-API-KEY"

	lookupPath = "/api/imsms/phone/lookup"
	sendPath   = "/api/imsms/send"
	infoPath   = "/api/imsms/info"

	maxErrorBodyBytes = 64 << 10
)

// Gateway is the outbound contract the session orchestrator depends on.
type Gateway interface {
	Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error)
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	Info(ctx context.Context, imsID string) (*InfoResult, error)
}

// LookupRequest asks the platform whether the given numbers belong to compatible devices.
// The answer arrives later on CallbackURL.
type LookupRequest struct {
	PhoneNumbers []string          `json:"phoneNumbers"`
	CallbackURL  string            `json:"callbackUrl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// LookupResult is the synchronous acknowledgement of a lookup request.
type LookupResult struct {
	RequestID   string `json:"requestId"`
	ResultCd    string `json:"resultCd"`
	ResultMsg   string `json:"resultMsg,omitempty"`
	Count       int    `json:"count"`
	RequestDttm string `json:"requestDttm,omitempty"`
}

// SendRequest dispatches a message. ConsentCallbackURL is set for consent requests,
// CallbackURL for regular messages that report delivery.
type SendRequest struct {
	SendTo             string `json:"sendTo"`
	SendType           string `json:"sendType"`
	Message            string `json:"message"`
	ImsAgentID         string `json:"imsAgentId"`
	CallbackURL        string `json:"callbackUrl,omitempty"`
	ConsentCallbackURL string `json:"consentCallbackUrl,omitempty"`
}

// SendResult is the synchronous acknowledgement of a send request.
type SendResult struct {
	ResultCd   string `json:"resultCd"`
	ResultMsg  string `json:"resultMsg,omitempty"`
	ImsID      string `json:"imsId,omitempty"`
	ImsReqDttm string `json:"imsReqDttm,omitempty"`
}

// InfoResult reports the delivery state of a previously sent message.
type InfoResult struct {
	ResultCd  string          `json:"resultCd"`
	ResultMsg string          `json:"resultMsg,omitempty"`
	ImsData   json.RawMessage `json:"imsData,omitempty"`
}

// Delivery holds the delivery flags carried in InfoResult.ImsData.
type Delivery struct {
	ImsID            string `json:"imsId,omitempty"`
	MessageSent      bool   `json:"messageSent"`
	MessageDelivered bool   `json:"messageDelivered"`
}

// Delivery decodes the delivery flags. ok is false when no imsData was returned.
func (r *InfoResult) Delivery() (Delivery, bool) {
	var d Delivery
	if r == nil || len(r.ImsData) == 0 || string(r.ImsData) == "null" {
		return d, false
	}
	if err := json.Unmarshal(r.ImsData, &d); err != nil {
		slog.Warn("InfoResult.Delivery: failed to decode imsData", "error", err)
		return d, false
	}
	return d, true
}

// Opts holds configuration options for the IMSMS client.
type Opts struct {
	BaseURL    string
	AgentID    string
	APIKey     string
	HTTPClient *http.Client
}

// Option defines a configuration option for the IMSMS client.
type Option func(*Opts)

// WithBaseURL sets the platform base address, e.g. http://host:9999.
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) { o.BaseURL = baseURL }
}

// WithAgentID sets the sending agent identifier.
func WithAgentID(agentID string) Option {
	return func(o *Opts) { o.AgentID = agentID }
}

// WithAPIKey sets the X-API-KEY credential.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) {
		if client != nil {
			o.HTTPClient = client
		}
	}
}

// Client calls the IMSMS REST API.
type Client struct {
	baseURL    string
	agentID    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check that Client implements Gateway.
var _ Gateway = (*Client)(nil)

// NewClient builds a client from options, falling back to IMSMS_BASE_URL,
// IMSMS_AGENT_ID and IMSMS_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("IMSMS_BASE_URL")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = os.Getenv("IMSMS_AGENT_ID")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = DefaultAgentID
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("IMSMS_API_KEY")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	slog.Debug("IMSMS client config loaded",
		"BaseURL", cfg.BaseURL,
		"AgentID", cfg.AgentID,
		"APIKey_set", cfg.APIKey != "")

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("IMSMS base URL must be provided")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid IMSMS base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("IMSMS API key must be provided")
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		agentID:    cfg.AgentID,
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
	}, nil
}

// AgentID returns the configured sending agent.
func (c *Client) AgentID() string { return c.agentID }

// Lookup requests an asynchronous compatibility check for the given numbers.
func (c *Client) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	var result LookupResult
	if err := c.doJSON(ctx, http.MethodPost, lookupPath, nil, req, &result); err != nil {
		return nil, fmt.Errorf("lookup %v: %w", req.PhoneNumbers, err)
	}
	slog.Debug("Client.Lookup: response", "requestId", result.RequestID, "resultCd", result.ResultCd, "count", result.Count)
	if result.ResultCd != ResultCodeSuccess {
		return &result, &ResultError{Op: "lookup", Code: result.ResultCd, Message: result.ResultMsg}
	}
	return &result, nil
}

// Send dispatches a message. An empty ImsAgentID or SendType is filled with the defaults.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.ImsAgentID == "" {
		req.ImsAgentID = c.agentID
	}
	if req.SendType == "" {
		req.SendType = SendTypeImmediate
	}
	var result SendResult
	if err := c.doJSON(ctx, http.MethodPost, sendPath, nil, req, &result); err != nil {
		return nil, fmt.Errorf("send to %s: %w", req.SendTo, err)
	}
	slog.Debug("Client.Send: response", "to", req.SendTo, "resultCd", result.ResultCd, "imsId", result.ImsID)
	if result.ResultCd != ResultCodeSuccess {
		return &result, &ResultError{Op: "send", Code: result.ResultCd, Message: result.ResultMsg}
	}
	return &result, nil
}

// Info fetches delivery information for a sent message.
func (c *Client) Info(ctx context.Context, imsID string) (*InfoResult, error) {
	query := url.Values{"imsId": []string{imsID}}
	var result InfoResult
	if err := c.doJSON(ctx, http.MethodGet, infoPath, query, nil, &result); err != nil {
		return nil, fmt.Errorf("info %s: %w", imsID, err)
	}
	if result.ResultCd != ResultCodeSuccess {
		return &result, &ResultError{Op: "info", Code: result.ResultCd, Message: result.ResultMsg}
	}
	return &result, nil
}

// ForwardRequest describes a pass-through call to an arbitrary platform path.
type ForwardRequest struct {
	Method   string
	Path     string
	RawQuery string
	Body     []byte
	// APIKey overrides the configured key when non-empty.
	APIKey string
}

// ForwardResult is the upstream response, passed back verbatim.
type ForwardResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forward relays a request to the platform. Upstream non-2xx answers are returned
// as results, only transport failures are errors.
func (c *Client) Forward(ctx context.Context, req ForwardRequest) (*ForwardResult, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	var body io.Reader
	if req.Method != http.MethodGet && req.Method != http.MethodHead && len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build forward request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}
	httpReq.Header.Set(APIKeyHeader, apiKey)

	slog.Debug("Client.Forward: relaying request", "method", req.Method, "target", target)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forward %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read forward response: %w", err)
	}
	return &ForwardResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// doJSON performs one request and decodes a 2xx JSON body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Client.doJSON: transport failure", "method", method, "path", path, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError converts a non-2xx answer into an error, preferring the platform's own
// result message when the body carries one.
func statusError(path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	slog.Error("IMSMS API error", "path", path, "status", resp.StatusCode, "body", string(data))

	var envelope struct {
		ResultCd  string `json:"resultCd"`
		ResultMsg string `json:"resultMsg"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.ResultMsg != "" {
		return &ResultError{
			Op:         strings.TrimPrefix(path, "/api/imsms/"),
			Code:       envelope.ResultCd,
			Message:    envelope.ResultMsg,
			HTTPStatus: resp.StatusCode,
		}
	}
	return fmt.Errorf("unexpected status %d: %q", resp.StatusCode, string(data))
}
