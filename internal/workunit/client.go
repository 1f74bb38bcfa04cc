// Package workunit talks to the HPCC ESP WsWorkunits service over HTTP/JSON.
package workunit

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/eclkernel/core"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultBaseURL is the public HPCC playground ESP.
	DefaultBaseURL = "https://play.hpccsystems.com:18010/"
	// DefaultPollInterval is how often WUInfo is polled while watching.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultRequestTimeout bounds a single ESP call.
	DefaultRequestTimeout = 30 * time.Second

	servicePath = "WsWorkunits"
	pageSize    = 1000
)

// Options configures a Client.
type Options struct {
	BaseURL            string
	InsecureSkipVerify bool
	PollInterval       time.Duration
	RequestTimeout     time.Duration
	Username           string
	Password           string
	// HTTPClient overrides the transport; InsecureSkipVerify and RequestTimeout are ignored when set.
	HTTPClient *http.Client
}

// Client submits ECL as workunits and implements core.WorkunitClient.
type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
	username     string
	password     string
}

var _ core.WorkunitClient = (*Client)(nil)

// NewClient builds a client for the ESP at opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base := normalizeBaseURL(opts.BaseURL)
	if base == "" {
		base = normalizeBaseURL(DefaultBaseURL)
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("workunit base url must be http or https: %q", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Client{
		baseURL:      base,
		http:         httpClient,
		pollInterval: poll,
		username:     opts.Username,
		password:     opts.Password,
	}, nil
}

func normalizeBaseURL(baseURL string) string {
	base := strings.TrimSpace(baseURL)
	for strings.HasSuffix(base, "/") {
		base = strings.TrimSuffix(base, "/")
	}
	return base
}

// Submit creates a workunit holding req.ECL and submits it to req.Target.
func (c *Client) Submit(ctx context.Context, req core.SubmitRequest) (core.Workunit, error) {
	log := pslog.Ctx(ctx)
	started := time.Now()
	var created createResponse
	if err := c.call(ctx, "WUCreateAndUpdate", createRequest{QueryText: req.ECL, Jobname: req.JobName}, &created); err != nil {
		return nil, err
	}
	wuid := schema.WorkunitID(strings.TrimSpace(created.Workunit.Wuid))
	if wuid == "" {
		return nil, fmt.Errorf("WUCreateAndUpdate returned no wuid")
	}
	if err := c.call(ctx, "WUSubmit", submitRequest{Wuid: string(wuid), Cluster: req.Target}, nil); err != nil {
		c.discard(ctx, wuid)
		return nil, err
	}
	log.Debug("workunit submitted", "wuid", wuid, "target", req.Target, "duration_ms", time.Since(started).Milliseconds())
	return &Workunit{client: c, id: wuid, state: schema.WorkunitSubmitted}, nil
}

// discard deletes a workunit that was created but never submitted.
func (c *Client) discard(ctx context.Context, wuid schema.WorkunitID) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultRequestTimeout)
	defer cancel()
	if err := c.call(cleanupCtx, "WUDelete", wuidsRequest{Wuids: wuidList{Item: []string{string(wuid)}}}, nil); err != nil {
		pslog.Ctx(ctx).Warn("workunit discard failed", "wuid", wuid, "err", err)
	}
}

func (c *Client) info(ctx context.Context, wuid schema.WorkunitID, results, exceptions bool) (workunitInfo, error) {
	var resp infoResponse
	req := infoRequest{
		Wuid:                  string(wuid),
		IncludeResults:        results,
		IncludeExceptions:     exceptions,
		SuppressResultSchemas: true,
	}
	if err := c.call(ctx, "WUInfo", req, &resp); err != nil {
		return workunitInfo{}, err
	}
	return resp.Workunit, nil
}

func (c *Client) result(ctx context.Context, wuid schema.WorkunitID, sequence, start, count int) (resultResponse, error) {
	var resp resultResponse
	req := resultRequest{Wuid: string(wuid), Sequence: sequence, Start: start, Count: count}
	if err := c.call(ctx, "WUResult", req, &resp); err != nil {
		return resultResponse{}, err
	}
	return resp, nil
}

// call posts {"<method>Request": body} and decodes "<method>Response" into out.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	url := c.baseURL + "/" + servicePath + "/" + method + ".json"
	payload, err := json.Marshal(map[string]any{method + "Request": body})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("request %s failed: %s; body=%s", method, resp.Status, strings.TrimSpace(string(data)))
	}

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if raw, ok := envelope["Exceptions"]; ok {
		if err := espError(method, raw); err != nil {
			return err
		}
	}
	raw, ok := envelope[method+"Response"]
	if !ok {
		return fmt.Errorf("decode %s response: missing %sResponse", method, method)
	}
	var common struct {
		Exceptions json.RawMessage `json:"Exceptions"`
	}
	if err := json.Unmarshal(raw, &common); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if len(common.Exceptions) > 0 {
		if err := espError(method, common.Exceptions); err != nil {
			return err
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// ESPError is a service-level exception returned alongside a 2xx response.
type ESPError struct {
	Method     string
	Exceptions []ESPException
}

func (e *ESPError) Error() string {
	if len(e.Exceptions) == 0 {
		return fmt.Sprintf("%s failed", e.Method)
	}
	first := e.Exceptions[0]
	if first.Code != 0 {
		return fmt.Sprintf("%s: %d: %s", e.Method, first.Code, first.Message)
	}
	return fmt.Sprintf("%s: %s", e.Method, first.Message)
}

// ESPException is one entry of an ESP Exceptions list.
type ESPException struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
}

func espError(method string, raw json.RawMessage) error {
	var list struct {
		Exception []ESPException `json:"Exception"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("decode %s exceptions: %w", method, err)
	}
	if len(list.Exception) == 0 {
		return nil
	}
	return &ESPError{Method: method, Exceptions: list.Exception}
}
