package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// HTTPConfig parameterizes the http node type
type HTTPConfig struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	AllowPrivate     bool
	AllowedSchemes   []string
}

// HTTP performs one outbound request. Method, URL, headers, and body
// templates are interpolated through the resolver; targets pass the URL
// guard on the initial request and on every redirect hop.
type HTTP struct {
	cfg    HTTPConfig
	guard  *URLGuard
	client *http.Client
}

// NewHTTP creates the http executor
func NewHTTP(cfg HTTPConfig) *HTTP {
	guard := NewURLGuard(cfg.AllowedSchemes, cfg.AllowPrivate)
	return &HTTP{
		cfg:   cfg,
		guard: guard,
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return guard.Validate(req.URL.String())
			},
		},
	}
}

// Validate rejects an http node without a url
func (h *HTTP) Validate(node *workflow.Node) error {
	if exec.ConfString(node.Data, "url") == "" {
		return fmt.Errorf("http node %q has no url", node.Name())
	}
	return nil
}

func (h *HTTP) Execute(ctx context.Context, node *workflow.Node, ectx exec.Context, emit exec.EmitFunc) (*exec.Result, error) {
	targetURL := ectx.Interpolate(exec.ConfString(node.Data, "url"))
	if err := h.guard.Validate(targetURL); err != nil {
		return nil, fmt.Errorf("request blocked: %w", err)
	}

	method := strings.ToUpper(exec.ConfString(node.Data, "method"))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw := exec.ConfString(node.Data, "body"); raw != "" {
		body = strings.NewReader(ectx.Interpolate(raw))
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, targetURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range exec.ConfMap(node.Data, "headers") {
		if s, ok := value.(string); ok {
			req.Header.Set(key, ectx.Interpolate(s))
		}
	}

	emit(exec.AgentEvent{Type: exec.StreamLog, Text: fmt.Sprintf("%s %s", method, targetURL)})

	resp, err := h.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("request timed out after %s", h.cfg.Timeout)
		}
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > h.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", h.cfg.MaxResponseBytes)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// A JSON response body becomes structured data so downstream
	// references can path into it.
	var decoded interface{} = string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			decoded = parsed
		}
	}

	return &exec.Result{Output: map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decoded,
		"result":  strings.TrimSpace(string(raw)),
	}}, nil
}
