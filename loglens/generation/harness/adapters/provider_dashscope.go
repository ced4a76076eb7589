package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/loglens/loglens/generation/harness/ports"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	maxResponseBytes = 4 << 20
	maxErrorBody     = 4 << 10
)

// completionSchema is the minimal shape of a successful text-generation response.
const completionSchema = `{
  "type": "object",
  "required": ["output"],
  "properties": {
    "output": {
      "type": "object",
      "required": ["text"],
      "properties": {"text": {"type": "string"}}
    }
  }
}`

var completionValidator = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(completionSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid completion schema: %v", err))
	}
	return schema
}()

// DashScopeConfig configures the DashScope text-generation client.
type DashScopeConfig struct {
	APIURL         string
	APIKey         string
	ConnectTimeout time.Duration
	// HTTPClient overrides the default client; tests point it at httptest servers.
	HTTPClient *http.Client
}

// DashScopeProvider implements Provider against the DashScope (Qwen) HTTP API.
type DashScopeProvider struct {
	apiURL string
	apiKey string
	client *http.Client
	logger zerolog.Logger
}

type dashScopeRequest struct {
	Model      string              `json:"model"`
	Input      dashScopeInput      `json:"input"`
	Parameters dashScopeParameters `json:"parameters"`
}

type dashScopeInput struct {
	Messages []dashScopeMessage `json:"messages"`
}

type dashScopeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type dashScopeParameters struct {
	ResultFormat string  `json:"result_format"`
	Temperature  float32 `json:"temperature"`
	TopP         float32 `json:"top_p"`
}

type dashScopeResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"output"`
	Usage *ports.Usage `json:"usage"`
}

// NewDashScopeProvider validates cfg and builds a provider.
func NewDashScopeProvider(cfg DashScopeConfig, logger zerolog.Logger) (*DashScopeProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("dashscope: api key is required")
	}
	u, err := url.Parse(cfg.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dashscope: invalid api url %q", cfg.APIURL)
	}

	client := cfg.HTTPClient
	if client == nil {
		connectTimeout := cfg.ConnectTimeout
		if connectTimeout <= 0 {
			connectTimeout = 30 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = connectTimeout
		client = &http.Client{Transport: transport}
	}

	return &DashScopeProvider{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		client: client,
		logger: logger.With().Str("component", "provider.dashscope").Logger(),
	}, nil
}

// Complete sends the prompt messages as a single text-generation call.
func (p *DashScopeProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	payload := dashScopeRequest{
		Model: opts.Model,
		Parameters: dashScopeParameters{
			ResultFormat: "text",
			Temperature:  opts.Temperature,
			TopP:         opts.TopP,
		},
	}
	for _, m := range in.Messages {
		payload.Input.Messages = append(payload.Input.Messages, dashScopeMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ports.Completion{}, &ports.StatusError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("failed to read response: %w", err)
	}

	return p.parse(raw)
}

func (p *DashScopeProvider) parse(raw []byte) (ports.Completion, error) {
	result, err := completionValidator.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("%w: %v", ports.ErrMalformedResponse, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		p.logger.Error().Strs("problems", problems).Str("response", truncate(string(raw), 200)).Msg("unexpected response shape")
		return ports.Completion{}, fmt.Errorf("%w: %s", ports.ErrMalformedResponse, strings.Join(problems, "; "))
	}

	var decoded dashScopeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ports.Completion{}, fmt.Errorf("%w: %v", ports.ErrMalformedResponse, err)
	}

	return ports.Completion{
		Text:      strings.TrimSpace(decoded.Output.Text),
		RequestID: decoded.RequestID,
		Raw:       json.RawMessage(raw),
		Usage:     decoded.Usage,
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "...[truncated]"
}

// Ensure DashScopeProvider implements the Provider interface.
var _ ports.Provider = (*DashScopeProvider)(nil)
