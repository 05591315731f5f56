package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 4096

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// GeminiClient calls the generateContent REST endpoint. It never retries.
type GeminiClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	timeout      time.Duration
	httpClient   *http.Client
}

// NewGemini validates opts and returns a client.
func NewGemini(opts GeminiOptions) (*GeminiClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("gemini: default model is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &GeminiClient{
		apiKey:       opts.APIKey,
		baseURL:      base,
		defaultModel: opts.DefaultModel,
		timeout:      opts.Timeout,
		httpClient:   hc,
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func buildGeminiRequest(req Request) geminiRequest {
	if req.SingleShot() {
		return geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: req.NewMessage}}}}}
	}

	out := geminiRequest{Contents: make([]geminiContent, 0, len(req.History)+1)}
	if req.SystemInstruction != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemInstruction}}}
	}
	for _, m := range req.History {
		out.Contents = append(out.Contents, geminiContent{Role: string(m.Role), Parts: []geminiPart{{Text: m.Text}}})
	}
	out.Contents = append(out.Contents, geminiContent{Role: string(RoleUser), Parts: []geminiPart{{Text: req.NewMessage}}})
	return out
}

// Generate sends req and returns the concatenated text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, raw, err := c.doOnce(callCtx, model, buildGeminiRequest(req))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", &ServiceError{Detail: "canceled", Err: ctx.Err()}
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return "", &ServiceError{Detail: "timeout", Err: ErrTimeout}
		default:
			return "", &ServiceError{Detail: err.Error(), Err: err}
		}
	}
	if status < 200 || status >= 300 {
		return "", classifyHTTPError(status, raw)
	}

	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ServiceError{Detail: "decode response: " + err.Error(), StatusCode: status, Err: err}
	}
	if len(resp.Candidates) == 0 {
		detail := "no candidates in response"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			detail = "prompt blocked: " + resp.PromptFeedback.BlockReason
		}
		return "", &ServiceError{Detail: detail, StatusCode: status}
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	if b.Len() == 0 {
		return "", &ServiceError{Detail: "empty response (finish reason " + resp.Candidates[0].FinishReason + ")", StatusCode: status}
	}
	return b.String(), nil
}

func (c *GeminiClient) doOnce(ctx context.Context, model string, body geminiRequest) (int, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.baseURL + "/v1beta/models/" + url.PathEscape(model) + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return 0, nil, readErr
	}

	slog.Debug("gemini response", "model", model, "status", resp.StatusCode, "bytes", len(raw))
	return resp.StatusCode, raw, nil
}

func classifyHTTPError(status int, raw []byte) error {
	var body geminiErrorBody
	_ = json.Unmarshal(raw, &body)

	msg := body.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(truncateBytes(raw, maxErrorBody)))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	if status == http.StatusTooManyRequests ||
		body.Error.Status == "RESOURCE_EXHAUSTED" ||
		strings.Contains(strings.ToLower(msg), "quota") {
		return &QuotaError{Message: msg}
	}
	return &ServiceError{Detail: msg, StatusCode: status}
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
