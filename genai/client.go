// Package genai is a small REST client for the Gemini generation API: Veo
// long-running video jobs, inline image generation, text generation and
// authenticated file downloads.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTextModel  = "gemini-3-flash-preview"
	DefaultVideoModel = "veo-3.1-fast-generate-preview"
	DefaultImageModel = "gemini-2.5-flash-image"

	defaultTimeout = 60 * time.Second
	apiKeyHeader   = "x-goog-api-key"
)

// Options controls how the client is configured.
type Options struct {
	BaseURL    string
	TextModel  string
	VideoModel string
	ImageModel string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

type Client struct {
	baseURL    string
	textModel  string
	videoModel string
	imageModel string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewClient constructs a client with defaults for every empty option.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		baseURL:    baseURL,
		textModel:  firstNonEmpty(opts.TextModel, DefaultTextModel),
		videoModel: firstNonEmpty(opts.VideoModel, DefaultVideoModel),
		imageModel: firstNonEmpty(opts.ImageModel, DefaultImageModel),
		httpClient: client,
		logger:     logger,
	}
}

// CreateVideoJob starts a Veo job and returns its operation name.
func (c *Client) CreateVideoJob(ctx context.Context, apiKey, prompt string, params VideoParams) (string, error) {
	payload := predictLongRunningRequest{
		Instances: []videoInstance{{Prompt: prompt}},
		Parameters: videoParameters{
			AspectRatio: params.AspectRatio,
			Resolution:  params.Resolution,
			SampleCount: params.NumberOfVideos,
		},
	}
	var out operationResponse
	if err := c.do(ctx, http.MethodPost, c.modelPath(c.videoModel, "predictLongRunning"), apiKey, payload, &out); err != nil {
		return "", err
	}
	c.logger.Debug().Str("model", c.videoModel).Str("operation", out.Name).Msg("genai: video job created")
	return out.Name, nil
}

// GetJobStatus fetches the current state of a video operation.
func (c *Client) GetJobStatus(ctx context.Context, apiKey, jobID string) (*Operation, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("genai: empty operation name")
	}
	var out operationResponse
	if err := c.do(ctx, http.MethodGet, "/"+strings.TrimLeft(jobID, "/"), apiKey, nil, &out); err != nil {
		return nil, err
	}
	op := &Operation{Name: out.Name, Done: out.Done, Err: out.Error.toAPIError(http.StatusOK)}
	if out.Response != nil {
		for _, s := range out.Response.GenerateVideoResponse.GeneratedSamples {
			op.VideoURIs = append(op.VideoURIs, s.Video.URI)
		}
	}
	return op, nil
}

// GenerateImage returns the inline payloads of the first candidate, in order.
func (c *Client) GenerateImage(ctx context.Context, apiKey, prompt, aspectRatio string) ([]InlineData, error) {
	payload := generateContentRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	}
	if aspectRatio != "" {
		payload.GenerationConfig = &generationConfig{ImageConfig: &imageConfig{AspectRatio: aspectRatio}}
	}
	var out generateContentResponse
	if err := c.do(ctx, http.MethodPost, c.modelPath(c.imageModel, "generateContent"), apiKey, payload, &out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 {
		return nil, nil
	}
	var images []InlineData
	for _, p := range out.Candidates[0].Content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("genai: decode inline data: %w", err)
		}
		images = append(images, InlineData{MIMEType: p.InlineData.MimeType, Data: data})
	}
	return images, nil
}

// GenerateText returns the concatenated text parts of the first candidate.
func (c *Client) GenerateText(ctx context.Context, apiKey, prompt string) (string, error) {
	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	var out generateContentResponse
	if err := c.do(ctx, http.MethodPost, c.modelPath(c.textModel, "generateContent"), apiKey, payload, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// FetchBytes downloads uri, adding the key as a query parameter.
func (c *Client) FetchBytes(ctx context.Context, apiKey, uri string) (*Blob, error) {
	target, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("genai: parse download uri: %w", err)
	}
	if !target.IsAbs() {
		target, err = url.Parse(c.baseURL + "/" + strings.TrimLeft(uri, "/"))
		if err != nil {
			return nil, fmt.Errorf("genai: parse download uri: %w", err)
		}
	}
	if apiKey != "" {
		q := target.Query()
		q.Set("key", apiKey)
		target.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("genai: create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genai: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genai: read download: %w", err)
	}
	c.logger.Debug().Int("bytes", len(data)).Msg("genai: downloaded file")
	return &Blob{ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

func (c *Client) modelPath(model, method string) string {
	return fmt.Sprintf("/models/%s:%s", url.PathEscape(model), method)
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("genai: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("genai: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("genai: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("genai: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var env errorResponse
	if err := json.Unmarshal(data, &env); err == nil && (env.Error.Message != "" || env.Error.Status != "") {
		return env.Error.toAPIError(resp.StatusCode)
	}
	return &APIError{HTTPStatus: resp.StatusCode, Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
