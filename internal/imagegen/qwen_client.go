package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type QwenOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// QwenClient calls DashScope's image-edit model. It answers with a
// temporary URL the caller downloads.
type QwenClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewQwenClient(opts QwenOptions) *QwenClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &QwenClient{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
	}
}

type qwenContent struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []qwenMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		NegativePrompt string `json:"negative_prompt,omitempty"`
		Watermark      bool   `json:"watermark"`
	} `json:"parameters"`
}

type qwenResp struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []map[string]string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *QwenClient) Generate(ctx context.Context, req Request) (Result, error) {
	if c == nil {
		return Result{}, ErrNotConfigured
	}
	if c.token == "" {
		return Result{}, errors.New("qwen: API key is missing")
	}
	image, err := qwenImageRef(req.Source)
	if err != nil {
		return Result{}, err
	}

	var payload qwenRequest
	payload.Model = "qwen-image-edit"
	payload.Input.Messages = []qwenMessage{{
		Role:    "user",
		Content: []qwenContent{{Image: image}, {Text: req.Prompt}},
	}}
	payload.Parameters.NegativePrompt = "blurry, deformed, cropped packaging"
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	endpoint := c.baseURL + "/services/aigc/multimodal-generation/generation"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("qwen: %w", err)
	}
	defer resp.Body.Close()

	var out qwenResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return Result{}, fmt.Errorf("qwen: http %d", resp.StatusCode)
		}
		return Result{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return Result{}, fmt.Errorf("qwen error: %s (%s)", out.Message, out.Code)
		}
		return Result{}, fmt.Errorf("qwen: http %d", resp.StatusCode)
	}
	if len(out.Output.Choices) == 0 || len(out.Output.Choices[0].Message.Content) == 0 {
		if out.Message != "" {
			return Result{}, fmt.Errorf("qwen error: %s (%s)", out.Message, out.Code)
		}
		return Result{}, fmt.Errorf("qwen: %w", ErrEmptyResult)
	}
	url := strings.TrimSpace(out.Output.Choices[0].Message.Content[0]["image"])
	if url == "" {
		return Result{}, errors.New("qwen: missing image url")
	}
	return Result{URL: url}, nil
}

// qwenImageRef prefers inline bytes as a data URI so private blobs work.
func qwenImageRef(src SourceImage) (string, error) {
	if len(src.Data) > 0 {
		mimeType := src.MIMEType
		if mimeType == "" {
			mimeType = http.DetectContentType(src.Data)
		}
		return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(src.Data), nil
	}
	if u := strings.TrimSpace(src.URL); u != "" {
		return u, nil
	}
	return "", errors.New("qwen: image url or bytes required")
}
