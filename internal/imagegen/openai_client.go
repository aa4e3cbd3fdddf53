package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const DefaultOpenAIModel = "gpt-image-1"

type OpenAIOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// OpenAIClient calls the images/edits endpoint with the source photo as a
// multipart upload.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	model      string
}

func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OpenAIClient{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
		model:      model,
	}
}

type openAIResp struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Result, error) {
	if c == nil {
		return Result{}, ErrNotConfigured
	}
	if c.token == "" {
		return Result{}, errors.New("openai: API key is missing")
	}
	if len(req.Source.Data) == 0 {
		return Result{}, errors.New("openai: source image bytes required")
	}

	body, contentType, err := c.buildForm(req)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", body)
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	var out openAIResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return Result{}, fmt.Errorf("openai: http %d", resp.StatusCode)
		}
		return Result{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error != nil && out.Error.Message != "" {
			return Result{}, fmt.Errorf("openai error: %s (http %d)", out.Error.Message, resp.StatusCode)
		}
		return Result{}, fmt.Errorf("openai: http %d", resp.StatusCode)
	}
	if len(out.Data) == 0 {
		return Result{}, fmt.Errorf("openai: %w", ErrEmptyResult)
	}
	first := out.Data[0]
	switch {
	case first.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return Result{}, fmt.Errorf("openai: decode image: %w", err)
		}
		return Result{Data: data, MIMEType: "image/png"}, nil
	case strings.TrimSpace(first.URL) != "":
		return Result{URL: strings.TrimSpace(first.URL)}, nil
	default:
		return Result{}, fmt.Errorf("openai: %w", ErrEmptyResult)
	}
}

func (c *OpenAIClient) buildForm(req Request) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := req.Source.Name
	if name == "" {
		name = "input_face.png"
	}
	mimeType := req.Source.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Source.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Source.Data); err != nil {
		return nil, "", err
	}

	size := req.Size
	if size == "" {
		size = "1024x1024"
	}
	fields := [][2]string{
		{"prompt", req.Prompt},
		{"model", c.model},
		{"n", "1"},
		{"size", size},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
