package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// MistralClient is the production MistralOCRClient, talking to
// Mistral's document OCR API over plain net/http (mistral_ocr.py's
// requests-based upload -> signed-url -> ocr flow: no pack repo
// vendors an HTTP client library, so this follows the teacher's own
// habit of calling net/http directly for anything outside the AWS SDK
// and Anthropic SDK surfaces it already depends on).
type MistralClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewMistralClient constructs a MistralClient. apiKey is resolved ahead
// of time by internal/secrets.Resolver.
func NewMistralClient(apiKey string) *MistralClient {
	return &MistralClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    "https://api.mistral.ai",
	}
}

type mistralUploadResponse struct {
	ID string `json:"id"`
}

// Upload sends the raw document bytes via a multipart/form-data POST to
// /v1/files with purpose=ocr, and returns the provider-side file id.
func (c *MistralClient) Upload(ctx context.Context, filename string, content []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "ocr"); err != nil {
		return "", fmt.Errorf("mistral upload: write purpose field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("mistral upload: create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("mistral upload: write file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("mistral upload: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("mistral upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out mistralUploadResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("mistral upload: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("mistral upload: response carried no file id")
	}
	return out.ID, nil
}

type mistralSignedURLResponse struct {
	URL string `json:"url"`
}

// SignedURL requests a 24-hour signed URL for a previously uploaded
// file id from GET /v1/files/{id}/url.
func (c *MistralClient) SignedURL(ctx context.Context, fileID string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/files/%s/url?expiry=24", c.baseURL, url.PathEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("mistral signed url: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out mistralSignedURLResponse
	if err := c.doJSON(req, &out); err != nil {
		return "", fmt.Errorf("mistral signed url: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("mistral signed url: response carried no url")
	}
	return out.URL, nil
}

type mistralOCRRequest struct {
	Model               string             `json:"model"`
	Document            mistralDocumentRef `json:"document"`
	IncludeImageBase64  bool               `json:"include_image_base64"`
}

type mistralDocumentRef struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []mistralPage `json:"pages"`
}

type mistralPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// Submit runs the OCR job against a signed URL via POST /v1/ocr and
// converts the response into a page-indexed types.OCRResult.
func (c *MistralClient) Submit(ctx context.Context, signedURL string) (*types.OCRResult, error) {
	payload, err := json.Marshal(mistralOCRRequest{
		Model:    "mistral-ocr-latest",
		Document: mistralDocumentRef{Type: "document_url", DocumentURL: signedURL},
	})
	if err != nil {
		return nil, fmt.Errorf("mistral ocr: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ocr", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mistral ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var out mistralOCRResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("mistral ocr: %w", err)
	}

	pages := make([]types.OCRPage, 0, len(out.Pages))
	for _, p := range out.Pages {
		pages = append(pages, types.OCRPage{Index: p.Index, Content: p.Markdown})
	}
	return &types.OCRResult{Pages: pages}, nil
}

func (c *MistralClient) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
