package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const ocrRequestTimeout = 5 * time.Minute

// OCRClient calls an external OCR sidecar that rasterizes a document and
// returns recognized text per page.
type OCRClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewOCRClient creates a new OCRClient instance.
func NewOCRClient(endpoint string) *OCRClient {
	return &OCRClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: ocrRequestTimeout},
	}
}

type ocrResponse struct {
	Pages []string `json:"pages"`
}

// Recognize sends the document bytes to the sidecar and returns one Page
// per recognized page.
func (c *OCRClient) Recognize(ctx context.Context, data []byte, mimeType string) ([]Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ocr returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode ocr response: %w", err)
	}

	pages := make([]Page, 0, len(parsed.Pages))
	for i, text := range parsed.Pages {
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
