package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"firewatch/internal/config"
	"firewatch/internal/model"
)

// Client talks to the external smoke classifier service. The model itself
// is a black box: it receives a JPEG and returns per-region confidence
// scores with no ordering guarantee.
type Client struct {
	endpoint string
	client   *http.Client
}

func NewClient(cfg config.ClassifierConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Classify submits the image and returns the scored segments. Scores are
// clamped to [0,1]; callers are responsible for ordering.
func (c *Client) Classify(ctx context.Context, imagePath string) ([]model.Segment, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(imagePath)))
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/classify", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classifier returned %s: %s", resp.Status, body)
	}

	var segments []model.Segment
	if err := json.NewDecoder(resp.Body).Decode(&segments); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	for i := range segments {
		if segments[i].Score < 0 {
			segments[i].Score = 0
		} else if segments[i].Score > 1 {
			segments[i].Score = 1
		}
	}
	return segments, nil
}
