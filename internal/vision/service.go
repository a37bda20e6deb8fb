package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultServiceURL = "http://localhost:8000"

// Client talks to the face inference sidecar over HTTP. The sidecar exposes
// /detect, /encode and /liveness endpoints accepting multipart image uploads.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a sidecar client. An empty baseURL falls back to the
// local default.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultServiceURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type detectResponse struct {
	Boxes []Box `json:"boxes"`
}

type encodeResponse struct {
	Embedding []float64 `json:"embedding"`
	Dim       int       `json:"dim"`
	Error     string    `json:"error,omitempty"`
}

// postImage uploads image data as a multipart form, with the bounding box (if
// any) serialized into a form field, and returns the response body.
func (c *Client) postImage(ctx context.Context, endpoint string, image []byte, box *Box) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "capture.jpg")
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("writing image data: %w", err)
	}

	if box != nil {
		boxJSON, err := json.Marshal(box)
		if err != nil {
			return nil, fmt.Errorf("marshaling box: %w", err)
		}
		if err := writer.WriteField("box", string(boxJSON)); err != nil {
			return nil, fmt.Errorf("writing box field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Detect returns all face bounding boxes found in the image.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Box, error) {
	body, err := c.postImage(ctx, "/detect", image, nil)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing detect response: %w", err)
	}
	return resp.Boxes, nil
}

// Encode returns the 128-dim embedding for the face in the given box.
func (c *Client) Encode(ctx context.Context, image []byte, box Box) ([]float64, error) {
	body, err := c.postImage(ctx, "/encode", image, &box)
	if err != nil {
		return nil, err
	}

	var resp encodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing encode response: %w", err)
	}

	switch resp.Error {
	case "":
	case "NO_FACE":
		return nil, ErrNoFace
	case "MULTI_FACE":
		return nil, ErrMultiFace
	default:
		return nil, fmt.Errorf("%w: %s", ErrEncodingFail, resp.Error)
	}
	return resp.Embedding, nil
}

// Score returns the liveness verdict for the face in the given box.
func (c *Client) Score(ctx context.Context, image []byte, box Box) (LivenessScore, error) {
	body, err := c.postImage(ctx, "/liveness", image, &box)
	if err != nil {
		return LivenessScore{}, err
	}

	var score LivenessScore
	if err := json.Unmarshal(body, &score); err != nil {
		return LivenessScore{}, fmt.Errorf("parsing liveness response: %w", err)
	}
	return score, nil
}
