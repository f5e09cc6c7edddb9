package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"cityfix-analyze-pipeline/models"
)

const defaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"

// maxLabels caps how many labels we request and keep per image.
const maxLabels = 5

type annotateImage struct {
	Content string `json:"content"`
}

type annotateFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateRequest struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateBatchRequest struct {
	Requests []annotateRequest `json:"requests"`
}

type labelAnnotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type annotateBatchResponse struct {
	Responses []struct {
		LabelAnnotations []labelAnnotation `json:"labelAnnotations"`
		Error            *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// Client calls the Google Vision images:annotate REST endpoint for
// label detection.
type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// NewClient creates a Vision label-detection client. httpClient should
// carry the provider timeout; pass nil to use http.DefaultClient.
func NewClient(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		http:     httpClient,
	}
}

// NewClientWithEndpoint is used by tests to point the client at a fake
// provider.
func NewClientWithEndpoint(apiKey, endpoint string, httpClient *http.Client) *Client {
	c := NewClient(apiKey, httpClient)
	c.endpoint = endpoint
	return c
}

func (c *Client) SourceName() string {
	return "Vision"
}

// DetectLabels submits the image for label detection and normalizes
// the provider envelope into ranked labels.
func (c *Client) DetectLabels(ctx context.Context, imageData []byte) ([]models.Label, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("no image data")
	}

	reqBody := annotateBatchRequest{
		Requests: []annotateRequest{
			{
				Image: annotateImage{
					Content: base64.StdEncoding.EncodeToString(imageData),
				},
				Features: []annotateFeature{
					{Type: "LABEL_DETECTION", MaxResults: maxLabels},
				},
			},
		},
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+c.apiKey, bytes.NewBuffer(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var br annotateBatchResponse
	if err := json.Unmarshal(bodyBytes, &br); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(br.Responses) == 0 {
		return nil, fmt.Errorf("no responses in annotate result")
	}
	if br.Responses[0].Error != nil {
		return nil, fmt.Errorf("annotate error (code %d): %s", br.Responses[0].Error.Code, br.Responses[0].Error.Message)
	}

	annotations := br.Responses[0].LabelAnnotations
	if len(annotations) == 0 {
		return nil, fmt.Errorf("no label annotations in response")
	}

	labels := make([]models.Label, 0, len(annotations))
	for _, a := range annotations {
		if a.Description == "" {
			continue
		}
		labels = append(labels, models.Label{Description: a.Description, Score: a.Score})
		if len(labels) == maxLabels {
			break
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no usable label annotations in response")
	}
	return labels, nil
}
