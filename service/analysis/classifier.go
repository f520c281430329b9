package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrClassifierDisabled is returned when no classifier endpoint is configured.
var ErrClassifierDisabled = errors.New("classifier not configured")

// Prediction is the classifier's answer for one image.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier labels an image. Its internals are out of scope here.
type Classifier interface {
	Classify(ctx context.Context, imageURL string) (*Prediction, error)
}

// HTTPClassifier posts the image URL to a remote model endpoint.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClassifier(endpoint string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClassifier) Classify(ctx context.Context, imageURL string) (*Prediction, error) {
	payload, _ := json.Marshal(map[string]string{"image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	var p Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}

type DisabledClassifier struct{}

func (DisabledClassifier) Classify(context.Context, string) (*Prediction, error) {
	return nil, ErrClassifierDisabled
}
