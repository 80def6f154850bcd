// Package detect adapts the external computer-vision service to the relay's
// processing pipeline. The detector is an HTTP sidecar: it accepts a raw JPEG
// frame and returns object detections plus per-item freshness grades.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/suscart-data/freshrelay/internal/httputil"
	"github.com/suscart-data/freshrelay/internal/relay"
)

// Client calls the detector sidecar over HTTP. It implements relay.Processor.
type Client struct {
	baseURL string
	http    httputil.Doer
}

// NewClient returns a detector client for the service at baseURL. The HTTP
// client carries no timeout of its own; the relay's pipeline deadline arrives
// through the request context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
	}
}

// NewClientWithDoer returns a detector client sending requests through doer.
func NewClientWithDoer(baseURL string, doer httputil.Doer) *Client {
	return &Client{baseURL: baseURL, http: doer}
}

// detectorResponse is the sidecar's wire format.
type detectorResponse struct {
	Detections []relay.Detection      `json:"detections"`
	Freshness  []relay.FreshnessScore `json:"freshness"`
	Confidence float64                `json:"confidence"`
}

// Process sends one frame to the detector and maps its response to frame
// metadata. A context deadline surfaces as relay.ErrProcessingTimeout;
// connection failures and server errors as relay.ErrProcessingUnavailable.
func (c *Client) Process(ctx context.Context, payload []byte) (*relay.FrameMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, relay.ErrProcessingTimeout
		}
		return nil, fmt.Errorf("%w: %v", relay.ErrProcessingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: detector returned %d", relay.ErrProcessingUnavailable, resp.StatusCode)
	}

	var dr detectorResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("%w: decode detector response: %v", relay.ErrProcessingUnavailable, err)
	}

	return &relay.FrameMetadata{
		Detections: dr.Detections,
		Freshness:  dr.Freshness,
		Confidence: dr.Confidence,
	}, nil
}

// Static is a development stand-in for the detector. Every frame gets the
// same canned detection after an optional artificial delay.
type Static struct {
	Delay time.Duration
}

func (s *Static) Process(ctx context.Context, payload []byte) (*relay.FrameMetadata, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &relay.FrameMetadata{
		Detections: []relay.Detection{{
			Class:      "banana",
			Confidence: 0.97,
			Bounds:     [4]float64{0.1, 0.1, 0.4, 0.3},
		}},
		Freshness: []relay.FreshnessScore{{
			Score:  0.88,
			Labels: []string{"ripe"},
		}},
		Confidence: 0.97,
	}, nil
}
