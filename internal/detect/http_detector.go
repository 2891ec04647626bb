// -----------------------------------------------------------------------
// HTTP Detector - Frame inference against a remote model server
// -----------------------------------------------------------------------

package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/media"
	"github.com/ternarybob/visum/internal/models"
)

// jpegQuality for frames posted to the model server.
// Detection quality is insensitive to mild compression and smaller
// payloads keep per-frame latency down.
const jpegQuality = 85

// predictionResponse mirrors the model server's wire format
type predictionResponse struct {
	Detections []struct {
		Box        []float64 `json:"box"` // [x1, y1, x2, y2]
		ClassID    int       `json:"class_id"`
		Confidence float64   `json:"confidence"`
	} `json:"detections"`
}

// HTTPDetector implements interfaces.Detector against a remote inference
// endpoint. Frames are posted as JPEG and predictions come back as JSON.
type HTTPDetector struct {
	endpoint      string
	client        *http.Client
	minConfidence float64
	classes       *common.ClassMap
	limiter       *rate.Limiter // nil = unlimited
	maxRetries    int
	logger        arbor.ILogger
}

var _ interfaces.Detector = (*HTTPDetector)(nil)

// NewHTTPDetector creates a detector client from configuration
func NewHTTPDetector(cfg *common.DetectorConfig, classes *common.ClassMap, logger arbor.ILogger) (*HTTPDetector, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("detector endpoint is required")
	}

	timeout := 30 * time.Second
	if cfg.RequestTimeout != "" {
		if d, err := time.ParseDuration(cfg.RequestTimeout); err == nil {
			timeout = d
		}
	}

	d := &HTTPDetector{
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		client:        &http.Client{Timeout: timeout},
		minConfidence: cfg.MinConfidence,
		classes:       classes,
		maxRetries:    cfg.MaxRetries,
		logger:        logger,
	}

	if cfg.RateLimit != "" {
		if interval, err := time.ParseDuration(cfg.RateLimit); err == nil && interval > 0 {
			d.limiter = rate.NewLimiter(rate.Every(interval), 1)
			logger.Debug().
				Str("interval", cfg.RateLimit).
				Msg("Detector rate limiter enabled")
		}
	}

	return d, nil
}

// Detect posts a frame to the model server and returns filtered detections
func (d *HTTPDetector) Detect(ctx context.Context, frame *media.Frame) ([]models.Detection, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.ToRGBA(), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	body, err := d.post(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}

	var resp predictionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse detector response: %w", err)
	}

	detections := make([]models.Detection, 0, len(resp.Detections))
	for _, p := range resp.Detections {
		if p.Confidence < d.minConfidence {
			continue
		}
		if len(p.Box) != 4 {
			d.logger.Warn().
				Int("coords", len(p.Box)).
				Msg("Detector returned malformed box - skipping")
			continue
		}
		detections = append(detections, models.Detection{
			X1:         int(p.Box[0]),
			Y1:         int(p.Box[1]),
			X2:         int(p.Box[2]),
			Y2:         int(p.Box[3]),
			ClassID:    p.ClassID,
			Confidence: p.Confidence,
			Label:      d.classes.Label(p.ClassID),
		})
	}

	return detections, nil
}

// post sends the JPEG payload, retrying transient (5xx) failures
func (d *HTTPDetector) post(ctx context.Context, payload []byte) ([]byte, error) {
	url := d.endpoint + "/predict"

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff between retries
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create detector request: %w", err)
		}
		req.Header.Set("Content-Type", "image/jpeg")

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("detector request failed: %w", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			if readErr != nil {
				return nil, fmt.Errorf("failed to read detector response: %w", readErr)
			}
			return body, nil
		}

		lastErr = fmt.Errorf("detector returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode < 500 {
			// Client errors won't heal on retry
			return nil, lastErr
		}

		d.logger.Warn().
			Int("status", resp.StatusCode).
			Int("attempt", attempt+1).
			Msg("Transient detector failure - retrying")
	}

	return nil, lastErr
}

// Close releases client resources
func (d *HTTPDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
