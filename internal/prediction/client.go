package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/breed-check/internal/logging"
	"github.com/example/breed-check/internal/upload"
)

// ClientConfig configures the remote prediction client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. http://localhost:5000/api.
	BaseURL string
	// Timeout bounds each call. Zero leaves the transport default in place.
	Timeout time.Duration
	// MockFallback substitutes a synthesized prediction on any failure.
	MockFallback bool
	// HTTPClient overrides the underlying transport.
	HTTPClient *http.Client
}

type envelope struct {
	Success bool             `json:"success"`
	Data    *BreedPrediction `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Client talks to the remote prediction service.
type Client struct {
	http     *resty.Client
	mock     *MockGenerator
	fallback bool
	logger   *zap.Logger
}

// NewClient constructs a prediction client. mock may be nil only when
// MockFallback is disabled.
func NewClient(cfg ClientConfig, mock *MockGenerator, logger *zap.Logger) *Client {
	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	rc.SetRetryCount(0)
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	return &Client{
		http:     rc,
		mock:     mock,
		fallback: cfg.MockFallback && mock != nil,
		logger:   logger.Named("prediction_client"),
	}
}

// Predict makes exactly one call to the service. With fallback enabled any
// failure yields a mock outcome and a nil error.
func (c *Client) Predict(ctx context.Context, image *upload.Image) (*Outcome, error) {
	prediction, err := c.requestPrediction(ctx, image)
	if err == nil {
		return &Outcome{Prediction: prediction, Source: SourceService}, nil
	}

	wrapped := logging.NewOperationError("prediction.predict", "", err)
	if !c.fallback {
		c.logger.Error("prediction failed", zap.Error(wrapped))
		return nil, wrapped
	}

	c.logger.Warn("prediction failed, using mock result", zap.Error(wrapped))
	return &Outcome{
		Prediction: c.mock.Generate(),
		Source:     SourceMock,
		Fallback:   true,
		Cause:      err,
	}, nil
}

func (c *Client) requestPrediction(ctx context.Context, image *upload.Image) (*BreedPrediction, error) {
	filename := image.Filename
	if filename == "" {
		filename = "upload"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("image", filename, image.MimeType, bytes.NewReader(image.Bytes)).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d", ErrServiceRejected, resp.StatusCode())
	}

	var body envelope
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrServiceRejected, err)
	}
	if !body.Success {
		reason := body.Error
		if reason == "" {
			reason = "prediction failed"
		}
		return nil, fmt.Errorf("%w: %s", ErrServiceRejected, reason)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrServiceRejected)
	}
	if body.Data.Alternatives == nil {
		body.Data.Alternatives = []Alternative{}
	}
	return body.Data, nil
}

// Health asks the service whether it is ready. A transport failure is
// returned as ErrNetworkFailure.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var body envelope
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/health")
	if err != nil {
		return false, logging.NewOperationError("prediction.health", "", fmt.Errorf("%w: %v", ErrNetworkFailure, err))
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return false, nil
	}
	return resp.IsSuccess() && body.Success, nil
}

// FallbackEnabled reports whether failures degrade to mock outcomes.
func (c *Client) FallbackEnabled() bool {
	return c.fallback
}
