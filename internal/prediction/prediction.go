package prediction

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/breed-check/internal/upload"
)

var (
	// ErrNetworkFailure means the prediction service could not be reached.
	ErrNetworkFailure = errors.New("prediction service unreachable")
	// ErrServiceRejected means the service answered without a usable prediction.
	ErrServiceRejected = errors.New("prediction service rejected request")
)

// Alternative is a runner-up breed.
type Alternative struct {
	Breed      string  `json:"breed"`
	Confidence float64 `json:"confidence"`
}

// BreedPrediction is the result of one analysis.
type BreedPrediction struct {
	PrimaryBreed string        `json:"primary_breed"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives"`
}

// Source identifies where a prediction came from.
type Source string

const (
	SourceService Source = "service"
	SourceMock    Source = "mock"
)

// Outcome is what Predict hands back to callers. Fallback is true whenever
// the prediction was synthesized locally; Cause then holds the classified
// failure that triggered it.
type Outcome struct {
	Prediction *BreedPrediction
	Source     Source
	Fallback   bool
	Cause      error
}

// Predictor is the subset of the prediction client used by the analysis flow.
type Predictor interface {
	Predict(ctx context.Context, image *upload.Image) (*Outcome, error)
}

// BreedSet is the lookup used to check server predictions.
type BreedSet interface {
	Contains(name string) bool
}

// Issues lists ways in which a prediction does not match the local table or
// the documented ranges. Server predictions are never rewritten; the list is
// advisory.
func (p *BreedPrediction) Issues(known BreedSet) []string {
	var issues []string
	if known != nil && !known.Contains(p.PrimaryBreed) {
		issues = append(issues, fmt.Sprintf("unknown primary breed %q", p.PrimaryBreed))
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		issues = append(issues, fmt.Sprintf("confidence %.2f out of range", p.Confidence))
	}
	for i, alt := range p.Alternatives {
		if alt.Breed == p.PrimaryBreed {
			issues = append(issues, fmt.Sprintf("alternative %d repeats primary breed", i))
		}
		if alt.Confidence < 0 || alt.Confidence > 100 {
			issues = append(issues, fmt.Sprintf("alternative %d confidence %.2f out of range", i, alt.Confidence))
		}
		if i > 0 && alt.Confidence > p.Alternatives[i-1].Confidence {
			issues = append(issues, "alternatives not sorted by confidence")
		}
	}
	return issues
}

// Clone returns a deep copy.
func (p *BreedPrediction) Clone() *BreedPrediction {
	if p == nil {
		return nil
	}
	out := *p
	out.Alternatives = append([]Alternative(nil), p.Alternatives...)
	return &out
}
