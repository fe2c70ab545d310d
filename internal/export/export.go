package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/breed-check/internal/prediction"
)

// ContentType is the media type of an export document.
const ContentType = "application/json"

// Document is the downloadable record of one analysis.
type Document struct {
	Timestamp    string                   `json:"timestamp"`
	PrimaryBreed string                   `json:"primary_breed"`
	Confidence   float64                  `json:"confidence"`
	Alternatives []prediction.Alternative `json:"alternatives"`
}

// New builds a document for p stamped with now.
func New(p *prediction.BreedPrediction, now time.Time) Document {
	alts := p.Alternatives
	if alts == nil {
		alts = []prediction.Alternative{}
	}
	return Document{
		Timestamp:    now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		PrimaryBreed: p.PrimaryBreed,
		Confidence:   p.Confidence,
		Alternatives: append([]prediction.Alternative(nil), alts...),
	}
}

// Filename returns the download name for a document created at now.
func Filename(now time.Time) string {
	return fmt.Sprintf("cattle_breed_analysis_%d.json", now.UnixMilli())
}

// Marshal renders p as an indented JSON document.
func Marshal(p *prediction.BreedPrediction, now time.Time) ([]byte, error) {
	return json.MarshalIndent(New(p, now), "", "  ")
}

// Parse reads a document back and returns its prediction and timestamp.
// Alternatives is never nil; a prediction exported with nil alternatives
// comes back with an empty slice.
func Parse(data []byte) (*prediction.BreedPrediction, time.Time, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode export: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, doc.Timestamp)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decode export timestamp: %w", err)
	}
	alts := doc.Alternatives
	if alts == nil {
		alts = []prediction.Alternative{}
	}
	return &prediction.BreedPrediction{
		PrimaryBreed: doc.PrimaryBreed,
		Confidence:   doc.Confidence,
		Alternatives: alts,
	}, ts, nil
}
