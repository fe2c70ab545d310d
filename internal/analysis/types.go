package analysis

import (
	"time"

	"github.com/example/breed-check/internal/prediction"
	"github.com/example/breed-check/internal/upload"
)

// ImageMeta describes the current upload without its payload.
type ImageMeta struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

func metaOf(img *upload.Image) ImageMeta {
	return ImageMeta{Filename: img.Filename, MimeType: img.MimeType, SizeBytes: img.SizeBytes}
}

// Analysis is one completed prediction request.
type Analysis struct {
	ID         string                      `json:"id"`
	Generation uint64                      `json:"generation"`
	Prediction *prediction.BreedPrediction `json:"prediction"`
	Source     prediction.Source           `json:"source"`
	Fallback   bool                        `json:"fallback"`
	Cause      string                      `json:"cause,omitempty"`
	Issues     []string                    `json:"issues,omitempty"`
	Image      ImageMeta                   `json:"image"`
	CreatedAt  time.Time                   `json:"created_at"`
	// Stale is set when a newer request superseded this one before it finished.
	Stale bool `json:"-"`
}

func (a *Analysis) clone() *Analysis {
	if a == nil {
		return nil
	}
	out := *a
	out.Prediction = a.Prediction.Clone()
	out.Issues = append([]string(nil), a.Issues...)
	return &out
}
