package handlers

import (
	"fmt"

	"github.com/example/breed-check/internal/analysis"
	"github.com/example/breed-check/internal/breeds"
	"github.com/example/breed-check/internal/prediction"
)

type alternativeView struct {
	Breed       string  `json:"breed"`
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
	Percent     string  `json:"percent"`
}

// resultView is what both the HTML page and the JSON API render.
type resultView struct {
	AnalysisID   string            `json:"analysis_id"`
	Generation   uint64            `json:"generation"`
	PrimaryBreed string            `json:"primary_breed"`
	DisplayName  string            `json:"display_name"`
	Confidence   float64           `json:"confidence"`
	Percent      string            `json:"percent"`
	Kind         string            `json:"kind"`
	Category     string            `json:"category"`
	Info         *breeds.Info      `json:"breed_info,omitempty"`
	Alternatives []alternativeView `json:"alternatives"`
	Source       prediction.Source `json:"source"`
	Fallback     bool              `json:"fallback"`
	Stale        bool              `json:"stale"`
	Issues       []string          `json:"issues,omitempty"`
	ShowNotice   bool              `json:"-"`
}

func newResultView(a *analysis.Analysis, catalog *breeds.Catalog, showNotice bool) resultView {
	p := a.Prediction
	v := resultView{
		AnalysisID:   a.ID,
		Generation:   a.Generation,
		PrimaryBreed: p.PrimaryBreed,
		DisplayName:  breeds.FormatName(p.PrimaryBreed),
		Confidence:   p.Confidence,
		Percent:      percent(p.Confidence),
		Kind:         catalog.Kind(p.PrimaryBreed),
		Category:     catalog.Category(p.PrimaryBreed),
		Alternatives: make([]alternativeView, 0, len(p.Alternatives)),
		Source:       a.Source,
		Fallback:     a.Fallback,
		Stale:        a.Stale,
		Issues:       a.Issues,
		ShowNotice:   showNotice && a.Fallback,
	}
	if info, ok := catalog.Lookup(p.PrimaryBreed); ok {
		v.Info = &info
	}
	for _, alt := range p.Alternatives {
		v.Alternatives = append(v.Alternatives, alternativeView{
			Breed:       alt.Breed,
			DisplayName: breeds.FormatName(alt.Breed),
			Confidence:  alt.Confidence,
			Percent:     percent(alt.Confidence),
		})
	}
	return v
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
