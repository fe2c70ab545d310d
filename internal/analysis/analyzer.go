package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/breed-check/internal/export"
	"github.com/example/breed-check/internal/logging"
	"github.com/example/breed-check/internal/prediction"
	"github.com/example/breed-check/internal/upload"
)

// ErrNoResult is returned when a session has nothing to show or export.
var ErrNoResult = errors.New("no analysis result")

// Analyzer owns the request flow for one view: it tags every analysis with a
// generation and only lets the latest one update the session.
type Analyzer struct {
	store     Store
	predictor prediction.Predictor
	known     prediction.BreedSet
	logger    *zap.Logger
	now       func() time.Time
	metrics   metrics
}

// NewAnalyzer constructs an analyzer. known may be nil to skip the advisory
// check of server predictions.
func NewAnalyzer(store Store, predictor prediction.Predictor, known prediction.BreedSet, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		store:     store,
		predictor: predictor,
		known:     known,
		logger:    logger.Named("analyzer"),
		now:       time.Now,
	}
}

// Analyze runs one prediction for image. The returned analysis has Stale set
// when a later Analyze or Reset on the same session overtook it; stale
// results are not stored.
func (a *Analyzer) Analyze(ctx context.Context, sessionID string, image *upload.Image) (*Analysis, error) {
	opLogger := logging.WithOperation(a.logger, "analysis.analyze", sessionID)

	gen, err := a.store.Begin(ctx, sessionID, metaOf(image))
	if err != nil {
		a.metrics.fail()
		opLogger.Error("failed to start analysis", zap.Error(err))
		return nil, err
	}

	start := a.now()
	outcome, err := a.predictor.Predict(ctx, image)
	latency := a.now().Sub(start)
	if err != nil {
		a.metrics.fail()
		wrapped := logging.NewOperationError("analysis.predict", sessionID, err)
		opLogger.Error("prediction failed", zap.Error(wrapped), zap.Uint64("generation", gen))
		return nil, wrapped
	}
	if outcome == nil || outcome.Prediction == nil {
		a.metrics.fail()
		return nil, logging.NewOperationError("analysis.predict", sessionID, ErrNoResult)
	}

	result := &Analysis{
		ID:         uuid.NewString(),
		Generation: gen,
		Prediction: outcome.Prediction,
		Source:     outcome.Source,
		Fallback:   outcome.Fallback,
		Image:      metaOf(image),
		CreatedAt:  a.now().UTC(),
	}
	if outcome.Cause != nil {
		result.Cause = outcome.Cause.Error()
	}
	if outcome.Source == prediction.SourceService {
		result.Issues = outcome.Prediction.Issues(a.known)
		if len(result.Issues) > 0 {
			opLogger.Warn("server prediction disagrees with breed table", zap.Strings("issues", result.Issues))
		}
	}

	applied, err := a.store.Commit(ctx, sessionID, result)
	if err != nil {
		a.metrics.fail()
		opLogger.Error("failed to store analysis", zap.Error(err))
		return nil, err
	}
	if !applied {
		result.Stale = true
		opLogger.Info("discarding stale analysis", zap.Uint64("generation", gen))
	}
	a.metrics.record(result, latency)

	opLogger.Info("analysis complete",
		zap.String("analysis_id", result.ID),
		zap.String("source", string(result.Source)),
		zap.Bool("stale", result.Stale),
		zap.Duration("latency", latency),
	)
	return result, nil
}

// LastResult returns the latest stored analysis for the session.
func (a *Analyzer) LastResult(ctx context.Context, sessionID string) (*Analysis, error) {
	state, err := a.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Result == nil {
		return nil, ErrNoResult
	}
	return state.Result, nil
}

// State returns the whole session snapshot.
func (a *Analyzer) State(ctx context.Context, sessionID string) (*State, error) {
	return a.store.Load(ctx, sessionID)
}

// Reset forgets the session's image and result. Requests still in flight
// become stale.
func (a *Analyzer) Reset(ctx context.Context, sessionID string) error {
	if err := a.store.Reset(ctx, sessionID); err != nil {
		logging.WithOperation(a.logger, "analysis.reset", sessionID).Error("failed to reset session", zap.Error(err))
		return err
	}
	return nil
}

// Export renders the last result as a downloadable document.
func (a *Analyzer) Export(ctx context.Context, sessionID string) (string, []byte, error) {
	result, err := a.LastResult(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	now := a.now()
	data, err := export.Marshal(result.Prediction, now)
	if err != nil {
		return "", nil, logging.NewOperationError("analysis.export", sessionID, err)
	}
	return export.Filename(now), data, nil
}

// MetricsSummary aggregates the analyses this analyzer has run.
func (a *Analyzer) MetricsSummary() MetricsSummary {
	return a.metrics.summary()
}
