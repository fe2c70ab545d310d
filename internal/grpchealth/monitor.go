package grpchealth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PredictionService is the health service name that tracks the upstream API.
const PredictionService = "breedcheck.Prediction"

// Checker probes the upstream prediction service.
type Checker interface {
	Health(ctx context.Context) (bool, error)
}

// fallbackReporter is implemented by checkers that degrade to mock results
// when the upstream is down.
type fallbackReporter interface {
	FallbackEnabled() bool
}

// Status is the last observed upstream state.
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Monitor polls the prediction service and publishes the result through the
// standard grpc.health.v1 service. The front-end itself always reports
// SERVING since predictions degrade to mock results.
type Monitor struct {
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	health   *health.Server
	logger   *zap.Logger
	fallback bool

	mu     sync.RWMutex
	status Status
}

// NewMonitor creates a monitor probing every interval.
func NewMonitor(checker Checker, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(PredictionService, healthpb.HealthCheckResponse_UNKNOWN)
	m := &Monitor{
		checker:  checker,
		interval: interval,
		timeout:  5 * time.Second,
		health:   hs,
		logger:   logger.Named("health_monitor"),
	}
	if fr, ok := checker.(fallbackReporter); ok {
		m.fallback = fr.FallbackEnabled()
	}
	return m
}

// Register exposes the health service on srv.
func (m *Monitor) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, m.health)
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one upstream check and records it.
func (m *Monitor) Probe(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	healthy, err := m.checker.Health(probeCtx)
	st := Status{Healthy: healthy && err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		st.Error = err.Error()
	}

	m.mu.Lock()
	changed := m.status.Healthy != st.Healthy || m.status.CheckedAt.IsZero()
	m.status = st
	m.mu.Unlock()

	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Healthy {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	m.health.SetServingStatus(PredictionService, serving)

	if changed {
		if st.Healthy {
			m.logger.Info("prediction service healthy")
		} else {
			msg := "prediction service unavailable, predictions will fail"
			if m.fallback {
				msg = "prediction service unavailable, predictions will use mock results"
			}
			m.logger.Warn(msg, zap.String("error", st.Error))
		}
	}
	return st
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
// Open Watch streams see the change but stay open; see StopServer.
func (m *Monitor) Shutdown() {
	m.health.Shutdown()
}

// StopServer drains srv and forces it closed once timeout passes, since
// health Watch streams never end on their own. It reports whether the
// graceful stop finished in time.
func StopServer(srv *grpc.Server, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		srv.Stop()
		<-done
		return false
	}
}

// Status returns the last recorded upstream state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
