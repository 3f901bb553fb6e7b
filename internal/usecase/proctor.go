// Package usecase contains application business logic: the session state
// machine and the orchestrator that owns every running session.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/detector"
	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/policy"
)

// ProctorConfig holds orchestrator configuration.
type ProctorConfig struct {
	SampleInterval  time.Duration // Sampler cadence; <= 0 disables the ticker (manual SampleNow only)
	EndOnDeviceLoss bool          // End the session when the camera is permanently denied
	Policy          policy.Policy // Policy applied to sessions started from now on
}

// DefaultProctorConfig returns default orchestrator configuration.
func DefaultProctorConfig() ProctorConfig {
	return ProctorConfig{
		SampleInterval: policy.DefaultSampleInterval,
		Policy:         policy.Default(),
	}
}

// Option configures optional collaborators of the orchestrator.
type Option func(*ProctorImpl)

// WithDetector replaces the heuristic detector bank.
func WithDetector(d domain.Detector) Option {
	return func(p *ProctorImpl) {
		p.detector = d
	}
}

// WithCatalog replaces the default violation catalog.
func WithCatalog(c *policy.Catalog) Option {
	return func(p *ProctorImpl) {
		p.catalog = c
	}
}

// WithProbe enables environment probing at session start.
func WithProbe(probe domain.EnvironmentProbe) Option {
	return func(p *ProctorImpl) {
		p.probe = probe
	}
}

// WithSinks registers event sinks. Sinks must not block; wrap slow ones in
// an async fan-out.
func WithSinks(sinks ...domain.EventSink) Option {
	return func(p *ProctorImpl) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithReportStore sets the fallback for reports of evicted sessions.
func WithReportStore(store domain.ReportStore) Option {
	return func(p *ProctorImpl) {
		p.reports = store
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *ProctorImpl) {
		p.now = now
	}
}

// ProctorImpl implements domain.SessionService.
// It owns every session and guarantees at most one running session per subject.
type ProctorImpl struct {
	config   ProctorConfig
	acquirer domain.StreamAcquirer
	detector domain.Detector
	catalog  *policy.Catalog
	probe    domain.EnvironmentProbe
	sinks    []domain.EventSink
	reports  domain.ReportStore
	now      func() time.Time
	logger   *zap.Logger

	startMu  sync.Mutex // serializes StartSession so supersede is race free
	mu       sync.RWMutex
	sessions map[string]*sessionRuntime
	running  map[string]*sessionRuntime // subjectID -> setup/active session
}

// NewProctor creates a new session orchestrator.
func NewProctor(
	config ProctorConfig,
	acquirer domain.StreamAcquirer,
	logger *zap.Logger,
	opts ...Option,
) *ProctorImpl {
	p := &ProctorImpl{
		config:   config,
		acquirer: acquirer,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*sessionRuntime),
		running:  make(map[string]*sessionRuntime),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.detector == nil {
		p.detector = detector.NewHeuristic()
	}
	if p.catalog == nil {
		p.catalog = policy.NewCatalog()
	}
	return p
}

// SetPolicy swaps the policy used for new sessions.
// Running sessions keep the policy they started with.
func (p *ProctorImpl) SetPolicy(pol policy.Policy) error {
	if err := pol.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	p.mu.Lock()
	p.config.Policy = pol
	p.mu.Unlock()
	p.logger.Info("policy updated",
		zap.Int("review_threshold", pol.Scoring.ReviewThreshold),
		zap.Int("high_suspicion_threshold", pol.Scoring.HighSuspicionThreshold))
	return nil
}

// Policy returns the policy new sessions start with.
func (p *ProctorImpl) Policy() policy.Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Policy
}

// StartSession validates the request, force-ends any running session of the
// same subject, acquires devices and starts the session runtime.
func (p *ProctorImpl) StartSession(ctx context.Context, req domain.StartRequest) (*domain.StartResult, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.mu.RLock()
	stale := p.running[req.SubjectID]
	pol := p.config.Policy
	p.mu.RUnlock()

	if stale != nil {
		p.logger.Info("superseding running session",
			zap.String("subject", req.SubjectID),
			zap.String("session", stale.id))
		if _, err := stale.end(ctx, domain.EndSuperseded); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
			return nil, fmt.Errorf("failed to end stale session %s: %w", stale.id, err)
		}
	}

	session := domain.Session{
		ID:              uuid.NewString(),
		SessionType:     req.SessionType,
		SubjectID:       req.SubjectID,
		Config:          req.Config,
		DeviceInfo:      req.DeviceInfo,
		Status:          domain.StatusSetup,
		StartTime:       p.now(),
		IntegrityStatus: domain.IntegrityClean,
		Violations:      []domain.Violation{},
	}
	rt := newSessionRuntime(p, session, pol)

	if err := p.acquireDevices(ctx, rt); err != nil {
		p.logger.Warn("session setup failed",
			zap.String("subject", req.SubjectID),
			zap.Error(err))
		return nil, err
	}

	rt.pendingFindings = p.runProbe(ctx, req.DeviceInfo, session.ID)

	if !req.Config.FullscreenRequired || req.DeviceInfo.FullscreenActive {
		rt.activate()
	}

	p.mu.Lock()
	p.sessions[session.ID] = rt
	p.running[req.SubjectID] = rt
	p.mu.Unlock()

	snap := rt.snapshot()
	p.publish(rt.sessionEvent(domain.SessionStarted, nil, nil))

	go rt.run()

	p.logger.Info("session started",
		zap.String("session", session.ID),
		zap.String("subject", req.SubjectID),
		zap.String("type", req.SessionType),
		zap.String("status", string(snap.Status)))

	return &domain.StartResult{SessionID: session.ID, Status: snap.Status}, nil
}

func validateStart(req domain.StartRequest) error {
	switch {
	case req.SubjectID == "":
		return fmt.Errorf("%w: subjectId is required", domain.ErrConfigInvalid)
	case req.SessionType == "":
		return fmt.Errorf("%w: sessionType is required", domain.ErrConfigInvalid)
	case req.Config.TimeLimit < 0:
		return fmt.Errorf("%w: timeLimit must not be negative", domain.ErrConfigInvalid)
	case req.Config.StrictMode && !req.Config.CameraEnabled:
		return fmt.Errorf("%w: strictMode requires cameraEnabled", domain.ErrConfigInvalid)
	}
	return nil
}

// acquireDevices opens every configured device. On failure anything already
// acquired is released before returning.
func (p *ProctorImpl) acquireDevices(ctx context.Context, rt *sessionRuntime) error {
	cfg := rt.session.Config
	req := domain.DeviceRequest{SessionID: rt.id, Config: cfg, DeviceInfo: rt.session.DeviceInfo}

	if cfg.CameraEnabled {
		cam, err := p.acquirer.AcquireCamera(ctx, req)
		if err != nil {
			return &domain.SetupError{Device: "camera", Err: err}
		}
		rt.camera = cam
	}

	if cfg.ScreenMonitoringEnabled {
		screen, err := p.acquirer.AcquireScreen(ctx, req, rt.onScreenEnded)
		if err != nil {
			rt.releaseDevices()
			return &domain.SetupError{Device: "screen", Err: err}
		}
		rt.screen = screen
	}
	return nil
}

func (p *ProctorImpl) runProbe(ctx context.Context, info domain.DeviceInfo, sessionID string) []domain.ProbeFinding {
	if p.probe == nil {
		return nil
	}
	findings, err := p.probe.Probe(ctx, info)
	if err != nil {
		p.logger.Warn("environment probe failed",
			zap.String("session", sessionID),
			zap.Error(err))
	}
	return findings
}

// LogViolation records an externally reported violation. Silently ignored
// unless the session is active.
func (p *ProctorImpl) LogViolation(ctx context.Context, sessionID string, in domain.ViolationInput) (*domain.LogResult, error) {
	rt, err := p.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := rt.catalog.Get(in.Type); !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownViolationType, in.Type)
	}

	rep, err := rt.send(ctx, message{kind: msgViolation, violation: in})
	if errors.Is(err, domain.ErrSessionClosed) {
		return rt.ignoredResult(), nil
	}
	if err != nil {
		return nil, err
	}
	return rep.log, nil
}

// PostEvent delivers an environment event. A screen-share end is routed
// through the screen handle so it surfaces as a push from the acquirer.
func (p *ProctorImpl) PostEvent(ctx context.Context, sessionID string, event domain.EnvironmentEvent) error {
	rt, err := p.lookup(sessionID)
	if err != nil {
		return err
	}
	if event.Kind == domain.EventScreenShareEnded && rt.screen != nil {
		rt.screen.End()
		return nil
	}
	return dropClosed(rt.sendOnly(ctx, message{kind: msgEvent, event: event}))
}

// SubmitFrame buffers a camera frame for the next sampler tick.
func (p *ProctorImpl) SubmitFrame(ctx context.Context, sessionID string, frame *domain.Frame, audio domain.AudioBuffer) error {
	rt, err := p.lookup(sessionID)
	if err != nil {
		return err
	}
	if rt.camera == nil {
		return fmt.Errorf("%w: session %s has no camera", domain.ErrConfigInvalid, sessionID)
	}
	if err := rt.camera.Push(frame, audio); err != nil {
		if errors.Is(err, domain.ErrDeviceReleased) {
			return nil
		}
		return err
	}
	return nil
}

// SubmitSample feeds a client-computed detector sample straight to the classifier.
func (p *ProctorImpl) SubmitSample(ctx context.Context, sessionID string, sample domain.DetectorSample) error {
	rt, err := p.lookup(sessionID)
	if err != nil {
		return err
	}
	return dropClosed(rt.sendOnly(ctx, message{kind: msgSample, sample: sample}))
}

// SampleNow forces one sampler tick.
func (p *ProctorImpl) SampleNow(ctx context.Context, sessionID string) error {
	rt, err := p.lookup(sessionID)
	if err != nil {
		return err
	}
	return dropClosed(rt.sendOnly(ctx, message{kind: msgTick}))
}

// EndSession ends the session and returns its report. Idempotent.
func (p *ProctorImpl) EndSession(ctx context.Context, sessionID string) (*domain.Report, error) {
	rt, err := p.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return rt.end(ctx, domain.EndExplicit)
}

// GetReport returns the report of an ended session, falling back to the
// report store for sessions no longer in memory.
func (p *ProctorImpl) GetReport(ctx context.Context, sessionID string) (*domain.Report, error) {
	rt, err := p.lookup(sessionID)
	if err == nil {
		if rep := rt.reportCopy(); rep != nil {
			return rep, nil
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotEnded, sessionID)
	}
	if p.reports == nil {
		return nil, err
	}

	rep, storeErr := p.reports.GetReport(ctx, sessionID)
	if storeErr != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", sessionID, storeErr)
	}
	if rep == nil {
		return nil, err
	}
	return rep, nil
}

// ReviewSession attaches the reviewer annotation. Only allowed after end;
// the session is not reopened.
func (p *ProctorImpl) ReviewSession(ctx context.Context, sessionID string, review domain.Review) (*domain.Report, error) {
	if review.Reviewer == "" || review.Decision == "" {
		return nil, fmt.Errorf("%w: reviewer and decision are required", domain.ErrConfigInvalid)
	}
	rt, err := p.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = p.now()
	}

	rep, err := rt.annotate(review)
	if err != nil {
		return nil, err
	}
	p.publish(rt.sessionEvent(domain.SessionReviewed, nil, rep))
	p.logger.Info("session reviewed",
		zap.String("session", sessionID),
		zap.String("reviewer", review.Reviewer),
		zap.String("decision", review.Decision))
	return rep, nil
}

// Snapshot returns the live view of a session.
func (p *ProctorImpl) Snapshot(sessionID string) (*domain.Snapshot, error) {
	rt, err := p.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	snap := rt.snapshot()
	return &snap, nil
}

// Sessions returns snapshots of every session held in memory.
func (p *ProctorImpl) Sessions() []domain.Snapshot {
	p.mu.RLock()
	rts := make([]*sessionRuntime, 0, len(p.sessions))
	for _, rt := range p.sessions {
		rts = append(rts, rt)
	}
	p.mu.RUnlock()

	out := make([]domain.Snapshot, 0, len(rts))
	for _, rt := range rts {
		out = append(out, rt.snapshot())
	}
	return out
}

// Shutdown ends every running session with reason shutdown.
func (p *ProctorImpl) Shutdown(ctx context.Context) error {
	p.mu.RLock()
	running := make([]*sessionRuntime, 0, len(p.running))
	for _, rt := range p.running {
		running = append(running, rt)
	}
	p.mu.RUnlock()

	var errs []error
	for _, rt := range running {
		if _, err := rt.end(ctx, domain.EndShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	if len(running) > 0 {
		p.logger.Info("ended running sessions on shutdown", zap.Int("count", len(running)))
	}
	return errors.Join(errs...)
}

// Evict drops ended sessions whose end time is older than the retention
// window. Returns the number of evicted sessions.
func (p *ProctorImpl) Evict(olderThan time.Duration) int {
	cutoff := p.now().Add(-olderThan)

	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for id, rt := range p.sessions {
		rt.mu.RLock()
		expired := rt.report != nil && rt.report.EndTime.Before(cutoff)
		rt.mu.RUnlock()
		if expired {
			delete(p.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (p *ProctorImpl) lookup(sessionID string) (*sessionRuntime, error) {
	p.mu.RLock()
	rt, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return rt, nil
}

// clearRunning removes rt from the per-subject index if it is still the
// registered running session.
func (p *ProctorImpl) clearRunning(rt *sessionRuntime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[rt.subjectID] == rt {
		delete(p.running, rt.subjectID)
	}
}

// publish hands the event to every sink. Sink failures, including panics,
// are logged and swallowed.
func (p *ProctorImpl) publish(event domain.SessionEvent) {
	for _, sink := range p.sinks {
		p.publishTo(sink, event)
	}
}

func (p *ProctorImpl) publishTo(sink domain.EventSink, event domain.SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event sink panicked",
				zap.String("sink", sink.Name()),
				zap.String("event", string(event.Kind)),
				zap.Any("panic", r))
		}
	}()
	if err := sink.Publish(context.Background(), event); err != nil {
		p.logger.Warn("failed to publish session event",
			zap.String("sink", sink.Name()),
			zap.String("event", string(event.Kind)),
			zap.String("session", event.SessionID),
			zap.Error(err))
	}
}

func dropClosed(err error) error {
	if errors.Is(err, domain.ErrSessionClosed) {
		return nil
	}
	return err
}

// Ensure ProctorImpl implements domain.SessionService.
var _ domain.SessionService = (*ProctorImpl)(nil)
