package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/classifier"
	"github.com/eliteGoblin/proctord/internal/detector"
	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/policy"
	"github.com/eliteGoblin/proctord/internal/scoring"
)

type msgKind int

const (
	msgSample msgKind = iota
	msgTick
	msgEvent
	msgViolation
	msgEnd
)

// message is one entry of the session's ordered inbox.
type message struct {
	kind      msgKind
	sample    domain.DetectorSample
	event     domain.EnvironmentEvent
	violation domain.ViolationInput
	reason    domain.EndReason
	reply     chan reply
}

type reply struct {
	log    *domain.LogResult
	report *domain.Report
}

// sessionRuntime owns one session. All mutation happens on the run
// goroutine; readers take copies under mu.
type sessionRuntime struct {
	p         *ProctorImpl
	id        string
	subjectID string
	logger    *zap.Logger

	catalog    *policy.Catalog
	classifier *classifier.Classifier
	scorer     *scoring.Engine
	state      *classifier.State

	camera domain.CameraHandle
	screen domain.ScreenHandle

	pendingFindings []domain.ProbeFinding

	inbox chan message
	done  chan struct{}

	mu      sync.RWMutex
	session domain.Session
	report  *domain.Report
	updated time.Time

	releaseOnce sync.Once
}

func newSessionRuntime(p *ProctorImpl, session domain.Session, pol policy.Policy) *sessionRuntime {
	return &sessionRuntime{
		p:          p,
		id:         session.ID,
		subjectID:  session.SubjectID,
		logger:     p.logger.With(zap.String("session", session.ID)),
		catalog:    p.catalog,
		classifier: classifier.New(pol.Debounce, p.catalog),
		scorer:     scoring.NewEngine(pol.Scoring),
		state:      classifier.NewState(),
		inbox:      make(chan message),
		done:       make(chan struct{}),
		session:    session,
		updated:    session.StartTime,
	}
}

// run is the session loop: inbox messages, sampler ticks and the time limit
// are processed strictly one at a time.
func (r *sessionRuntime) run() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("session runtime panicked", zap.Any("panic", rec))
		}
		if r.reportCopy() == nil {
			r.finish(domain.EndShutdown)
		}
	}()

	var tick <-chan time.Time
	if r.p.config.SampleInterval > 0 {
		ticker := time.NewTicker(r.p.config.SampleInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var limit <-chan time.Time
	if tl := r.session.Config.TimeLimit; tl > 0 {
		timer := time.NewTimer(tl)
		defer timer.Stop()
		limit = timer.C
	}

	if r.status() == domain.StatusActive {
		r.applyPendingFindings()
	}

	for {
		select {
		case msg := <-r.inbox:
			r.handle(msg)

		case <-tick:
			r.sampleTick()

		case <-limit:
			r.logger.Info("session time limit reached")
			r.finish(domain.EndTimeLimit)
		}

		if r.reportCopy() != nil {
			return
		}
	}
}

func (r *sessionRuntime) handle(msg message) {
	var rep reply
	switch msg.kind {
	case msgSample:
		if r.status() == domain.StatusActive {
			r.classifySample(msg.sample)
		}
	case msgTick:
		r.sampleTick()
	case msgEvent:
		r.handleEvent(msg.event)
	case msgViolation:
		rep.log = r.logViolation(msg.violation)
	case msgEnd:
		rep.report = r.finish(msg.reason)
	}
	if msg.reply != nil {
		msg.reply <- rep
	}
}

// sampleTick pulls the latest frame and runs the detector bank. Suspended
// while the camera is stopped or denied, or before the first frame arrives.
func (r *sessionRuntime) sampleTick() {
	if r.status() != domain.StatusActive || r.camera == nil {
		return
	}
	if r.camera.State() != domain.DeviceLive {
		return
	}
	frame, audio, err := r.camera.Latest()
	if err != nil {
		return
	}
	if !r.session.Config.AudioMonitoringEnabled {
		audio = nil
	}
	r.classifySample(r.detect(frame, audio))
}

// detect runs the configured detector. A panicking detector yields a
// neutral sample and the session keeps running.
func (r *sessionRuntime) detect(frame *domain.Frame, audio domain.AudioBuffer) (sample domain.DetectorSample) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("detector panicked, using neutral sample", zap.Any("panic", rec))
			sample = detector.Neutral()
		}
	}()
	return r.p.detector.Sample(frame, audio)
}

func (r *sessionRuntime) classifySample(sample domain.DetectorSample) {
	now := r.p.now()
	for _, v := range r.classifier.ClassifySample(r.state, sample, r.session.Config, now) {
		r.record(v)
	}
}

func (r *sessionRuntime) handleEvent(ev domain.EnvironmentEvent) {
	switch ev.Kind {
	case domain.EventCameraStopped:
		r.setCameraState(domain.DeviceStopped)
		return
	case domain.EventCameraResumed:
		r.setCameraState(domain.DeviceLive)
		return
	case domain.EventCameraDenied:
		r.setCameraState(domain.DeviceDenied)
		if r.p.config.EndOnDeviceLoss && r.camera != nil {
			r.logger.Warn("camera permanently denied, ending session")
			r.finish(domain.EndDeviceLoss)
		}
		return
	}

	switch r.status() {
	case domain.StatusSetup:
		if ev.Kind == domain.EventFullscreenEnter {
			r.activate()
			r.logger.Info("fullscreen entered, session active")
			r.applyPendingFindings()
		}
	case domain.StatusActive:
		now := r.p.now()
		for _, v := range r.classifier.ClassifyEvent(r.state, ev, r.session.Config, now) {
			r.record(v)
		}
	}
}

func (r *sessionRuntime) setCameraState(state domain.DeviceState) {
	if r.camera == nil {
		return
	}
	r.camera.SetState(state)
	r.logger.Info("camera state changed", zap.String("state", string(state)))
}

func (r *sessionRuntime) applyPendingFindings() {
	findings := r.pendingFindings
	r.pendingFindings = nil
	for i := range findings {
		r.handleEvent(domain.EnvironmentEvent{Kind: domain.EventProbeFinding, Finding: &findings[i]})
	}
}

func (r *sessionRuntime) logViolation(in domain.ViolationInput) *domain.LogResult {
	if r.status() != domain.StatusActive {
		return r.ignoredResult()
	}

	v := r.catalog.NewViolation(in.Type, in.Evidence, r.p.now())
	if in.Description != "" {
		v.Description = in.Description
	}
	if in.Severity != "" && in.Severity != v.Severity {
		r.logger.Debug("client severity overridden by catalog",
			zap.String("type", string(in.Type)),
			zap.String("client", string(in.Severity)),
			zap.String("catalog", string(v.Severity)))
	}
	return r.record(v)
}

// record appends a confirmed violation, updates the score and publishes.
func (r *sessionRuntime) record(v domain.Violation) *domain.LogResult {
	r.mu.Lock()
	if n := len(r.session.Violations); n > 0 {
		if last := r.session.Violations[n-1].Timestamp; v.Timestamp.Before(last) {
			v.Timestamp = last
		}
	}
	r.session.Violations = append(r.session.Violations, v)
	r.session.RiskScore = r.scorer.Apply(r.session.RiskScore, v.Severity)
	r.session.IntegrityStatus = r.scorer.Integrity(r.session.RiskScore)
	r.updated = v.Timestamp
	result := &domain.LogResult{
		RiskScore:      r.session.RiskScore,
		IntegrityLevel: r.session.IntegrityStatus,
		Stats:          scoring.Tally(r.session.Violations),
		Violation:      &v,
		WarningMessage: scoring.WarningMessage(v),
	}
	r.mu.Unlock()

	r.logger.Info("violation recorded",
		zap.String("type", string(v.Type)),
		zap.String("severity", string(v.Severity)),
		zap.Int("risk_score", result.RiskScore))
	r.p.publish(r.sessionEvent(domain.ViolationRecorded, &v, nil))
	return result
}

// finish transitions to ended: stops sampling, releases every device,
// resets the classifier and freezes the report. Idempotent.
func (r *sessionRuntime) finish(reason domain.EndReason) *domain.Report {
	if rep := r.reportCopy(); rep != nil {
		return rep
	}

	r.releaseDevices()
	r.state.Reset()
	r.pendingFindings = nil

	r.mu.Lock()
	r.session.Status = domain.StatusEnded
	r.session.EndTime = r.p.now()
	r.session.EndReason = reason
	r.updated = r.session.EndTime
	r.report = buildReport(r.session, r.scorer)
	rep := copyReport(r.report)
	r.mu.Unlock()

	r.p.clearRunning(r)
	r.logger.Info("session ended",
		zap.String("reason", string(reason)),
		zap.Int("risk_score", rep.RiskScore),
		zap.String("integrity", string(rep.IntegrityStatus)),
		zap.Int("violations", rep.Stats.TotalViolations))
	r.p.publish(r.sessionEvent(domain.SessionEnded, nil, rep))
	return rep
}

// releaseDevices releases every acquired handle exactly once.
func (r *sessionRuntime) releaseDevices() {
	r.releaseOnce.Do(func() {
		if r.camera != nil {
			r.camera.Release()
		}
		if r.screen != nil {
			r.screen.Release()
		}
	})
}

// onScreenEnded is the acquirer's push callback for an externally ended
// screen share. It enters the ordered inbox like any other event.
func (r *sessionRuntime) onScreenEnded() {
	err := r.sendOnly(context.Background(), message{
		kind:  msgEvent,
		event: domain.EnvironmentEvent{Kind: domain.EventScreenShareEnded},
	})
	if err != nil {
		r.logger.Debug("screen share end dropped", zap.Error(err))
	}
}

func (r *sessionRuntime) activate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session.Status == domain.StatusSetup {
		r.session.Status = domain.StatusActive
	}
}

// send posts msg to the loop and waits for its reply.
func (r *sessionRuntime) send(ctx context.Context, msg message) (reply, error) {
	msg.reply = make(chan reply, 1)
	select {
	case r.inbox <- msg:
	case <-r.done:
		return reply{}, domain.ErrSessionClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case rep := <-msg.reply:
		return rep, nil
	case <-r.done:
		// The loop may have replied just before exiting.
		select {
		case rep := <-msg.reply:
			return rep, nil
		default:
			return reply{}, domain.ErrSessionClosed
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (r *sessionRuntime) sendOnly(ctx context.Context, msg message) error {
	_, err := r.send(ctx, msg)
	return err
}

// end asks the loop to finish the session, or returns the frozen report if
// it already has.
func (r *sessionRuntime) end(ctx context.Context, reason domain.EndReason) (*domain.Report, error) {
	rep, err := r.send(ctx, message{kind: msgEnd, reason: reason})
	if errors.Is(err, domain.ErrSessionClosed) {
		if frozen := r.reportCopy(); frozen != nil {
			return frozen, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return rep.report, nil
}

// annotate attaches a review to an ended session.
func (r *sessionRuntime) annotate(review domain.Review) (*domain.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report == nil {
		return nil, domain.ErrSessionNotEnded
	}
	r.session.Review = &review
	r.report.Review = &review
	r.updated = review.ReviewedAt
	return copyReport(r.report), nil
}

func (r *sessionRuntime) status() domain.SessionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session.Status
}

func (r *sessionRuntime) reportCopy() *domain.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.report == nil {
		return nil
	}
	return copyReport(r.report)
}

func (r *sessionRuntime) snapshot() domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.Snapshot{
		SessionID:       r.session.ID,
		SubjectID:       r.session.SubjectID,
		Status:          r.session.Status,
		RiskScore:       r.session.RiskScore,
		IntegrityStatus: r.session.IntegrityStatus,
		Stats:           scoring.Tally(r.session.Violations),
		UpdatedAt:       r.updated,
	}
}

func (r *sessionRuntime) ignoredResult() *domain.LogResult {
	snap := r.snapshot()
	return &domain.LogResult{
		RiskScore:      snap.RiskScore,
		IntegrityLevel: snap.IntegrityStatus,
		Stats:          snap.Stats,
		Ignored:        true,
	}
}

func (r *sessionRuntime) sessionEvent(kind domain.SessionEventKind, v *domain.Violation, rep *domain.Report) domain.SessionEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.SessionEvent{
		Kind:            kind,
		SessionID:       r.session.ID,
		SubjectID:       r.session.SubjectID,
		SessionType:     r.session.SessionType,
		At:              r.updated,
		Status:          r.session.Status,
		RiskScore:       r.session.RiskScore,
		IntegrityStatus: r.session.IntegrityStatus,
		Stats:           scoring.Tally(r.session.Violations),
		Violation:       v,
		Report:          rep,
	}
}
