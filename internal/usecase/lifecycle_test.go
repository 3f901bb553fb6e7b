package usecase

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/domain"
)

var _ = Describe("Session lifecycle", func() {
	var (
		ctx      context.Context
		acquirer *mockAcquirer
		sink     *mockSink
		clock    *fakeClock
		proctor  *ProctorImpl
	)

	BeforeEach(func() {
		ctx = context.Background()
		acquirer = &mockAcquirer{}
		sink = &mockSink{}
		clock = newFakeClock()

		cfg := DefaultProctorConfig()
		cfg.SampleInterval = 0
		proctor = NewProctor(cfg, acquirer, zap.NewNop(), WithSinks(sink), WithClock(clock.Now))
	})

	AfterEach(func() {
		Expect(proctor.Shutdown(ctx)).To(Succeed())
	})

	start := func(cfg domain.MonitoringConfig, info domain.DeviceInfo) *domain.StartResult {
		res, err := proctor.StartSession(ctx, domain.StartRequest{
			SessionType: "coding_assessment",
			SubjectID:   "candidate-7",
			Config:      cfg,
			DeviceInfo:  info,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	status := func(id string) domain.SessionStatus {
		snap, err := proctor.Snapshot(id)
		Expect(err).NotTo(HaveOccurred())
		return snap.Status
	}

	Describe("starting a session", func() {
		Context("when fullscreen is not required", func() {
			It("should go straight to active", func() {
				res := start(domain.MonitoringConfig{CameraEnabled: true}, domain.DeviceInfo{})
				Expect(res.Status).To(Equal(domain.StatusActive))
				Expect(sink.kinds()).To(Equal([]domain.SessionEventKind{domain.SessionStarted}))
			})
		})

		Context("when fullscreen is required but not yet entered", func() {
			It("should wait in setup until fullscreen is entered", func() {
				res := start(domain.MonitoringConfig{FullscreenRequired: true}, domain.DeviceInfo{})
				Expect(res.Status).To(Equal(domain.StatusSetup))

				Expect(proctor.PostEvent(ctx, res.SessionID, domain.EnvironmentEvent{Kind: domain.EventVisibilityHidden})).To(Succeed())
				Expect(proctor.PostEvent(ctx, res.SessionID, domain.EnvironmentEvent{Kind: domain.EventFullscreenEnter})).To(Succeed())

				Expect(status(res.SessionID)).To(Equal(domain.StatusActive))
				snap, _ := proctor.Snapshot(res.SessionID)
				Expect(snap.Stats.TotalViolations).To(BeZero())
			})
		})

		Context("when the same subject already has an active session", func() {
			It("should force-end the stale session first", func() {
				first := start(domain.MonitoringConfig{CameraEnabled: true}, domain.DeviceInfo{})
				second := start(domain.MonitoringConfig{CameraEnabled: true}, domain.DeviceInfo{})

				Expect(status(first.SessionID)).To(Equal(domain.StatusEnded))
				Expect(status(second.SessionID)).To(Equal(domain.StatusActive))

				report, err := proctor.GetReport(ctx, first.SessionID)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.EndReason).To(Equal(domain.EndSuperseded))
				Expect(acquirer.camera(0).releases.Load()).To(Equal(int32(1)))
			})
		})
	})

	Describe("monitoring an active session", func() {
		var id string

		BeforeEach(func() {
			id = start(domain.MonitoringConfig{CameraEnabled: true, StrictMode: true}, domain.DeviceInfo{}).SessionID
		})

		submit := func(s domain.DetectorSample, n int) {
			for i := 0; i < n; i++ {
				clock.Advance(time.Second)
				Expect(proctor.SubmitSample(ctx, id, s)).To(Succeed())
			}
		}

		It("should collapse tab switches within the debounce window", func() {
			hidden := domain.EnvironmentEvent{Kind: domain.EventVisibilityHidden}
			Expect(proctor.PostEvent(ctx, id, hidden)).To(Succeed())
			clock.Advance(1500 * time.Millisecond)
			Expect(proctor.PostEvent(ctx, id, hidden)).To(Succeed())

			snap, err := proctor.Snapshot(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Stats.LowViolations).To(Equal(1))
			Expect(snap.RiskScore).To(Equal(2))
		})

		It("should flag sustained off-center gaze in strict mode", func() {
			away := domain.DetectorSample{FaceDetected: true, FaceCount: 1, Gaze: domain.GazeDown}
			submit(away, 15)

			report, err := proctor.EndSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(violationTypes(report.Violations)).To(Equal([]domain.ViolationType{domain.ViolationSuspiciousGaze}))
		})

		It("should ignore neutral samples from a failing detector", func() {
			submit(domain.DetectorSample{Gaze: domain.GazeUnknown, Neutral: true}, 40)

			report, err := proctor.EndSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Violations).To(BeEmpty())
			Expect(report.IntegrityStatus).To(Equal(domain.IntegrityClean))
		})

		It("should reach high suspicion after repeated multiple faces", func() {
			submit(domain.DetectorSample{FaceDetected: true, FaceCount: 2, Gaze: domain.GazeCenter}, 4)

			report, err := proctor.EndSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.RiskScore).To(Equal(60))
			Expect(report.IntegrityStatus).To(Equal(domain.IntegrityHighSuspicion))
			Expect(report.Stats.HighViolations).To(Equal(4))
			Expect(report.Summary).To(ContainSubstring("highly suspicious"))
		})
	})

	Describe("ending a session", func() {
		It("should release every device exactly once and freeze the report", func() {
			res := start(domain.MonitoringConfig{CameraEnabled: true, ScreenMonitoringEnabled: true}, domain.DeviceInfo{})

			first, err := proctor.EndSession(ctx, res.SessionID)
			Expect(err).NotTo(HaveOccurred())
			second, err := proctor.EndSession(ctx, res.SessionID)
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(acquirer.camera(0).releases.Load()).To(Equal(int32(1)))
			Expect(acquirer.screen(0).releases.Load()).To(Equal(int32(1)))

			// a share ending after release must not reach the classifier
			acquirer.screen(0).End()
			report, err := proctor.GetReport(ctx, res.SessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Violations).To(BeEmpty())

			Expect(sink.kinds()).To(Equal([]domain.SessionEventKind{domain.SessionStarted, domain.SessionEnded}))
		})
	})
})
