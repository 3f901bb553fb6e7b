// Package scenario replays scripted session timelines against the engine
// on a simulated clock, for deterministic what-if runs of the classifier
// and scoring policy.
package scenario

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/infra"
	"github.com/eliteGoblin/proctord/internal/policy"
	"github.com/eliteGoblin/proctord/internal/usecase"
)

// Epoch is the simulated wall-clock time a scenario starts at.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Scenario is a scripted session.
type Scenario struct {
	Name   string              `yaml:"name"`
	Start  domain.StartRequest `yaml:"start"`
	Policy *policy.Policy      `yaml:"policy,omitempty"`
	Steps  []Step              `yaml:"steps"`
	EndAt  time.Duration       `yaml:"endAt,omitempty"` // 0 = right after the last step
}

// Step is one scripted input at an offset from session start. Exactly one of
// Sample, Event or Violation is set. Repeat > 1 replays the input Every apart.
type Step struct {
	At        time.Duration            `yaml:"at"`
	Repeat    int                      `yaml:"repeat,omitempty"`
	Every     time.Duration            `yaml:"every,omitempty"`
	Sample    *domain.DetectorSample   `yaml:"sample,omitempty"`
	Event     *domain.EnvironmentEvent `yaml:"event,omitempty"`
	Violation *domain.ViolationInput   `yaml:"violation,omitempty"`
}

// Entry is one confirmed violation observed while replaying.
type Entry struct {
	Offset    time.Duration        `json:"offset"`
	Type      domain.ViolationType `json:"type"`
	RiskScore int                  `json:"riskScore"`
}

// Result is the outcome of a replay.
type Result struct {
	Report           *domain.Report `json:"report"`
	Timeline         []Entry        `json:"timeline"`
	TimeLimitReached bool           `json:"timeLimitReached,omitempty"`
}

// Load reads a YAML scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Start.SubjectID == "" {
		return fmt.Errorf("scenario %q: start.subjectId is required", s.Name)
	}
	for i, st := range s.Steps {
		set := 0
		if st.Sample != nil {
			set++
		}
		if st.Event != nil {
			set++
		}
		if st.Violation != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("step %d: exactly one of sample, event, violation must be set", i)
		}
		if st.At < 0 {
			return fmt.Errorf("step %d: negative offset", i)
		}
		if st.Repeat > 1 && st.Every <= 0 {
			return fmt.Errorf("step %d: repeat requires a positive every", i)
		}
	}
	return nil
}

// clock is the simulated time source shared with the engine.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

type input struct {
	offset time.Duration
	step   *Step
}

// expand flattens repeats into a time-ordered input list. Ties keep
// script order.
func (s *Scenario) expand() []input {
	var out []input
	for i := range s.Steps {
		st := &s.Steps[i]
		n := max(st.Repeat, 1)
		for k := 0; k < n; k++ {
			out = append(out, input{offset: st.At + time.Duration(k)*st.Every, step: st})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].offset < out[b].offset })
	return out
}

// Run replays the scenario and returns the final report.
// The engine runs with the sampler ticker disabled; all inputs are pushed.
func Run(ctx context.Context, s *Scenario, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pol := policy.Default()
	if s.Policy != nil {
		pol = *s.Policy
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("scenario policy: %w", err)
	}

	clk := &clock{now: Epoch}
	timeline := &timelineSink{}
	proctor := usecase.NewProctor(
		usecase.ProctorConfig{SampleInterval: 0, Policy: pol},
		infra.NewPushAcquirer(),
		logger,
		usecase.WithClock(clk.Now),
		usecase.WithSinks(timeline),
	)

	// The engine's time-limit timer runs on real time; the replay enforces
	// the limit on the simulated clock instead.
	req := s.Start
	limit := req.Config.TimeLimit
	req.Config.TimeLimit = 0

	started, err := proctor.StartSession(ctx, req)
	if err != nil {
		return nil, err
	}
	id := started.SessionID

	result := &Result{}
	for _, in := range s.expand() {
		if limit > 0 && in.offset >= limit {
			result.TimeLimitReached = true
			break
		}
		clk.set(Epoch.Add(in.offset))

		if err := apply(ctx, proctor, id, in.step); err != nil {
			return nil, fmt.Errorf("at %s: %w", in.offset, err)
		}
	}

	end := s.EndAt
	if result.TimeLimitReached {
		end = limit
	}
	if end > 0 {
		clk.set(Epoch.Add(end))
	}

	report, err := proctor.EndSession(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Report = report
	result.Timeline = timeline.entries()
	logger.Debug("scenario replayed",
		zap.String("scenario", s.Name),
		zap.Int("violations", len(report.Violations)),
		zap.Int("risk_score", report.RiskScore))
	return result, nil
}

// timelineSink records confirmed violations as the engine publishes them.
type timelineSink struct {
	mu  sync.Mutex
	log []Entry
}

func (t *timelineSink) Name() string { return "timeline" }

func (t *timelineSink) Publish(_ context.Context, event domain.SessionEvent) error {
	if event.Kind != domain.ViolationRecorded || event.Violation == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = append(t.log, Entry{
		Offset:    event.Violation.Timestamp.Sub(Epoch),
		Type:      event.Violation.Type,
		RiskScore: event.RiskScore,
	})
	return nil
}

func (t *timelineSink) entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.log...)
}

func apply(ctx context.Context, p *usecase.ProctorImpl, id string, st *Step) error {
	switch {
	case st.Sample != nil:
		sample := *st.Sample
		if sample.Gaze == "" {
			sample.Gaze = domain.GazeUnknown
		}
		return p.SubmitSample(ctx, id, sample)
	case st.Event != nil:
		return p.PostEvent(ctx, id, *st.Event)
	default:
		_, err := p.LogViolation(ctx, id, *st.Violation)
		return err
	}
}
