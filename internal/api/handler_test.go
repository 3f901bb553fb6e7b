package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// mockService records calls and returns canned results.
type mockService struct {
	mu sync.Mutex

	startReq   domain.StartRequest
	startErr   error
	violation  domain.ViolationInput
	logErr     error
	events     []domain.EnvironmentEvent
	frames     []*domain.Frame
	audio      domain.AudioBuffer
	samples    []domain.DetectorSample
	reports    map[string]*domain.Report
	endErr     error
	reviewErr  error
	lastReview domain.Review
	sessions   []domain.Snapshot
}

func newMockService() *mockService {
	return &mockService{reports: make(map[string]*domain.Report)}
}

var _ Service = (*mockService)(nil)

func (m *mockService) StartSession(_ context.Context, req domain.StartRequest) (*domain.StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startReq = req
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &domain.StartResult{SessionID: "s-1", Status: domain.StatusActive}, nil
}

func (m *mockService) LogViolation(_ context.Context, id string, in domain.ViolationInput) (*domain.LogResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violation = in
	if m.logErr != nil {
		return nil, m.logErr
	}
	return &domain.LogResult{RiskScore: 15, IntegrityLevel: domain.IntegrityClean}, nil
}

func (m *mockService) PostEvent(_ context.Context, id string, ev domain.EnvironmentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "missing" {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockService) SubmitFrame(_ context.Context, id string, frame *domain.Frame, audio domain.AudioBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
	m.audio = audio
	return nil
}

func (m *mockService) SubmitSample(_ context.Context, id string, s domain.DetectorSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *mockService) EndSession(_ context.Context, id string) (*domain.Report, error) {
	if m.endErr != nil {
		return nil, m.endErr
	}
	return &domain.Report{SessionID: id, RiskScore: 40, IntegrityStatus: domain.IntegrityReviewRecommended}, nil
}

func (m *mockService) GetReport(_ context.Context, id string) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotEnded, id)
}

func (m *mockService) ReviewSession(_ context.Context, id string, review domain.Review) (*domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReview = review
	if m.reviewErr != nil {
		return nil, m.reviewErr
	}
	return &domain.Report{SessionID: id, Review: &review}, nil
}

func (m *mockService) Snapshot(id string) (*domain.Snapshot, error) {
	if id != "s-1" {
		return nil, domain.ErrSessionNotFound
	}
	return &domain.Snapshot{SessionID: id, Status: domain.StatusActive}, nil
}

func (m *mockService) Sessions() []domain.Snapshot { return m.sessions }

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 150, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStartSession(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions", map[string]any{
		"sessionType": "exam",
		"subjectId":   "cand-7",
		"config": map[string]any{
			"cameraEnabled":    true,
			"timeLimitSeconds": 1800,
		},
	}, "User-Agent", "test-agent/1.0")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result domain.StartResult
	decode(t, rec, &result)
	assert.Equal(t, "s-1", result.SessionID)

	assert.Equal(t, "cand-7", svc.startReq.SubjectID)
	assert.True(t, svc.startReq.Config.CameraEnabled)
	assert.Equal(t, 30*time.Minute, svc.startReq.Config.TimeLimit)
	assert.Equal(t, "test-agent/1.0", svc.startReq.DeviceInfo.UserAgent)
	assert.NotEmpty(t, svc.startReq.DeviceInfo.IPAddress)
}

func TestStartSession_ReportedDeviceInfoWins(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions", map[string]any{
		"subjectId":  "cand-7",
		"deviceInfo": map[string]any{"ipAddress": "203.0.113.9", "userAgent": "kiosk"},
	}, "User-Agent", "ignored")

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "203.0.113.9", svc.startReq.DeviceInfo.IPAddress)
	assert.Equal(t, "kiosk", svc.startReq.DeviceInfo.UserAgent)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantReason string
	}{
		{"invalid config", fmt.Errorf("%w: strict mode requires camera", domain.ErrConfigInvalid), http.StatusBadRequest, ""},
		{"camera denied", &domain.SetupError{Device: "camera", Err: domain.ErrPermissionDenied}, http.StatusUnprocessableEntity, "denied"},
		{"screen cancelled", &domain.SetupError{Device: "screen", Err: domain.ErrUserCancelled}, http.StatusUnprocessableEntity, "cancelled"},
		{"already active", domain.ErrAlreadyActive, http.StatusConflict, ""},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable, ""},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.startErr = tt.err
			router := NewHandler(svc, nil, Options{}).Router()

			rec := do(t, router, http.MethodPost, "/v1/sessions", map[string]any{"subjectId": "x"})
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]any
			decode(t, rec, &body)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, body["reason"])
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			}
		})
	}
}

func TestStartSession_MissingSubject(t *testing.T) {
	router := NewHandler(newMockService(), nil, Options{}).Router()
	rec := do(t, router, http.MethodPost, "/v1/sessions", map[string]any{"sessionType": "exam"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogViolation(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/violations", map[string]any{
		"type":     "tab_switch",
		"evidence": map[string]any{"url": "example.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ViolationTabSwitch, svc.violation.Type)
	assert.Equal(t, "example.com", svc.violation.Evidence["url"])

	svc.logErr = fmt.Errorf("%w: teleport", domain.ErrUnknownViolationType)
	rec = do(t, router, http.MethodPost, "/v1/sessions/s-1/violations", map[string]any{"type": "teleport"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostEvent(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/events", map[string]any{"kind": "visibility_hidden"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.events, 1)
	assert.Equal(t, domain.EventVisibilityHidden, svc.events[0].Kind)

	rec = do(t, router, http.MethodPost, "/v1/sessions/s-1/events", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/sessions/s-1/events", map[string]any{"kind": "probe_finding"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/sessions/missing/events", map[string]any{"kind": "copy"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitFrame(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/frames", map[string]any{
		"image": base64.StdEncoding.EncodeToString(pngBytes(t, 8, 6)),
		"audio": []int{0, 40, 300, -5},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, svc.frames, 1)
	assert.Equal(t, 8, svc.frames[0].Width)
	assert.Equal(t, 6, svc.frames[0].Height)
	assert.Len(t, svc.frames[0].Pix, 8*6*4)
	assert.Equal(t, domain.AudioBuffer{0, 40, 255, 0}, svc.audio)
}

func TestSubmitFrame_Rejects(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{MaxFrameBytes: 2048}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/frames", map[string]any{
		"image": base64.StdEncoding.EncodeToString([]byte("not an image")),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/sessions/s-1/frames", map[string]any{
		"image": base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xff}, 4096)),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, svc.frames)
}

// pngHeader returns just the signature and IHDR chunk of a w×h PNG. Enough
// for image.DecodeConfig, without paying for the pixels.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 17)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], w)
	binary.BigEndian.PutUint32(ihdr[8:], h)
	ihdr[12] = 8 // bit depth
	ihdr[13] = 0 // grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(ihdr)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr))
	return buf.Bytes()
}

func TestSubmitFrame_PixelLimit(t *testing.T) {
	t.Run("huge dimensions rejected before decoding", func(t *testing.T) {
		svc := newMockService()
		router := NewHandler(svc, nil, Options{}).Router()

		rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/frames", map[string]any{
			"image": base64.StdEncoding.EncodeToString(pngHeader(20000, 20000)),
		})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
		assert.Empty(t, svc.frames)
	})

	t.Run("configured limit is inclusive", func(t *testing.T) {
		svc := newMockService()
		router := NewHandler(svc, nil, Options{MaxFramePixels: 40}).Router()

		rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/frames", map[string]any{
			"image": base64.StdEncoding.EncodeToString(pngBytes(t, 8, 6)),
		})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

		rec = do(t, router, http.MethodPost, "/v1/sessions/s-1/frames", map[string]any{
			"image": base64.StdEncoding.EncodeToString(pngBytes(t, 8, 5)),
		})
		assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Len(t, svc.frames, 1)
	})
}

func TestSubmitSample_DefaultsGaze(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/samples", map[string]any{
		"faceDetected": true,
		"faceCount":    1,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.samples, 1)
	assert.Equal(t, domain.GazeUnknown, svc.samples[0].Gaze)
}

func TestEndAndReport(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.Report
	decode(t, rec, &report)
	assert.Equal(t, 40, report.RiskScore)

	rec = do(t, router, http.MethodGet, "/v1/sessions/s-2/report", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	svc.reports["s-2"] = &domain.Report{SessionID: "s-2"}
	rec = do(t, router, http.MethodGet, "/v1/sessions/s-2/report", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReviewSession(t *testing.T) {
	svc := newMockService()
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodPost, "/v1/sessions/s-1/review", map[string]any{
		"reviewer": "alice",
		"decision": "cleared",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", svc.lastReview.Reviewer)

	svc.reviewErr = fmt.Errorf("%w: session s-1 still active", domain.ErrSessionNotEnded)
	rec = do(t, router, http.MethodPost, "/v1/sessions/s-1/review", map[string]any{"reviewer": "a", "decision": "b"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSnapshotAndList(t *testing.T) {
	svc := newMockService()
	svc.sessions = []domain.Snapshot{{SessionID: "s-1"}, {SessionID: "s-3"}}
	router := NewHandler(svc, nil, Options{}).Router()

	rec := do(t, router, http.MethodGet, "/v1/sessions/s-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Snapshot
	decode(t, rec, &list)
	assert.Len(t, list, 2)

	rec = do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessions":2`)
}

func TestViolationTypes(t *testing.T) {
	router := NewHandler(newMockService(), nil, Options{}).Router()
	rec := do(t, router, http.MethodGet, "/v1/violation-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var types []map[string]string
	decode(t, rec, &types)
	require.NotEmpty(t, types)

	found := false
	for _, vt := range types {
		if vt["type"] == "phone_detected" {
			found = true
			assert.Equal(t, "high", vt["severity"])
		}
	}
	assert.True(t, found)
}
