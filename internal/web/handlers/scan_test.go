package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/facegate/facegate/internal/attendance"
	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/geofence"
	"github.com/facegate/facegate/internal/match"
	"github.com/facegate/facegate/internal/settings"
	"github.com/facegate/facegate/internal/vision"
)

// fakeVision is a canned sidecar: every image contains one face whose
// embedding is a fixed vector.
type fakeVision struct {
	boxes     []vision.Box
	embedding []float64
	liveness  vision.LivenessScore
}

func (f *fakeVision) Detect(ctx context.Context, image []byte) ([]vision.Box, error) {
	return f.boxes, nil
}

func (f *fakeVision) Encode(ctx context.Context, image []byte, box vision.Box) ([]float64, error) {
	return f.embedding, nil
}

func (f *fakeVision) Score(ctx context.Context, image []byte, box vision.Box) (vision.LivenessScore, error) {
	return f.liveness, nil
}

type staticSource struct {
	entries []match.RawEntry
}

func (s *staticSource) ListActiveEmbeddings(ctx context.Context) ([]match.RawEntry, error) {
	return s.entries, nil
}

type memRecorder struct {
	mu     sync.Mutex
	events []attendance.Event
}

func (m *memRecorder) RecordEvent(ctx context.Context, identityKey string, decide func(last *attendance.Event) (*attendance.Event, error)) (*attendance.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last *attendance.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].IdentityKey == identityKey {
			last = &m.events[i]
			break
		}
	}

	ev, err := decide(last)
	if err != nil {
		return nil, err
	}
	m.events = append(m.events, *ev)
	return ev, nil
}

type oneSite struct{}

func (oneSite) ListActiveSites(ctx context.Context) ([]geofence.Site, error) {
	return []geofence.Site{{ID: "hq", Name: "HQ", RadiusMeters: 100}}, nil
}

type mapSettings map[string]string

func (m mapSettings) ListSettings(ctx context.Context) (map[string]string, error) {
	return m, nil
}

func testVector(seed float64) []float64 {
	vec := make([]float64, match.EmbeddingDim)
	for i := range vec {
		vec[i] = seed
	}
	return vec
}

// newScanFixture builds a handler over an engine with one enrolled employee
// and geofencing switched off.
func newScanFixture(t *testing.T, fv *fakeVision) *ScanHandler {
	t.Helper()

	enrolled, err := match.EncodeEmbedding(testVector(0.5))
	if err != nil {
		t.Fatalf("Failed to encode enrollment vector: %v", err)
	}
	source := &staticSource{entries: []match.RawEntry{
		{IdentityKey: "emp-1", Data: enrolled},
	}}

	engine := attendance.NewEngine(attendance.Deps{
		Employees: match.NewIdentityCache(source, match.CacheOptions{Name: "employees"}),
		Visitors:  match.NewIdentityCache(&staticSource{}, match.CacheOptions{Name: "visitors"}),
		Events:    &memRecorder{},
		Sites:     oneSite{},
		Settings:  settings.NewProvider(mapSettings{"geofence.enabled": "false"}, time.Minute),
		Tuning:    config.Load().Tuning,
	})

	return NewScanHandler(engine, fv)
}

// scanRequest builds a multipart kiosk capture.
func scanRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "capture.jpg")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	fmt.Fprint(fw, "fake image bytes")
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/scan", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func goodCapture() map[string]string {
	return map[string]string{
		"brightness":  "130",
		"confidence":  "0.95",
		"image_width": "640",
	}
}

func decodeDecision(t *testing.T, body io.Reader) attendance.Decision {
	t.Helper()
	var d attendance.Decision
	if err := json.NewDecoder(body).Decode(&d); err != nil {
		t.Fatalf("Failed to decode decision: %v", err)
	}
	return d
}

func TestScan_Accepted(t *testing.T) {
	fv := &fakeVision{
		boxes:     []vision.Box{{X2: 200, Y2: 200}},
		embedding: testVector(0.5),
		liveness:  vision.LivenessScore{OK: true, Probability: 0.95},
	}
	handler := newScanFixture(t, fv)

	rec := httptest.NewRecorder()
	handler.Scan(rec, scanRequest(t, goodCapture()))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	d := decodeDecision(t, rec.Body)
	if !d.Accepted {
		t.Fatalf("Expected accepted decision, got reason '%s'", d.Reason)
	}
	if d.IdentityKey != "emp-1" {
		t.Errorf("Expected identity 'emp-1', got '%s'", d.IdentityKey)
	}
	if d.EventType != attendance.EventIn {
		t.Errorf("Expected first event 'in', got '%s'", d.EventType)
	}
}

func TestScan_NoMatch(t *testing.T) {
	fv := &fakeVision{
		boxes:     []vision.Box{{X2: 200, Y2: 200}},
		embedding: testVector(3.0), // far from the enrolled vector
		liveness:  vision.LivenessScore{OK: true, Probability: 0.95},
	}
	handler := newScanFixture(t, fv)

	rec := httptest.NewRecorder()
	handler.Scan(rec, scanRequest(t, goodCapture()))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	d := decodeDecision(t, rec.Body)
	if d.Accepted {
		t.Fatal("Expected a denial")
	}
	if d.Reason != attendance.ReasonNoMatch {
		t.Errorf("Expected NO_MATCH, got '%s'", d.Reason)
	}
}

func TestScan_LivenessFailed(t *testing.T) {
	fv := &fakeVision{
		boxes:     []vision.Box{{X2: 200, Y2: 200}},
		embedding: testVector(0.5),
		liveness:  vision.LivenessScore{OK: true, Probability: 0.40},
	}
	handler := newScanFixture(t, fv)

	rec := httptest.NewRecorder()
	handler.Scan(rec, scanRequest(t, goodCapture()))

	d := decodeDecision(t, rec.Body)
	if d.Accepted || d.Reason != attendance.ReasonLivenessFailed {
		t.Errorf("Expected LIVENESS_FAILED, got accepted=%v reason='%s'", d.Accepted, d.Reason)
	}
}

func TestScan_NoFace(t *testing.T) {
	fv := &fakeVision{boxes: nil}
	handler := newScanFixture(t, fv)

	rec := httptest.NewRecorder()
	handler.Scan(rec, scanRequest(t, goodCapture()))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for no face, got %d", rec.Code)
	}
}

func TestScan_MultipleFaces(t *testing.T) {
	fv := &fakeVision{boxes: []vision.Box{{X2: 100, Y2: 100}, {X1: 200, X2: 300, Y2: 100}}}
	handler := newScanFixture(t, fv)

	rec := httptest.NewRecorder()
	handler.Scan(rec, scanRequest(t, goodCapture()))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for multiple faces, got %d", rec.Code)
	}
}

func TestScan_MissingImage(t *testing.T) {
	handler := newScanFixture(t, &fakeVision{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("population", "employee")
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/scan", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.Scan(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing image, got %d", rec.Code)
	}
}

func TestScan_PoorCaptureTightensThreshold(t *testing.T) {
	// Distance 0.57 passes the 0.60 base but not the 0.55 threshold left
	// after dark-image and mobile-device penalties.
	enrolled := testVector(0.5)
	probe := make([]float64, match.EmbeddingDim)
	copy(probe, enrolled)
	probe[0] += 0.57

	fv := &fakeVision{
		boxes:     []vision.Box{{X2: 400, Y2: 400}},
		embedding: probe,
		liveness:  vision.LivenessScore{OK: true, Probability: 0.95},
	}
	handler := newScanFixture(t, fv)

	rec := httptest.NewRecorder()
	handler.Scan(rec, scanRequest(t, map[string]string{
		"brightness":  "40",
		"confidence":  "0.95",
		"image_width": "640",
		"mobile":      "true",
	}))

	d := decodeDecision(t, rec.Body)
	if d.Accepted {
		t.Fatal("Expected poor capture to be denied at the tightened threshold")
	}
	if d.Reason != attendance.ReasonNoMatch {
		t.Errorf("Expected NO_MATCH, got '%s'", d.Reason)
	}
}
