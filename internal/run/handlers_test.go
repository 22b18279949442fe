package run

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/twpayne/go-polyline"
)

func fakeAuth(userID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	}
}

func newRunApp(t *testing.T, onCompleted CompletedFunc) (*fiber.App, *Tracker, *fakeClock) {
	t.Helper()
	tr, clock, _ := testTracker(rawConfig())
	app := fiber.New()
	RegisterRoutes(app.Group("/runs"), tr, fakeAuth("u1"), onCompleted)
	return app, tr, clock
}

func postJSON(t *testing.T, app *fiber.App, target string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", target, err)
	}
	return resp
}

func TestStartHandler(t *testing.T) {
	app, _, _ := newRunApp(t, nil)

	resp := postJSON(t, app, "/runs/start", map[string]any{
		"fix": map[string]any{"lat": 10.0, "lng": 20.0},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.Status != StatusRecording || len(session.Points) != 1 {
		t.Fatalf("session = %+v", session)
	}

	// Second start while recording conflicts.
	resp = postJSON(t, app, "/runs/start", map[string]any{
		"fix": map[string]any{"lat": 10.0, "lng": 20.0},
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestStartHandlerNoLocation(t *testing.T) {
	app, _, _ := newRunApp(t, nil)

	resp := postJSON(t, app, "/runs/start", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestLocationHandler(t *testing.T) {
	app, _, clock := newRunApp(t, nil)

	postJSON(t, app, "/runs/start", map[string]any{
		"fix": map[string]any{"lat": 0.0, "lng": 0.0, "timestamp_ms": clock.ms},
	})

	clock.advance(10_000)
	resp := postJSON(t, app, "/runs/location", map[string]any{
		"lat": 100 * latStep, "lng": 0.0, "timestamp_ms": clock.ms, "accuracy_m": 5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Accepted bool  `json:"accepted"`
		Stats    Stats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Accepted || out.Stats.PointCount != 2 {
		t.Fatalf("out = %+v", out)
	}
}

func TestLocationHandlerNoRun(t *testing.T) {
	app, _, _ := newRunApp(t, nil)

	resp := postJSON(t, app, "/runs/location", map[string]any{"lat": 0.0, "lng": 0.0})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestPauseResumeLapHandlers(t *testing.T) {
	app, _, clock := newRunApp(t, nil)

	// Pause before any run conflicts with nothing to pause.
	resp := postJSON(t, app, "/runs/pause", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("pause: expected 404, got %d", resp.StatusCode)
	}

	postJSON(t, app, "/runs/start", map[string]any{
		"fix": map[string]any{"lat": 0.0, "lng": 0.0, "timestamp_ms": clock.ms},
	})

	if resp = postJSON(t, app, "/runs/lap", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("lap: expected 200, got %d", resp.StatusCode)
	}
	if resp = postJSON(t, app, "/runs/pause", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", resp.StatusCode)
	}
	// Lap while paused conflicts.
	if resp = postJSON(t, app, "/runs/lap", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("lap paused: expected 409, got %d", resp.StatusCode)
	}
	if resp = postJSON(t, app, "/runs/resume", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", resp.StatusCode)
	}
	if resp = postJSON(t, app, "/runs/resume", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("double resume: expected 409, got %d", resp.StatusCode)
	}
}

func TestStopHandlerInvokesHook(t *testing.T) {
	var hooked *Session
	app, _, clock := newRunApp(t, func(_ context.Context, session Session, _ Eligibility) {
		hooked = &session
	})

	postJSON(t, app, "/runs/start", map[string]any{
		"fix": map[string]any{"lat": 0.0, "lng": 0.0, "timestamp_ms": clock.ms},
	})

	resp := postJSON(t, app, "/runs/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if hooked == nil || hooked.Status != StatusCompleted {
		t.Fatalf("completion hook not invoked: %+v", hooked)
	}

	// A second stop has nothing to stop.
	resp = postJSON(t, app, "/runs/stop", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelHandler(t *testing.T) {
	app, _, _ := newRunApp(t, nil)

	resp := postJSON(t, app, "/runs/cancel", nil)
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Cancelled {
		t.Fatalf("nothing to cancel")
	}

	postJSON(t, app, "/runs/start", map[string]any{"fix": map[string]any{"lat": 0.0, "lng": 0.0}})
	resp = postJSON(t, app, "/runs/cancel", nil)
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Cancelled {
		t.Fatalf("expected cancel")
	}
}

func TestCurrentAndLastHandlers(t *testing.T) {
	app, _, clock := newRunApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/runs/current", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("current: expected 404, got %d", resp.StatusCode)
	}
	req = httptest.NewRequest(http.MethodGet, "/runs/last", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("last: expected 404, got %d", resp.StatusCode)
	}

	postJSON(t, app, "/runs/start", map[string]any{
		"fix": map[string]any{"lat": 0.0, "lng": 0.0, "timestamp_ms": clock.ms},
	})

	req = httptest.NewRequest(http.MethodGet, "/runs/current", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("current: expected 200, got %d", resp.StatusCode)
	}

	postJSON(t, app, "/runs/stop", nil)

	req = httptest.NewRequest(http.MethodGet, "/runs/last", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("last: expected 200, got %d", resp.StatusCode)
	}
}

func TestImportHandler(t *testing.T) {
	called := false
	app, _, _ := newRunApp(t, func(context.Context, Session, Eligibility) {
		called = true
	})

	encoded := string(polyline.EncodeCoords([][]float64{
		{0, 0},
		{0.0027, 0},
		{0.00001, 0},
	}))
	resp := postJSON(t, app, "/runs/import", map[string]any{
		"polyline":    encoded,
		"external_id": "strava-9",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if !called {
		t.Fatalf("expected completion hook")
	}

	var out struct {
		Run         Session     `json:"run"`
		Eligibility Eligibility `json:"eligibility"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Eligibility.Eligible || out.Run.ExternalActivityID != "strava-9" {
		t.Fatalf("out = %+v", out)
	}

	// Missing polyline is rejected before reaching the tracker.
	resp = postJSON(t, app, "/runs/import", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
