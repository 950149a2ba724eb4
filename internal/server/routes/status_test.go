package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
)

type fakeStatus struct {
	inFlight int
	slots    int
}

func (f fakeStatus) InFlight() int         { return f.inFlight }
func (f fakeStatus) Slots() int            { return f.slots }
func (f fakeStatus) StoreBasePath() string { return "/var/cache/imgcache" }

func TestEncodeStatus(t *testing.T) {
	payload := encodeStatus(fakeStatus{inFlight: 3, slots: 2})
	if payload.InFlight != 3 || payload.Slots != 2 {
		t.Fatalf("unexpected counters %+v", payload)
	}
	if !strings.HasPrefix(payload.Version, "imgcache ") {
		t.Fatalf("unexpected version %s", payload.Version)
	}
}

func TestStatusRoute(t *testing.T) {
	app := fiber.New()
	RegisterStatusRoutes(app, fakeStatus{inFlight: 1})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var decoded statusPayload
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if decoded.Store != "/var/cache/imgcache" || decoded.InFlight != 1 || decoded.Build.GoVersion == "" {
		t.Fatalf("unexpected payload %s", string(body))
	}
}
