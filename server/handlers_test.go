package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/btreceiver/btreceiverd/bluetooth"
	"github.com/btreceiver/btreceiverd/mixer"
	"github.com/btreceiver/btreceiverd/player"
)

type fakeRegistry struct {
	mu           sync.Mutex
	adapterErr   error
	devices      []bluetooth.Device
	discoverable bool
	timeout      int
	trusted      []string
}

func (f *fakeRegistry) Adapter(ctx context.Context) (bluetooth.AdapterState, error) {
	if f.adapterErr != nil {
		return bluetooth.AdapterState{}, f.adapterErr
	}
	return bluetooth.AdapterState{Name: "btreceiver", Address: "B8:27:EB:00:00:01", Powered: true, Discoverable: f.discoverable}, nil
}

func (f *fakeRegistry) ListDevices(ctx context.Context) ([]bluetooth.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bluetooth.Device(nil), f.devices...), nil
}

func (f *fakeRegistry) ConnectedDevice(ctx context.Context) (*bluetooth.Device, error) {
	devices, _ := f.ListDevices(ctx)
	for i := range devices {
		if devices[i].Connected {
			return &devices[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) SetDiscoverable(ctx context.Context, on bool, timeoutSeconds int) error {
	if f.adapterErr != nil {
		return f.adapterErr
	}
	f.discoverable = on
	f.timeout = timeoutSeconds
	return nil
}

func (f *fakeRegistry) RemoveDevice(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.devices {
		if d.Address == address {
			f.devices = append(f.devices[:i], f.devices[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove device %s: %w", address, bluetooth.ErrDeviceNotFound)
}

func (f *fakeRegistry) TrustDevice(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trusted = append(f.trusted, address)
	return nil
}

type fakeMixer struct {
	mu    sync.Mutex
	level int
	err   error
}

func (f *fakeMixer) GetVolume(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level, f.err
}

func (f *fakeMixer) SetVolume(ctx context.Context, level int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.level = mixer.Clamp(level)
	return f.level, nil
}

type fakePlayer struct {
	status  player.Status
	err     error
	actions []string
	shuffle bool
}

func (f *fakePlayer) Status() player.Status { return f.status }

func (f *fakePlayer) do(name string) error {
	f.actions = append(f.actions, name)
	return f.err
}

func (f *fakePlayer) Play(ctx context.Context) error     { return f.do("play") }
func (f *fakePlayer) Stop(ctx context.Context) error     { return f.do("stop") }
func (f *fakePlayer) Next(ctx context.Context) error     { return f.do("next") }
func (f *fakePlayer) Previous(ctx context.Context) error { return f.do("previous") }

func (f *fakePlayer) ToggleShuffle() bool {
	f.shuffle = !f.shuffle
	return f.shuffle
}

type fakeSystem struct{}

func (fakeSystem) Hostname() string  { return "btreceiver" }
func (fakeSystem) IPAddress() string { return "192.168.4.1" }
func (fakeSystem) Online() bool      { return false }

type fakeUnits struct {
	restarted []string
	err       error
}

func (f *fakeUnits) StartUnit(ctx context.Context, name string) error { return nil }
func (f *fakeUnits) StopUnit(ctx context.Context, name string) error  { return nil }
func (f *fakeUnits) RestartUnit(ctx context.Context, name string) error {
	f.restarted = append(f.restarted, name)
	return f.err
}

type testEnv struct {
	registry *fakeRegistry
	mixer    *fakeMixer
	player   *fakePlayer
	units    *fakeUnits
	handler  http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		registry: &fakeRegistry{devices: []bluetooth.Device{
			{Address: "AA:BB:CC:DD:EE:01", Name: "Phone", Paired: true, Connected: true},
			{Address: "AA:BB:CC:DD:EE:02", Name: "Tablet", Paired: true},
		}},
		mixer:  &fakeMixer{level: 60},
		player: &fakePlayer{},
		units:  &fakeUnits{},
	}
	srv := NewServer(Deps{
		Registry:     env.registry,
		Mixer:        env.mixer,
		Player:       env.player,
		System:       fakeSystem{},
		Units:        env.units,
		RestartUnits: []string{"bluetooth.service", "bluealsa.service"},
	})
	env.handler = srv.Handler()
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv()

	code, body := env.do(t, "GET", "/api/status", "")
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("Expected success, got %d %v", code, body)
	}
	adapter := body["adapter"].(map[string]interface{})
	if adapter["name"] != "btreceiver" || adapter["powered"] != true {
		t.Errorf("Unexpected adapter %v", adapter)
	}
	connected := body["connected_device"].(map[string]interface{})
	if connected["name"] != "Phone" {
		t.Errorf("Expected Phone connected, got %v", connected)
	}
	system := body["system"].(map[string]interface{})
	if system["ip_address"] != "192.168.4.1" {
		t.Errorf("Unexpected system %v", system)
	}
	if body["volume"] != float64(60) {
		t.Errorf("Expected volume 60, got %v", body["volume"])
	}
}

func TestHandleStatusWithoutConnectedDevice(t *testing.T) {
	env := newTestEnv()
	env.registry.devices[0].Connected = false

	_, body := env.do(t, "GET", "/api/status", "")
	if v, ok := body["connected_device"]; !ok || v != nil {
		t.Errorf("Expected connected_device null, got %v", v)
	}
}

func TestAdapterUnavailableIsReportedWith200(t *testing.T) {
	env := newTestEnv()
	env.registry.adapterErr = fmt.Errorf("get adapter properties: %w: dial unix /run/dbus: connection refused", bluetooth.ErrAdapterUnavailable)

	code, body := env.do(t, "GET", "/api/status", "")
	if code != http.StatusOK {
		t.Errorf("Expected HTTP 200, got %d", code)
	}
	if body["success"] != false || body["error"] != bluetooth.ErrAdapterUnavailable.Error() {
		t.Errorf("Expected adapter unavailable failure without raw details, got %v", body)
	}
}

func TestHandleDevices(t *testing.T) {
	env := newTestEnv()

	_, body := env.do(t, "GET", "/api/devices", "")
	devices := body["devices"].([]interface{})
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(devices))
	}
	first := devices[0].(map[string]interface{})
	if first["address"] != "AA:BB:CC:DD:EE:01" || first["connected"] != true {
		t.Errorf("Unexpected device %v", first)
	}
}

func TestHandleDiscoverable(t *testing.T) {
	env := newTestEnv()

	_, body := env.do(t, "POST", "/api/discoverable", `{"discoverable": true, "timeout": 120}`)
	if body["success"] != true || body["discoverable"] != true {
		t.Errorf("Unexpected response %v", body)
	}
	if !env.registry.discoverable || env.registry.timeout != 120 {
		t.Errorf("Expected discoverable for 120s, got %v/%d", env.registry.discoverable, env.registry.timeout)
	}

	env.do(t, "POST", "/api/discoverable", `{"discoverable": false}`)
	if env.registry.discoverable {
		t.Error("Expected discoverable off")
	}

	code, _ := env.do(t, "POST", "/api/discoverable", `{"discoverable":`)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad JSON, got %d", code)
	}
}

func TestRemoveDeviceThenList(t *testing.T) {
	env := newTestEnv()

	_, body := env.do(t, "DELETE", "/api/device/AA:BB:CC:DD:EE:02", "")
	if body["success"] != true {
		t.Fatalf("Expected removal to succeed, got %v", body)
	}
	_, body = env.do(t, "GET", "/api/devices", "")
	for _, d := range body["devices"].([]interface{}) {
		if d.(map[string]interface{})["address"] == "AA:BB:CC:DD:EE:02" {
			t.Error("Removed device still listed")
		}
	}

	code, body := env.do(t, "DELETE", "/api/device/AA:BB:CC:DD:EE:02", "")
	if code != http.StatusOK || body["success"] != false || body["error"] != bluetooth.ErrDeviceNotFound.Error() {
		t.Errorf("Expected device not found, got %d %v", code, body)
	}
}

func TestTrustDevice(t *testing.T) {
	env := newTestEnv()

	_, body := env.do(t, "POST", "/api/device/AA:BB:CC:DD:EE:02/trust", "")
	if body["success"] != true {
		t.Fatalf("Expected trust to succeed, got %v", body)
	}
	if len(env.registry.trusted) != 1 || env.registry.trusted[0] != "AA:BB:CC:DD:EE:02" {
		t.Errorf("Unexpected trusted list %v", env.registry.trusted)
	}

	code, _ := env.do(t, "POST", "/api/device/AA:BB:CC:DD:EE:02/block", "")
	if code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown device action, got %d", code)
	}
}

func TestHandleVolume(t *testing.T) {
	env := newTestEnv()

	_, body := env.do(t, "GET", "/api/volume", "")
	if body["level"] != float64(60) {
		t.Errorf("Expected level 60, got %v", body)
	}

	_, body = env.do(t, "POST", "/api/volume", `{"level": 140}`)
	if body["success"] != true || body["level"] != float64(100) {
		t.Errorf("Expected clamped level 100, got %v", body)
	}

	code, _ := env.do(t, "POST", "/api/volume", `{}`)
	if code != http.StatusBadRequest {
		t.Errorf("Expected 400 without level, got %d", code)
	}

	env.mixer.err = fmt.Errorf("read volume: %w", mixer.ErrMixerUnavailable)
	code, body = env.do(t, "GET", "/api/volume", "")
	if code != http.StatusOK || body["success"] != false || body["error"] != mixer.ErrMixerUnavailable.Error() {
		t.Errorf("Expected mixer unavailable, got %d %v", code, body)
	}
}

func TestUSBEndpoints(t *testing.T) {
	env := newTestEnv()
	env.player.status = player.Status{
		State:        "playing",
		USBMounted:   true,
		IsPlaying:    true,
		CurrentFile:  "b.mp3",
		CurrentIndex: 1,
		TotalTracks:  3,
	}

	_, body := env.do(t, "GET", "/api/usb/status", "")
	if body["usb_mounted"] != true || body["is_playing"] != true || body["current_file"] != "b.mp3" ||
		body["current_index"] != float64(1) || body["total_tracks"] != float64(3) {
		t.Errorf("Unexpected USB status %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Errorf("Expected no error key, got %v", body["error"])
	}

	for _, action := range []string{"play", "stop", "next", "previous"} {
		_, body := env.do(t, "POST", "/api/usb/"+action, "")
		if body["success"] != true {
			t.Errorf("%s: expected success, got %v", action, body)
		}
	}
	if strings.Join(env.player.actions, ",") != "play,stop,next,previous" {
		t.Errorf("Unexpected player calls %v", env.player.actions)
	}

	_, body = env.do(t, "POST", "/api/usb/shuffle", "")
	if body["shuffle"] != true {
		t.Errorf("Expected shuffle on, got %v", body)
	}
}

func TestUSBPlayErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "no media", err: player.ErrNoMediaMounted},
		{name: "empty", err: player.ErrEmptyTrackList},
		{name: "unplayable", err: player.ErrNoPlayableTracks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.player.err = tt.err

			code, body := env.do(t, "POST", "/api/usb/play", "")
			if code != http.StatusOK || body["success"] != false || body["error"] != tt.err.Error() {
				t.Errorf("Expected %q failure, got %d %v", tt.err, code, body)
			}
		})
	}
}

func TestHandleRestart(t *testing.T) {
	env := newTestEnv()

	_, body := env.do(t, "POST", "/api/restart", "")
	if body["success"] != true {
		t.Errorf("Expected restart to succeed, got %v", body)
	}
	if strings.Join(env.units.restarted, ",") != "bluetooth.service,bluealsa.service" {
		t.Errorf("Unexpected restarted units %v", env.units.restarted)
	}

	env.units.err = errors.New("Unit bluetooth.service not found.")
	_, body = env.do(t, "POST", "/api/restart", "")
	if body["success"] != false {
		t.Errorf("Expected restart failure, got %v", body)
	}
}

func TestRoutingErrors(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{method: "GET", path: "/api/nope", code: http.StatusNotFound},
		{method: "POST", path: "/api/status", code: http.StatusMethodNotAllowed},
		{method: "GET", path: "/api/usb/play", code: http.StatusMethodNotAllowed},
		{method: "GET", path: "/api/device/AA:BB:CC:DD:EE:01", code: http.StatusMethodNotAllowed},
		{method: "DELETE", path: "/api/device/", code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			code, body := env.do(t, tt.method, tt.path, "")
			if code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, code)
			}
			if body["success"] != false {
				t.Errorf("Expected success false, got %v", body)
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv()

	req := httptest.NewRequest("GET", "/api/volume", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated X-Request-ID")
	}

	req = httptest.NewRequest("GET", "/api/volume", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected request id to be echoed, got %q", got)
	}
}
