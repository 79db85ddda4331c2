package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/sensor-trigger/internal/clock"
	"github.com/sweeney/sensor-trigger/internal/config"
	"github.com/sweeney/sensor-trigger/internal/gpio"
	"github.com/sweeney/sensor-trigger/internal/logic"
	"github.com/sweeney/sensor-trigger/internal/mqtt"
	"github.com/sweeney/sensor-trigger/internal/status"
	"github.com/sweeney/sensor-trigger/internal/trigger"
)

const testMapping = `
camera_trigger:
  chip: 0
  line: 17
lidar_sync:
  chip: 1
  line: 4
half_entry:
  chip: 2
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testOptions(t *testing.T) options {
	return options{
		frameRate:   10,
		gpioName:    "camera_trigger",
		pulseWidth:  time.Millisecond,
		mappingFile: writeFile(t, "gpio_mapping.yaml", testMapping),
		margin:      logic.DefaultMargin,
	}
}

// countingOpener records how often the line was claimed.
type countingOpener struct {
	calls int
	line  *gpio.FakeOutput
}

func (c *countingOpener) open(chip, line uint, dir gpio.Direction) (gpio.Output, error) {
	c.calls++
	return c.line.Opener()(chip, line, dir)
}

func TestSetupRejectsSubHertzBeforeGPIO(t *testing.T) {
	o := testOptions(t)
	o.frameRate = 0.999
	op := &countingOpener{line: gpio.NewFakeOutput()}

	_, _, _, err := setup(o, op.open)
	if !errors.Is(err, logic.ErrInvalidFrequency) {
		t.Fatalf("expected ErrInvalidFrequency, got %v", err)
	}
	if op.calls != 0 {
		t.Errorf("gpio must not be opened, opener called %d times", op.calls)
	}
}

func TestSetupRejectsTimingBeforeMapping(t *testing.T) {
	o := testOptions(t)
	o.frameRate = 0.5
	o.mappingFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, _, _, err := setup(o, (&countingOpener{line: gpio.NewFakeOutput()}).open)
	if !errors.Is(err, logic.ErrInvalidFrequency) {
		t.Fatalf("timing must be checked first, got %v", err)
	}
}

func TestSetupRejectsZeroMarginBeforeGPIO(t *testing.T) {
	o := testOptions(t)
	o.frameRate = 1
	o.margin = 0
	op := &countingOpener{line: gpio.NewFakeOutput()}

	_, _, _, err := setup(o, op.open)
	if !errors.Is(err, logic.ErrInvalidMargin) {
		t.Fatalf("expected ErrInvalidMargin, got %v", err)
	}
	if op.calls != 0 {
		t.Errorf("gpio must not be opened, opener called %d times", op.calls)
	}
}

func TestSetupUnknownName(t *testing.T) {
	for _, name := range []string{"missing", "half_entry"} {
		o := testOptions(t)
		o.gpioName = name
		op := &countingOpener{line: gpio.NewFakeOutput()}

		_, _, _, err := setup(o, op.open)
		if !errors.Is(err, config.ErrUnknownGPIO) {
			t.Errorf("%s: expected ErrUnknownGPIO, got %v", name, err)
		}
		if op.calls != 0 {
			t.Errorf("%s: gpio must not be opened", name)
		}
	}
}

func TestSetupRequiresName(t *testing.T) {
	o := testOptions(t)
	o.gpioName = ""

	if _, _, _, err := setup(o, (&countingOpener{line: gpio.NewFakeOutput()}).open); err == nil {
		t.Error("expected error without --gpio-name")
	}
}

func TestSetupOpensResolvedLine(t *testing.T) {
	o := testOptions(t)
	o.gpioName = "lidar_sync"
	o.phase = 90
	op := &countingOpener{line: gpio.NewFakeOutput()}

	st, ref, line, err := setup(o, op.open)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if op.calls != 1 {
		t.Errorf("opener called %d times, want 1", op.calls)
	}
	if ref != (config.LineRef{Chip: 1, Line: 4}) {
		t.Errorf("ref: got %+v", ref)
	}
	if op.line.Chip != 1 || op.line.Line != 4 || op.line.Dir != gpio.DirOutput {
		t.Errorf("opened %d/%d dir %d", op.line.Chip, op.line.Line, op.line.Dir)
	}
	if line != gpio.Output(op.line) {
		t.Error("setup should return the opened line")
	}
	if st.IntervalNs != 100_000_000 || st.StartNs != 25_000_000 {
		t.Errorf("timing: got interval=%d start=%d", st.IntervalNs, st.StartNs)
	}
}

func TestSetupOpenError(t *testing.T) {
	o := testOptions(t)
	failing := func(chip, line uint, dir gpio.Direction) (gpio.Output, error) {
		return nil, errors.New("device busy")
	}

	if _, _, _, err := setup(o, failing); err == nil {
		t.Error("expected open error to propagate")
	}
}

func TestResolveLineListsMappedNames(t *testing.T) {
	o := testOptions(t)
	o.gpioName = "camera_trigge"

	_, err := resolveLine(o)
	if !errors.Is(err, config.ErrUnknownGPIO) {
		t.Fatalf("expected ErrUnknownGPIO, got %v", err)
	}
	if !strings.Contains(err.Error(), "camera_trigger, half_entry, lidar_sync") {
		t.Errorf("error should list the mapped names, got %q", err)
	}
}

func TestResolveLine(t *testing.T) {
	ref, err := resolveLine(testOptions(t))
	if err != nil {
		t.Fatalf("resolveLine: %v", err)
	}
	if ref.Chip != 0 || ref.Line != 17 {
		t.Errorf("got %+v, want chip 0 line 17", ref)
	}
}

// newTestLoop builds a 10 Hz trigger loop on a fake clock and fake line.
func newTestLoop(t *testing.T, line *gpio.FakeOutput, pub *mqtt.FakePublisher, tracker *status.Tracker) *trigger.Loop {
	t.Helper()
	clk := clock.NewFake(1_700_000_000_000_000_000, 1000)
	line.Now = clk.Now

	var obs trigger.Observer
	if tracker != nil {
		obs = tracker
	}
	loop, err := trigger.New(logic.TimingConfig{
		FrequencyHz: 10,
		PulseWidth:  time.Millisecond,
		Margin:      logic.DefaultMargin,
	}, line, pub, clk, obs)
	if err != nil {
		t.Fatalf("trigger.New: %v", err)
	}
	return loop
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func lastStatus(t *testing.T, pub *mqtt.FakePublisher) status.StatusJSON {
	t.Helper()
	if len(pub.SystemEvents) == 0 {
		t.Fatal("no system events published")
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(pub.SystemEvents[len(pub.SystemEvents)-1].RawPayload, &sj); err != nil {
		t.Fatalf("invalid status payload: %v", err)
	}
	return sj
}

func TestRunLoopShutdownOnSignal(t *testing.T) {
	line := gpio.NewFakeOutput()
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(fixedNow(), status.Config{})
	loop := newTestLoop(t, line, pub, tracker)

	sig := make(chan os.Signal, 1)
	pub.OnTrigger = func(ev logic.TriggerEvent) {
		if ev.Seq == 3 {
			sig <- syscall.SIGTERM
		}
	}

	if err := runLoop(loop, pub, pub, tracker, nil, fixedNow, nil, sig); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if pub.TriggerCount() < 3 {
		t.Errorf("expected at least 3 triggers, got %d", pub.TriggerCount())
	}
	names := pub.SystemEventNames()
	if len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Fatalf("system events: got %v, want [SHUTDOWN]", names)
	}
	ev := pub.SystemEvents[0]
	if ev.Reason != "SIGTERM" || !ev.Retained {
		t.Errorf("shutdown event: got reason=%q retained=%v", ev.Reason, ev.Retained)
	}
	sj := lastStatus(t, pub)
	if sj.Status.Running {
		t.Error("status should report the loop stopped")
	}
	if sj.Status.Triggers != uint64(pub.TriggerCount()) {
		t.Errorf("status triggers %d, published %d", sj.Status.Triggers, pub.TriggerCount())
	}
	if line.Level != gpio.Low {
		t.Error("line must be left low")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	line := gpio.NewFakeOutput()
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := status.NewTracker(fixedNow(), status.Config{})
	loop := newTestLoop(t, line, pub, tracker)

	network := func() *status.NetworkInfo {
		return &status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	}
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(loop, pub, pub, tracker, network, fixedNow, tick, sig)
	}()

	tick <- time.Time{}
	sig <- syscall.SIGINT
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	names := pub.SystemEventNames()
	if len(names) != 2 || names[0] != "HEARTBEAT" || names[1] != "SHUTDOWN" {
		t.Fatalf("system events: got %v, want [HEARTBEAT SHUTDOWN]", names)
	}

	var hb status.StatusJSON
	if err := json.Unmarshal(pub.SystemEvents[0].RawPayload, &hb); err != nil {
		t.Fatalf("invalid heartbeat payload: %v", err)
	}
	if hb.Status.Event != "HEARTBEAT" || !hb.Status.Running {
		t.Errorf("heartbeat: got event=%q running=%v", hb.Status.Event, hb.Status.Running)
	}
	if !hb.Status.MQTT.Connected {
		t.Error("heartbeat should report MQTT connected")
	}
	if hb.Status.Network == nil || hb.Status.Network.IP != "192.168.1.42" {
		t.Errorf("heartbeat network: got %+v", hb.Status.Network)
	}
	if pub.SystemEvents[1].Reason != "SIGINT" {
		t.Errorf("shutdown reason: got %q, want SIGINT", pub.SystemEvents[1].Reason)
	}
}

func TestRunLoopGPIOFailure(t *testing.T) {
	line := gpio.NewFakeOutput()
	line.FailAfter = 6
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(fixedNow(), status.Config{})
	loop := newTestLoop(t, line, pub, tracker)

	err := runLoop(loop, pub, pub, tracker, nil, fixedNow, nil, make(chan os.Signal))
	if !errors.Is(err, trigger.ErrHardware) {
		t.Fatalf("expected ErrHardware, got %v", err)
	}
	if pub.TriggerCount() != 3 {
		t.Errorf("expected 3 triggers before the failure, got %d", pub.TriggerCount())
	}

	names := pub.SystemEventNames()
	if len(names) != 1 || names[0] != "SHUTDOWN" {
		t.Fatalf("system events: got %v, want [SHUTDOWN]", names)
	}
	if pub.SystemEvents[0].Reason != "GPIO_FAILURE" {
		t.Errorf("reason: got %q, want GPIO_FAILURE", pub.SystemEvents[0].Reason)
	}
	if tracker.Snapshot().Running {
		t.Error("tracker should not report running after a failure")
	}
}

func TestRunLoopShutdownPublishErrorIgnored(t *testing.T) {
	line := gpio.NewFakeOutput()
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker down")
	loop := newTestLoop(t, line, pub, nil)

	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM

	if err := runLoop(loop, pub, pub, nil, nil, fixedNow, nil, sig); err != nil {
		t.Fatalf("publish errors must not fail shutdown: %v", err)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestEnvVarNames(t *testing.T) {
	// These must match what pi-helper writes to /run/pi-helper.env.
	// If pi-helper changes its output format, this test should break.
	expected := map[string]string{
		"envNetworkType":       "NETWORK_TYPE",
		"envNetworkIP":         "NETWORK_IP",
		"envNetworkStatus":     "NETWORK_STATUS",
		"envNetworkGateway":    "NETWORK_GATEWAY",
		"envNetworkWifiStatus": "NETWORK_WIFI_STATUS",
		"envNetworkWifiSSID":   "NETWORK_WIFI_SSID",
	}
	actual := map[string]string{
		"envNetworkType":       envNetworkType,
		"envNetworkIP":         envNetworkIP,
		"envNetworkStatus":     envNetworkStatus,
		"envNetworkGateway":    envNetworkGateway,
		"envNetworkWifiStatus": envNetworkWifiStatus,
		"envNetworkWifiSSID":   envNetworkWifiSSID,
	}
	for name, want := range expected {
		if got := actual[name]; got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func clearNetworkEnv(t *testing.T) {
	for _, k := range []string{envNetworkType, envNetworkIP, envNetworkStatus, envNetworkGateway, envNetworkWifiStatus, envNetworkWifiSSID} {
		t.Setenv(k, "")
	}
}

func TestReadNetworkInfoFromEnv(t *testing.T) {
	clearNetworkEnv(t)
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "up")
	t.Setenv(envNetworkWifiSSID, "MyNet")

	info := readNetworkInfo("")
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", Gateway: "192.168.1.1", WifiStatus: "up", SSID: "MyNet"}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoFromFile(t *testing.T) {
	clearNetworkEnv(t)
	path := writeFile(t, "pi-helper.env", "NETWORK_TYPE=ethernet\nNETWORK_IP=10.0.0.5\nNETWORK_STATUS=connected\nNETWORK_GATEWAY=10.0.0.1\n")

	info := readNetworkInfo(path)
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Type != "ethernet" || info.IP != "10.0.0.5" || info.Gateway != "10.0.0.1" {
		t.Errorf("got %+v", *info)
	}
	if info.SSID != "" {
		t.Errorf("SSID: got %q, want empty", info.SSID)
	}
}

func TestReadNetworkInfoEnvOverridesFile(t *testing.T) {
	clearNetworkEnv(t)
	path := writeFile(t, "pi-helper.env", "NETWORK_IP=10.0.0.5\nNETWORK_STATUS=connected\n")
	t.Setenv(envNetworkIP, "192.168.1.42")

	info := readNetworkInfo(path)
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.IP != "192.168.1.42" {
		t.Errorf("IP: got %q, want env value", info.IP)
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want file value", info.Status)
	}
}

func TestReadNetworkInfoNoStatus(t *testing.T) {
	clearNetworkEnv(t)
	t.Setenv(envNetworkIP, "192.168.1.42")

	if info := readNetworkInfo(filepath.Join(t.TempDir(), "absent.env")); info != nil {
		t.Errorf("expected nil without NETWORK_STATUS, got %+v", info)
	}
}
