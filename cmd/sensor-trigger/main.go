// Command sensor-trigger drives a GPIO line with short pulses locked to the
// wall clock and publishes the time of every rising edge to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sweeney/sensor-trigger/internal/clock"
	"github.com/sweeney/sensor-trigger/internal/config"
	"github.com/sweeney/sensor-trigger/internal/gpio"
	"github.com/sweeney/sensor-trigger/internal/logic"
	"github.com/sweeney/sensor-trigger/internal/mqtt"
	"github.com/sweeney/sensor-trigger/internal/status"
	"github.com/sweeney/sensor-trigger/internal/trigger"
	"github.com/sweeney/sensor-trigger/internal/web"
)

type options struct {
	frameRate   float64
	phase       float64
	gpioName    string
	pulseWidth  time.Duration
	mappingFile string
	margin      time.Duration
	broker      string
	heartbeat   time.Duration
	httpAddr    string
	envFile     string
	resolve     bool
}

func main() {
	frameRate := flag.Float64("frame-rate", 10, "Trigger frequency in Hz (at least 1)")
	phase := flag.Float64("phase", 0, "Phase offset in degrees of one period")
	gpioName := flag.String("gpio-name", "", "Name of the trigger line in the GPIO mapping file")
	pulseWidthMs := flag.Int("pulse-width-ms", 1, "Trigger pulse width in milliseconds")
	mappingFile := flag.String("gpio-mapping", "/etc/sensor-trigger/gpio_mapping.yaml", "GPIO name mapping file")
	margin := flag.Duration("margin", logic.DefaultMargin, "Busy-wait window before each pulse")
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")
	envFile := flag.String("env-file", "/run/pi-helper.env", "Network info env file (empty to disable)")
	resolve := flag.Bool("resolve", false, "Print the chip and line for --gpio-name and exit")

	flag.Parse()

	opts := options{
		frameRate:   *frameRate,
		phase:       *phase,
		gpioName:    *gpioName,
		pulseWidth:  time.Duration(*pulseWidthMs) * time.Millisecond,
		mappingFile: *mappingFile,
		margin:      *margin,
		broker:      *broker,
		heartbeat:   *heartbeat,
		httpAddr:    *httpAddr,
		envFile:     *envFile,
		resolve:     *resolve,
	}
	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func (o options) timing() logic.TimingConfig {
	return logic.TimingConfig{
		FrequencyHz: o.frameRate,
		Phase:       o.phase,
		PulseWidth:  o.pulseWidth,
		Margin:      o.margin,
	}
}

// setup validates the timing parameters, resolves the line name and claims
// the line, in that order. Nothing is opened if an earlier step fails.
func setup(o options, open gpio.Opener) (logic.TimingState, config.LineRef, gpio.Output, error) {
	st, err := logic.NewTiming(o.timing())
	if err != nil {
		return logic.TimingState{}, config.LineRef{}, nil, fmt.Errorf("invalid timing: %w", err)
	}

	ref, err := resolveLine(o)
	if err != nil {
		return logic.TimingState{}, config.LineRef{}, nil, err
	}

	line, err := open(ref.Chip, ref.Line, gpio.DirOutput)
	if err != nil {
		return logic.TimingState{}, config.LineRef{}, nil, fmt.Errorf("init gpio: %w", err)
	}
	return st, ref, line, nil
}

func resolveLine(o options) (config.LineRef, error) {
	if o.gpioName == "" {
		return config.LineRef{}, fmt.Errorf("--gpio-name is required")
	}
	mapping, err := config.LoadMapping(o.mappingFile)
	if err != nil {
		return config.LineRef{}, err
	}
	ref, err := mapping.Resolve(o.gpioName)
	if err != nil {
		return config.LineRef{}, fmt.Errorf("%w (mapped names: %s)", err, strings.Join(mapping.Names(), ", "))
	}
	return ref, nil
}

func run(o options) error {
	if o.resolve {
		ref, err := resolveLine(o)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s line %d\n", o.gpioName, gpio.ChipName(ref.Chip), ref.Line)
		return nil
	}

	st, ref, line, err := setup(o, gpio.OpenOutput)
	if err != nil {
		return err
	}
	defer func() {
		if err := line.Close(); err != nil {
			log.Printf("gpio close: %v", err)
		}
	}()

	// Initialize MQTT
	topics := mqtt.NewTopics(o.gpioName)
	publisher := mqtt.NewRealPublisher(o.broker, "sensor-trigger-"+o.gpioName, topics, mqtt.DefaultBufferSize)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		FrameRateHz:  o.frameRate,
		Phase:        o.phase,
		PulseWidthMs: o.pulseWidth.Milliseconds(),
		MarginMs:     o.margin.Milliseconds(),
		GPIOName:     o.gpioName,
		Chip:         ref.Chip,
		Line:         ref.Line,
		IntervalNs:   st.IntervalNs,
		StartNs:      st.StartNs,
		HeartbeatMs:  o.heartbeat.Milliseconds(),
		Broker:       o.broker,
		HTTPAddr:     o.httpAddr,
	})
	if net := readNetworkInfo(o.envFile); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	loop, err := trigger.New(o.timing(), line, publisher, clock.System{}, tracker)
	if err != nil {
		return err
	}

	log.Printf("started: gpio=%s (%s line %d) frame_rate=%gHz phase=%g pulse=%v broker=%s heartbeat=%v",
		o.gpioName, gpio.ChipName(ref.Chip), ref.Line, o.frameRate, o.phase, o.pulseWidth, o.broker, o.heartbeat)

	var tick <-chan time.Time
	if o.heartbeat > 0 {
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	refresh := func() *status.NetworkInfo { return readNetworkInfo(o.envFile) }
	return runLoop(loop, publisher, publisher, tracker, refresh, time.Now, tick, sigCh)
}

// runLoop runs the trigger loop on its own goroutine and services heartbeats
// and signals until either a signal arrives or the loop fails.
func runLoop(loop *trigger.Loop, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, network func() *status.NetworkInfo, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	if tracker != nil {
		tracker.SetRunning(true)
	}
	go func() {
		done <- loop.Run(ctx)
	}()

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			cancel()
			if err := <-done; err != nil {
				log.Printf("trigger loop stopped with error: %v", err)
			}
			publishShutdown(publisher, mqttStatus, tracker, now, signalName(s))
			return nil

		case err := <-done:
			if err == nil {
				publishShutdown(publisher, mqttStatus, tracker, now, "STOPPED")
				return nil
			}
			log.Printf("trigger loop failed after %d pulses: %v", loop.Fired(), err)
			publishShutdown(publisher, mqttStatus, tracker, now, "GPIO_FAILURE")
			return err

		case <-tick:
			hbEvent := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				// Refresh network info for heartbeat
				if network != nil {
					if net := network(); net != nil {
						tracker.SetNetwork(net)
					}
				}
				snap := tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v triggers=%d", snap.Uptime().Round(time.Second), snap.Triggers)
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

func publishShutdown(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, reason string) {
	event := mqtt.SystemEvent{
		Timestamp: now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if tracker != nil {
		tracker.SetRunning(false)
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		snap := tracker.Snapshot()
		event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", reason)
	}
	if err := publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event (%s)", reason)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// readNetworkInfo reads network state from the process environment, falling
// back to envFile. Returns nil when no status is known.
func readNetworkInfo(envFile string) *status.NetworkInfo {
	file := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			file = m
		case !errors.Is(err, fs.ErrNotExist):
			log.Printf("read %s: %v", envFile, err)
		}
	}
	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	}

	s := get(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       get(envNetworkType),
		IP:         get(envNetworkIP),
		Status:     s,
		Gateway:    get(envNetworkGateway),
		WifiStatus: get(envNetworkWifiStatus),
		SSID:       get(envNetworkWifiSSID),
	}
}
