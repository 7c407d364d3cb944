package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"labhub/internal/ingest"
	"labhub/internal/mqtt"
)

// mockdevice publishes simulated instrument readings so the whole
// pipeline can run without hardware.
func main() {
	brokerURL := flag.String("broker", "mqtt://localhost:1883", "mqtt broker url")
	prefix := flag.String("prefix", "labhub/telemetry/", "telemetry topic prefix")
	experimentID := flag.String("experiment", "exp-local", "experiment id to publish under")
	deviceIDs := flag.String("devices", "mock-1", "comma separated device ids")
	waveform := flag.String("waveform", "sine", "sine, noise or ramp")
	period := flag.Duration("period", time.Second, "publish period")
	amplitude := flag.Float64("amplitude", 10, "signal amplitude")
	flag.Parse()

	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	mq, err := mqtt.Connect(*brokerURL, "mockdevice-"+*experimentID)
	if err != nil {
		slog.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	devices := strings.Split(*deviceIDs, ",")
	topicPrefix := strings.TrimRight(*prefix, "/") + "/" + *experimentID + "/"
	slog.Info("mockdevice publishing", "devices", devices, "waveform", *waveform, "period", *period)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*period)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-stop:
			slog.Info("mockdevice stopping")
			return
		case now := <-ticker.C:
			for i, dev := range devices {
				dev = strings.TrimSpace(dev)
				if dev == "" {
					continue
				}
				sample := ingest.Sample{
					Name:      "signal",
					Value:     value(*waveform, *amplitude, now.Sub(start), i),
					Type:      "number",
					Timestamp: now.UTC(),
				}
				payload, err := json.Marshal(sample)
				if err != nil {
					continue
				}
				topic := topicPrefix + dev + "/data"
				if err := mq.Publish(topic, payload); err != nil {
					slog.Warn("publish failed", "topic", topic, "error", err)
				}
			}
		}
	}
}

// value generates one reading; a phase offset per device keeps
// multi-device plots distinguishable.
func value(waveform string, amplitude float64, elapsed time.Duration, phase int) float64 {
	t := elapsed.Seconds() + float64(phase)
	switch waveform {
	case "noise":
		return amplitude * (2*rand.Float64() - 1)
	case "ramp":
		return amplitude * math.Mod(t/10, 1)
	default:
		return amplitude * math.Sin(2*math.Pi*t/30)
	}
}
