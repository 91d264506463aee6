// sporket-bench runs an in-process Sporket server and drives it with a
// configurable number of concurrent authenticated clients, measuring
// the round-trip latency and throughput of messages the server echoes
// back to their sender with SendTo.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sporket-dev/sporket/pkg/bus"
	"github.com/sporket-dev/sporket/pkg/envelope"
	"github.com/sporket-dev/sporket/pkg/sporket"
)

var profiles = map[string]benchConfig{
	"fast": {
		Clients:      50,
		Duration:     10 * time.Second,
		RPS:          5,
		PayloadBytes: 64,
	},
	"standard": {
		Clients:      200,
		Duration:     30 * time.Second,
		RPS:          10,
		PayloadBytes: 64,
	},
	"stress": {
		Clients:      500,
		Duration:     60 * time.Second,
		RPS:          20,
		PayloadBytes: 256,
	},
}

type benchConfig struct {
	Profile      string
	Clients      int
	Duration     time.Duration
	RPS          float64
	PayloadBytes int
	JSONOutput   string
}

type benchCounters struct {
	messagesSent     atomic.Uint64
	messagesComplete atomic.Uint64
	bytesSent        atomic.Uint64
}

type benchErrors struct {
	handshakeFailures atomic.Uint64
	sendFailures       atomic.Uint64
	timeouts           atomic.Uint64
	totalErrors        atomic.Uint64
}

func main() {
	log.SetFlags(0)

	cfg, err := parseConfig()
	if err != nil {
		log.Fatal(err)
	}

	const password = "sporket-bench-secret"
	os.Setenv(sporketPasswordEnvVar, password)

	serverCfg := bus.DefaultServerConfig()
	serverCfg.Hostname = "127.0.0.1"
	serverCfg.Port = 0
	serverCfg.Password = password

	srv := bus.New(serverCfg)
	srv.OnMessage(func(c *bus.ServerClient, payload envelope.Payload) {
		srv.SendTo(c.UUID, payload)
	})

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	httpServer := &http.Server{Handler: srv.Handler()}
	go func() { _ = httpServer.Serve(ln) }()
	defer func() { _ = httpServer.Shutdown(context.Background()) }()

	wsURL := "ws://" + ln.Addr().String() + "/"

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samplesCh := make(chan time.Duration, sampleBuffer(cfg.Clients))
	var samples []time.Duration
	var samplesMu sync.Mutex
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samplesMu.Lock()
			samples = append(samples, rtt)
			samplesMu.Unlock()
		}
	}()

	var counters benchCounters
	var errCounts benchErrors

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(cfg.Clients)
	for i := 0; i < cfg.Clients; i++ {
		clientID := i
		go func() {
			defer wg.Done()
			if err := runClient(ctx, wsURL, password, clientID, cfg, &counters, &errCounts, samplesCh); err != nil {
				errCounts.totalErrors.Add(1)
			}
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone

	elapsed := time.Since(start)

	samplesMu.Lock()
	latencies := append([]time.Duration(nil), samples...)
	samplesMu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	report := buildReport(cfg, elapsed, latencies, &counters, &errCounts)
	writeSummary(os.Stderr, report)
	if err := writeJSON(cfg.JSONOutput, report); err != nil {
		log.Fatalf("write json: %v", err)
	}
}

const sporketPasswordEnvVar = "SPORKET_PASSWORD"

// runClient drives one authenticated client for the benchmark's
// duration, sending DATA frames at the configured rate and recording
// server-echoed round-trip latency keyed by sequence number.
func runClient(ctx context.Context, wsURL, password string, clientID int, cfg benchConfig, counters *benchCounters, errCounts *benchErrors, samplesCh chan<- time.Duration) error {
	authed := make(chan struct{}, 1)
	pending := make(map[int64]time.Time)
	var pendingMu sync.Mutex

	client := sporket.New(sporket.Config{URL: wsURL, Password: password}, sporket.Handlers{
		OnAuthenticated: func() {
			select {
			case authed <- struct{}{}:
			default:
			}
		},
		OnMessage: func(payload envelope.Payload) {
			seq, ok := payload["seq"].(float64)
			if !ok {
				return
			}
			pendingMu.Lock()
			sentAt, ok := pending[int64(seq)]
			delete(pending, int64(seq))
			pendingMu.Unlock()
			if ok {
				counters.messagesComplete.Add(1)
				select {
				case samplesCh <- time.Since(sentAt):
				default:
				}
			}
		},
	})

	if err := client.Connect(); err != nil {
		errCounts.handshakeFailures.Add(1)
		return err
	}
	defer client.Disconnect()

	select {
	case <-authed:
	case <-ctx.Done():
		errCounts.handshakeFailures.Add(1)
		return ctx.Err()
	case <-time.After(5 * time.Second):
		errCounts.timeouts.Add(1)
		return fmt.Errorf("client %d: handshake timeout", clientID)
	}

	interval := time.Duration(float64(time.Second) / cfg.RPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	filler := strings.Repeat("x", cfg.PayloadBytes)
	var seq int64

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			seq++
			pendingMu.Lock()
			pending[seq] = time.Now()
			pendingMu.Unlock()

			ok := client.SendData(envelope.Payload{"seq": seq, "filler": filler})
			counters.messagesSent.Add(1)
			counters.bytesSent.Add(uint64(len(filler)))
			if !ok {
				errCounts.sendFailures.Add(1)
			}
		}
	}
}

func sampleBuffer(clients int) int {
	if clients < 1 {
		return 1024
	}
	buf := clients * 4
	if buf < 1024 {
		buf = 1024
	}
	return buf
}

func parseConfig() (benchConfig, error) {
	profileFlag := flag.String("profile", "standard", "profile: fast|standard|stress")
	clientsFlag := flag.Int("clients", -1, "number of concurrent sporket clients")
	durationFlag := flag.String("duration", "", "benchmark duration, e.g. 30s")
	rpsFlag := flag.Float64("rps", -1, "target messages/sec per client")
	payloadFlag := flag.Int("payload-bytes", -1, "filler bytes per message")
	jsonFlag := flag.String("json", "-", "JSON output path ('-' for stdout)")
	flag.Parse()

	cfg, ok := profiles[*profileFlag]
	if !ok {
		return benchConfig{}, fmt.Errorf("unknown profile %q", *profileFlag)
	}
	cfg.Profile = *profileFlag

	if *clientsFlag >= 0 {
		cfg.Clients = *clientsFlag
	}
	if *durationFlag != "" {
		d, err := time.ParseDuration(*durationFlag)
		if err != nil {
			return benchConfig{}, fmt.Errorf("invalid duration: %w", err)
		}
		cfg.Duration = d
	}
	if *rpsFlag >= 0 {
		cfg.RPS = *rpsFlag
	}
	if *payloadFlag >= 0 {
		cfg.PayloadBytes = *payloadFlag
	}
	cfg.JSONOutput = *jsonFlag

	if cfg.Clients <= 0 {
		return benchConfig{}, fmt.Errorf("clients must be > 0")
	}
	if cfg.RPS <= 0 {
		return benchConfig{}, fmt.Errorf("rps must be > 0")
	}

	return cfg, nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	Errors     errorInfo      `json:"errors"`
}

type runInfo struct {
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile      string  `json:"profile"`
	Clients      int     `json:"clients"`
	DurationMS   int64   `json:"duration_ms"`
	RPSPerClient float64 `json:"rps_per_client"`
	PayloadBytes int     `json:"payload_bytes"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	MessagesTotal      uint64  `json:"messages_total"`
	MessagesPerSec     float64 `json:"messages_per_sec"`
	MessagesPerSecPeer float64 `json:"messages_per_sec_per_client"`
}

type errorInfo struct {
	TotalErrors       uint64 `json:"total_errors"`
	HandshakeFailures uint64 `json:"handshake_failures"`
	SendFailures      uint64 `json:"send_failures"`
	Timeouts          uint64 `json:"timeouts"`
}

func buildReport(cfg benchConfig, elapsed time.Duration, latencies []time.Duration, counters *benchCounters, errs *benchErrors) benchReport {
	messagesTotal := counters.messagesComplete.Load()
	elapsedSeconds := math.Max(0.001, elapsed.Seconds())
	messagesPerSec := float64(messagesTotal) / elapsedSeconds

	latency := latencyInfo{}
	if len(latencies) > 0 {
		latency = latencyInfo{
			Min: ms(latencies[0]),
			P50: ms(percentile(latencies, 0.50)),
			P95: ms(percentile(latencies, 0.95)),
			P99: ms(percentile(latencies, 0.99)),
			Max: ms(latencies[len(latencies)-1]),
		}
	}

	return benchReport{
		Version: "1",
		Run: runInfo{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: gitCommit(),
		},
		Workload: workloadInfo{
			Profile:      cfg.Profile,
			Clients:      cfg.Clients,
			DurationMS:   cfg.Duration.Milliseconds(),
			RPSPerClient: cfg.RPS,
			PayloadBytes: cfg.PayloadBytes,
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			MessagesTotal:      messagesTotal,
			MessagesPerSec:     messagesPerSec,
			MessagesPerSecPeer: messagesPerSec / float64(cfg.Clients),
		},
		Errors: errorInfo{
			TotalErrors:       errs.totalErrors.Load(),
			HandshakeFailures: errs.handshakeFailures.Load(),
			SendFailures:      errs.sendFailures.Load(),
			Timeouts:          errs.timeouts.Load(),
		},
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== Sporket Bench ===")
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Clients: %d\n", report.Workload.Clients)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Target per-client rate: %.2f msg/s\n", report.Workload.RPSPerClient)
	fmt.Fprintf(w, "Payload bytes: %d\n", report.Workload.PayloadBytes)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total messages: %d\n", report.Throughput.MessagesTotal)
	fmt.Fprintf(w, "Throughput: %.1f msg/s (%.2f per client)\n", report.Throughput.MessagesPerSec, report.Throughput.MessagesPerSecPeer)
	fmt.Fprintf(w, "Errors: %d\n", report.Errors.TotalErrors)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "RTT (client send -> server echo -> client receive):")
		fmt.Fprintf(w, "  min: %.2f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.2f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.2f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.2f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.2f ms\n", report.LatencyMS.Max)
	}
}

func writeJSON(path string, report benchReport) error {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
