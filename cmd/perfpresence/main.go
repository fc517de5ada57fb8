package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/ent0n29/voiceauditor/internal/observability"
	"github.com/ent0n29/voiceauditor/internal/tracker"
)

type options struct {
	baseURL      string
	venueID      string
	lobby        string
	away         string
	participants int
	visits       int
	pace         time.Duration
	settle       time.Duration
	verbose      bool
}

type wsFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "perfpresence: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfpresence: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	flagSet := pflag.NewFlagSet("perfpresence", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "service base URL")
	flagSet.StringVar(&cfg.venueID, "venue", "perf-venue", "venue id used for synthetic traffic")
	flagSet.StringVar(&cfg.lobby, "lobby", "lobby", "ordinary channel participants join")
	flagSet.StringVar(&cfg.away, "away", "", "away channel; must match AWAY_CHANNELS for the venue (optional)")
	flagSet.IntVar(&cfg.participants, "participants", 20, "number of synthetic participants")
	flagSet.IntVar(&cfg.visits, "visits", 5, "join/leave cycles per participant")
	flagSet.DurationVar(&cfg.pace, "pace", 0, "delay between frames")
	flagSet.DurationVar(&cfg.settle, "settle", 500*time.Millisecond, "wait before reading latency stats")
	flagSet.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.venueID) == "" {
		return options{}, fmt.Errorf("venue is required")
	}
	if cfg.participants <= 0 {
		return options{}, fmt.Errorf("participants must be > 0")
	}
	if cfg.visits <= 0 {
		return options{}, fmt.Errorf("visits must be > 0")
	}
	cfg.pace = max(cfg.pace, 0)
	cfg.settle = max(cfg.settle, 0)
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	wsURL, err := presenceWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	rejected := make(chan wsFrame, 64)
	go readLoop(conn, rejected)

	script := buildScript(cfg)
	if cfg.verbose {
		fmt.Printf("perfpresence: venue=%s participants=%d visits=%d frames=%d\n", cfg.venueID, cfg.participants, cfg.visits, len(script))
	}
	started := time.Now()
	for i, tr := range script {
		if err := conn.WriteJSON(tr); err != nil {
			return fmt.Errorf("frame %d write: %w", i+1, err)
		}
		if cfg.pace > 0 {
			time.Sleep(cfg.pace)
		}
	}
	sent := time.Since(started)

	if cfg.settle > 0 {
		time.Sleep(cfg.settle)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))

	errorsSeen := 0
drain:
	for {
		select {
		case f := <-rejected:
			errorsSeen++
			if cfg.verbose {
				fmt.Fprintf(os.Stderr, "perfpresence: rejected code=%s detail=%s\n", f.Code, f.Detail)
			}
		default:
			break drain
		}
	}

	snap, err := fetchLatency(ctx, &http.Client{Timeout: 15 * time.Second}, cfg.baseURL)
	if err != nil {
		return fmt.Errorf("fetch latency: %w", err)
	}
	fmt.Printf("perfpresence: sent %d frames in %s (%d rejected)\n", len(script), sent.Round(time.Millisecond), errorsSeen)
	for _, op := range snap.Operations {
		verdict := "ok"
		if !op.WithinBudget() {
			verdict = "OVER"
		}
		fmt.Printf("  %-18s n=%-5d p50=%.2fms p95=%.2fms max=%.2fms budget=%.0fms over=%d %s\n",
			op.Operation, op.Samples, op.P50MS, op.P95MS, op.MaxMS, op.BudgetMS, op.OverBudget, verdict)
	}
	for _, outcome := range slices.Sorted(maps.Keys(snap.Transitions)) {
		fmt.Printf("  outcome %-12s %d\n", outcome, snap.Transitions[outcome])
	}
	return nil
}

// buildScript produces each participant's visits in order: join the lobby,
// optionally step out to the away channel and back, then disconnect.
func buildScript(cfg options) []tracker.Transition {
	perVisit := 2
	if cfg.away != "" {
		perVisit = 4
	}
	out := make([]tracker.Transition, 0, cfg.participants*cfg.visits*perVisit)
	for v := 0; v < cfg.visits; v++ {
		for p := 0; p < cfg.participants; p++ {
			id := fmt.Sprintf("perf-%04d", p)
			step := func(before, after string) tracker.Transition {
				return tracker.Transition{ParticipantID: id, VenueID: cfg.venueID, Before: before, After: after}
			}
			out = append(out, step("", cfg.lobby))
			if cfg.away != "" {
				out = append(out, step(cfg.lobby, cfg.away), step(cfg.away, cfg.lobby))
			}
			out = append(out, step(cfg.lobby, ""))
		}
	}
	return out
}

func presenceWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/presence/ws"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, rejected chan<- wsFrame) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Type != "error" {
			continue
		}
		select {
		case rejected <- f:
		default:
		}
	}
}

func fetchLatency(ctx context.Context, client *http.Client, baseURL string) (observability.LatencySnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return observability.LatencySnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return observability.LatencySnapshot{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return observability.LatencySnapshot{}, err
	}
	if res.StatusCode != http.StatusOK {
		return observability.LatencySnapshot{}, fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var snap observability.LatencySnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return observability.LatencySnapshot{}, err
	}
	return snap, nil
}
