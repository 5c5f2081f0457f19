package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/energy-network-editor/internal/config"
	"github.com/signalsfoundry/energy-network-editor/internal/journal"
	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/internal/nbi"
)

const sampleSystem = `{
  "id": "es-smoke",
  "name": "Smoke",
  "carriers": [{"id": "heat", "name": "Heat", "commodity": "Heat"}],
  "area": {
    "id": "root",
    "name": "Root",
    "assets": [
      {"id": "src", "type": "GasHeater", "power": 10, "controlStrategy": "DrivenByDemand",
       "geometry": {"kind": "Point", "points": [{"lat": 52.0, "lng": 4.0}]},
       "ports": [{"id": "src-out", "type": "OutPort", "carrier": "heat", "connectedTo": ["pipe-in"]}]},
      {"id": "pipe", "type": "Pipe",
       "geometry": {"kind": "Line", "points": [{"lat": 52.0, "lng": 4.0}, {"lat": 52.0, "lng": 4.01}]},
       "ports": [
         {"id": "pipe-in", "type": "InPort", "carrier": "heat"},
         {"id": "pipe-out", "type": "OutPort"}
       ]}
    ]
  }
}`

func testConfig(journalPath string) *config.Config {
	return &config.Config{
		Logging:  config.LoggingConfig{Level: "warn", Format: "text"},
		Tracing:  config.TracingConfig{Exporter: "stdout", SampleRatio: 1},
		Sessions: config.SessionsConfig{Capacity: 4, TTL: time.Minute},
		Journal:  config.JournalConfig{Path: journalPath},
	}
}

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	return lis
}

func TestEditorServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	journalPath := filepath.Join(t.TempDir(), "journal.db")
	ls := listeners{
		grpc:     mustListen(t),
		http:     mustListen(t),
		metrics:  mustListen(t),
		registry: prometheus.NewRegistry(),
	}
	log := logging.New(logging.Config{Level: "warn", Output: io.Discard})

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, testConfig(journalPath), log, ls)
	}()

	conn, err := grpc.NewClient(ls.grpc.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	client := nbi.NewEditorClient(conn)
	res, err := client.Execute(ctx, map[string]any{
		"cmd":     nbi.CmdLoad,
		"modelId": "smoke",
		"system":  sampleSystem,
	})
	if err != nil {
		t.Fatalf("load_esdl: %v", err)
	}
	if res["systemId"] != "es-smoke" {
		t.Fatalf("unexpected load result %v", res)
	}

	health := getBody(t, fmt.Sprintf("http://%s/healthz", ls.http.Addr()))
	var hv struct {
		Status string   `json:"status"`
		Models []string `json:"models"`
	}
	if err := json.Unmarshal([]byte(health), &hv); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if hv.Status != "ok" || len(hv.Models) != 1 || hv.Models[0] != "smoke" {
		t.Fatalf("unexpected health %s", health)
	}

	metrics := getBody(t, fmt.Sprintf("http://%s/metrics", ls.metrics.Addr()))
	for _, want := range []string{
		`editor_commands_total{cmd="load_esdl",result="ok"} 1`,
		`model_assets{model_id="smoke"} 2`,
		"editor_active_models 1",
	} {
		if !strings.Contains(metrics, want) {
			t.Fatalf("expected %q in metrics:\n%s", want, metrics)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}

	j, err := journal.Open(journalPath)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer j.Close()
	entries, err := j.List(context.Background(), "smoke", 0)
	if err != nil || len(entries) != 1 || entries[0].Command != nbi.CmdLoad {
		t.Fatalf("journal entries = %+v, err = %v", entries, err)
	}
}

func getBody(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status %d", url, resp.StatusCode)
	}
	return string(body)
}

func TestInspectReportsSummaryAndWarnings(t *testing.T) {
	var out bytes.Buffer
	if err := inspect(context.Background(), strings.NewReader(sampleSystem), &out, false); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	got := out.String()
	for _, want := range []string{"Energy system: es-smoke", "assets", "Projection:", "missing_carrier"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}

	out.Reset()
	if err := inspect(context.Background(), strings.NewReader(sampleSystem), &out, true); err != nil {
		t.Fatalf("inspect --warnings: %v", err)
	}
	if strings.Contains(out.String(), "Energy system") {
		t.Fatalf("--warnings must skip the summary:\n%s", out.String())
	}

	if err := inspect(context.Background(), strings.NewReader("{"), io.Discard, false); err == nil {
		t.Fatalf("expected error for malformed input")
	}
}

func TestJournalCommand(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.db")
	j, err := journal.Open(journalPath)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	ctx := context.Background()
	_ = j.Append(ctx, journal.Entry{ModelID: "m1", Version: 1, Command: "load_esdl"})
	_ = j.Append(ctx, journal.Entry{ModelID: "m1", Version: 1, Command: "connect_ports", Outcome: journal.OutcomeError, Error: "type mismatch"})
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfgFile := filepath.Join(dir, "editor.yaml")
	if err := os.WriteFile(cfgFile, []byte("journal:\n  path: "+journalPath+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgFile, "journal", "m1"})
	if err := root.ExecuteContext(ctx); err != nil {
		t.Fatalf("journal command: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "load_esdl") || !strings.Contains(got, "type mismatch") {
		t.Fatalf("unexpected journal output:\n%s", got)
	}
}
