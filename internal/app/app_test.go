package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"trackspeed/internal/config"
	"trackspeed/internal/metrics"
	"trackspeed/internal/notifier"
	"trackspeed/internal/speedlog"
	"trackspeed/pkg/speedtest"
)

// syncBuffer is a bytes.Buffer safe for the daemon's concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingSource struct{ err error }

func (s failingSource) Measure(context.Context) (*speedtest.Result, error) { return nil, s.err }

func writeSamples(t *testing.T, dir string, n int, download, upload float64) {
	t.Helper()
	w := speedlog.NewWriter(filepath.Join(dir, speedlog.FileName))
	start := time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		err := w.Append(speedlog.Row{
			Timestamp:    start.Add(time.Duration(i) * time.Hour),
			PingMs:       5,
			DownloadMbps: download,
			UploadMbps:   upload,
			ServerID:     "1",
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestMainWithoutArgsFailsSilently(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), nil, &stdout, &stderr)
	if out.Kind != SilentFailure || out.ExitCode() != 1 {
		t.Fatalf("outcome = %v", out.Kind)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Fatalf("usage not printed: %q", stderr.String())
	}
}

func TestMainCommands(t *testing.T) {
	t.Parallel()
	cases := []struct {
		args []string
		kind OutcomeKind
	}{
		{[]string{"help"}, Success},
		{[]string{"version"}, Success},
		{[]string{"run", "-h"}, Success},
		{[]string{"frobnicate"}, SilentFailure},
		{[]string{"run", "--bogus"}, SilentFailure},
		{[]string{"daemon"}, SilentFailure},
	}
	for _, tc := range cases {
		var stdout, stderr bytes.Buffer
		out := Main(context.Background(), tc.args, &stdout, &stderr)
		if out.Kind != tc.kind {
			t.Fatalf("%v: outcome = %v, want %v", tc.args, out.Kind, tc.kind)
		}
	}
}

func TestRunSimulateRecordsResult(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "data")
	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), []string{"run", "-s", "--show-results", "-data", dir}, &stdout, &stderr)
	if out.Kind != Success {
		t.Fatalf("outcome = %v %q (stderr %q)", out.Kind, out.Message, stderr.String())
	}
	if got, want := stdout.String(), "162.48\n105.66\n5.728\n"; got != want {
		t.Fatalf("stdout = %q, want %q", got, want)
	}

	b, err := os.ReadFile(filepath.Join(dir, speedlog.FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log has %d lines, want header and one row:\n%s", len(lines), b)
	}
	if lines[0] != strings.Join(speedlog.Header, ",") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], ",162.48,105.66,84.6.0.1,Some ISP,someserver.nonexistentxyz.com,") {
		t.Fatalf("row = %q", lines[1])
	}

	raws, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 1 {
		t.Fatalf("raw results = %v, want one file", raws)
	}
	raw, err := os.ReadFile(raws[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != speedtest.SampleOoklaJSON {
		t.Fatalf("raw document differs from the measured output")
	}
}

func TestRunWithSQLiteStorageFromConfig(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "data")
	cfgPath := filepath.Join(root, "trackspeed.yaml")
	cfgText := "data_dir: " + dir + "\nstorage:\n  driver: sqlite\n"
	if err := os.WriteFile(cfgPath, []byte(cfgText), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), []string{"run", "-s", "-config", cfgPath}, &stdout, &stderr)
	if out.Kind != Success {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
	if _, err := os.Stat(filepath.Join(dir, "raw_results.db")); err != nil {
		t.Fatalf("sqlite store not created: %v", err)
	}
	if raws, _ := filepath.Glob(filepath.Join(dir, "*.json")); len(raws) != 0 {
		t.Fatalf("file store used as well: %v", raws)
	}
	if _, err := os.Stat(filepath.Join(dir, speedlog.FileName)); err != nil {
		t.Fatalf("measurement log missing: %v", err)
	}
}

func TestRunFailureMailsError(t *testing.T) {
	t.Parallel()
	boom := errors.New("speedtest executable exited with an error")

	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	a.source = func(_ *config.Config) speedtest.Source { return failingSource{err: boom} }
	out := a.main(context.Background(), []string{"run", "-s", "--email", "ops@example.com", "--smtp", "mail.example.com:25", "-data", t.TempDir()})
	if out.Kind != Failure || !strings.Contains(out.Message, boom.Error()) {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
	if strings.Contains(out.Message, "Also, could not send e-mail") {
		t.Fatalf("simulated mail reported as failed: %q", out.Message)
	}
	for _, want := range []string{
		"Would be sending e-mail message to: ops@example.com",
		"Subject: Could not measure bandwidth",
		boom.Error(),
	} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestRunFailureReportsMailError(t *testing.T) {
	t.Parallel()
	boom := errors.New("no network")

	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	a.source = func(_ *config.Config) speedtest.Source { return failingSource{err: boom} }
	out := a.main(context.Background(), []string{"run", "--email", "ops@example.com", "--smtp", "mail.example.com:notaport", "-data", t.TempDir()})
	if out.Kind != Failure {
		t.Fatalf("outcome = %v", out.Kind)
	}
	if !strings.HasPrefix(out.Message, "no network\nAlso, could not send e-mail. Error:\n") {
		t.Fatalf("message = %q", out.Message)
	}
}

func TestRunFailureWithoutDestinationOnlyReports(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	a.source = func(_ *config.Config) speedtest.Source { return failingSource{err: speedtest.ErrBinaryNotFound} }
	out := a.main(context.Background(), []string{"run", "-data", t.TempDir()})
	if out.Kind != Failure || out.Message != speedtest.ErrBinaryNotFound.Error() {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
	if stdout.Len() != 0 {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestAlertNotEnoughResults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSamples(t, dir, 3, 10, 10)

	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), []string{"alert", "ops@example.com", "mail.example.com:25", "100", "100", "-s", "-data", dir}, &stdout, &stderr)
	if out.Kind != Success {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
	if stdout.String() != "Not enough results to report yet.\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestAlertBreachSendsMessage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSamples(t, dir, 10, 50, 40)

	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), []string{"alert", "ops@example.com", "mail.example.com:25", "100", "200", "-s", "-data", dir}, &stdout, &stderr)
	if out.Kind != Success {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
	for _, want := range []string{
		"Would be sending e-mail message to: ops@example.com",
		"Subject: Bandwidth below expectation",
		"Expected bandwidth was 200 mbps for download and 100 mbps for upload.",
		"Found 50.00 mbps for download and 40.00 mbps for upload, for the last ~7 hours (8 samples).",
	} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout.String())
		}
	}
}

func TestAlertWithinExpectationIsQuiet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSamples(t, dir, 8, 80, 80)

	var stdout, stderr bytes.Buffer
	// 80 is exactly 100 reduced by 20%: on the boundary, no alert.
	out := Main(context.Background(), []string{"alert", "ops@example.com", "mail.example.com:25", "100", "100", "-s", "-data", dir}, &stdout, &stderr)
	if out.Kind != Success {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
	if stdout.Len() != 0 {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestAlertUnreadableLogFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString(strings.Join(speedlog.Header, ",") + "\n")
	for i := 0; i < 8; i++ {
		b.WriteString("yesterday,5,fast,slow,,,,null,null,,,null,null,1\n")
	}
	if err := os.WriteFile(filepath.Join(dir, speedlog.FileName), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), []string{"alert", "ops@example.com", "mail.example.com:25", "100", "100", "-s", "-data", dir}, &stdout, &stderr)
	if out.Kind != Failure || !strings.HasPrefix(out.Message, "could not read the measurement log: ") {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
}

// closedAddr returns a local address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestAlertUndeliverableFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSamples(t, dir, 8, 10, 10)
	addr := closedAddr(t)

	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), []string{"alert", "ops@example.com", addr, "100", "100", "--from", "trackspeed@example.com", "-data", dir}, &stdout, &stderr)
	if out.Kind != Failure || !strings.HasPrefix(out.Message, "alert could not be delivered: ") {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}

	a := newApp(&stdout, &stderr)
	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.Alert = config.AlertConfig{Email: "ops@example.com", Download: 100, Upload: 100, Threshold: 20, Count: 8}
	cfg.SMTP.Server = addr
	cfg.SMTP.From = "trackspeed@example.com"
	result, err := a.check(context.Background(), cfg)
	if !errors.Is(err, notifier.ErrSend) {
		t.Fatalf("err = %v, want notifier.ErrSend", err)
	}
	if result != metrics.AlertError {
		t.Fatalf("result = %q, want %q", result, metrics.AlertError)
	}
}

func TestAlertWithoutSenderIsRejectedUpFront(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeSamples(t, dir, 8, 10, 10)

	var stdout, stderr bytes.Buffer
	out := Main(context.Background(), []string{"alert", "ops@example.com", closedAddr(t), "100", "100", "-data", dir}, &stdout, &stderr)
	if out.Kind != Failure || !strings.Contains(out.Message, "invalid configuration") || !strings.Contains(out.Message, "sender") {
		t.Fatalf("outcome = %v %q", out.Kind, out.Message)
	}
	if strings.HasPrefix(out.Message, "alert could not be delivered") {
		t.Fatalf("sender checked only at delivery: %q", out.Message)
	}
}

func TestAlertRejectsInvalidExpectation(t *testing.T) {
	t.Parallel()
	cases := [][]string{
		{"alert", "ops@example.com", "mail.example.com:25", "0", "100", "-s"},
		{"alert", "ops@example.com", "mail.example.com:25", "100", "100", "-t", "101", "-s"},
		{"alert", "ops@example.com", "mail.example.com:25", "100", "100", "-c", "0", "-s"},
		{"alert", "ops@example.com", "mail.example.com:25", "100", "100", "-c", "256", "-s"},
		{"alert", "ops@example.com", "mail.example.com:25", "+Inf", "100", "-s"},
		{"alert", "", "", "100", "100"},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		out := Main(context.Background(), append(args, "-data", t.TempDir()), &stdout, &stderr)
		if out.Kind != Failure {
			t.Fatalf("%v: outcome = %v", args, out.Kind)
		}
	}
}
