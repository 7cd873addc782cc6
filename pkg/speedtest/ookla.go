package speedtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultOoklaArgs makes the official CLI run unattended and print one JSON
// document.
var DefaultOoklaArgs = []string{"--accept-license", "--accept-gdpr", "--format=json", "--progress=no"}

// ErrBinaryNotFound is returned when the speedtest executable is neither on
// PATH nor in the fallback directory.
var ErrBinaryNotFound = errors.New("could not find speedtest binary")

// OoklaCLI runs the official Ookla `speedtest` executable.
type OoklaCLI struct {
	// Binary is a name looked up on PATH, or a path. Default "speedtest".
	Binary string
	// Args default to DefaultOoklaArgs.
	Args []string
	// Dir is searched when Binary is not on PATH. Default: working directory.
	Dir     string
	Timeout time.Duration
	Now     func() time.Time
}

// ExitError reports a non-zero exit of the executable together with what it
// printed.
type ExitError struct {
	Stdout string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if strings.TrimSpace(e.Stdout) == "" {
		return "speedtest executable exited with an error and no output. Errors:\n" + e.Stderr
	}
	return "speedtest executable exited with an error. Output:\n" + e.Stdout + "\nErrors:\n" + e.Stderr
}

func (e *ExitError) Unwrap() error { return e.Err }

func (o *OoklaCLI) Measure(ctx context.Context) (*Result, error) {
	bin, err := o.resolve()
	if err != nil {
		return nil, err
	}
	args := o.Args
	if len(args) == 0 {
		args = DefaultOoklaArgs
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	start := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
		}
		return nil, fmt.Errorf("run %s: %w", bin, err)
	}

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	res, err := ParseOokla(stdout.Bytes(), now())
	if err != nil {
		return nil, err
	}
	res.Source = SourceOokla
	res.Duration = time.Since(start)
	return res, nil
}

func (o *OoklaCLI) resolve() (string, error) {
	bin := strings.TrimSpace(o.Binary)
	if bin == "" {
		bin = "speedtest"
	}
	if p, err := exec.LookPath(bin); err == nil {
		return p, nil
	}
	dir := o.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("find current working directory: %w", err)
		}
		dir = wd
	}
	candidate := filepath.Join(dir, bin)
	if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, bin)
}

type ooklaDoc struct {
	Ping struct {
		Jitter  float64 `json:"jitter"`
		Latency float64 `json:"latency"`
	} `json:"ping"`
	Download   ooklaBandwidth `json:"download"`
	Upload     ooklaBandwidth `json:"upload"`
	PacketLoss float64        `json:"packetLoss"`
	ISP        string         `json:"isp"`
	Interface  struct {
		ExternalIP string `json:"externalIp"`
	} `json:"interface"`
	Server struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Location string `json:"location"`
		Country  string `json:"country"`
		Host     string `json:"host"`
	} `json:"server"`
}

// ooklaBandwidth.Bandwidth is in bytes per second.
type ooklaBandwidth struct {
	Bandwidth float64 `json:"bandwidth"`
}

// BytesPerSecToMbps converts an Ookla bandwidth figure to megabits per second.
func BytesPerSecToMbps(v float64) float64 { return v * 8 / 1e6 }

// ParseOokla decodes the CLI's JSON document. The measurement is stamped with
// at, not with the timestamp inside the document.
func ParseOokla(raw []byte, at time.Time) (*Result, error) {
	var doc ooklaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("could not parse result. Json:\n%s\nError: %w", raw, err)
	}
	res := &Result{
		Timestamp:      at.UTC(),
		DownloadMbps:   BytesPerSecToMbps(doc.Download.Bandwidth),
		UploadMbps:     BytesPerSecToMbps(doc.Upload.Bandwidth),
		PingMs:         doc.Ping.Latency,
		Jitter:         doc.Ping.Jitter,
		PacketLoss:     doc.PacketLoss,
		ClientIP:       doc.Interface.ExternalIP,
		ISP:            doc.ISP,
		ServerName:     doc.Server.Name,
		ServerHost:     doc.Server.Host,
		ServerLocation: doc.Server.Location,
		ServerCountry:  doc.Server.Country,
		Raw:            append(json.RawMessage(nil), bytes.TrimSpace(raw)...),
	}
	if doc.Server.ID != 0 {
		res.ServerID = strconv.FormatInt(doc.Server.ID, 10)
	}
	return res, nil
}
