// Package speedtest measures link bandwidth.
//
// Three sources share one Result type:
//   - OoklaCLI runs the official `speedtest` binary and parses its JSON output
//   - Runner measures natively with showwin/speedtest-go
//   - Simulated returns a canned result without touching the network
package speedtest

import (
	"context"
	"encoding/json"
	"time"
)

// Source produces one measurement per call.
type Source interface {
	Measure(ctx context.Context) (*Result, error)
}

// Result is a single speedtest measurement.
//
// IMPORTANT: JSON tags are kept stable because native results are persisted
// as the raw per-run document.
type Result struct {
	Timestamp      time.Time `json:"timestamp"`
	DownloadMbps   float64   `json:"download_mbps"`
	UploadMbps     float64   `json:"upload_mbps"`
	PingMs         float64   `json:"ping_ms"`
	Jitter         float64   `json:"jitter"`
	PacketLoss     float64   `json:"packet_loss"`
	ClientIP       string    `json:"client_ip"`
	ISP            string    `json:"isp"`
	ServerID       string    `json:"server_id"`
	ServerName     string    `json:"server_name"`
	ServerHost     string    `json:"server_host"`
	ServerLocation string    `json:"server_location"`
	ServerCountry  string    `json:"server_country"`

	// Non-persisted fields.
	Source   string          `json:"-"`
	Raw      json.RawMessage `json:"-"`
	Duration time.Duration   `json:"-"`
}

// Source names, as used in configuration.
const (
	SourceOokla    = "ookla"
	SourceNative   = "native"
	SourceSimulate = "simulate"
)
