package config

// Config is the optional trackspeed config file. Every field has a default
// (see Defaults) so a file only needs the keys it overrides; CLI flags in turn
// override the file.
type Config struct {
	// DataDir holds speed.csv and the raw per-run results.
	DataDir  string `json:"data_dir"`
	Simulate bool   `json:"simulate,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Speedtest SpeedtestConfig `json:"speedtest"`
	Storage   StorageConfig   `json:"storage"`
	Alert     AlertConfig     `json:"alert"`
	SMTP      SMTPConfig      `json:"smtp"`
	Telegram  TelegramConfig  `json:"telegram"`
	Daemon    DaemonConfig    `json:"daemon"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SpeedtestConfig selects the measurement source.
//
//	"speedtest": { "source": "ookla", "binary": "/usr/bin/speedtest", "timeout": "2m" }
//
// Source is one of "ookla" (official CLI), "native" (speedtest-go) or
// "simulate". The remaining fields tune the native runner only.
type SpeedtestConfig struct {
	Source  string `json:"source"`
	Binary  string `json:"binary,omitempty"`
	Timeout string `json:"timeout,omitempty"` // Go duration string

	ServerCount     int  `json:"server_count,omitempty"`
	FullTestServers int  `json:"full_test_servers,omitempty"`
	MaxConnections  int  `json:"max_connections,omitempty"`
	SavingMode      bool `json:"saving_mode,omitempty"`
	PacketLoss      bool `json:"packet_loss,omitempty"`
}

// StorageConfig controls where the raw JSON of every run is kept.
//
//	"storage": { "driver": "sqlite", "path": "./data/raw.db" }
//
// Driver is "file" (one JSON file per run in data_dir), "sqlite" or "none".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AlertConfig holds the expectation checked by `trackspeed alert`.
type AlertConfig struct {
	Email     string  `json:"email"`
	Download  float64 `json:"download"`
	Upload    float64 `json:"upload"`
	Threshold int     `json:"threshold"`
	Count     int     `json:"count"`
}

// SMTPConfig describes the mail relay. Server is "host:port".
type SMTPConfig struct {
	Server   string `json:"server"`
	From     string `json:"from,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // never logged
	Timeout  string `json:"timeout,omitempty"`
}

// TelegramConfig enables a second alert channel next to e-mail.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"` // never logged
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// DaemonConfig controls `trackspeed daemon`.
//
// Schedule accepts a cron expression ("0 * * * *"), a descriptor
// ("@hourly", "@every 30m"), a Go duration ("45m") or an "HH:MM" interval.
type DaemonConfig struct {
	Schedule    string `json:"schedule"`
	Timezone    string `json:"timezone,omitempty"`
	MinGap      string `json:"min_gap,omitempty"`
	RunTimeout  string `json:"run_timeout,omitempty"`
	WatchConfig bool   `json:"watch_config"`
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

const (
	DefaultDataDir   = "data"
	DefaultThreshold = 20
	DefaultCount     = 8
	// MaxCount is the largest alert window.
	MaxCount        = 255
	DefaultSchedule = "@hourly"
	DefaultMinGap   = "5m"
)

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Logging: LoggingConfig{
			Level:   "warn",
			Console: true,
		},
		Speedtest: SpeedtestConfig{Source: "ookla"},
		Storage:   StorageConfig{Driver: "file"},
		Alert: AlertConfig{
			Threshold: DefaultThreshold,
			Count:     DefaultCount,
		},
		Daemon: DaemonConfig{
			Schedule: DefaultSchedule,
			MinGap:   DefaultMinGap,
		},
	}
}
