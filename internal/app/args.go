package app

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const usageText = `trackspeed measures link bandwidth and alerts when it falls below expectation.

Usage:
  trackspeed run    [-s] [--show-results] [--email ADDR --smtp HOST:PORT] [flags]
  trackspeed alert  EMAIL SMTP_SERVER:PORT UPLOAD DOWNLOAD [-t PCT] [-c N] [flags]
  trackspeed daemon -config FILE [flags]
  trackspeed version

Common flags:
  -config FILE   JSON or YAML config file
  -data DIR      data directory (default "data")
  -v             more logging; repeat (-v -v or -vv) for trace

Run "trackspeed <command> -h" for the flags of one command.
`

// verbosity counts -v occurrences. -vv counts twice.
type verbosity struct {
	n    *int
	step int
}

func (v verbosity) String() string {
	if v.n == nil {
		return "0"
	}
	return strconv.Itoa(*v.n)
}

func (v verbosity) Set(s string) error {
	if s == "" || s == "true" {
		*v.n += v.step
		return nil
	}
	if s == "false" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid verbosity %q", s)
	}
	*v.n = n
	return nil
}

func (v verbosity) IsBoolFlag() bool { return true }

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	dataDir    string
	verbose    int
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "path to a JSON or YAML config file")
	fs.StringVar(&c.dataDir, "data", "", "data directory holding speed.csv")
	fs.Var(verbosity{n: &c.verbose, step: 1}, "v", "increase verbosity (repeatable)")
	fs.Var(verbosity{n: &c.verbose, step: 1}, "verbose", "increase verbosity (repeatable)")
	fs.Var(verbosity{n: &c.verbose, step: 2}, "vv", "trace logging")
}

// mailFlags select the alert destination and SMTP relay.
type mailFlags struct {
	email    string
	smtp     string
	from     string
	username string
	password string
}

func (m *mailFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.email, "email", "", "e-mail address to send messages to")
	fs.StringVar(&m.smtp, "smtp", "", "SMTP server and port, as server:port")
	fs.StringVar(&m.from, "from", "", "sender address (defaults to the SMTP username)")
	fs.StringVar(&m.username, "u", "", "SMTP username")
	fs.StringVar(&m.username, "username", "", "SMTP username")
	fs.StringVar(&m.password, "p", "", "SMTP password")
	fs.StringVar(&m.password, "password", "", "SMTP password")
}

type runArgs struct {
	common      commonFlags
	mail        mailFlags
	simulate    bool
	showResults bool
	set         map[string]bool
}

type alertArgs struct {
	common    commonFlags
	mail      mailFlags
	simulate  bool
	upload    float64
	download  float64
	threshold int
	count     int
	set       map[string]bool
}

type daemonArgs struct {
	common   commonFlags
	simulate bool
	set      map[string]bool
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("trackspeed "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseRunArgs(args []string, stderr io.Writer) (*runArgs, error) {
	a := &runArgs{}
	fs := newFlagSet("run", stderr)
	a.common.register(fs)
	a.mail.register(fs)
	fs.BoolVar(&a.simulate, "s", false, "simulate: use a canned result and print e-mails instead of sending")
	fs.BoolVar(&a.simulate, "simulate", false, "simulate: use a canned result and print e-mails instead of sending")
	fs.BoolVar(&a.showResults, "show-results", false, "print download, upload and ping")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) > 0 {
		return nil, usageError(fs, "unexpected arguments: %s", strings.Join(pos, " "))
	}
	a.set = visited(fs)
	return a, nil
}

func parseAlertArgs(args []string, stderr io.Writer) (*alertArgs, error) {
	a := &alertArgs{}
	fs := newFlagSet("alert", stderr)
	a.common.register(fs)
	a.mail.register(fs)
	fs.BoolVar(&a.simulate, "s", false, "simulate: print the e-mail instead of sending it")
	fs.BoolVar(&a.simulate, "simulate", false, "simulate: print the e-mail instead of sending it")
	fs.Float64Var(&a.upload, "upload", 0, "expected upload bandwidth, in mbps (e.g. 123.45)")
	fs.Float64Var(&a.download, "download", 0, "expected download bandwidth, in mbps (e.g. 123.45)")
	fs.IntVar(&a.threshold, "t", 20, "threshold percentage below expectation that triggers the alert")
	fs.IntVar(&a.threshold, "threshold", 20, "threshold percentage below expectation that triggers the alert")
	fs.IntVar(&a.count, "c", 8, "how many measurements make up the average")
	fs.IntVar(&a.count, "count", 8, "how many measurements make up the average")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: trackspeed alert EMAIL SMTP_SERVER:PORT UPLOAD DOWNLOAD [flags]")
		fs.PrintDefaults()
	}
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return nil, err
	}
	a.set = visited(fs)

	// Positionals fill EMAIL SMTP UPLOAD DOWNLOAD, in that order.
	if len(pos) > 4 {
		return nil, usageError(fs, "too many arguments: %s", strings.Join(pos[4:], " "))
	}
	for i, v := range pos {
		switch i {
		case 0:
			a.mail.email = v
			a.set["email"] = true
		case 1:
			a.mail.smtp = v
			a.set["smtp"] = true
		case 2:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, usageError(fs, "upload bandwidth is not in the correct format: %q", v)
			}
			a.upload = f
			a.set["upload"] = true
		case 3:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, usageError(fs, "download bandwidth is not in the correct format: %q", v)
			}
			a.download = f
			a.set["download"] = true
		}
	}
	if a.set["t"] {
		a.set["threshold"] = true
	}
	if a.set["c"] {
		a.set["count"] = true
	}
	return a, nil
}

func parseDaemonArgs(args []string, stderr io.Writer) (*daemonArgs, error) {
	a := &daemonArgs{}
	fs := newFlagSet("daemon", stderr)
	a.common.register(fs)
	fs.BoolVar(&a.simulate, "s", false, "simulate measurements and e-mails")
	fs.BoolVar(&a.simulate, "simulate", false, "simulate measurements and e-mails")
	pos, err := parseInterleaved(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) > 0 {
		return nil, usageError(fs, "unexpected arguments: %s", strings.Join(pos, " "))
	}
	if strings.TrimSpace(a.common.configPath) == "" {
		return nil, usageError(fs, "daemon requires -config")
	}
	a.set = visited(fs)
	return a, nil
}

// parseInterleaved lets flags follow positional arguments, which the flag
// package alone stops at. "--" ends flag parsing.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return pos, nil
		}
		if len(args) > len(rest) && args[len(args)-len(rest)-1] == "--" {
			return append(pos, rest...), nil
		}
		pos = append(pos, rest[0])
		args = rest[1:]
	}
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// errUsage marks an argument error that was already printed with the usage.
type errUsage struct{ msg string }

func (e errUsage) Error() string { return e.msg }

func usageError(fs *flag.FlagSet, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(fs.Output(), msg)
	fs.Usage()
	return errUsage{msg: msg}
}
