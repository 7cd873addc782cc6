package speedtest

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

const (
	defaultServerCount     = 5
	defaultFullTestServers = 1
	defaultMaxConnections  = 4
	pingConcurrency        = 4
	packetLossTimeout      = 3 * time.Second

	minDialTimeout = 2 * time.Second
	maxDialTimeout = 10 * time.Second
)

var (
	ErrNoServers     = errors.New("no speedtest servers available")
	ErrNoLatency     = errors.New("latency test failed on every candidate server")
	ErrNoFullResults = errors.New("download/upload test failed on every selected server")
)

// RunConfig tunes the native runner. Zero values get defaults.
type RunConfig struct {
	// ServerCount is how many of the closest servers get a latency test.
	ServerCount int
	// FullTestServers is how many of the lowest-latency servers get a
	// download and upload test. They run one after another.
	FullTestServers int

	SavingMode     bool
	MaxConnections int

	PacketLossEnabled bool

	// OperationTimeout bounds dialing. It does not limit the whole run; use
	// the context for that.
	OperationTimeout time.Duration

	// PostRunGC forces a collection after each run. speedtest-go keeps large
	// buffers around between tests.
	PostRunGC bool
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ServerCount <= 0 {
		c.ServerCount = defaultServerCount
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = defaultFullTestServers
	}
	c.FullTestServers = min(c.FullTestServers, c.ServerCount)
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	return c
}

// dialTimeout is half the operation timeout, kept within
// [minDialTimeout, maxDialTimeout].
func (c RunConfig) dialTimeout() time.Duration {
	if c.OperationTimeout <= 0 {
		return maxDialTimeout
	}
	return min(max(c.OperationTimeout/2, minDialTimeout), maxDialTimeout)
}

// Runner measures natively against speedtest.net servers, without the
// external binary.
type Runner struct {
	cfg RunConfig
	now func() time.Time
}

func NewRunner(cfg RunConfig) *Runner {
	return &Runner{cfg: cfg.withDefaults(), now: time.Now}
}

// serverRun is the outcome of a full test against one server.
type serverRun struct {
	server   *st.Server
	download float64
	upload   float64
	latency  time.Duration
}

// Measure tests the closest servers for latency, runs full tests on the
// fastest ones and reports the average over those full tests. Server details
// come from the best of them.
func (r *Runner) Measure(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := r.now()

	transport := r.transport()
	client := st.New(
		st.WithUserConfig(&st.UserConfig{SavingMode: r.cfg.SavingMode, MaxConnections: r.cfg.MaxConnections}),
		st.WithDoer(&http.Client{Transport: transport}),
	)
	client.SetNThread(r.cfg.MaxConnections)
	defer func() {
		client.Snapshots().Clean()
		client.Reset()
		transport.CloseIdleConnections()
		if r.cfg.PostRunGC {
			runtime.GC()
		}
	}()

	user, err := client.FetchUserInfoContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	candidates, err := r.closestServers(ctx, client)
	if err != nil {
		return nil, err
	}
	fastest := pingServers(ctx, candidates)
	if len(fastest) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoLatency
	}
	fastest = fastest[:min(len(fastest), r.cfg.FullTestServers)]

	runs, err := fullTests(ctx, client, fastest)
	if err != nil {
		return nil, err
	}
	best := bestRun(runs)
	download, upload, latency := averageRuns(runs)

	res := &Result{
		Timestamp:      r.now().UTC(),
		DownloadMbps:   download,
		UploadMbps:     upload,
		PingMs:         float64(latency) / float64(time.Millisecond),
		Jitter:         float64(best.server.Jitter) / float64(time.Millisecond),
		ClientIP:       user.IP,
		ISP:            user.Isp,
		ServerID:       best.server.ID,
		ServerName:     best.server.Sponsor,
		ServerHost:     best.server.Host,
		ServerLocation: best.server.Name,
		ServerCountry:  best.server.Country,
		Source:         SourceNative,
	}
	if r.cfg.PacketLossEnabled {
		res.PacketLoss = packetLoss(ctx, best.server.Host)
	}
	res.Duration = r.now().Sub(started)
	if res.Raw, err = json.Marshal(res); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return res, nil
}

func (r *Runner) transport() *http.Transport {
	d := &net.Dialer{Timeout: r.cfg.dialTimeout(), KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   max(r.cfg.MaxConnections, 2),
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   maxDialTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func (r *Runner) closestServers(ctx context.Context, client *st.Speedtest) ([]*st.Server, error) {
	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if avail := servers.Available(); avail != nil {
		servers = *avail
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}
	list := []*st.Server(servers)
	slices.SortFunc(list, func(a, b *st.Server) int { return cmp.Compare(a.Distance, b.Distance) })
	return list[:min(len(list), r.cfg.ServerCount)], nil
}

// pingServers runs latency tests with bounded concurrency and returns the
// servers that answered, lowest latency first.
func pingServers(ctx context.Context, servers []*st.Server) []*st.Server {
	ok := make([]bool, len(servers))
	sem := make(chan struct{}, pingConcurrency)
	var wg sync.WaitGroup
	for i, s := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			ok[i] = s.PingTestContext(ctx, nil) == nil && s.Latency > 0
		}()
	}
	wg.Wait()

	out := make([]*st.Server, 0, len(servers))
	for i, s := range servers {
		if ok[i] {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b *st.Server) int { return cmp.Compare(a.Latency, b.Latency) })
	return out
}

// fullTests runs download then upload on each server in turn. A server that
// fails either test is skipped.
func fullTests(ctx context.Context, client *st.Speedtest, servers []*st.Server) ([]serverRun, error) {
	runs := make([]serverRun, 0, len(servers))
	for _, s := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.DownloadTestContext(ctx) != nil || s.UploadTestContext(ctx) != nil {
			continue
		}
		runs = append(runs, serverRun{
			server:   s,
			download: s.DLSpeed.Mbps(),
			upload:   s.ULSpeed.Mbps(),
			latency:  s.Latency,
		})
		client.Snapshots().Clean()
		client.Reset()
	}
	if len(runs) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoFullResults
	}
	return runs, nil
}

func averageRuns(runs []serverRun) (download, upload float64, latency time.Duration) {
	if len(runs) == 0 {
		return 0, 0, 0
	}
	for _, r := range runs {
		download += r.download
		upload += r.upload
		latency += r.latency
	}
	n := len(runs)
	return download / float64(n), upload / float64(n), latency / time.Duration(n)
}

// bestRun prefers the lowest latency, then the highest download.
func bestRun(runs []serverRun) serverRun {
	best := runs[0]
	for _, r := range runs[1:] {
		if r.latency < best.latency || (r.latency == best.latency && r.download > best.download) {
			best = r
		}
	}
	return best
}

func packetLoss(ctx context.Context, host string) float64 {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, packetLossTimeout)
	defer cancel()
	pl, err := st.NewPacketLossAnalyzer(nil).RunMultiWithContext(ctx, []string{host})
	if err != nil || pl == nil {
		return 0
	}
	return pl.LossPercent()
}
