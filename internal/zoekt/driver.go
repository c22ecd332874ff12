// Package zoekt supervises the external full-text engine: a long-running web
// server answering regex queries over the mirror, and an indexer run on
// demand. The engine is optional; grep falls back to the in-process scanner
// whenever the driver reports unhealthy.
package zoekt

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	healthProbeInterval = 500 * time.Millisecond
	healthProbeTimeout  = 10 * time.Second
	restartBackoffBase  = time.Second
	restartBackoffCap   = 30 * time.Second
	maxRestartAttempts  = 5
	rpcTimeout          = 10 * time.Second

	webserverBinary = "zoekt-webserver"
	indexerBinary   = "zoekt-index"
)

// Options configure the driver.
type Options struct {
	BinaryDir       string
	IndexDir        string
	WebPort         int
	Parallelism     int
	FileLimitBytes  int64
	ReindexDebounce time.Duration
}

// Driver owns the engine lifecycle. All exported methods are safe for
// concurrent use.
type Driver struct {
	opts Options
	log  zerolog.Logger

	client *http.Client

	mu           sync.Mutex
	cmd          *exec.Cmd
	shuttingDown bool
	restartCount int

	healthy atomic.Bool

	indexMu      sync.Mutex
	indexRunning bool
	indexCmd     *exec.Cmd

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	pendingRoot   string
}

// New creates a driver; Start actually launches the web server.
func New(opts Options, log zerolog.Logger) *Driver {
	if opts.ReindexDebounce <= 0 {
		opts.ReindexDebounce = 5 * time.Second
	}
	return &Driver{
		opts:   opts,
		log:    log.With().Str("component", "zoekt").Logger(),
		client: &http.Client{Timeout: rpcTimeout},
	}
}

// Start locates the binaries, creates the index directory, launches the web
// server, and waits for its health probe. A missing binary is returned as an
// error; the caller decides whether to run degraded.
func (d *Driver) Start(ctx context.Context) error {
	if _, err := d.findBinary(webserverBinary); err != nil {
		return err
	}
	if err := os.MkdirAll(d.opts.IndexDir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := d.spawnWebserver(); err != nil {
		return err
	}
	return d.waitHealthy(ctx)
}

// Healthy reports whether the web server is currently answering probes.
func (d *Driver) Healthy() bool {
	return d.healthy.Load()
}

func (d *Driver) findBinary(name string) (string, error) {
	if d.opts.BinaryDir != "" {
		candidate := filepath.Join(d.opts.BinaryDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("engine binary %s not found: %w", name, err)
	}
	return path, nil
}

func (d *Driver) spawnWebserver() error {
	bin, err := d.findBinary(webserverBinary)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shuttingDown {
		return nil
	}
	cmd := exec.Command(bin,
		"-index", d.opts.IndexDir,
		"-listen", fmt.Sprintf("127.0.0.1:%d", d.opts.WebPort),
		"-rpc",
	)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", webserverBinary, err)
	}
	d.cmd = cmd
	d.log.Info().Int("pid", cmd.Process.Pid).Int("port", d.opts.WebPort).Msg("engine web server started")

	go d.supervise(cmd)
	return nil
}

// supervise restarts the web server with capped exponential backoff when it
// exits unexpectedly. Graceful shutdown disables auto-restart first.
func (d *Driver) supervise(cmd *exec.Cmd) {
	err := cmd.Wait()
	d.healthy.Store(false)

	d.mu.Lock()
	if d.shuttingDown || d.cmd != cmd {
		d.mu.Unlock()
		return
	}
	d.restartCount++
	attempt := d.restartCount
	d.mu.Unlock()

	if attempt > maxRestartAttempts {
		d.log.Error().Err(err).Msg("engine web server exceeded restart attempts, giving up")
		return
	}

	backoff := restartBackoffBase << (attempt - 1)
	if backoff > restartBackoffCap {
		backoff = restartBackoffCap
	}
	d.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("engine web server exited, restarting")
	time.Sleep(backoff)

	if err := d.spawnWebserver(); err != nil {
		d.log.Error().Err(err).Msg("engine restart failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	defer cancel()
	if err := d.waitHealthy(ctx); err != nil {
		d.log.Warn().Err(err).Msg("restarted engine did not become healthy")
	}
}

// waitHealthy probes /healthz on a fixed cadence until it answers or the
// timeout lapses.
func (d *Driver) waitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(healthProbeTimeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", d.opts.WebPort)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := d.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				d.healthy.Store(true)
				d.mu.Lock()
				d.restartCount = 0
				d.mu.Unlock()
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("engine web server not healthy after %s", healthProbeTimeout)
		}
		time.Sleep(healthProbeInterval)
	}
}

// RunIndex runs the indexer over mirrorRoot. Only one indexing job may run at
// a time; a request arriving while one runs is dropped (TriggerReindex
// coalesces retries).
func (d *Driver) RunIndex(mirrorRoot string) error {
	bin, err := d.findBinary(indexerBinary)
	if err != nil {
		return err
	}

	d.indexMu.Lock()
	if d.indexRunning {
		d.indexMu.Unlock()
		d.log.Debug().Msg("index job already running, dropping request")
		return nil
	}
	cmd := exec.Command(bin,
		"-index", d.opts.IndexDir,
		"-parallelism", fmt.Sprint(d.opts.Parallelism),
		"-file_limit", fmt.Sprint(d.opts.FileLimitBytes),
		mirrorRoot,
	)
	if err := cmd.Start(); err != nil {
		d.indexMu.Unlock()
		return fmt.Errorf("start %s: %w", indexerBinary, err)
	}
	d.indexRunning = true
	d.indexCmd = cmd
	d.indexMu.Unlock()

	started := time.Now()
	err = cmd.Wait()

	d.indexMu.Lock()
	d.indexRunning = false
	d.indexCmd = nil
	d.indexMu.Unlock()

	if err != nil {
		d.log.Warn().Err(err).Msg("index job failed")
		return err
	}
	d.log.Info().Dur("took", time.Since(started)).Msg("index job finished")
	return nil
}

// TriggerReindex coalesces repeated requests into a single delayed job.
func (d *Driver) TriggerReindex(mirrorRoot string) {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	d.pendingRoot = mirrorRoot
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
	}
	d.debounceTimer = time.AfterFunc(d.opts.ReindexDebounce, func() {
		d.debounceMu.Lock()
		root := d.pendingRoot
		d.debounceMu.Unlock()
		if root == "" {
			return
		}
		if err := d.RunIndex(root); err != nil {
			d.log.Warn().Err(err).Msg("debounced reindex failed")
		}
	})
}

// Shutdown disables restarts, cancels the debounce timer, and stops the
// indexer (SIGTERM, SIGKILL after 1 s) and the web server (2 s).
func (d *Driver) Shutdown() {
	d.mu.Lock()
	d.shuttingDown = true
	cmd := d.cmd
	d.mu.Unlock()

	d.debounceMu.Lock()
	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
		d.debounceTimer = nil
	}
	d.pendingRoot = ""
	d.debounceMu.Unlock()

	d.indexMu.Lock()
	indexCmd := d.indexCmd
	d.indexMu.Unlock()
	if indexCmd != nil {
		terminate(indexCmd, time.Second)
	}
	if cmd != nil {
		terminate(cmd, 2*time.Second)
	}
	d.healthy.Store(false)
}

// terminate sends SIGTERM and escalates to SIGKILL after the grace period.
func terminate(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		_ = cmd.Process.Kill()
	}
}
