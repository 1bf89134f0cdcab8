// Package launcher runs the native up4w peer host as a child process and
// reports the endpoints it listens on once it is ready.
package launcher

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/gezibash/up4w/internal/storage"
	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/logging"
)

const (
	// DefaultAppData is where the peer keeps its state unless configured.
	DefaultAppData = "~/.up4w/appdata"
	// DefaultHost is the address the peer API binds to.
	DefaultHost = "127.0.0.1"
	// DefaultReadyTimeout bounds the wait for the ready status line.
	DefaultReadyTimeout = 30 * time.Second
)

// ErrExited is returned when the peer process ends before reporting ready.
var ErrExited = errors.New("peer process exited")

// Endpoints are the API addresses of a ready peer.
type Endpoints struct {
	HTTP string `json:"http"`
	WS   string `json:"ws"`
}

// ReadyPayload is reported once the peer API is listening.
type ReadyPayload struct {
	AvailableEndpoint Endpoints `json:"availableEndpoint"`
}

// Status is one line the peer host writes to stdout.
type Status struct {
	Ret  *int   `json:"ret,omitempty"`
	Port int    `json:"port,omitempty"`
	Err  string `json:"err,omitempty"`
}

// Ready reports whether the line announces a listening API.
func (s Status) Ready() bool {
	return s.Port > 0 && s.Ret != nil && *s.Ret == 1
}

// Config describes how to start the peer host.
type Config struct {
	Command string
	Args    []string
	// AppData is passed as --appdata. It is created if missing.
	AppData      string
	Host         string
	Env          []string
	ReadyTimeout time.Duration
	// Stderr receives the process stderr. Nil discards it.
	Stderr io.Writer
	// OnStatus observes every decoded status line.
	OnStatus func(Status)
	Logger   *logging.Logger
}

// Process is a running peer host.
type Process struct {
	cmd   *exec.Cmd
	ready ReadyPayload
	log   *logging.Logger

	done    chan struct{}
	waitErr error

	mu      sync.Mutex
	lastErr string
}

// Launch starts the peer host and waits until it reports ready. Cancelling
// ctx kills the process at any time.
func Launch(ctx context.Context, cfg Config) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: launcher command is empty", errs.ErrConfiguration)
	}
	if cfg.AppData == "" {
		cfg.AppData = DefaultAppData
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(nil)
	}

	appdata := storage.ExpandPath(cfg.AppData)
	if err := os.MkdirAll(appdata, 0o700); err != nil {
		return nil, fmt.Errorf("create appdata %s: %w", appdata, err)
	}

	args := append(append([]string{}, cfg.Args...), "--appdata="+appdata)
	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = cfg.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}

	p := &Process{
		cmd:  cmd,
		log:  cfg.Logger.WithComponent("launcher"),
		done: make(chan struct{}),
	}
	p.log.Debug("peer started", "pid", cmd.Process.Pid, "appdata", appdata)

	readyCh := make(chan int, 1)
	go p.run(stdout, cfg.OnStatus, readyCh)

	timer := time.NewTimer(cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case port := <-readyCh:
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		p.ready = ReadyPayload{AvailableEndpoint: Endpoints{
			HTTP: "http://" + addr + "/cmd",
			WS:   "ws://" + addr + "/api",
		}}
		p.log.Info("peer ready", "http", p.ready.AvailableEndpoint.HTTP, "ws", p.ready.AvailableEndpoint.WS)
		return p, nil
	case <-p.done:
		return nil, p.exitError()
	case <-timer.C:
		_ = p.Stop()
		return nil, fmt.Errorf("wait for peer: %w", errs.ConnectionTimeout(cfg.ReadyTimeout))
	case <-ctx.Done():
		_ = p.Stop()
		return nil, fmt.Errorf("wait for peer: %w", ctx.Err())
	}
}

func (p *Process) run(stdout io.Reader, onStatus func(Status), readyCh chan<- int) {
	defer close(p.done)

	reported := false
	sc := bufio.NewScanner(stdout)
	for sc.Scan() {
		line := sc.Bytes()
		var st Status
		if err := json.Unmarshal(line, &st); err != nil {
			p.log.Debug("ignoring peer output", "line", logging.Truncate(string(line), 128))
			continue
		}
		if onStatus != nil {
			onStatus(st)
		}
		if st.Err != "" {
			p.mu.Lock()
			p.lastErr = st.Err
			p.mu.Unlock()
			p.log.Warn("peer reported error", "err", st.Err)
		}
		if st.Ready() && !reported {
			reported = true
			readyCh <- st.Port
		}
	}
	// Drain so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	p.waitErr = p.cmd.Wait()
	p.log.Debug("peer exited", "error", p.waitErr)
}

func (p *Process) exitError() error {
	p.mu.Lock()
	last := p.lastErr
	p.mu.Unlock()
	switch {
	case last != "":
		return fmt.Errorf("%w before ready: %s", ErrExited, last)
	case p.waitErr != nil:
		return fmt.Errorf("%w before ready: %w", ErrExited, p.waitErr)
	default:
		return fmt.Errorf("%w before ready", ErrExited)
	}
}

// Ready returns the endpoints reported at startup.
func (p *Process) Ready() ReadyPayload { return p.ready }

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Stop kills the process and waits for it to exit.
func (p *Process) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill peer: %w", err)
	}
	<-p.done
	return nil
}
