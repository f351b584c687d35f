package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/internal/wire"
	"github.com/relab/safetyrules/logging"
	"github.com/relab/safetyrules/serializer"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default time to wait for a response from the child process.
	DefaultTimeout = 5 * time.Second
	// DefaultRestartInterval is the default minimum time between restarts of the child process.
	DefaultRestartInterval = time.Second

	handshakeBackoff = 50 * time.Millisecond
	handshakeRetries = 2
	shutdownGrace    = 2 * time.Second
)

// ProcessOptions configures a SpawnedProcess.
type ProcessOptions struct {
	// Executable is the program to run. It defaults to the running executable.
	Executable string
	// Args are passed to the executable before the process subcommand.
	Args []string
	// ConfigPath is the configuration file of the child.
	ConfigPath string
	// Timeout bounds every request, including the handshake after a restart.
	Timeout time.Duration
	// RestartInterval is the minimum time between restarts.
	RestartInterval time.Duration
	Logger          logging.Logger
}

// SpawnedProcess runs the engine in a child process and talks to it over the child's stdin and stdout.
//
// If the child dies or does not answer a request in time, the request fails with
// safetyrules.ErrTransport and the child is killed. The request is not retried.
// The next request starts a new child, which must answer a ConsensusState request
// before it is sent anything else.
type SpawnedProcess struct {
	mut     sync.Mutex
	opts    ProcessOptions
	logger  logging.Logger
	limiter *rate.Limiter
	child   *child
	closed  bool

	// the last accepted Initialize request, replayed to a restarted child
	initRequest []byte
}

var _ serializer.Transport = (*SpawnedProcess)(nil)

// StartSpawnedProcess starts the child process and waits for it to answer.
func StartSpawnedProcess(opts ProcessOptions) (*SpawnedProcess, error) {
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get executable path: %v", safetyrules.ErrConfiguration, err)
		}
		opts.Executable = exe
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RestartInterval <= 0 {
		opts.RestartInterval = DefaultRestartInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("process")
	}

	p := &SpawnedProcess{
		opts:    opts,
		logger:  opts.Logger,
		limiter: rate.NewLimiter(rate.Every(opts.RestartInterval), 1),
	}
	p.mut.Lock()
	defer p.mut.Unlock()
	if err := p.restart(); err != nil {
		return nil, err
	}
	return p, nil
}

// Request implements serializer.Transport.
func (p *SpawnedProcess) Request(req []byte) ([]byte, error) {
	p.mut.Lock()
	defer p.mut.Unlock()

	if p.closed {
		return nil, fmt.Errorf("%w: safety rules process is closed", safetyrules.ErrTransport)
	}
	if p.child == nil || !p.child.alive.Load() {
		if p.child != nil {
			p.logger.Warnf("safety rules process %d exited: %v", p.child.pid(), p.child.err)
			p.child.close()
			p.child = nil
		}
		if err := p.restart(); err != nil {
			return nil, err
		}
	}

	res, err := p.child.roundTrip(req, p.opts.Timeout)
	if err != nil {
		p.logger.Errorf("request to safety rules process %d failed: %v", p.child.pid(), err)
		p.child.kill()
		p.child = nil
		return nil, err
	}
	p.remember(req, res)
	return res, nil
}

// Close stops the child process. The child gets the chance to exit on its own before it is killed.
func (p *SpawnedProcess) Close() error {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.child == nil {
		return nil
	}
	err := p.child.stop()
	p.child = nil
	return err
}

func (p *SpawnedProcess) remember(req, res []byte) {
	method, _, err := wire.DecodeRequest(req)
	if err != nil || method != wire.MethodInitialize {
		return
	}
	if _, err := wire.DecodeResult(res); err == nil {
		p.initRequest = append([]byte(nil), req...)
	}
}

func (p *SpawnedProcess) restart() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: restart of safety rules process is rate limited: %v", safetyrules.ErrTransport, err)
	}

	backoff := retry.WithMaxRetries(handshakeRetries, retry.NewExponential(handshakeBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := p.spawn()
		if err != nil {
			return err
		}
		if err := p.handshake(c); err != nil {
			p.logger.Warnf("handshake with safety rules process %d failed: %v", c.pid(), err)
			c.kill()
			return retry.RetryableError(err)
		}
		p.child = c
		return nil
	})
	if err != nil {
		if errors.Is(err, safetyrules.ErrConfiguration) {
			return err
		}
		return fmt.Errorf("%w: failed to start safety rules process: %v", safetyrules.ErrTransport, err)
	}
	return nil
}

// handshake reads the consensus state of a new child. A child that lost its
// initialization gets the last accepted Initialize request again.
func (p *SpawnedProcess) handshake(c *child) error {
	cs, err := p.consensusState(c)
	if err != nil {
		return err
	}
	if !cs.Initialized && p.initRequest != nil {
		res, err := c.roundTrip(p.initRequest, p.opts.Timeout)
		if err != nil {
			return err
		}
		if _, err := wire.DecodeResult(res); err != nil {
			if wire.IsMalformed(err) {
				return err
			}
			// consensus initializes the engine again when it sees ErrNotInitialized
			p.logger.Warnf("safety rules process %d rejected the last Initialize request: %v", c.pid(), err)
		}
		if cs, err = p.consensusState(c); err != nil {
			return err
		}
	}
	p.logger.Infof("safety rules process %d is ready: %v", c.pid(), cs)
	return nil
}

func (p *SpawnedProcess) consensusState(c *child) (*safetyrules.ConsensusState, error) {
	res, err := c.roundTrip(wire.EncodeRequest(wire.MethodConsensusState, nil), p.opts.Timeout)
	if err != nil {
		return nil, err
	}
	payload, err := wire.DecodeResult(res)
	if err != nil {
		return nil, err
	}
	return wire.UnmarshalConsensusState(payload)
}

func (p *SpawnedProcess) spawn() (c *child, err error) {
	args := make([]string, 0, len(p.opts.Args)+3)
	args = append(args, p.opts.Args...)
	args = append(args, "process", "--config", p.opts.ConfigPath)
	cmd := exec.Command(p.opts.Executable, args...)

	var pipes []io.Closer
	pipe := func() (r, w *os.File) {
		if err != nil {
			return nil, nil
		}
		r, w, err = os.Pipe()
		if err == nil {
			pipes = append(pipes, r, w)
		}
		return r, w
	}
	stdinR, stdinW := pipe()
	stdoutR, stdoutW := pipe()
	stderrR, stderrW := pipe()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create pipes: %w", err), closeAll(pipes...))
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdinR, stdoutW, stderrW

	if err := cmd.Start(); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("%w: failed to start %s: %v", safetyrules.ErrConfiguration, p.opts.Executable, err),
			closeAll(pipes...),
		)
	}
	// the child holds its own copies of these
	if err := closeAll(stdinR, stdoutW, stderrW); err != nil {
		p.logger.Warnf("failed to close child ends of pipes: %v", err)
	}

	c = &child{
		cmd:       cmd,
		stdin:     stdinW,
		stdout:    stdoutR,
		transport: NewStreamTransport(stdinW, stdoutR),
		exited:    make(chan struct{}),
	}
	c.alive.Store(true)
	go forward(stderrR, p.logger, cmd.Process.Pid)
	go func() {
		c.err = cmd.Wait()
		c.alive.Store(false)
		close(c.exited)
	}()
	return c, nil
}

// forward writes the lines of the child's stderr to the logger.
func forward(r io.ReadCloser, logger logging.Logger, pid int) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Infof("[%d] %s", pid, scanner.Text())
	}
}

func closeAll(closers ...io.Closer) (err error) {
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

type child struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	transport *StreamTransport
	alive     atomic.Bool
	exited    chan struct{}
	err       error // set when exited is closed
}

func (c *child) pid() int {
	return c.cmd.Process.Pid
}

func (c *child) roundTrip(req []byte, timeout time.Duration) ([]byte, error) {
	type result struct {
		res []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := c.transport.Request(req)
		done <- result{res, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.res, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response from safety rules process within %v", safetyrules.ErrTransport, timeout)
	}
}

// close releases the parent ends of the pipes. A pending roundTrip fails.
func (c *child) close() error {
	return closeAll(c.stdin, c.stdout)
}

func (c *child) kill() {
	if c.alive.Load() {
		_ = c.cmd.Process.Kill()
	}
	<-c.exited
	_ = c.close()
}

// stop closes the child's stdin, which makes it exit, and kills it if it has not exited after a grace period.
func (c *child) stop() error {
	err := c.stdin.Close()
	select {
	case <-c.exited:
	case <-time.After(shutdownGrace):
		_ = c.cmd.Process.Kill()
		<-c.exited
	}
	return multierr.Append(err, c.stdout.Close())
}
