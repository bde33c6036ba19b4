package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// Process is a launched autoguider.
type Process interface {
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Stop asks the process to exit and kills it after grace.
	Stop(grace time.Duration) error
}

// Launcher starts the autoguider and clears out leftovers of earlier runs.
type Launcher interface {
	KillStale(ctx context.Context, name string) error
	Launch(ctx context.Context, path string, args []string) (Process, error)
}

// PTYLauncher runs the autoguider on a pseudo terminal and streams its output
// into the logger line by line.
type PTYLauncher struct {
	Logger *zap.Logger
	// Env is appended to the current environment.
	Env []string
}

var _ Launcher = (*PTYLauncher)(nil)

// KillStale runs pkill for name. No matching process is not an error.
func (l *PTYLauncher) KillStale(ctx context.Context, name string) error {
	err := exec.CommandContext(ctx, "pkill", "-x", name).Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pkill %s: %w", name, err)
	}

	l.logger().Info("Killed stale autoguider instances", zap.String("name", name))
	return nil
}

// Launch starts path on a new PTY.
func (l *PTYLauncher) Launch(_ context.Context, path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, l.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	p := &ptyProcess{
		cmd:    cmd,
		ptmx:   ptmx,
		logger: l.logger().With(zap.Int("pid", cmd.Process.Pid)),
		done:   make(chan struct{}),
	}
	go p.readOutput()
	go p.monitor()

	return p, nil
}

func (l *PTYLauncher) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

type ptyProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	logger *zap.Logger

	done     chan struct{}
	exitErr  error
	stopOnce sync.Once
}

func (p *ptyProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Done() <-chan struct{} {
	return p.done
}

func (p *ptyProcess) readOutput() {
	scanner := bufio.NewScanner(p.ptmx)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	for scanner.Scan() {
		p.logger.Info(scanner.Text())
	}
}

func (p *ptyProcess) monitor() {
	p.exitErr = p.cmd.Wait()
	p.ptmx.Close()
	close(p.done)

	if p.exitErr != nil {
		p.logger.Warn("Autoguider exited", zap.Error(p.exitErr))
	} else {
		p.logger.Info("Autoguider exited")
	}
}

func (p *ptyProcess) Stop(grace time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if sigErr := p.cmd.Process.Signal(syscall.SIGTERM); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
			err = fmt.Errorf("signal autoguider: %w", sigErr)
		}

		select {
		case <-p.done:
		case <-time.After(grace):
			p.logger.Warn("Autoguider ignored SIGTERM, killing", zap.Duration("grace", grace))
			if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = fmt.Errorf("kill autoguider: %w", killErr)
			}
			<-p.done
		}
	})
	return err
}
