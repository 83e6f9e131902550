package plugin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	pkg "github.com/opentalon/aspri/pkg/plugin"
)

// Process manages the lifecycle of a plugin subprocess.
type Process struct {
	mu     sync.Mutex
	path   string
	args   []string
	logger *zap.Logger
	cmd    *exec.Cmd
	exited chan struct{}
}

func NewProcess(logger *zap.Logger, binaryPath string, args ...string) *Process {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Process{path: binaryPath, args: args, logger: logger}
}

// Start launches the plugin binary and reads its handshake line from
// stdout. The plugin must print "version|network|address\n" within timeout.
func (p *Process) Start(timeout time.Duration) (pkg.Handshake, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.CommandContext(context.Background(), p.path, p.args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return pkg.Handshake{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return pkg.Handshake{}, fmt.Errorf("start %s: %w", p.path, err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})
	exited := p.exited

	hsLine := make(chan string, 1)
	hsErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		if scanner.Scan() {
			hsLine <- strings.TrimSpace(scanner.Text())
		} else if err := scanner.Err(); err != nil {
			hsErr <- fmt.Errorf("reading handshake: %w", err)
		} else {
			hsErr <- fmt.Errorf("plugin closed stdout before handshake")
		}
		// Keep the pipe drained so the plugin never blocks on stdout.
		_, _ = io.Copy(io.Discard, stdout)
		_ = cmd.Wait()
		close(exited)
	}()

	select {
	case line := <-hsLine:
		hs, err := pkg.ParseHandshake(line)
		if err != nil {
			_ = cmd.Process.Kill()
			return pkg.Handshake{}, err
		}
		return hs, nil
	case err := <-hsErr:
		_ = cmd.Process.Kill()
		return pkg.Handshake{}, err
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		return pkg.Handshake{}, fmt.Errorf("handshake timeout after %s for %s", timeout, p.path)
	}
}

// Stop sends SIGINT and waits for the process to exit. If it doesn't
// exit within the grace period, it is killed.
func (p *Process) Stop(grace time.Duration) error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if !p.Running() {
		return nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		p.logger.Warn("plugin-process: interrupt failed, killing", zap.String("path", p.path), zap.Error(err))
		return cmd.Process.Kill()
	}

	select {
	case <-exited:
		return nil
	case <-time.After(grace):
		p.logger.Warn("plugin-process: did not exit, killing", zap.String("path", p.path), zap.Duration("grace", grace))
		if err := cmd.Process.Kill(); err != nil {
			return err
		}
		<-exited
		return nil
	}
}

// Running reports whether the process is still alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}
