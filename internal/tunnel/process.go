package tunnel

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/overseer/internal/constants"
)

// Process abstracts the managed cloudflared process so the monitor's state
// machine can be driven without spawning anything.
type Process interface {
	Start() error
	Signal(sig os.Signal) error
	Alive() bool
	// WaitExit blocks until the process exits or the timeout elapses,
	// reporting whether it exited in time.
	WaitExit(timeout time.Duration) bool
	Pid() int
}

// ExecProcess runs cloudflared via os/exec
type ExecProcess struct {
	command []string
	cmd     *exec.Cmd
	done    chan struct{}
}

// NewExecProcess creates a process around the given argv
func NewExecProcess(command []string) (*ExecProcess, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("tunnel command is empty")
	}
	return &ExecProcess{command: command}, nil
}

// Start launches the process
func (p *ExecProcess) Start() error {
	cmd := exec.Command(p.command[0], p.command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}

	p.cmd = cmd
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		cmd.Wait()
		close(done)
	}(p.done)
	return nil
}

// Signal forwards a signal to the process
func (p *ExecProcess) Signal(sig os.Signal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Signal(sig)
}

// Alive reports whether the PID still exists
func (p *ExecProcess) Alive() bool {
	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	exists, err := gopsprocess.PidExists(int32(p.cmd.Process.Pid))
	return err == nil && exists
}

// WaitExit blocks until exit or timeout
func (p *ExecProcess) WaitExit(timeout time.Duration) bool {
	if p.done == nil {
		return true
	}
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Pid returns the process id, 0 when not started
func (p *ExecProcess) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// stopGracefully sends SIGTERM, waits out the grace period, then SIGKILLs
func stopGracefully(p Process) {
	if p == nil || !p.Alive() {
		return
	}
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return
	}
	if !p.WaitExit(constants.TunnelStopGracePeriod) {
		p.Signal(syscall.SIGKILL)
	}
}

// httpPing answers whether the tunnel's local readiness endpoint responds.
// Bounded by the tick budget so a hung endpoint cannot stall the monitor.
func httpPing(url string) bool {
	client := &http.Client{Timeout: constants.HealthTickBudget}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
