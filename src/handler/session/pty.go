//go:build !windows

package session

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// ptyReadRetry is the backoff between empty PTY reads while the child is
// still alive.
const ptyReadRetry = 50 * time.Millisecond

// PTYBackend runs children under a pseudo-terminal. The terminal is a single
// bidirectional byte stream; echo and line discipline come from the PTY
// layer, so a submitted carriage return is forwarded as-is.
type PTYBackend struct{}

// NewPTYBackend creates the PTY back-end.
func NewPTYBackend() (Backend, error) {
	return &PTYBackend{}, nil
}

func (b *PTYBackend) Spawn(command []string, cwd string, env []string) (Child, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = append(append([]string{}, env...), "TERM=xterm-256color")

	// Process group for clean termination (Linux only). On macOS, Setpgid
	// can fail with "operation not permitted" in sandboxed environments.
	usePgrp := runtime.GOOS == "linux"
	if usePgrp {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	child := &ptyChild{
		ptmx:    ptmx,
		cmd:     cmd,
		usePgrp: usePgrp,
		done:    make(chan struct{}),
	}
	go child.reap()
	return child, nil
}

type ptyChild struct {
	ptmx    *os.File
	cmd     *exec.Cmd
	usePgrp bool

	done chan struct{}
	exit int

	closeOnce  sync.Once
	termMu     sync.Mutex
	terminated bool
}

func (c *ptyChild) reap() {
	err := c.cmd.Wait()
	c.exit = exitCodeFromWait(err)
	close(c.done)
}

// closeMaster releases the PTY master once the stream has been drained.
// Closing it any earlier would discard output still buffered in the kernel.
func (c *ptyChild) closeMaster() {
	c.closeOnce.Do(func() {
		_ = c.ptmx.Close()
	})
}

func (c *ptyChild) Streams() []io.Reader {
	return []io.Reader{&ptyStream{child: c}}
}

func (c *ptyChild) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	_, _ = c.ptmx.Write(p)
}

func (c *ptyChild) NewlineSequence() []byte {
	return []byte("\r")
}

func (c *ptyChild) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *ptyChild) Wait() int {
	<-c.done
	return c.exit
}

func (c *ptyChild) Terminate(grace time.Duration) {
	c.termMu.Lock()
	if c.terminated {
		c.termMu.Unlock()
		<-c.done
		return
	}
	c.terminated = true
	c.termMu.Unlock()

	if !c.Alive() {
		return
	}
	c.signal(syscall.SIGTERM)
	select {
	case <-c.done:
	case <-time.After(grace):
		c.signal(syscall.SIGKILL)
		<-c.done
	}
	c.closeMaster()
}

// signal delivers sig to the child, or to its whole process group when one
// was created, so shells take their descendants with them.
func (c *ptyChild) signal(sig syscall.Signal) {
	if c.cmd.Process == nil {
		return
	}
	pid := c.cmd.Process.Pid
	if c.usePgrp {
		_ = syscall.Kill(-pid, sig)
		return
	}
	_ = c.cmd.Process.Signal(sig)
}

// ptyStream reads the PTY master, retrying empty reads while the child is
// alive: the master can report EIO transiently while slave descriptors are
// handed between processes.
type ptyStream struct {
	child *ptyChild
}

func (s *ptyStream) Read(p []byte) (int, error) {
	for {
		n, err := s.child.ptmx.Read(p)
		if n > 0 {
			return n, nil
		}
		if !s.child.Alive() {
			s.child.closeMaster()
			return 0, io.EOF
		}
		if err != nil || n == 0 {
			time.Sleep(ptyReadRetry)
		}
	}
}
