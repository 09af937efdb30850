package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Process is a started worker as the manager sees it: a command sink, an
// event source and an exit.
type Process interface {
	PID() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Wait() error
	Kill() error
}

type Spawner interface {
	Spawn(simulationID string) (Process, error)
}

// ProcessSpawner re-executes a binary as `<binary> worker --simulation-id <id>`.
// Worker logs go to the manager's stderr.
type ProcessSpawner struct {
	Binary string
	Args   []string
	Env    []string
	Stderr io.Writer
}

func (s ProcessSpawner) Spawn(simulationID string) (Process, error) {
	binary := s.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker binary: %w", err)
		}
		binary = exe
	}
	args := append([]string{}, s.Args...)
	args = append(args, "worker", "--simulation-id", simulationID)
	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &osProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type osProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
}

func (p *osProcess) PID() int              { return p.cmd.Process.Pid }
func (p *osProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *osProcess) Stdout() io.Reader     { return p.stdout }
func (p *osProcess) Wait() error           { return p.cmd.Wait() }

func (p *osProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// WorkerFunc runs one worker over the given control streams.
type WorkerFunc func(ctx context.Context, simulationID string, stdin io.Reader, stdout io.Writer) error

// PipeSpawner runs workers in-process over pipes, speaking the same
// protocol as child processes. Kill cancels the worker's context.
type PipeSpawner struct {
	Run WorkerFunc
}

func (s PipeSpawner) Spawn(simulationID string) (Process, error) {
	if s.Run == nil {
		return nil, errors.New("pipe spawner has no worker function")
	}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipeProcess{stdin: inW, stdout: outR, cancel: cancel, done: make(chan struct{})}
	go func() {
		err := s.Run(ctx, simulationID, inR, outW)
		_ = inR.Close()
		_ = outW.Close()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type pipeProcess struct {
	stdin  *io.PipeWriter
	stdout *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *pipeProcess) PID() int              { return os.Getpid() }
func (p *pipeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *pipeProcess) Stdout() io.Reader     { return p.stdout }

func (p *pipeProcess) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pipeProcess) Kill() error {
	p.cancel()
	_ = p.stdin.Close()
	return nil
}
