package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Process abstracts a spawned worker so tests can substitute a fake.
type Process interface {
	// Done is closed with the exit error (nil on clean exit) when the
	// process terminates.
	Done() <-chan error

	// Stdio is the duplex control stream bound to the worker's
	// stdin/stdout.
	Stdio() io.ReadWriteCloser

	// Terminate requests graceful shutdown.
	Terminate() error

	// Kill forcibly ends the process.
	Kill() error
}

// Spawner starts a worker process with the given command line and
// environment. Injected so supervisor tests run without real processes.
type Spawner func(command string, args []string, env []string) (Process, error)

// execProcess runs a worker via os/exec with stdio pipes.
type execProcess struct {
	cmd  *exec.Cmd
	io   io.ReadWriteCloser
	done chan error
}

// Spawn is the production Spawner.
func Spawn(command string, args []string, env []string) (Process, error) {
	cmd := exec.Command(command, args...) //nolint:gosec // G204: command comes from validated config
	cmd.Env = env
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	p := &execProcess{
		cmd:  cmd,
		io:   &stdioPair{r: stdout, w: stdin},
		done: make(chan error, 1),
	}
	go func() {
		p.done <- cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Done() <-chan error          { return p.done }
func (p *execProcess) Stdio() io.ReadWriteCloser   { return p.io }
func (p *execProcess) Terminate() error            { return p.cmd.Process.Signal(syscall.SIGTERM) }
func (p *execProcess) Kill() error                 { return p.cmd.Process.Kill() }

// stdioPair joins the worker's stdout (read side) and stdin (write side)
// into one duplex stream.
type stdioPair struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (s *stdioPair) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdioPair) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *stdioPair) Close() error {
	werr := s.w.Close()
	rerr := s.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// buildEnv filters the inherited environment down to the allowlisted
// variable names and appends the computed extras. Everything else,
// including secrets, is withheld from the worker.
func buildEnv(allowlist []string, extra map[string]string) []string {
	env := make([]string, 0, len(allowlist)+len(extra))
	for _, name := range allowlist {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
