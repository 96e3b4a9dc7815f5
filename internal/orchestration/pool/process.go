package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/transport"
)

// CommandFactoryFunc builds the exec.Cmd for a rank. Tests use it to re-exec
// the test binary.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// WorkerCommand is the hidden subcommand a subprocess rank runs.
const WorkerCommand = "worker"

// spawnProcess starts a child for w and returns the coordinator's end of its
// stdio link.
func (p *Pool) spawnProcess(w *Worker) (transport.Link, error) {
	exe := p.cfg.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		exe = self
	}
	args := p.cfg.Args
	if len(args) == 0 {
		args = []string{WorkerCommand}
	}
	args = append(append([]string{}, args...), "--rank", strconv.Itoa(w.Rank))

	var cmd *exec.Cmd
	if p.cfg.CommandFactory != nil {
		cmd = p.cfg.CommandFactory(p.ctx, exe, args...)
	} else {
		// #nosec G204 -- the executable is this binary or an explicit override
		cmd = exec.CommandContext(p.ctx, exe, args...)
	}
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("start %s: %w", exe, err)
	}
	w.setPID(cmd.Process.Pid)

	stream := transport.NewStream(stdout, stdin)
	stderrDone := make(chan struct{})

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		defer close(stderrDone)
		p.relayStderr(w, stderr)
	}()
	go func() {
		defer p.wg.Done()
		// Reaping closes the pipes, so wait for both readers first.
		<-stream.ReadDone()
		<-stderrDone
		if err := cmd.Wait(); err != nil && !w.Status().IsTerminal() {
			tail := strings.Join(w.Output.LastN(5), "; ")
			p.fail(w, fmt.Errorf("rank %d exited: %w (stderr: %s)", w.Rank, err, tail))
		}
		log.Debug(log.CatPool, "Rank process exited", "rank", w.Rank, "pid", w.PID(), "status", w.Status().String())
	}()

	return stream, nil
}

// relayStderr copies a child's stderr into its output buffer and the log.
func (p *Pool) relayStderr(w *Worker, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		w.Output.Write(line)
		log.Relay(line)
		p.bus.Publish(events.Updated, events.WorkerEvent{
			Type:   events.WorkerOutput,
			Rank:   w.Rank,
			Status: w.Status(),
			Output: line,
		})
	}
}
