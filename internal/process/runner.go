package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// ErrTimeout is returned when a process exceeds its caller-supplied timeout.
var ErrTimeout = errors.New("process timed out")

const (
	defaultGracePeriod = 3 * time.Second
	stderrTailLines    = 40
	maxLineBytes       = 256 * 1024
)

// Spec describes one external process invocation. OnLine receives every
// stdout and stderr line as it is produced; output is never buffered whole.
type Spec struct {
	Path        string
	Args        []string
	Timeout     time.Duration
	GracePeriod time.Duration
	OnLine      func(line string)
}

// Result captures the exit status and a bounded stderr tail of one run.
type Result struct {
	ExitCode   int
	StderrTail string
}

// StartError wraps an OS-level failure to launch the executable.
type StartError struct {
	Path string
	Err  error
}

// Error formats the spawn failure.
func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying error.
func (e *StartError) Unwrap() error {
	return e.Err
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner executes processes via os/exec, placing each child in its
// own process group so cancellation can reach the whole tree.
type ExecRunner struct{}

// NewRunner creates the production runner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run launches the process and streams its output line-by-line. The
// process tree is terminated on context cancellation or timeout, with a
// grace period between the termination signal and the forced kill. The
// child is reaped on every exit path.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	setSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &StartError{Path: spec.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &StartError{Path: spec.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return Result{}, &StartError{Path: spec.Path, Err: err}
	}

	var mu sync.Mutex
	tail := make([]string, 0, stderrTailLines)

	var wg sync.WaitGroup
	consume := func(reader io.Reader, keepTail bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		scanner.Split(scanLines)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			if keepTail && line != "" {
				if len(tail) == stderrTailLines {
					copy(tail, tail[1:])
					tail = tail[:stderrTailLines-1]
				}
				tail = append(tail, line)
			}
			if spec.OnLine != nil {
				spec.OnLine(line)
			}
			mu.Unlock()
		}
	}

	wg.Add(2)
	go consume(stdout, false)
	go consume(stderr, true)

	waitErr := make(chan error, 1)
	go func() {
		wg.Wait()
		waitErr <- cmd.Wait()
	}()

	grace := spec.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	snapshot := func(runErr error) Result {
		mu.Lock()
		defer mu.Unlock()
		return Result{
			ExitCode:   exitCode(runErr),
			StderrTail: joinTail(tail),
		}
	}

	select {
	case runErr := <-waitErr:
		return snapshot(runErr), runErr
	case <-ctx.Done():
		runErr := stopTree(cmd, grace, waitErr)
		return snapshot(runErr), ctx.Err()
	case <-timeoutCh:
		runErr := stopTree(cmd, grace, waitErr)
		return snapshot(runErr), ErrTimeout
	}
}

// stopTree signals the process group, escalates to a forced kill after
// the grace period, and waits for the child to be reaped.
func stopTree(cmd *exec.Cmd, grace time.Duration, waitErr <-chan error) error {
	terminateTree(cmd)
	select {
	case err := <-waitErr:
		return err
	case <-time.After(grace):
	}

	killTree(cmd)
	return <-waitErr
}

// exitCode maps a Wait error to a numeric exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// joinTail flattens the retained stderr lines into one bounded string.
func joinTail(tail []string) string {
	if len(tail) == 0 {
		return ""
	}
	var b bytes.Buffer
	for i, line := range tail {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// scanLines splits on both \n and \r so transcoder status updates that
// rewrite the same terminal line still arrive as separate lines.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if idx := bytes.IndexAny(data, "\r\n"); idx >= 0 {
		advance = idx + 1
		if data[idx] == '\r' && advance < len(data) && data[advance] == '\n' {
			advance++
		}
		return advance, data[:idx], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
