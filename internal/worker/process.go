// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package worker

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
)

// request is one frame of the newline-delimited JSON protocol spoken
// over the worker's stdin.
type request struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// response is the worker's answer frame on stdout. Error is set when OK
// is false.
type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ManagedProcess is the live handle for one worker process. It is owned
// by exactly one registry slot; callers share the handle but never stop
// or restart the process themselves.
type ManagedProcess struct {
	kind      string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	startedAt time.Time
	logger    *slog.Logger

	// callMu serializes protocol exchanges: one in-flight request per
	// process, matching the single stdin/stdout stream.
	callMu sync.Mutex

	exited   atomic.Bool
	waitDone chan struct{}

	// drainOnce guarantees the stderr drain is cancelled exactly once.
	drainOnce sync.Once
	drainStop chan struct{}
}

// startProcess launches the worker command and its stderr drain. The
// caller (the registry) holds the creation lock.
func startProcess(spec KindSpec, logger *slog.Logger) (*ManagedProcess, error) {
	cmd := exec.Command(spec.Command, spec.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerStartFailure, "allocating stdin pipe",
			mnemoerr.FieldWorkerKind(spec.Kind))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerStartFailure, "allocating stdout pipe",
			mnemoerr.FieldWorkerKind(spec.Kind))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerStartFailure, "allocating stderr pipe",
			mnemoerr.FieldWorkerKind(spec.Kind))
	}

	if err := cmd.Start(); err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerStartFailure, "starting worker process",
			mnemoerr.FieldWorkerKind(spec.Kind))
	}

	p := &ManagedProcess{
		kind:      spec.Kind,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReader(stdout),
		startedAt: time.Now(),
		logger:    logger,
		waitDone:  make(chan struct{}),
		drainStop: make(chan struct{}),
	}

	go p.drainStderr(stderr)
	go func() {
		// Reap the child exactly once; the exited flag feeds the cheap
		// liveness probe.
		_ = cmd.Wait()
		p.exited.Store(true)
		close(p.waitDone)
	}()

	logger.Info("worker process started",
		"worker_kind", spec.Kind, "pid", cmd.Process.Pid)

	return p, nil
}

// Kind returns the worker type this handle serves.
func (p *ManagedProcess) Kind() string { return p.kind }

// PID returns the operating system process id.
func (p *ManagedProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns when the process was launched.
func (p *ManagedProcess) StartedAt() time.Time { return p.startedAt }

// Alive is the cheap, non-blocking liveness probe: a process-exists
// check, deliberately not a protocol round-trip, so acquisition stays
// fast. Signal 0 probes existence without delivering anything.
func (p *ManagedProcess) Alive() bool {
	if p.exited.Load() {
		return false
	}
	if p.cmd.Process == nil {
		return false
	}
	return unix.Kill(p.cmd.Process.Pid, 0) == nil
}

// Call performs one request/response exchange with the worker. The
// read is non-preemptible, so the caller must bound it with the guard;
// the registry's CallWorker does that and records the outcome on the
// per-kind breaker.
func (p *ManagedProcess) Call(op string, payload json.RawMessage) (json.RawMessage, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	req := request{ID: uuid.NewString(), Op: op, Payload: payload}
	frame, err := json.Marshal(req)
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerProtocolInvalid, "encoding request",
			mnemoerr.FieldWorkerKind(p.kind))
	}
	frame = append(frame, '\n')

	if _, err := p.stdin.Write(frame); err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerCallFailure, "writing request",
			mnemoerr.FieldWorkerKind(p.kind))
	}

	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerCallFailure, "reading response",
			mnemoerr.FieldWorkerKind(p.kind))
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, mnemoerr.Wrap(err, mnemoerr.CodeWorkerProtocolInvalid, "decoding response",
			mnemoerr.FieldWorkerKind(p.kind))
	}
	if resp.ID != req.ID {
		return nil, mnemoerr.Errorf(mnemoerr.CodeWorkerProtocolInvalid,
			"response id %q does not match request id %q", resp.ID, req.ID)
	}
	if !resp.OK {
		return nil, mnemoerr.New(mnemoerr.CodeWorkerCallFailure, resp.Error,
			mnemoerr.FieldWorkerKind(p.kind),
			mnemoerr.FieldOperation(op))
	}

	return resp.Result, nil
}

// Stop terminates the process: cancel the stderr drain, close stdin,
// send SIGTERM, wait up to grace, then SIGKILL. Safe to call more than
// once; only the owning registry does so.
func (p *ManagedProcess) Stop(grace time.Duration) {
	p.drainOnce.Do(func() { close(p.drainStop) })
	_ = p.stdin.Close()

	if p.cmd.Process == nil {
		return
	}

	if p.exited.Load() {
		return
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.waitDone:
		return
	case <-time.After(grace):
	}

	p.logger.Warn("worker did not exit within grace period, killing",
		"worker_kind", p.kind, "pid", p.PID())
	_ = p.cmd.Process.Kill()
	<-p.waitDone
}

// drainStderr forwards worker diagnostics line by line so the child can
// never block on a full stderr pipe.
func (p *ManagedProcess) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case <-p.drainStop:
			return
		default:
		}
		p.logger.Debug("worker stderr",
			"worker_kind", p.kind, "line", scanner.Text())
	}
}
