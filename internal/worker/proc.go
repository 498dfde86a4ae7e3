package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("nixls.worker")

// Callbacks receive worker→controller messages, dispatched by the
// input reader exactly as if they were incoming requests.
type Callbacks struct {
	OnDiagnostics func(DiagnosticsParams)
	OnFinished    func()
}

// Proc is one owned worker handle: the child process, the jsonrpc2
// conn over its stdio pipes, the workspace version snapshot it was
// spawned at, and the finish bookkeeping. Exactly one owner (the pool)
// is responsible for teardown.
type Proc struct {
	ID               string
	Kind             Kind
	Pid              int
	WorkspaceVersion int64

	conn      *jsonrpc2.Conn
	cmd       *exec.Cmd
	gate      *FinishGate
	finished  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// pipePair glues the child's stdout (reads) and stdin (writes) into
// one ReadWriteCloser for the jsonrpc2 stream.
type pipePair struct {
	io.ReadCloser
	io.WriteCloser
}

func (p pipePair) Close() error {
	werr := p.WriteCloser.Close()
	rerr := p.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Spawn re-executes the running binary as a worker subprocess, lays
// the IPC conn over its pipes, ships the bootstrap snapshot, and
// starts the input reader. The gate is acquired here and released when
// the worker reports finished — or at teardown, if it never does.
func Spawn(ctx context.Context, kind Kind, boot BootstrapParams, gate *FinishGate, cb Callbacks) (*Proc, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate own binary: %w", err)
	}
	cmd := exec.Command(self, "worker", "--kind", string(kind))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot create worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cannot create worker stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cannot start worker: %w", err)
	}

	proc := &Proc{
		ID:               uuid.NewString(),
		Kind:             kind,
		Pid:              cmd.Process.Pid,
		WorkspaceVersion: boot.WorkspaceVersion,
		cmd:              cmd,
		gate:             gate,
		done:             make(chan struct{}),
	}

	stream := jsonrpc2.NewBufferedStream(pipePair{stdout, stdin}, jsonrpc2.VSCodeObjectCodec{})
	handler := jsonrpc2.AsyncHandler(&inputReader{proc: proc, cb: cb})
	proc.conn = jsonrpc2.NewConn(ctx, stream, handler)

	gate.Started()
	go proc.reap()

	if err := proc.conn.Notify(ctx, MethodBootstrap, boot); err != nil {
		proc.Close()
		return nil, fmt.Errorf("cannot bootstrap worker %d: %w", proc.Pid, err)
	}
	log.Infof("spawned %s worker pid %d at version %d", kind, proc.Pid, boot.WorkspaceVersion)
	return proc, nil
}

// reap waits for the conn to disconnect (EOF after eviction, or child
// exit) and then collects the child.
func (p *Proc) reap() {
	<-p.conn.DisconnectNotify()
	p.settleGate()
	_ = p.cmd.Wait()
	close(p.done)
	log.Debugf("reaped worker pid %d", p.Pid)
}

func (p *Proc) settleGate() {
	if !p.finished.Swap(true) {
		p.gate.Finished()
	}
}

func (p *Proc) markFinished() {
	if !p.finished.Swap(true) {
		p.gate.Finished()
	}
}

// Ask sends one request and decodes the reply. The context carries the
// caller's deadline; a late reply is simply discarded by jsonrpc2.
func (p *Proc) Ask(ctx context.Context, method string, params, result any) error {
	return p.conn.Call(ctx, method, params, result)
}

// Close tears the worker down: the pipes close, the worker observes
// EOF and exits, and the reap goroutine collects it.
func (p *Proc) Close() {
	p.closeOnce.Do(func() {
		_ = p.conn.Close()
	})
}

// Done is closed once the child has been reaped.
func (p *Proc) Done() <-chan struct{} { return p.done }

// inputReader dispatches worker→controller messages to the
// controller's callbacks.
type inputReader struct {
	proc *Proc
	cb   Callbacks
}

func (r *inputReader) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	switch req.Method {
	case MethodDiagnostic:
		if req.Params == nil || r.cb.OnDiagnostics == nil {
			return
		}
		var diag DiagnosticsParams
		if err := json.Unmarshal(*req.Params, &diag); err != nil {
			log.Errorf("bad diagnostics from worker %d: %s", r.proc.Pid, err.Error())
			return
		}
		r.cb.OnDiagnostics(diag)
	case MethodFinished:
		r.proc.markFinished()
		if r.cb.OnFinished != nil {
			r.cb.OnFinished()
		}
	default:
		log.Debugf("ignoring %s from worker %d", req.Method, r.proc.Pid)
	}
}
