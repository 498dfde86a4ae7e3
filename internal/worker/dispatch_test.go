package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestProc wires a Proc to an in-process jsonrpc2 server instead of
// a subprocess, so dispatch behavior is testable without re-exec.
func newTestProc(t *testing.T, version int64, handler jsonrpc2.Handler) *Proc {
	t.Helper()
	ctx := context.Background()
	serverSide, clientSide := net.Pipe()

	server := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.AsyncHandler(handler))
	t.Cleanup(func() { server.Close() })

	client := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}),
		jsonrpc2.AsyncHandler(noopHandler{}))
	t.Cleanup(func() { client.Close() })

	return &Proc{
		ID:               uuid.NewString(),
		Kind:             KindEval,
		WorkspaceVersion: version,
		conn:             client,
		gate:             NewFinishGate(),
		done:             make(chan struct{}),
	}
}

type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}

// echoHandler answers every request with its fixed payload after an
// optional delay.
type echoHandler struct {
	payload string
	delay   time.Duration
}

func (h echoHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		return
	}
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	_ = conn.Reply(ctx, req.ID, h.payload)
}

func TestAskWCCollectsAllReplies(t *testing.T) {
	pool := NewPool(4)
	pool.Push(newTestProc(t, 1, echoHandler{payload: "one"}))
	pool.Push(newTestProc(t, 2, echoHandler{payload: "two"}))
	pool.Push(newTestProc(t, 3, echoHandler{payload: "three"}))

	replies := AskWC[string](context.Background(), pool, "test/echo", nil, time.Second)
	require.Len(t, replies, 3)

	versions := map[int64]string{}
	for _, r := range replies {
		versions[r.WorkspaceVersion] = r.Value
	}
	assert.Equal(t, "three", versions[3])
}

func TestAskWCPartialOnBudget(t *testing.T) {
	pool := NewPool(4)
	pool.Push(newTestProc(t, 1, echoHandler{payload: "fast"}))
	pool.Push(newTestProc(t, 2, echoHandler{payload: "slow", delay: 500 * time.Millisecond}))

	replies := AskWC[string](context.Background(), pool, "test/echo", nil, 100*time.Millisecond)
	require.Len(t, replies, 1, "slow worker misses the budget")
	assert.Equal(t, "fast", replies[0].Value)
}

func TestAskWCEmptyPool(t *testing.T) {
	pool := NewPool(2)
	replies := AskWC[string](context.Background(), pool, "test/echo", nil, time.Second)
	assert.Empty(t, replies)
}

func TestLatestMatchOr(t *testing.T) {
	replies := []Reply[string]{
		{WorkspaceVersion: 1, Value: "v1"},
		{WorkspaceVersion: 3, Value: ""},
		{WorkspaceVersion: 2, Value: "v2"},
	}
	nonEmpty := func(s string) bool { return s != "" }

	// Freshness: the matching reply with the greatest version wins,
	// even when a fresher non-matching reply exists.
	got := LatestMatchOr(replies, nonEmpty, "default")
	assert.Equal(t, "v2", got)

	// No match falls back to the default.
	got = LatestMatchOr(replies, func(string) bool { return false }, "default")
	assert.Equal(t, "default", got)

	// Freshness invariant: the result's version is >= every other
	// matching reply's version.
	for _, r := range replies {
		if r.Value != "" {
			assert.GreaterOrEqual(t, int64(2), r.WorkspaceVersion)
		}
	}
}

func TestLatestMatchOrStableTies(t *testing.T) {
	replies := []Reply[string]{
		{WorkspaceVersion: 5, Value: "first"},
		{WorkspaceVersion: 5, Value: "second"},
	}
	any := func(string) bool { return true }
	first := LatestMatchOr(replies, any, "")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, LatestMatchOr(replies, any, ""))
	}
}

func TestPoolFIFOEviction(t *testing.T) {
	pool := NewPool(2)
	p1 := newTestProc(t, 1, noopHandler{})
	p2 := newTestProc(t, 2, noopHandler{})
	p3 := newTestProc(t, 3, noopHandler{})

	pool.Push(p1)
	pool.Push(p2)
	pool.Push(p3)

	snapshot := pool.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, p2.ID, snapshot[0].ID, "oldest worker is evicted first")
	assert.Equal(t, p3.ID, snapshot[1].ID)
}

func TestPoolWaitWorkerSuppressesEviction(t *testing.T) {
	pool := NewPool(1)
	pool.SetWaitWorker(true)
	pool.Push(newTestProc(t, 1, noopHandler{}))
	pool.Push(newTestProc(t, 2, noopHandler{}))
	assert.Equal(t, 2, pool.Len())
}

func TestFinishGate(t *testing.T) {
	gate := NewFinishGate()
	gate.Started()
	gate.Started()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, gate.Wait(ctx), "wait must block while workers are outstanding")

	gate.Finished()
	gate.Finished()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, gate.Wait(ctx2))
}

func TestEvalWorkerEndToEnd(t *testing.T) {
	// Drive the worker-side handler through a Proc, as the controller
	// would: bootstrap, then hover/definition/completion.
	r := &remote{kind: KindEval}
	proc := newTestProc(t, 7, r)

	ctx := context.Background()
	src := "let x = 1; in x"
	require.NoError(t, proc.conn.Notify(ctx, MethodBootstrap, BootstrapParams{
		WorkerMessage: WorkerMessage{WorkspaceVersion: 7},
		Drafts:        map[string]DraftSnapshot{"/a.nix": {Contents: src, Version: "1"}},
	}))

	params := protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: PathToURI("/a.nix")},
		Position:     protocol.Position{Line: 0, Character: 14},
	}

	var hover Hover
	require.Eventually(t, func() bool {
		return proc.Ask(ctx, MethodHover, params, &hover) == nil && !hover.Empty()
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, hover.Contents.Value, "`x`")

	var loc protocol.Location
	require.NoError(t, proc.Ask(ctx, MethodDefinition, params, &loc))
	assert.Equal(t, PathToURI("/a.nix"), loc.URI)
	assert.Equal(t, uint32(4), loc.Range.Start.Character)

	var list protocol.CompletionList
	require.NoError(t, proc.Ask(ctx, MethodCompletion, params, &list))
	require.NotEmpty(t, list.Items)
	assert.Equal(t, "x", list.Items[0].Label)
}
