package eclkernel

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pkt.systems/eclkernel/core"
	"pkt.systems/eclkernel/internal/kernelgrpc"
	"pkt.systems/eclkernel/internal/transcript"
	"pkt.systems/eclkernel/schema"
)

type fakeWorkunits struct {
	mu      sync.Mutex
	submits []core.SubmitRequest
	deletes int
}

func (f *fakeWorkunits) Submit(_ context.Context, req core.SubmitRequest) (core.Workunit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	return &fakeWorkunit{owner: f, id: schema.WorkunitID("W1")}, nil
}

func (f *fakeWorkunits) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits), f.deletes
}

type fakeWorkunit struct {
	owner *fakeWorkunits
	id    schema.WorkunitID
}

func (w *fakeWorkunit) ID() schema.WorkunitID { return w.id }
func (w *fakeWorkunit) State() schema.WorkunitState { return schema.WorkunitCompleted }
func (w *fakeWorkunit) Abort(context.Context) error { return nil }
func (w *fakeWorkunit) FetchResults(context.Context) ([]core.ResultSet, error) {
	return []core.ResultSet{fakeResult{}}, nil
}
func (w *fakeWorkunit) FetchExceptions(context.Context) ([]schema.ECLException, error) {
	return nil, nil
}
func (w *fakeWorkunit) WatchUntilComplete(_ context.Context, onState func(schema.WorkunitState)) (schema.WorkunitState, error) {
	if onState != nil {
		onState(schema.WorkunitCompleted)
	}
	return schema.WorkunitCompleted, nil
}
func (w *fakeWorkunit) Delete(context.Context) error {
	w.owner.mu.Lock()
	defer w.owner.mu.Unlock()
	w.owner.deletes++
	return nil
}

type fakeResult struct{}

func (fakeResult) Name() string { return "Result 1" }
func (fakeResult) FetchRows(context.Context) ([]any, error) { return []any{float64(2)}, nil }

func TestServerExecuteAndClientShutdown(t *testing.T) {
	dir := t.TempDir()
	socket := filepath.Join(dir, "kernel.sock")
	transcriptPath := filepath.Join(dir, "logs", "transcript.jsonl")
	startup := filepath.Join(dir, "startup.ecl")
	if err := os.WriteFile(startup, []byte("x := 1;"), 0o600); err != nil {
		t.Fatalf("write startup: %v", err)
	}
	workunits := &fakeWorkunits{}
	srv, err := New(ServerConfig{
		Kernel:         schema.KernelConfig{SessionID: "root-test", Cwd: dir, StartupScript: "startup.ecl"},
		Transport:      kernelgrpc.Config{Listen: "unix://" + socket},
		TranscriptPath: transcriptPath,
	}, ServerDeps{Workunits: workunits})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if submits, deletes := workunits.counts(); submits != 1 || deletes != 1 {
		t.Fatalf("expected startup workunit submitted and deleted, got %d/%d", submits, deletes)
	}
	waitForSocket(t, socket)

	client, err := kernelgrpc.Dial(ctx, socket)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()
	res, err := client.Execute(ctx, "OUTPUT(2);", kernelgrpc.ExecuteOptions{StoreHistory: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reply.Status != schema.ReplyOK || res.Reply.ExecutionCount != 1 {
		t.Fatalf("unexpected reply: %+v", res.Reply)
	}
	if _, err := client.Shutdown(ctx, false); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- srv.Wait() }()
	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after shutdown request")
	}

	file, err := os.Open(transcriptPath)
	if err != nil {
		t.Fatalf("open transcript: %v", err)
	}
	defer func() { _ = file.Close() }()
	reader := transcript.NewReader(file)
	seen := map[schema.MsgType]int{}
	for {
		entry, err := reader.Next()
		if err != nil {
			break
		}
		seen[entry.Message.Header.MsgType]++
	}
	if seen[schema.MsgExecuteRequest] != 1 || seen[schema.MsgExecuteReply] != 1 {
		t.Fatalf("expected execute request and reply in transcript, got %v", seen)
	}
}

func TestServerStartTwiceFails(t *testing.T) {
	srv, err := New(ServerConfig{Kernel: schema.KernelConfig{Cwd: t.TempDir()}}, ServerDeps{Workunits: &fakeWorkunits{}}, WithoutListener())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestServerMissingStartupScriptFails(t *testing.T) {
	srv, err := New(ServerConfig{
		Kernel: schema.KernelConfig{Cwd: t.TempDir(), StartupScript: "missing.ecl"},
	}, ServerDeps{Workunits: &fakeWorkunits{}}, WithoutListener())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected missing startup script to fail")
	}
}

func TestWaitBeforeStart(t *testing.T) {
	srv, err := New(ServerConfig{Kernel: schema.KernelConfig{Cwd: t.TempDir()}}, ServerDeps{Workunits: &fakeWorkunits{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Wait(); err == nil {
		t.Fatalf("expected wait before start to fail")
	}
}

func TestFanoutSinks(t *testing.T) {
	if fanoutSinks(nil, nil) != nil {
		t.Fatalf("expected nil fanout for nil sinks")
	}
	a, b := &countingSink{}, &countingSink{}
	if got := fanoutSinks(nil, a); got != a {
		t.Fatalf("expected single sink passthrough")
	}
	fanoutSinks(a, nil, b).OnMessage(schema.Message{})
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected both sinks called, got %d/%d", a.n, b.n)
	}
}

func TestNewRejectsBadWorkunitURL(t *testing.T) {
	_, err := New(ServerConfig{Kernel: schema.KernelConfig{Cwd: t.TempDir()}}, ServerDeps{})
	if err != nil {
		t.Fatalf("expected default workunit client, got %v", err)
	}
	cfg := ServerConfig{Kernel: schema.KernelConfig{Cwd: t.TempDir()}}
	cfg.Workunit.BaseURL = "ftp://example.com"
	if _, err := New(cfg, ServerDeps{}); err == nil {
		t.Fatalf("expected invalid base url to fail")
	}
}

type countingSink struct{ n int }

func (c *countingSink) OnMessage(schema.Message) { c.n++ }

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s not ready", path)
}
