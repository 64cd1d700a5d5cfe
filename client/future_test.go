package client_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/client"
)

// captureExecutor holds tasks until run is called.
type captureExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (e *captureExecutor) Execute(task func()) error {
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
	return nil
}

func (e *captureExecutor) run() int {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

func TestFutureDeliversExactlyOnce(t *testing.T) {
	pool := client.NewWorkerPool(2)
	defer pool.Close()
	serial := client.NewSerialExecutor()
	defer serial.Close()

	var calls atomic.Int32
	fut := client.Submit(context.Background(), pool, serial, func(ctx context.Context) (int, error) {
		return 7, nil
	}, func(v int, err error) {
		calls.Add(1)
		if v != 7 || err != nil {
			t.Errorf("unexpected result %d %v", v, err)
		}
	})
	v, err := fut.Wait(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("wait: %d %v", v, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one handler call, got %d", calls.Load())
	}
	if !fut.IsFinished() || fut.IsCancelled() {
		t.Fatal("unexpected flags after delivery")
	}
	if fut.Cancel() {
		t.Fatal("cancel after delivery must report false")
	}
}

func TestFutureDeliversError(t *testing.T) {
	boom := errors.New("boom")
	fut := client.Submit(context.Background(), client.InlineExecutor, client.InlineExecutor, func(ctx context.Context) (string, error) {
		return "", boom
	}, nil)
	if _, err := fut.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestFutureCancelSuppressesHandler(t *testing.T) {
	started := make(chan struct{})
	workCtxDone := make(chan struct{})
	var calls atomic.Int32
	fut := client.Submit(context.Background(), client.GoExecutor, client.InlineExecutor, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		close(workCtxDone)
		return 0, ctx.Err()
	}, func(int, error) { calls.Add(1) })

	<-started
	if !fut.Cancel() {
		t.Fatal("expected cancel to win")
	}
	if fut.Cancel() {
		t.Fatal("second cancel must report false")
	}
	select {
	case <-workCtxDone:
	case <-time.After(time.Second):
		t.Fatal("work context was not cancelled")
	}
	if _, err := fut.Wait(context.Background()); !errors.Is(err, client.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("handler ran after cancellation")
	}
	if !fut.IsCancelled() || !fut.IsFinished() {
		t.Fatal("expected cancelled and finished")
	}
}

func TestFutureCancelBetweenCompletionAndDelivery(t *testing.T) {
	completion := &captureExecutor{}
	var calls atomic.Int32
	fut := client.Submit(context.Background(), client.InlineExecutor, completion, func(ctx context.Context) (int, error) {
		return 1, nil
	}, func(int, error) { calls.Add(1) })

	if !fut.IsFinished() {
		t.Fatal("work completed inline, future should be finished")
	}
	if !fut.Cancel() {
		t.Fatal("cancel before delivery should win")
	}
	if n := completion.run(); n != 1 {
		t.Fatalf("expected one queued delivery, got %d", n)
	}
	if calls.Load() != 0 {
		t.Fatal("handler must not run once cancelled")
	}
}

func TestSubmitOnClosedExecutorReportsError(t *testing.T) {
	pool := client.NewWorkerPool(1)
	pool.Close()
	var got error
	fut := client.Submit(context.Background(), pool, client.InlineExecutor, func(ctx context.Context) (int, error) {
		t.Error("work must not run")
		return 0, nil
	}, func(_ int, err error) { got = err })
	if _, err := fut.Wait(context.Background()); !errors.Is(err, client.ErrExecutorClosed) {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
	if !errors.Is(got, client.ErrExecutorClosed) {
		t.Fatalf("handler got %v", got)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	fut := client.Submit(context.Background(), client.GoExecutor, client.InlineExecutor, func(ctx context.Context) (int, error) {
		<-block
		return 0, nil
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := fut.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSerialExecutorPreservesOrder(t *testing.T) {
	serial := client.NewSerialExecutor()
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		if err := serial.Execute(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	serial.Close()
	if len(got) != 100 {
		t.Fatalf("expected queued tasks to drain on close, ran %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %d", i, v)
		}
	}
	if err := serial.Execute(func() {}); !errors.Is(err, client.ErrExecutorClosed) {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
}

func TestWorkerPoolRunsConcurrently(t *testing.T) {
	pool := client.NewWorkerPool(4)
	defer pool.Close()
	var running, peak atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		_ = pool.Execute(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
	}
	deadline := time.Now().Add(time.Second)
	for peak.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()
	if peak.Load() != 4 {
		t.Fatalf("expected 4 concurrent tasks, peak %d", peak.Load())
	}
}

func TestSearchAsyncDeliversOnCompletionExecutor(t *testing.T) {
	tr := newHostTransport()
	tr.handle("h1", respond(http.StatusOK, `{"hits":[],"nbHits":0,"query":"x"}`))
	completion := &captureExecutor{}
	cli := newTestClient(t, tr, client.WithHosts("h1"), client.WithCompletionExecutor(completion))

	var got *api.SearchResponse
	fut := cli.InitIndex("products").SearchAsync(context.Background(), client.NewQuery("x"), func(res *api.SearchResponse, err error) {
		if err != nil {
			t.Errorf("search: %v", err)
		}
		got = res
	})
	deadline := time.Now().Add(time.Second)
	for !fut.IsFinished() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got != nil {
		t.Fatal("handler ran before the completion executor did")
	}
	if completion.run() != 1 {
		t.Fatal("expected one delivery")
	}
	if got == nil || got.Query != "x" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestListIndexesAsyncCancelled(t *testing.T) {
	tr := newHostTransport()
	tr.handle("h1", hang())
	cli := newTestClient(t, tr, client.WithHosts("h1"))
	var calls atomic.Int32
	fut := cli.ListIndexesAsync(context.Background(), func(*api.ListIndexesResponse, error) { calls.Add(1) })
	deadline := time.Now().Add(time.Second)
	for len(tr.hosts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !fut.Cancel() {
		t.Fatal("expected cancel to succeed")
	}
	<-fut.Done()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatal("handler called after cancel")
	}
	if _, ok := cli.HostStatus("h1"); ok {
		t.Fatal("cancelled request must not mark the host")
	}
}
