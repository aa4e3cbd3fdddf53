package figures

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"figureworks/internal/adapter/memory"
	"figureworks/internal/imagegen"
	"figureworks/internal/queue"
	"figureworks/internal/storage"
)

const (
	testOwner     = "user-1"
	testWorkerURL = "https://api.example.com/v1/figures/worker"
	testSourceKey = testOwner + "/uploads/photo.png"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int32
	requests []imagegen.Request
	fn       func(ctx context.Context, req imagegen.Request) (imagegen.Result, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req imagegen.Request) (imagegen.Result, error) {
	atomic.AddInt32(&g.calls, 1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	fn := g.fn
	g.mu.Unlock()
	if fn == nil {
		return imagegen.Result{Data: []byte("figure-bytes"), MIMEType: "image/png"}, nil
	}
	return fn(ctx, req)
}

func (g *fakeGenerator) Calls() int { return int(atomic.LoadInt32(&g.calls)) }

type harness struct {
	svc        *Service
	worker     *Worker
	figures    *memory.FigureStore
	ledger     *memory.Ledger
	dispatcher *queue.MemoryDispatcher
	blobs      *storage.FileStore
	gen        *fakeGenerator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	blobs, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/v1/blobs", "blob-secret")
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if err := blobs.Put(context.Background(), testSourceKey, []byte("source-photo"), "image/png"); err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	h := &harness{
		figures:    memory.NewFigureStore(),
		ledger:     memory.NewLedger(),
		dispatcher: queue.NewMemoryDispatcher(),
		blobs:      blobs,
		gen:        &fakeGenerator{},
	}
	h.svc = NewService(h.figures, h.ledger, h.dispatcher, h.blobs, Config{
		WorkerURL:      testWorkerURL,
		DefaultCredits: 2,
		CostCents:      199,
		SignedURLTTL:   time.Hour,
		AllowedHosts:   []string{"localhost", "cdn.example.com"},
	}, zerolog.Nop())
	h.worker = NewWorker(h.figures, h.blobs, h.gen, WorkerConfig{GenerationTimeout: 2 * time.Second}, zerolog.Nop())
	return h
}

func removeBlob(s *storage.FileStore, key string) error {
	return os.Remove(filepath.Join(s.BasePath(), filepath.FromSlash(key)))
}
