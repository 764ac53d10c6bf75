package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestL1GetSetRoundTrip(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), 0)
	v, ok := c.Get(ctx, "k1")
	if !ok || string(v) != "v1" {
		t.Fatalf("expected hit with v1, got ok=%v v=%s", ok, v)
	}
}

func TestL1ExpiresByTTL(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestL2FallsThroughAndPromotes(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{L2Dir: dir})
	ctx := context.Background()

	if err := c.setL2("k1", []byte("v1"), 0); err != nil {
		t.Fatalf("setL2 failed: %v", err)
	}

	v, ok := c.Get(ctx, "k1")
	if !ok || string(v) != "v1" {
		t.Fatalf("expected L2 hit with v1, got ok=%v v=%s", ok, v)
	}

	if _, ok := c.getL1("k1", time.Now()); !ok {
		t.Fatal("expected L2 hit to promote into L1")
	}
}

func TestRemoteTierFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte("remote-value"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{RemoteURL: srv.URL, RemoteTimeoutMs: 1000})
	ctx := context.Background()

	v, ok := c.Get(ctx, "remote-key")
	if !ok || string(v) != "remote-value" {
		t.Fatalf("expected remote hit, got ok=%v v=%s", ok, v)
	}
}

func TestFillCoalescesConcurrentCalls(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	var calls int64
	fn := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("computed"), nil
	}

	done := make(chan []byte, 8)
	for i := 0; i < 8; i++ {
		go func() {
			v, err := c.Fill(ctx, "shared-key", time.Minute, fn)
			if err != nil {
				t.Error(err)
				return
			}
			done <- v
		}()
	}

	for i := 0; i < 8; i++ {
		<-done
	}

	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", calls)
	}
}

func TestFillReturnsErrorWithoutCaching(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()

	wantErr := context.DeadlineExceeded
	_, err := c.Fill(ctx, "bad-key", time.Minute, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if _, ok := c.Get(ctx, "bad-key"); ok {
		t.Fatal("expected failed fill not to be cached")
	}
}
