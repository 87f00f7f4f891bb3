package auth

import (
	"context"
	"testing"
	"time"
)

type channelSource struct {
	ch chan string
}

func (s *channelSource) Revocations(_ context.Context) <-chan string {
	return s.ch
}

func TestRevocationWatcherEvictsFromCache(t *testing.T) {
	cache := NewCredentialCache(10)
	now := time.Now()
	cache.Put("fp-1", &Claims{Subject: "user-1"}, time.Minute, now)
	cache.Put("fp-2", &Claims{Subject: "user-2"}, time.Minute, now)

	source := &channelSource{ch: make(chan string)}
	watcher := NewRevocationWatcher(source, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		watcher.Start(ctx)
		close(done)
	}()

	source.ch <- "fp-1"
	source.ch <- "" // ignored

	deadline := time.After(time.Second)
	for {
		if _, ok := cache.Get("fp-1", now); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("fp-1 still cached after revocation")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, ok := cache.Get("fp-2", now); !ok {
		t.Fatalf("fp-2 must survive, only fp-1 was revoked")
	}

	close(source.ch)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop on source close")
	}
}
