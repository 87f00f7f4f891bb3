package auth

import (
	"context"
	"log/slog"
)

// RevocationSource streams revoked token fingerprints. The Redis repo
// implements this over pub/sub; tests feed a plain channel.
type RevocationSource interface {
	Revocations(ctx context.Context) <-chan string
}

// RevocationWatcher consumes revoked fingerprints and evicts them from
// the credential cache immediately, so the validator re-verifies the
// token on next use instead of trusting a stale entry.
type RevocationWatcher struct {
	source RevocationSource
	cache  *CredentialCache
	logger *slog.Logger
}

func NewRevocationWatcher(source RevocationSource, cache *CredentialCache, logger *slog.Logger) *RevocationWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevocationWatcher{source: source, cache: cache, logger: logger}
}

// Start blocks consuming revocations until ctx is cancelled or the
// source closes. Run it in its own goroutine.
func (w *RevocationWatcher) Start(ctx context.Context) {
	ch := w.source.Revocations(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case fp, ok := <-ch:
			if !ok {
				return
			}
			if fp == "" {
				continue
			}
			w.cache.Evict(fp)
			w.logger.Info("revoked credential evicted", "fingerprint", fp)
		}
	}
}
