package limiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeExec struct {
	result []interface{}
	err    error
	keys   []string
	args   []interface{}
}

func (f *fakeExec) KeyBucketTokens(bucket, key string) string {
	return "gw:tb:{" + bucket + ":" + key + "}:tok"
}

func (f *fakeExec) KeyBucketStamp(bucket, key string) string {
	return "gw:tb:{" + bucket + ":" + key + "}:ts"
}

func (f *fakeExec) Eval(ctx context.Context, script string, keys []string, args ...interface{}) ([]interface{}, error) {
	f.keys = keys
	f.args = args
	return f.result, f.err
}

func TestDistributedAllow(t *testing.T) {
	exec := &fakeExec{
		result: []interface{}{int64(1), int64(9), int64(0)},
	}
	d := NewDistributed(exec)

	key := Key{Bucket: "default", Strategy: StrategyUser, Value: "u1"}
	dec, err := d.Allow(context.Background(), key, 10, 10, 1, time.UnixMilli(100))
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !dec.Allowed || dec.Remaining != 9 {
		t.Fatalf("unexpected decision: %#v", dec)
	}
	if len(exec.keys) != 2 {
		t.Fatalf("expected token and stamp keys, got %#v", exec.keys)
	}
	if len(exec.args) != 5 {
		t.Fatalf("unexpected args: %#v", exec.args)
	}
}

func TestDistributedRateLimited(t *testing.T) {
	exec := &fakeExec{
		result: []interface{}{int64(0), int64(0), int64(2000)},
	}
	d := NewDistributed(exec)

	key := Key{Bucket: "default", Strategy: StrategyIP, Value: "10.0.0.1"}
	dec, err := d.Allow(context.Background(), key, 1, 1, 1, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("should be rejected: %#v", dec)
	}
	if dec.RetryAfter != 2*time.Second {
		t.Fatalf("retryAfter = %v, want 2s", dec.RetryAfter)
	}
}

func TestDistributedStoreError(t *testing.T) {
	exec := &fakeExec{err: errors.New("boom")}
	d := NewDistributed(exec)

	key := Key{Bucket: "default", Strategy: StrategyIP, Value: "10.0.0.1"}
	if _, err := d.Allow(context.Background(), key, 1, 1, 1, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDistributedInvalidResponse(t *testing.T) {
	exec := &fakeExec{
		result: []interface{}{struct{}{}, int64(1), int64(0)},
	}
	d := NewDistributed(exec)

	key := Key{Bucket: "default", Strategy: StrategyIP, Value: "10.0.0.1"}
	if _, err := d.Allow(context.Background(), key, 1, 1, 1, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDistributedEmptyKey(t *testing.T) {
	d := NewDistributed(&fakeExec{})
	if _, err := d.Allow(context.Background(), Key{Bucket: "default"}, 1, 1, 1, time.Now()); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
