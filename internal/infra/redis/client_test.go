package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewFromRedis(rdb)
}

func TestInconclusiveLog_RecordAndRead(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	log := NewInconclusiveLog(client, "run-1", 0)

	for _, c := range []domain.Candidate{42, 7, 1234} {
		if err := log.Record(ctx, c, "unknown response"); err != nil {
			t.Fatalf("record %s: %v", c, err)
		}
	}

	got, err := client.Inconclusive(ctx, "run-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []domain.Candidate{7, 42, 1234}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}

	reason, err := client.Reason(ctx, "run-1", 42)
	if err != nil || reason != "unknown response" {
		t.Errorf("reason = %q, %v", reason, err)
	}
}

func TestInconclusiveLog_RunsAreIsolated(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()

	_ = NewInconclusiveLog(client, "a", 0).Record(ctx, 1, "x")
	_ = NewInconclusiveLog(client, "b", 0).Record(ctx, 2, "y")

	got, err := client.Inconclusive(ctx, "a")
	if err != nil || len(got) != 1 || got[0] != 1 {
		t.Errorf("run a = %v, %v", got, err)
	}

	if err := client.ClearInconclusive(ctx, "a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got, _ := client.Inconclusive(ctx, "a"); len(got) != 0 {
		t.Errorf("expected cleared log, got %v", got)
	}
}

func TestInconclusiveLog_TTL(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()

	if err := NewInconclusiveLog(client, "ttl", time.Minute).Record(ctx, 5, "retry cap"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ttl := mr.TTL(inconclusiveKey("ttl")); ttl != time.Minute {
		t.Errorf("ttl = %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if got, _ := client.Inconclusive(ctx, "ttl"); len(got) != 0 {
		t.Errorf("expected expiry, got %v", got)
	}
}
