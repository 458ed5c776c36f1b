package kv

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestParseURL(t *testing.T) {
	opts, err := ParseURL("redis://:pw@cache.local/3")
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	if opts.Addr != "cache.local:6379" || opts.Password != "pw" || opts.DB != 3 {
		t.Fatalf("unexpected options: addr=%s pass=%s db=%d", opts.Addr, opts.Password, opts.DB)
	}
	if _, err := ParseURL("http://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
	if _, err := ParseURL("redis://x/abc"); err == nil {
		t.Fatalf("expected db error")
	}
}

func TestOpenPingsServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	rdb, err := Open(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = rdb.Close()

	addr := mr.Addr()
	mr.Close()
	if _, err := Open(context.Background(), "redis://"+addr+"/0"); err == nil {
		t.Fatalf("expected ping failure on closed server")
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 30, 1, 500, time.FixedZone("x", 3600))
	got, err := ParseTime(FormatTime(now))
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("got %v want %v", got, now)
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs([]string{"3", "1", "2"})
	if err != nil || len(ids) != 3 || ids[0] != 3 || ids[2] != 2 {
		t.Fatalf("ParseIDs: %v %v", ids, err)
	}
	if _, err := ParseIDs([]string{"x"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
