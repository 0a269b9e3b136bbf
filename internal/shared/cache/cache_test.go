package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := ConnectRedis(mr.Addr())
	if err != nil {
		t.Fatalf("ConnectRedis() = %v", err)
	}
	defer rdb.Close()

	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set() = %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("stored %q; want v", got)
	}
}

func TestConnectRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := ConnectRedis(addr); err == nil {
		t.Fatal("ConnectRedis() on a closed server = nil; want error")
	}
}
