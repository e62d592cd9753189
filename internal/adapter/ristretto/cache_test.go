package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCacheSetGetDelete(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "0:/p/a.nim", []byte("/p/a.nim"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, "0:/p/a.nim")
	if err != nil || !ok || string(v) != "/p/a.nim" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	if err := c.Delete(ctx, "0:/p/a.nim"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "0:/p/a.nim"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestCacheTTL(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
}
