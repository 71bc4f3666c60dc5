package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestHTTPCache_LRUEnforcement_Count(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	pages := []string{
		"https://www.utsjoki.fi/poytakirjat",
		"https://www.utsjoki.fi/poytakirjat?page=2",
		"https://www.utsjoki.fi/poytakirjat?page=3",
	}
	for i, u := range pages {
		if err := c.Save(context.Background(), u, "text/html", "", "", []byte(fmt.Sprintf("listing-page-%d", i))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Touch the second page so it's MRU relative to the first.
	if _, err := c.LoadBody(context.Background(), pages[1]); err != nil {
		t.Fatalf("touch body: %v", err)
	}
	removed, err := EnforceHTTPCacheLimits(dir, 0, 2)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := c.LoadBody(context.Background(), pages[0]); err == nil {
		t.Fatalf("expected the least-recently-used listing page to be evicted")
	}
}

func TestHTTPCache_LRUEnforcement_Bytes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	if err := c.Save(context.Background(), "https://www.utsjoki.fi/poytakirjat", "text/html", "", "", []byte("1111111111")); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := c.Save(context.Background(), "https://www.utsjoki.fi/poytakirjat?page=2", "text/html", "", "", []byte("22")); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	// A byte cap small enough that the oldest entry must be evicted to fit.
	removed, err := EnforceHTTPCacheLimits(dir, 5, 0)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if removed < 1 {
		t.Fatalf("expected at least 1 removal, got %d", removed)
	}
}
