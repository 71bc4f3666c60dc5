package cache

import (
	"context"
	"testing"
)

func TestLLMCache_SaveGet(t *testing.T) {
	tmp := t.TempDir()
	c := &LLMCache{Dir: tmp}
	key := KeyFrom("gpt-4o-mini", "triage-prompt")
	data := []byte(`{"categories":["zoning"],"relevance_score":0.8,"candidate_reason":"rezoning decision"}`)
	if err := c.Save(context.Background(), key, data); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := c.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if string(got) != string(data) {
		t.Fatalf("mismatch")
	}
}

func TestLLMCache_Delete(t *testing.T) {
	tmp := t.TempDir()
	c := &LLMCache{Dir: tmp}
	key := KeyFrom("gpt-4o-mini", "triage-prompt")
	if err := c.Save(context.Background(), key, []byte(`{"categories":[]}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), key); err != nil || ok {
		t.Fatalf("expected entry gone after delete, ok=%v err=%v", ok, err)
	}
	// Deleting an already-absent key is a no-op, not an error.
	if err := c.Delete(context.Background(), key); err != nil {
		t.Fatalf("delete of missing key: %v", err)
	}
}
