package intelligence

import (
	"testing"
	"time"
)

func TestContextManagerGetCreatesSessionOnFirstAccess(t *testing.T) {
	m := NewContextManager(10, time.Hour)
	sc := m.Get("session-1")
	if sc == nil {
		t.Fatal("expected a non-nil session context")
	}
	if sc.Variables == nil {
		t.Fatal("expected an initialized variables map")
	}
}

func TestContextManagerRecordTruncatesAndBoundsFIFO(t *testing.T) {
	m := NewContextManager(2, time.Hour)
	m.Record("s1", "first", "summary one")
	m.Record("s1", "second", "summary two")
	m.Record("s1", "third", "summary three")

	sc := m.Get("s1")
	if len(sc.Interactions) != 2 {
		t.Fatalf("len(Interactions) = %d, want 2", len(sc.Interactions))
	}
	if sc.Interactions[0].UserText != "second" || sc.Interactions[1].UserText != "third" {
		t.Fatalf("unexpected FIFO contents: %+v", sc.Interactions)
	}
}

func TestContextManagerRecordExtractsQuotedPathAndURL(t *testing.T) {
	m := NewContextManager(10, time.Hour)
	m.Record("s1", `check "the config value" at /etc/app/config.yaml and https://example.com/docs`, "")

	sc := m.Get("s1")
	if sc.Variables["quoted_0"] != "the config value" {
		t.Fatalf("quoted_0 = %q, want %q", sc.Variables["quoted_0"], "the config value")
	}
	if sc.Variables["url_0"] != "https://example.com/docs" {
		t.Fatalf("url_0 = %q", sc.Variables["url_0"])
	}
	if sc.Variables["path_0"] == "" {
		t.Fatal("expected a path_0 variable to be extracted")
	}
}

func TestContextManagerEvictsSessionPastTTL(t *testing.T) {
	m := NewContextManager(10, 5*time.Millisecond)
	m.Record("s1", "hello", "hi")
	time.Sleep(15 * time.Millisecond)

	sc := m.Get("s1")
	if len(sc.Interactions) != 0 {
		t.Fatal("expected a fresh session context after TTL eviction")
	}
}

func TestContextManagerGetWithEmptySessionIDReturnsNil(t *testing.T) {
	m := NewContextManager(10, time.Hour)
	if m.Get("") != nil {
		t.Fatal("expected nil session context for an empty session id")
	}
}
