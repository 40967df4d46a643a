package intelligence

import "testing"

func TestClassificationCachePutThenGetRoundTrips(t *testing.T) {
	c := NewClassificationCache()
	classification := Classification{PrimaryCategory: DomainCode, Confidence: 0.9}

	c.Put("write some code", DomainGeneral, classification)
	got, ok := c.Get("write some code", DomainGeneral)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.PrimaryCategory != DomainCode {
		t.Fatalf("PrimaryCategory = %v, want code", got.PrimaryCategory)
	}
}

func TestClassificationCacheMissOnDifferentDomain(t *testing.T) {
	c := NewClassificationCache()
	c.Put("write some code", DomainGeneral, Classification{PrimaryCategory: DomainCode})

	if _, ok := c.Get("write some code", DomainCloud); ok {
		t.Fatal("expected a cache miss for a different domain key component")
	}
}

func TestClassificationCacheKeyTruncatesTo100Chars(t *testing.T) {
	c := NewClassificationCache()
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	c.Put(long, DomainGeneral, Classification{PrimaryCategory: DomainCode})

	shorterButSamePrefix := long[:150]
	_, ok := c.Get(shorterButSamePrefix, DomainGeneral)
	if !ok {
		t.Fatal("expected content sharing the first 100 chars to hit the same cache entry")
	}
}

func TestClassificationCacheMissWhenNeverPut(t *testing.T) {
	c := NewClassificationCache()
	if _, ok := c.Get("never cached", DomainGeneral); ok {
		t.Fatal("expected a cache miss")
	}
}
