package resolver

import (
	"testing"

	"github.com/devicelab-dev/devicepool/pkg/locator"
)

func TestHintCachePutGet(t *testing.T) {
	c := newHintCache(4)

	if _, ok := c.Get("android/pixel-7", "login/submit"); ok {
		t.Error("Get() on empty cache = true, want false")
	}

	c.Put("android/pixel-7", "login/submit", locator.KindText)
	kind, ok := c.Get("android/pixel-7", "login/submit")
	if !ok || kind != locator.KindText {
		t.Errorf("Get() = %v, %v, want KindText, true", kind, ok)
	}
}

func TestHintCacheClassIsolation(t *testing.T) {
	c := newHintCache(4)
	c.Put("android/pixel-7", "login/submit", locator.KindText)

	if _, ok := c.Get("ios/iphone-14", "login/submit"); ok {
		t.Error("Get() across classes = true, want false")
	}
}

func TestHintCacheOverwrite(t *testing.T) {
	c := newHintCache(4)
	c.Put("android/pixel-7", "login/submit", locator.KindSemanticID)
	c.Put("android/pixel-7", "login/submit", locator.KindText)

	kind, _ := c.Get("android/pixel-7", "login/submit")
	if kind != locator.KindText {
		t.Errorf("Get() after overwrite = %v, want KindText", kind)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestHintCacheEvictsOldest(t *testing.T) {
	c := newHintCache(2)
	c.Put("a", "e1", locator.KindSemanticID)
	c.Put("a", "e2", locator.KindText)
	c.Put("a", "e3", locator.KindImage)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("a", "e1"); ok {
		t.Error("oldest entry e1 survived eviction")
	}
	if _, ok := c.Get("a", "e3"); !ok {
		t.Error("newest entry e3 missing")
	}
}

func TestHintCacheGetRefreshesRecency(t *testing.T) {
	c := newHintCache(2)
	c.Put("a", "e1", locator.KindSemanticID)
	c.Put("a", "e2", locator.KindText)

	c.Get("a", "e1")
	c.Put("a", "e3", locator.KindImage)

	if _, ok := c.Get("a", "e1"); !ok {
		t.Error("recently read e1 was evicted")
	}
	if _, ok := c.Get("a", "e2"); ok {
		t.Error("least recently used e2 survived eviction")
	}
}

func TestHintCacheDefaultCapacity(t *testing.T) {
	c := newHintCache(0)
	if c.cap != defaultHintCacheSize {
		t.Errorf("cap = %d, want %d", c.cap, defaultHintCacheSize)
	}
}
