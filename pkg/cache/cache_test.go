package cache

import (
	"fmt"
	"testing"
)

func TestNoOpAlwaysMisses(t *testing.T) {
	c := NoOp{}
	c.Put("k", Entry{Data: []byte("x")})
	if _, ok := c.Get("k"); ok {
		t.Error("NoOp.Get hit after Put")
	}
	if c.Delete("k") {
		t.Error("NoOp.Delete reported success")
	}
	if c.Size() != 0 {
		t.Error("NoOp.Size != 0")
	}
}

func TestLRUPutGetRoundTrip(t *testing.T) {
	c, err := NewLRU(1 << 20)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	defer c.Close()

	entry := Entry{Data: []byte("hello"), ContentType: "image/jpeg"}
	c.Put("a", entry)

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if string(got.Data) != "hello" || got.ContentType != "image/jpeg" {
		t.Errorf("got %+v, want data=hello contentType=image/jpeg", got)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	// Each entry is 11 bytes (8 data + "jpg"); budget fits two but not three.
	c, err := NewLRU(25)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	defer c.Close()

	mk := func(n string) Entry { return Entry{Data: []byte(n + n + n + n), ContentType: "jpg"} }

	c.Put("a", mk("aa"))
	c.Put("b", mk("bb"))
	// Touch "a" so "b" becomes the least recently used.
	c.Get("a")
	c.Put("c", mk("cc"))

	if _, ok := c.Get("b"); ok {
		t.Error("expected b evicted as LRU")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive (recently touched)")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c present (just inserted)")
	}
}

func TestLRURejectsOversizeEntry(t *testing.T) {
	c, err := NewLRU(10)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	defer c.Close()

	c.Put("huge", Entry{Data: make([]byte, 100)})
	if _, ok := c.Get("huge"); ok {
		t.Error("oversize entry should not be stored")
	}
}

func TestLRUDeleteAndClear(t *testing.T) {
	c, err := NewLRU(1 << 20)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	defer c.Close()

	c.Put("a", Entry{Data: []byte("x")})
	if !c.Delete("a") {
		t.Error("Delete reported no entry for existing key")
	}
	if c.Delete("a") {
		t.Error("Delete reported success on already-deleted key")
	}

	c.Put("b", Entry{Data: []byte("y")})
	c.Put("c", Entry{Data: []byte("z")})
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size after Clear = %d, want 0", c.Size())
	}
}

type fakeCache struct {
	data map[string]Entry
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]Entry)} }

func (f *fakeCache) Get(key string) (Entry, bool) { e, ok := f.data[key]; return e, ok }
func (f *fakeCache) Put(key string, e Entry)      { f.data[key] = e }
func (f *fakeCache) Delete(key string) bool {
	_, ok := f.data[key]
	delete(f.data, key)
	return ok
}
func (f *fakeCache) Clear()     { f.data = make(map[string]Entry) }
func (f *fakeCache) Size() int  { return len(f.data) }

func TestTieredPromotesL2HitIntoL1(t *testing.T) {
	l1, l2 := newFakeCache(), newFakeCache()
	l2.Put("k", Entry{Data: []byte("from-l2")})
	tiered := NewTiered(l1, l2, nil)

	e, ok := tiered.Get("k")
	if !ok || string(e.Data) != "from-l2" {
		t.Fatalf("Get = %+v, %v; want hit from L2", e, ok)
	}
	if _, ok := l1.Get("k"); !ok {
		t.Error("expected L2 hit to be promoted into L1")
	}
}

func TestTieredPutSynchronousWithoutPool(t *testing.T) {
	l1, l2 := newFakeCache(), newFakeCache()
	tiered := NewTiered(l1, l2, nil)

	tiered.Put("k", Entry{Data: []byte("v")})
	if _, ok := l1.Get("k"); !ok {
		t.Error("expected synchronous L1 write")
	}
	if _, ok := l2.Get("k"); !ok {
		t.Error("expected synchronous L2 write when no pool is configured")
	}
}

func TestTieredDeleteChecksBothTiers(t *testing.T) {
	l1, l2 := newFakeCache(), newFakeCache()
	l2.Put("only-in-l2", Entry{Data: []byte("v")})
	tiered := NewTiered(l1, l2, nil)

	if !tiered.Delete("only-in-l2") {
		t.Error("Delete should report true when only L2 had the key")
	}
}

func TestPoolTrySubmitRunsJob(t *testing.T) {
	p := NewPool(2, 4)
	defer p.Close()

	done := make(chan struct{})
	if !p.TrySubmit(func() { close(done) }) {
		t.Fatal("TrySubmit failed on empty pool")
	}
	<-done
}

func TestKeyAndPersistentKey(t *testing.T) {
	k := Key("/img.jpg", "w=100,h=100", "webp")
	if k != "/img.jpg|w=100,h=100|webp" {
		t.Errorf("Key = %q", k)
	}
	pk := persistentKey(k)
	if pk != "/img.jpg/w=100,h=100/webp" {
		t.Errorf("persistentKey = %q", pk)
	}
}

func BenchmarkLRUGet(b *testing.B) {
	c, err := NewLRU(10 << 20)
	if err != nil {
		b.Fatalf("NewLRU: %v", err)
	}
	defer c.Close()
	c.Put("hot", Entry{Data: make([]byte, 10240), ContentType: "image/jpeg"})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, ok := c.Get("hot"); !ok {
				b.Fatal("unexpected miss")
			}
		}
	})
}

func BenchmarkLRUPut(b *testing.B) {
	c, err := NewLRU(100 << 20)
	if err != nil {
		b.Fatalf("NewLRU: %v", err)
	}
	defer c.Close()
	entry := Entry{Data: make([]byte, 10240), ContentType: "image/jpeg"}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Put(fmt.Sprintf("key-%d", i), entry)
			i++
		}
	})
}
