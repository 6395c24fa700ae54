package state

import (
	"testing"

	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/storage"
)

func testContentStore(t *testing.T) *ContentStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewContentStore(db, "did:swarm:self")
}

func TestContentStorePutGet(t *testing.T) {
	store := testContentStore(t)

	cid, err := store.Put([]byte("Hello, Swarm!"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if cid != protocol.ComputeCID([]byte("Hello, Swarm!")) {
		t.Fatal("cid must be the content hash")
	}

	data, ok, err := store.Get(cid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(data) != "Hello, Swarm!" {
		t.Fatalf("got %q ok=%v", data, ok)
	}
}

func TestContentStoreDeduplication(t *testing.T) {
	store := testContentStore(t)

	cid1, err := store.Put([]byte("same"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	cid2, err := store.Put([]byte("same"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if cid1 != cid2 {
		t.Fatal("identical content must share a CID")
	}
	if store.ItemCount() != 1 {
		t.Fatalf("item count = %d, want 1", store.ItemCount())
	}
}

func TestContentStoreProvide(t *testing.T) {
	store := testContentStore(t)

	var announced []string
	store.OnProvide(func(cid string) { announced = append(announced, cid) })

	cid, err := store.Put([]byte("artifact"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Provide(cid); err != nil {
		t.Fatalf("provide: %v", err)
	}
	if len(announced) != 1 || announced[0] != cid {
		t.Fatalf("dht announcement missing: %v", announced)
	}

	if err := store.AddProvider(cid, "did:swarm:remote"); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	providers, err := store.Providers(cid)
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("providers = %v, want self + remote", providers)
	}
}
