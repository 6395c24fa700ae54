package storage

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestContentRoundTrip(t *testing.T) {
	db := testDB(t)

	if err := db.PutContent("cid-1", []byte("payload"), "text/plain", 1000); err != nil {
		t.Fatalf("put: %v", err)
	}

	data, ok, err := db.GetContent("cid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(data) != "payload" {
		t.Fatalf("got %q ok=%v", data, ok)
	}

	if _, ok, _ := db.GetContent("missing"); ok {
		t.Fatal("missing cid should not be found")
	}
}

func TestContentWriteOnce(t *testing.T) {
	db := testDB(t)

	if err := db.PutContent("cid-1", []byte("first"), "", 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	// A CID is written at most once; the second write must not replace it.
	if err := db.PutContent("cid-1", []byte("second"), "", 2); err != nil {
		t.Fatalf("put again: %v", err)
	}

	data, _, err := db.GetContent("cid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "first" {
		t.Fatalf("cid content was overwritten: %q", data)
	}

	n, err := db.ContentCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestProviders(t *testing.T) {
	db := testDB(t)

	if err := db.AddProvider("cid-1", "did:swarm:aa", 1); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	if err := db.AddProvider("cid-1", "did:swarm:bb", 2); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	// Re-advertising is idempotent.
	if err := db.AddProvider("cid-1", "did:swarm:aa", 3); err != nil {
		t.Fatalf("re-add provider: %v", err)
	}

	providers, err := db.Providers("cid-1")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("providers = %v, want 2 entries", providers)
	}
}

func TestTaskArchive(t *testing.T) {
	db := testDB(t)

	if err := db.ArchiveTask("t1", []byte(`{"task_id":"t1"}`), "Completed", 4, 100); err != nil {
		t.Fatalf("archive: %v", err)
	}
	body, ok, err := db.ArchivedTask("t1")
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if !ok || len(body) == 0 {
		t.Fatal("archived task not found")
	}
	if _, ok, _ := db.ArchivedTask("t2"); ok {
		t.Fatal("unknown task should not be archived")
	}
}
