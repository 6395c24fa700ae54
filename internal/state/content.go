package state

import (
	"sync"
	"time"

	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/storage"
)

// ContentStore is the content-addressed artifact store. Content is keyed by
// its SHA-256 (the CID), persisted in SQLite, and advertised to the DHT via
// provider records. Reads are concurrent; writes are serialized per CID with
// the invariant that a CID is written at most once.
type ContentStore struct {
	mu      sync.Mutex // serializes writes; reads go straight to SQLite
	db      *storage.DB
	ownerID protocol.AgentID
	// provideFn, when set, announces CID residency to the DHT.
	provideFn func(cid string)
}

// NewContentStore creates a store backed by db, owned by the given agent.
func NewContentStore(db *storage.DB, owner protocol.AgentID) *ContentStore {
	return &ContentStore{db: db, ownerID: owner}
}

// OnProvide registers the DHT announcement hook invoked by Provide.
func (c *ContentStore) OnProvide(fn func(cid string)) {
	c.provideFn = fn
}

// Put stores content and returns its CID. Identical content deduplicates to
// the same CID; the first write wins and later writes are no-ops.
func (c *ContentStore) Put(data []byte) (string, error) {
	return c.PutTyped(data, "")
}

// PutTyped stores content with a content type.
func (c *ContentStore) PutTyped(data []byte, contentType string) (string, error) {
	cid := protocol.ComputeCID(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.PutContent(cid, data, contentType, time.Now().Unix()); err != nil {
		return "", err
	}
	return cid, nil
}

// Get retrieves content by CID. Returns (nil, false) when the CID is not
// held locally.
func (c *ContentStore) Get(cid string) ([]byte, bool, error) {
	return c.db.GetContent(cid)
}

// Exists reports whether the CID is held locally.
func (c *ContentStore) Exists(cid string) (bool, error) {
	return c.db.HasContent(cid)
}

// Provide advertises this node as a provider of the CID: the record is
// stored locally and the DHT announcement hook is invoked.
func (c *ContentStore) Provide(cid string) error {
	if err := c.db.AddProvider(cid, string(c.ownerID), time.Now().Unix()); err != nil {
		return err
	}
	if c.provideFn != nil {
		c.provideFn(cid)
	}
	return nil
}

// AddProvider records a remote agent as a provider of a CID, learned from
// the DHT.
func (c *ContentStore) AddProvider(cid string, agent protocol.AgentID) error {
	return c.db.AddProvider(cid, string(agent), time.Now().Unix())
}

// Providers returns the agents known to provide a CID.
func (c *ContentStore) Providers(cid string) ([]protocol.AgentID, error) {
	ids, err := c.db.Providers(cid)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.AgentID, len(ids))
	for i, id := range ids {
		out[i] = protocol.AgentID(id)
	}
	return out, nil
}

// ItemCount returns the number of content items held locally.
func (c *ContentStore) ItemCount() int {
	n, err := c.db.ContentCount()
	if err != nil {
		return 0
	}
	return n
}
