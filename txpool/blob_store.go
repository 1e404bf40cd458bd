package txpool

import (
	"encoding/json"

	"github.com/holiman/billy"
)

// blobShelfSizes returns a billy shelf-size generator sized for the given
// average sidecar payload. It walks shelves from zero blobs up to a
// generous multiple of maxBlobSize, each padded with room for sidecar
// metadata (hashes, commitments, proofs), terminating the final shelf.
func blobShelfSizes(maxBlobSize int) func() (uint32, bool) {
	const metaOverhead = 4 * 1024 // commitments + proofs + hashes JSON overhead
	const maxShelves = 8
	shelf := 0
	return func() (uint32, bool) {
		size := uint32(shelf*maxBlobSize + metaOverhead)
		done := shelf == maxShelves
		shelf++
		return size, done
	}
}

// BlobStore persists blob sidecars to disk as an append-only, slotted
// store, keeping the in-memory pool limited to metadata while sidecar
// bytes live on disk until pruned.
type BlobStore struct {
	db billy.Database
}

// NewBlobStore opens (or creates) a sidecar store rooted at dir.
func NewBlobStore(dir string, maxBlobSize int) (*BlobStore, error) {
	db, err := billy.Open(billy.Options{Path: dir}, blobShelfSizes(maxBlobSize), nil)
	if err != nil {
		return nil, err
	}
	return &BlobStore{db: db}, nil
}

// Put JSON-encodes and stores a sidecar, returning its shelf id.
func (s *BlobStore) Put(sc *BlobSidecar) (uint64, error) {
	data, err := json.Marshal(sc)
	if err != nil {
		return 0, err
	}
	return s.db.Put(data)
}

// Get retrieves and decodes the sidecar stored under id.
func (s *BlobStore) Get(id uint64) (*BlobSidecar, error) {
	data, err := s.db.Get(id)
	if err != nil {
		return nil, err
	}
	sc := new(BlobSidecar)
	if err := json.Unmarshal(data, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Delete removes the sidecar stored under id.
func (s *BlobStore) Delete(id uint64) error {
	return s.db.Delete(id)
}

// Close releases the underlying billy database.
func (s *BlobStore) Close() error {
	return s.db.Close()
}
