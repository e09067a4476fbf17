package policy

import (
	"crypto/ed25519"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davidahmann/charter/internal/crypto"
)

// Snapshot is one verified, immutable document as seen by evaluators.
type Snapshot struct {
	Loaded     LoadedDocument
	Generation uint64
	LoadedAt   time.Time
}

// Document returns the snapshot's compiled document.
func (s *Snapshot) Document() *Document { return s.Loaded.Document }

// Store publishes verified snapshots. Readers never block; loads are
// serialized and a failed load leaves the current snapshot in place.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	gen     uint64
	log     *slog.Logger
	now     func() time.Time
}

// NewStore returns an empty store. A nil logger uses slog.Default.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Current returns the active snapshot, or nil when nothing is loaded.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Load verifies raw against sig and pub and swaps it in on success.
func (s *Store) Load(raw []byte, sig crypto.SignatureRecord, pub ed25519.PublicKey) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := LoadVerified(raw, sig, pub)
	if err != nil {
		s.log.Error("constitution load rejected", "error", err, "generation", s.gen)
		return nil, err
	}
	return s.publish(loaded), nil
}

// LoadFiles is Load reading the document and signature from disk.
func (s *Store) LoadFiles(docPath, sigPath string, pub ed25519.PublicKey) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := ReadFiles(docPath, sigPath, pub)
	if err != nil {
		s.log.Error("constitution load rejected", "path", docPath, "error", err, "generation", s.gen)
		return nil, err
	}
	return s.publish(loaded), nil
}

func (s *Store) publish(loaded LoadedDocument) *Snapshot {
	s.gen++
	snap := &Snapshot{Loaded: loaded, Generation: s.gen, LoadedAt: s.now()}
	s.current.Store(snap)
	doc := loaded.Document
	s.log.Info("constitution loaded",
		"id", doc.ID,
		"revision", doc.Revision,
		"doc_hash", doc.DocHash,
		"key_id", loaded.Signature.KeyID,
		"generation", snap.Generation,
	)
	return snap
}
