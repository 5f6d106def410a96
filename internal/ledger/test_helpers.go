package ledger

import (
	"context"
	"testing"

	"github.com/hydrusnetwork/repoledger/internal/ledger/collab"
	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// testEnv bundles a fresh in-memory Ledger with fake collaborators for
// tests. Test Isolation Pattern: uses "file::memory:?mode=memory&cache=private"
// rather than the bare ":memory:" DSN, since the bare form shares one
// database across every connection in the process and would make tests
// interfere with each other.
type testEnv struct {
	t           *testing.T
	Ledger      *Ledger
	Ctx         context.Context
	Registry    *collab.FakeServiceRegistry
	Files       *collab.FakeLocalFileStore
	HashCache   *collab.FakeHashInternCache
	TagCache    *collab.FakeTagInternCache
	Maintenance *collab.FakeFileMaintenance
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	registry := collab.NewFakeServiceRegistry()
	files := collab.NewFakeLocalFileStore()
	hashCache := collab.NewFakeHashInternCache()
	tagCache := collab.NewFakeTagInternCache(0)
	maintenance := collab.NewFakeFileMaintenance()

	l, err := New(ctx,
		"file::memory:?mode=memory&cache=private",
		"file::memory:?mode=memory&cache=private",
		registry, files, hashCache, tagCache, maintenance,
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	return &testEnv{
		t:           t,
		Ledger:      l,
		Ctx:         ctx,
		Registry:    registry,
		Files:       files,
		HashCache:   hashCache,
		TagCache:    tagCache,
		Maintenance: maintenance,
	}
}

// NewService registers a fresh service of serviceType under key and
// brings its ledger tables into existence.
func (e *testEnv) NewService(key ledgertypes.ServiceKey, serviceType ledgertypes.ServiceType) ledgertypes.ServiceID {
	e.t.Helper()
	id := e.Registry.Register(key, serviceType)
	if err := e.Ledger.Subscribe(e.Ctx, id); err != nil {
		e.t.Fatalf("Subscribe(%d) failed: %v", id, err)
	}
	return id
}

// SetUpdateHashes calls SetRepositoryUpdateHashes with the given
// (index, bytes) pairs.
func (e *testEnv) SetUpdateHashes(key ledgertypes.ServiceKey, pairs ...indexedHash) {
	e.t.Helper()
	updates := make([]ledgertypes.UpdateHash, len(pairs))
	for i, p := range pairs {
		updates[i] = ledgertypes.UpdateHash{Index: p.Index, HashBytes: p.Bytes}
	}
	if err := e.Ledger.SetRepositoryUpdateHashes(e.Ctx, key, ledgertypes.UpdateMetadata{Updates: updates}); err != nil {
		e.t.Fatalf("SetRepositoryUpdateHashes failed: %v", err)
	}
}

type indexedHash struct {
	Index ledgertypes.UpdateIndex
	Bytes []byte
}

func ih(index int64, b []byte) indexedHash {
	return indexedHash{Index: ledgertypes.UpdateIndex(index), Bytes: b}
}
