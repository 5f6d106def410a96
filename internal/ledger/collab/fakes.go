package collab

import (
	"fmt"
	"sync"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// FakeServiceRegistry is an in-memory ServiceRegistry for tests and example
// wiring.
type FakeServiceRegistry struct {
	mu           sync.Mutex
	nextID       ledgertypes.ServiceID
	idByKey      map[ledgertypes.ServiceKey]ledgertypes.ServiceID
	keyByID      map[ledgertypes.ServiceID]ledgertypes.ServiceKey
	typeByID     map[ledgertypes.ServiceID]ledgertypes.ServiceType
	contentTypes map[ledgertypes.ServiceType][]ledgertypes.ContentType
	localUpdate  ledgertypes.ServiceID
}

func NewFakeServiceRegistry() *FakeServiceRegistry {
	return &FakeServiceRegistry{
		nextID:       1,
		idByKey:      make(map[ledgertypes.ServiceKey]ledgertypes.ServiceID),
		keyByID:      make(map[ledgertypes.ServiceID]ledgertypes.ServiceKey),
		typeByID:     make(map[ledgertypes.ServiceID]ledgertypes.ServiceType),
		contentTypes: make(map[ledgertypes.ServiceType][]ledgertypes.ContentType),
	}
}

// Register adds a service of the given type under key, returning its
// freshly-assigned local id.
func (r *FakeServiceRegistry) Register(key ledgertypes.ServiceKey, t ledgertypes.ServiceType) ledgertypes.ServiceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.idByKey[key] = id
	r.keyByID[id] = key
	r.typeByID[id] = t
	return id
}

// SetContentTypes declares the content-type tuple content blobs of
// service type t carry.
func (r *FakeServiceRegistry) SetContentTypes(t ledgertypes.ServiceType, cts []ledgertypes.ContentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contentTypes[t] = cts
}

func (r *FakeServiceRegistry) IDOf(key ledgertypes.ServiceKey) (ledgertypes.ServiceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.idByKey[key]
	if !ok {
		return 0, fmt.Errorf("service %q: %w", key, ErrServiceUnknown)
	}
	return id, nil
}

func (r *FakeServiceRegistry) KeyOf(id ledgertypes.ServiceID) (ledgertypes.ServiceKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keyByID[id]
	if !ok {
		return "", fmt.Errorf("service id %d: %w", id, ErrServiceUnknown)
	}
	return key, nil
}

func (r *FakeServiceRegistry) TypeOf(id ledgertypes.ServiceID) (ledgertypes.ServiceType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.typeByID[id]
	if !ok {
		return 0, fmt.Errorf("service id %d: %w", id, ErrServiceUnknown)
	}
	return t, nil
}

func (r *FakeServiceRegistry) ContentTypesFor(t ledgertypes.ServiceType) []ledgertypes.ContentType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledgertypes.ContentType(nil), r.contentTypes[t]...)
}

func (r *FakeServiceRegistry) SetLocalUpdateServiceID(id ledgertypes.ServiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localUpdate = id
}

func (r *FakeServiceRegistry) LocalUpdateServiceID() ledgertypes.ServiceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localUpdate
}

// ErrServiceUnknown is surfaced unchanged by the ledger, per spec §7.
var ErrServiceUnknown = serviceUnknownError{}

type serviceUnknownError struct{}

func (serviceUnknownError) Error() string { return "service unknown" }

// FakeLocalFileStore is an in-memory LocalFileStore.
type FakeLocalFileStore struct {
	mu    sync.Mutex
	mimes map[ledgertypes.HashID]ledgertypes.Mime
}

func NewFakeLocalFileStore() *FakeLocalFileStore {
	return &FakeLocalFileStore{mimes: make(map[ledgertypes.HashID]ledgertypes.Mime)}
}

// SetLocal marks hashID as locally present with the given mime.
func (s *FakeLocalFileStore) SetLocal(hashID ledgertypes.HashID, mime ledgertypes.Mime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mimes[hashID] = mime
}

// Forget removes a hash's local presence, simulating deletion.
func (s *FakeLocalFileStore) Forget(hashID ledgertypes.HashID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mimes, hashID)
}

func (s *FakeLocalFileStore) MimeOf(hashID ledgertypes.HashID) (ledgertypes.Mime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mimes[hashID]
	return m, ok
}

func (s *FakeLocalFileStore) FilterToLocallyPresent(hashIDs []ledgertypes.HashID) map[ledgertypes.HashID]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ledgertypes.HashID]struct{})
	for _, h := range hashIDs {
		if _, ok := s.mimes[h]; ok {
			out[h] = struct{}{}
		}
	}
	return out
}

// FakeHashInternCache is an in-memory, bidirectional hash intern table.
type FakeHashInternCache struct {
	mu     sync.Mutex
	nextID ledgertypes.HashID
	byID   map[ledgertypes.HashID][]byte
	byHash map[string]ledgertypes.HashID
}

func NewFakeHashInternCache() *FakeHashInternCache {
	return &FakeHashInternCache{
		nextID: 1,
		byID:   make(map[ledgertypes.HashID][]byte),
		byHash: make(map[string]ledgertypes.HashID),
	}
}

func (c *FakeHashInternCache) Intern(hashBytes []byte) (ledgertypes.HashID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internLocked(hashBytes), nil
}

func (c *FakeHashInternCache) internLocked(hashBytes []byte) ledgertypes.HashID {
	if id, ok := c.byHash[string(hashBytes)]; ok {
		return id
	}
	id := c.nextID
	c.nextID++
	buf := append([]byte(nil), hashBytes...)
	c.byID[id] = buf
	c.byHash[string(buf)] = id
	return id
}

func (c *FakeHashInternCache) InternMany(hashBytes [][]byte) ([]ledgertypes.HashID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ledgertypes.HashID, len(hashBytes))
	for i, b := range hashBytes {
		out[i] = c.internLocked(b)
	}
	return out, nil
}

func (c *FakeHashInternCache) BytesOfMany(hashIDs []ledgertypes.HashID) (map[ledgertypes.HashID][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[ledgertypes.HashID][]byte, len(hashIDs))
	for _, id := range hashIDs {
		if b, ok := c.byID[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

// FakeTagInternCache is an in-memory tag intern table with an optional
// length limit that triggers ErrTagTooLarge, mirroring the real tag store's
// TagTooLarge condition.
type FakeTagInternCache struct {
	mu        sync.Mutex
	nextID    ledgertypes.TagID
	byID      map[ledgertypes.TagID]string
	byTag     map[string]ledgertypes.TagID
	maxLength int
}

func NewFakeTagInternCache(maxLength int) *FakeTagInternCache {
	return &FakeTagInternCache{
		nextID:    1,
		byID:      make(map[ledgertypes.TagID]string),
		byTag:     make(map[string]ledgertypes.TagID),
		maxLength: maxLength,
	}
}

func (c *FakeTagInternCache) Intern(tag string) (ledgertypes.TagID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxLength > 0 && len(tag) > c.maxLength {
		return 0, ErrTagTooLarge
	}
	if id, ok := c.byTag[tag]; ok {
		return id, nil
	}
	id := c.nextID
	c.nextID++
	c.byID[id] = tag
	c.byTag[tag] = id
	return id, nil
}

// FakeFileMaintenance records enqueued jobs for test assertions.
type FakeFileMaintenance struct {
	mu   sync.Mutex
	Jobs []FakeFileMaintenanceJob
}

type FakeFileMaintenanceJob struct {
	HashIDs []ledgertypes.HashID
	Job     ledgertypes.FileMaintenanceJob
}

func NewFakeFileMaintenance() *FakeFileMaintenance {
	return &FakeFileMaintenance{}
}

func (f *FakeFileMaintenance) Enqueue(hashIDs []ledgertypes.HashID, job ledgertypes.FileMaintenanceJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]ledgertypes.HashID(nil), hashIDs...)
	f.Jobs = append(f.Jobs, FakeFileMaintenanceJob{HashIDs: cp, Job: job})
}

// SliceCursor is a DefinitionCursor backed by an in-memory slice of pairs,
// used by tests to feed ProcessRepositoryDefinitions.
type SliceCursor struct {
	pairs []KV
	pos   int
}

func NewSliceCursor(pairs []KV) *SliceCursor {
	return &SliceCursor{pairs: pairs}
}

func (c *SliceCursor) Next(n int) ([]KV, bool) {
	if c.pos >= len(c.pairs) {
		return nil, true
	}
	end := c.pos + n
	if end > len(c.pairs) {
		end = len(c.pairs)
	}
	out := c.pairs[c.pos:end]
	c.pos = end
	return out, c.pos >= len(c.pairs)
}
