// Package collab declares the collaborators the repository update ledger
// consumes but does not own: the service registry, the local update-file
// store, the hash/tag intern caches, and the file-maintenance queue. The
// ledger is injected with implementations of these interfaces; it never
// constructs or owns one.
package collab

import "github.com/hydrusnetwork/repoledger/internal/ledgertypes"

// ServiceRegistry resolves service identity and the content-type tuple a
// service type's content blobs carry.
type ServiceRegistry interface {
	IDOf(key ledgertypes.ServiceKey) (ledgertypes.ServiceID, error)
	KeyOf(id ledgertypes.ServiceID) (ledgertypes.ServiceKey, error)
	TypeOf(id ledgertypes.ServiceID) (ledgertypes.ServiceType, error)
	ContentTypesFor(t ledgertypes.ServiceType) []ledgertypes.ContentType
	LocalUpdateServiceID() ledgertypes.ServiceID
}

// LocalFileStore answers whether an update blob's file is present locally
// and what mime it was stored as.
type LocalFileStore interface {
	// MimeOf returns the stored mime for hashID, and ok=false if the file
	// is not yet locally present (mime unknown).
	MimeOf(hashID ledgertypes.HashID) (mime ledgertypes.Mime, ok bool)
	// FilterToLocallyPresent returns the subset of hashIDs whose files are
	// locally stored.
	FilterToLocallyPresent(hashIDs []ledgertypes.HashID) map[ledgertypes.HashID]struct{}
}

// HashInternCache is the global content-addressed-hash intern table.
type HashInternCache interface {
	Intern(hashBytes []byte) (ledgertypes.HashID, error)
	InternMany(hashBytes [][]byte) ([]ledgertypes.HashID, error)
	BytesOfMany(hashIDs []ledgertypes.HashID) (map[ledgertypes.HashID][]byte, error)
}

// ErrTagTooLarge is returned by TagInternCache.Intern when a tag string
// exceeds the interning store's length limit.
var ErrTagTooLarge = tagTooLargeError{}

type tagTooLargeError struct{}

func (tagTooLargeError) Error() string { return "tag too large to intern" }

// TagInternCache is the global tag-string intern table.
type TagInternCache interface {
	// Intern may fail with ErrTagTooLarge; callers fall back to the
	// sentinel "invalid repository tag" string.
	Intern(tag string) (ledgertypes.TagID, error)
}

// FileMaintenance is the queue the Critical-Error Handler and other
// remediation paths enqueue integrity/metadata regeneration jobs to.
type FileMaintenance interface {
	Enqueue(hashIDs []ledgertypes.HashID, job ledgertypes.FileMaintenanceJob)
}

// DefinitionCursor is a lazy, restartable-from-current-position sequence of
// (remoteID, payload) pairs pulled from a definition blob. Two concrete
// payload shapes are recognized by the ledger: hash-bytes pairs (for
// service_hash_ids_to_hashes) and tag-string pairs (for
// service_tag_ids_to_tags). A cursor remembers how much it has consumed
// across calls to Next, so the same cursor value can be handed back into a
// resumed ProcessRepositoryDefinitions call.
type DefinitionCursor interface {
	// Next returns up to n pairs not yet consumed. done is true once the
	// cursor is exhausted (the returned slice may be non-empty and done
	// true in the same call, for the final short chunk).
	Next(n int) (pairs []KV, done bool)
}

// KV is one (remote id, payload) pair pulled from a DefinitionCursor.
// Exactly one of HashBytes or Tag is populated, matching which iterator
// kind the cursor was constructed for.
type KV struct {
	RemoteID  int64
	HashBytes []byte
	Tag       string
}
