// Package ledgertypes holds the value types shared across the repository
// update ledger: intern ids, service keys, content types, and the
// authoritative metadata slices the network layer hands to the ledger.
package ledgertypes

import "fmt"

// HashID is a locally-assigned intern id for a content-addressed hash.
type HashID int64

// TagID is a locally-assigned intern id for a tag string.
type TagID int64

// ServiceHashID is a remote-assigned, per-service intern id for a hash.
type ServiceHashID int64

// ServiceTagID is a remote-assigned, per-service intern id for a tag.
type ServiceTagID int64

// ServiceID is the local integer id of a subscribed repository service.
type ServiceID int64

// ServiceKey is the externally-visible byte key identifying a service,
// as issued by the service registry.
type ServiceKey string

// UpdateIndex is the remote-assigned position of an update blob in a
// repository's history. Not necessarily unique: sibling blobs may share
// an index.
type UpdateIndex int64

// ContentType identifies what payload kind an update blob carries.
// DEFINITIONS is the distinguished member: definition blobs carry exactly
// {Definitions}, nothing else.
type ContentType int

const (
	ContentTypeDefinitions ContentType = iota
	ContentTypeFiles
	ContentTypeMappings
	ContentTypeTagParents
	ContentTypeTagSiblings
)

func (c ContentType) String() string {
	switch c {
	case ContentTypeDefinitions:
		return "DEFINITIONS"
	case ContentTypeFiles:
		return "FILES"
	case ContentTypeMappings:
		return "MAPPINGS"
	case ContentTypeTagParents:
		return "TAG_PARENTS"
	case ContentTypeTagSiblings:
		return "TAG_SIBLINGS"
	default:
		return fmt.Sprintf("ContentType(%d)", int(c))
	}
}

// Mime identifies the stored format of an update blob's file. Only the
// definitions mime is distinguished by the registration engine; all other
// mimes are "content" mimes and defer to the service type's content-type
// tuple.
type Mime int

const (
	MimeUnknown Mime = iota
	MimeApplicationHydrusUpdateDefinitions
	MimeApplicationHydrusUpdateContent
)

// ServiceType identifies the kind of remote repository a service
// subscribes to (e.g. a tag repository vs a file repository). The service
// registry maps a ServiceType to the tuple of content types its content
// blobs carry.
type ServiceType int

// UpdateHash is an (index, hash) pair as reported authoritatively by the
// network layer. HashBytes is the raw content-addressed hash; the Update
// Registry interns it to a HashID but does not store that id here.
type UpdateHash struct {
	Index     UpdateIndex
	HashBytes []byte
}

// UpdateMetadata is the authoritative slice of (index, hash) pairs the
// network layer hands to SetRepositoryUpdateHashes / AssociateRepositoryUpdateHashes.
type UpdateMetadata struct {
	Updates []UpdateHash
}

// HashBytesSet returns the set of hash bytes named by the metadata.
func (m UpdateMetadata) HashBytesSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Updates))
	for _, u := range m.Updates {
		set[string(u.HashBytes)] = struct{}{}
	}
	return set
}

// FileMaintenanceJob identifies a kind of integrity/metadata regeneration
// job the ledger can schedule against a locally-stored update file.
type FileMaintenanceJob int

const (
	FileMaintenanceIntegrityData FileMaintenanceJob = iota
	FileMaintenanceMetadata
)

// InvalidRepositoryTag is the sentinel tag string a definition blob's
// remote tag id is mapped to when the real tag string fails to intern
// (e.g. TagTooLarge). It preserves totality of the tag id map: every
// remote id resolves to something.
const InvalidRepositoryTag = "invalid repository tag"
