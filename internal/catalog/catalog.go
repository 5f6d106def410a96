// Package catalog loads a static TOML file mapping service types to the
// content-type tuple their content blobs carry, and exposes it as a
// collab.ServiceRegistry-compatible lookup table for tests and example
// wiring. Production deployments would back collab.ServiceRegistry with
// the real account/services subsystem; this is the injectable stand-in
// the ledger's own package needs none of.
package catalog

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

// fileFormat mirrors the TOML catalog's on-disk shape.
type fileFormat struct {
	ServiceTypes map[string]serviceTypeEntry `toml:"service_type"`
}

type serviceTypeEntry struct {
	ID           int      `toml:"id"`
	ContentTypes []string `toml:"content_types"`
}

// Catalog is the parsed, ready-to-query content-type catalog.
type Catalog struct {
	contentTypesByServiceType map[ledgertypes.ServiceType][]ledgertypes.ContentType
}

// Load parses a TOML catalog file at path.
func Load(path string) (*Catalog, error) {
	var ff fileFormat
	if _, err := toml.DecodeFile(path, &ff); err != nil {
		return nil, fmt.Errorf("load content-type catalog %s: %w", path, err)
	}
	return fromFileFormat(ff)
}

// LoadString parses a TOML catalog from an in-memory string, mainly for
// tests.
func LoadString(data string) (*Catalog, error) {
	var ff fileFormat
	if _, err := toml.Decode(data, &ff); err != nil {
		return nil, fmt.Errorf("parse content-type catalog: %w", err)
	}
	return fromFileFormat(ff)
}

func fromFileFormat(ff fileFormat) (*Catalog, error) {
	c := &Catalog{contentTypesByServiceType: make(map[ledgertypes.ServiceType][]ledgertypes.ContentType)}
	for name, entry := range ff.ServiceTypes {
		cts := make([]ledgertypes.ContentType, 0, len(entry.ContentTypes))
		for _, ctName := range entry.ContentTypes {
			ct, err := parseContentType(ctName)
			if err != nil {
				return nil, fmt.Errorf("service type %q: %w", name, err)
			}
			cts = append(cts, ct)
		}
		c.contentTypesByServiceType[ledgertypes.ServiceType(entry.ID)] = cts
	}
	return c, nil
}

func parseContentType(name string) (ledgertypes.ContentType, error) {
	switch name {
	case "DEFINITIONS":
		return ledgertypes.ContentTypeDefinitions, nil
	case "FILES":
		return ledgertypes.ContentTypeFiles, nil
	case "MAPPINGS":
		return ledgertypes.ContentTypeMappings, nil
	case "TAG_PARENTS":
		return ledgertypes.ContentTypeTagParents, nil
	case "TAG_SIBLINGS":
		return ledgertypes.ContentTypeTagSiblings, nil
	default:
		return 0, fmt.Errorf("unknown content type %q", name)
	}
}

// ContentTypesFor returns the content-type tuple declared for a service
// type, or nil if the type is not in the catalog.
func (c *Catalog) ContentTypesFor(t ledgertypes.ServiceType) []ledgertypes.ContentType {
	return c.contentTypesByServiceType[t]
}
