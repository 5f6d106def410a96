package catalog

import (
	"testing"

	"github.com/hydrusnetwork/repoledger/internal/ledgertypes"
)

func TestLoadString(t *testing.T) {
	c, err := LoadString(`
[service_type.tag_repository]
id = 1
content_types = ["MAPPINGS", "TAG_PARENTS", "TAG_SIBLINGS"]

[service_type.file_repository]
id = 2
content_types = ["FILES"]
`)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}

	tests := []struct {
		name string
		t    ledgertypes.ServiceType
		want []ledgertypes.ContentType
	}{
		{
			name: "tag repository",
			t:    1,
			want: []ledgertypes.ContentType{
				ledgertypes.ContentTypeMappings,
				ledgertypes.ContentTypeTagParents,
				ledgertypes.ContentTypeTagSiblings,
			},
		},
		{
			name: "file repository",
			t:    2,
			want: []ledgertypes.ContentType{ledgertypes.ContentTypeFiles},
		},
		{
			name: "unknown service type",
			t:    99,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ContentTypesFor(tt.t)
			if len(got) != len(tt.want) {
				t.Fatalf("ContentTypesFor(%d) = %v, want %v", tt.t, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ContentTypesFor(%d)[%d] = %v, want %v", tt.t, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadUnknownContentType(t *testing.T) {
	_, err := LoadString(`
[service_type.broken]
id = 1
content_types = ["NOT_A_REAL_TYPE"]
`)
	if err == nil {
		t.Fatal("LoadString should fail on an unrecognized content type name")
	}
}

func TestLoadFile(t *testing.T) {
	c, err := Load("testdata/catalog.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := c.ContentTypesFor(1)
	if len(got) != 3 {
		t.Fatalf("ContentTypesFor(1) = %v, want 3 entries", got)
	}
}
