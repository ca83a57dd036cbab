package locations

import (
	"strings"
	"testing"

	"github.com/akmistry/tablemeta/internal/metadata"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		base     string
		props    map[string]string
		file     string
		expected string
	}{
		{"db/events", nil, "00001-a.metadata.json", "db/events/metadata/00001-a.metadata.json"},
		{"db/events/", nil, "x.json", "db/events/metadata/x.json"},
		{"s3://bucket/wh/t", nil, "x.json", "s3://bucket/wh/t/metadata/x.json"},
		{"db/events", map[string]string{metadata.PropMetadataPath: "meta/events/"}, "x.json", "meta/events/x.json"},
		{"", nil, "x.json", "metadata/x.json"},
	}
	for _, tc := range tests {
		r := NewResolver(tc.base, tc.props)
		if loc := r.Resolve(tc.file); loc != tc.expected {
			t.Errorf("Resolve(%s, %s) %s != %s", tc.base, tc.file, loc, tc.expected)
		}
		if r.Resolve(tc.file) != r.Resolve(tc.file) {
			t.Errorf("Resolve(%s) not deterministic", tc.file)
		}
	}
}

func TestMetadataFileName(t *testing.T) {
	a := MetadataFileName(7)
	b := MetadataFileName(7)
	if a == b {
		t.Errorf("MetadataFileName returned the same name twice: %s", a)
	}
	if !strings.HasPrefix(a, "00007-") || !strings.HasSuffix(a, MetadataSuffix) {
		t.Errorf("MetadataFileName(7) %s has wrong format", a)
	}
	if v := ParseVersion("db/t/metadata/" + a); v != 7 {
		t.Errorf("ParseVersion(%s) %d != 7", a, v)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		loc      string
		expected int
	}{
		{"db/t/metadata/00001-abc.metadata.json", 1},
		{"s3://b/t/metadata/123456-abc.metadata.json", 123456},
		{"00000-x.metadata.json", 0},
		{"db/t/metadata/v1.metadata.json", -1},
		{"db/t/metadata/00001-abc.json", -1},
		{"-abc.metadata.json", -1},
		{"", -1},
	}
	for _, tc := range tests {
		if v := ParseVersion(tc.loc); v != tc.expected {
			t.Errorf("ParseVersion(%s) %d != %d", tc.loc, v, tc.expected)
		}
	}
}
