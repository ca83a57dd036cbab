package metadata

import (
	"maps"
	"slices"
)

const (
	// NoSnapshot is the current-snapshot-id of a table without snapshots.
	NoSnapshot int64 = -1

	// Partition field ids start above the column id space.
	PartitionFieldIDStart = 1000
)

type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Required bool   `json:"required"`
	Doc      string `json:"doc,omitempty"`
}

type Schema struct {
	SchemaID int     `json:"schema-id"`
	Fields   []Field `json:"fields"`
}

func (s Schema) Equal(other Schema) bool {
	return s.SchemaID == other.SchemaID && slices.Equal(s.Fields, other.Fields)
}

func (s Schema) FindField(id int) (Field, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// FieldIDs returns the ids of all fields in s, including those nested in
// struct, list and map types.
func (s Schema) FieldIDs() []int {
	ids := make([]int, 0, len(s.Fields))
	for _, f := range s.Fields {
		ids = append(ids, f.ID)
		ids = f.Type.fieldIDs(ids)
	}
	return ids
}

// HighestFieldID returns the largest field id in s, or 0 if s has no fields.
func (s Schema) HighestFieldID() int {
	highest := 0
	for _, id := range s.FieldIDs() {
		highest = max(highest, id)
	}
	return highest
}

func (s Schema) clone() Schema {
	s.Fields = slices.Clone(s.Fields)
	return s
}

type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

func (p PartitionSpec) Equal(other PartitionSpec) bool {
	return p.SpecID == other.SpecID && slices.Equal(p.Fields, other.Fields)
}

func (p PartitionSpec) IsUnpartitioned() bool {
	return len(p.Fields) == 0
}

func (p PartitionSpec) clone() PartitionSpec {
	p.Fields = slices.Clone(p.Fields)
	return p
}

// Snapshot is a point-in-time view of the table's data files. The manifest
// list is opaque to this package.
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number,omitempty"`
	TimestampMS      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list,omitempty"`
	Summary          map[string]string `json:"summary,omitempty"`
	SchemaID         *int              `json:"schema-id,omitempty"`
}

func (s Snapshot) Equal(other Snapshot) bool {
	return s.SnapshotID == other.SnapshotID &&
		equalPtr(s.ParentSnapshotID, other.ParentSnapshotID) &&
		s.SequenceNumber == other.SequenceNumber &&
		s.TimestampMS == other.TimestampMS &&
		s.ManifestList == other.ManifestList &&
		maps.Equal(s.Summary, other.Summary) &&
		equalPtr(s.SchemaID, other.SchemaID)
}

func (s Snapshot) clone() Snapshot {
	if s.ParentSnapshotID != nil {
		p := *s.ParentSnapshotID
		s.ParentSnapshotID = &p
	}
	if s.SchemaID != nil {
		id := *s.SchemaID
		s.SchemaID = &id
	}
	s.Summary = maps.Clone(s.Summary)
	return s
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type SnapshotLogEntry struct {
	TimestampMS int64 `json:"timestamp-ms"`
	SnapshotID  int64 `json:"snapshot-id"`
}

type MetadataLogEntry struct {
	TimestampMS  int64  `json:"timestamp-ms"`
	MetadataFile string `json:"metadata-file"`
}
