package metadata

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	SupportedFormatVersion = 2
	DefaultFormatVersion   = 2
)

// Table properties understood by this module.
const (
	PropMetadataPath                = "write.metadata.path"
	PropMetadataPreviousVersionsMax = "write.metadata.previous-versions-max"
	PropMetadataDeleteAfterCommit   = "write.metadata.delete-after-commit.enabled"
	PropCommitNumRetries            = "commit.retry.num-retries"
	PropCommitMinWaitMS             = "commit.retry.min-wait-ms"
	PropCommitMaxWaitMS             = "commit.retry.max-wait-ms"
)

const (
	DefaultMetadataPreviousVersions = 100
	DefaultCommitNumRetries         = 4
	DefaultCommitMinWaitMS          = 100
	DefaultCommitMaxWaitMS          = 60 * 1000
)

var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

// TableMetadata is an immutable description of a table at one version.
//
// Accessors return copies, and every change produces a new value through one
// of the With* methods. A value may be shared freely between goroutines.
type TableMetadata struct {
	formatVersion      int
	tableUUID          uuid.UUID
	location           string
	lastSequenceNumber int64
	lastUpdatedMS      int64
	lastColumnID       int
	schemas            []Schema
	currentSchemaID    int
	specs              []PartitionSpec
	defaultSpecID      int
	lastPartitionID    int
	properties         map[string]string
	currentSnapshotID  int64
	snapshots          []Snapshot
	snapshotLog        []SnapshotLogEntry
	metadataLog        []MetadataLogEntry

	// Not serialized: where this value was read from or written to.
	metadataFileLocation string
}

// New creates format version 2 metadata for a table without snapshots.
func New(location string, schema Schema, spec PartitionSpec, props map[string]string) (*TableMetadata, error) {
	lastPartitionID := PartitionFieldIDStart - 1
	for _, f := range spec.Fields {
		lastPartitionID = max(lastPartitionID, f.FieldID)
	}
	lastColumnID := schema.HighestFieldID()
	if props == nil {
		props = map[string]string{}
	}

	m := &TableMetadata{
		formatVersion:     DefaultFormatVersion,
		tableUUID:         uuid.New(),
		location:          location,
		lastUpdatedMS:     nowMillis(),
		lastColumnID:      lastColumnID,
		schemas:           []Schema{schema.clone()},
		currentSchemaID:   schema.SchemaID,
		specs:             []PartitionSpec{spec.clone()},
		defaultSpecID:     spec.SpecID,
		lastPartitionID:   lastPartitionID,
		properties:        maps.Clone(props),
		currentSnapshotID: NoSnapshot,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TableMetadata) clone() *TableMetadata {
	c := *m
	c.schemas = make([]Schema, len(m.schemas))
	for i, s := range m.schemas {
		c.schemas[i] = s.clone()
	}
	c.specs = make([]PartitionSpec, len(m.specs))
	for i, s := range m.specs {
		c.specs[i] = s.clone()
	}
	c.snapshots = make([]Snapshot, len(m.snapshots))
	for i, s := range m.snapshots {
		c.snapshots[i] = s.clone()
	}
	c.properties = maps.Clone(m.properties)
	c.snapshotLog = slices.Clone(m.snapshotLog)
	c.metadataLog = slices.Clone(m.metadataLog)
	return &c
}

func (m *TableMetadata) FormatVersion() int        { return m.formatVersion }
func (m *TableMetadata) TableUUID() uuid.UUID      { return m.tableUUID }
func (m *TableMetadata) Location() string          { return m.location }
func (m *TableMetadata) LastSequenceNumber() int64 { return m.lastSequenceNumber }
func (m *TableMetadata) LastUpdatedMillis() int64  { return m.lastUpdatedMS }
func (m *TableMetadata) LastColumnID() int         { return m.lastColumnID }
func (m *TableMetadata) LastPartitionID() int      { return m.lastPartitionID }
func (m *TableMetadata) CurrentSchemaID() int      { return m.currentSchemaID }
func (m *TableMetadata) DefaultSpecID() int        { return m.defaultSpecID }
func (m *TableMetadata) CurrentSnapshotID() int64  { return m.currentSnapshotID }

// MetadataFileLocation is the file this value was read from or committed to.
// It is empty for values that have not been written yet.
func (m *TableMetadata) MetadataFileLocation() string {
	return m.metadataFileLocation
}

func (m *TableMetadata) Schemas() []Schema {
	ls := make([]Schema, len(m.schemas))
	for i, s := range m.schemas {
		ls[i] = s.clone()
	}
	return ls
}

func (m *TableMetadata) CurrentSchema() Schema {
	s, _ := m.SchemaByID(m.currentSchemaID)
	return s
}

func (m *TableMetadata) SchemaByID(id int) (Schema, bool) {
	for _, s := range m.schemas {
		if s.SchemaID == id {
			return s.clone(), true
		}
	}
	return Schema{}, false
}

func (m *TableMetadata) PartitionSpecs() []PartitionSpec {
	ls := make([]PartitionSpec, len(m.specs))
	for i, s := range m.specs {
		ls[i] = s.clone()
	}
	return ls
}

func (m *TableMetadata) PartitionSpec() PartitionSpec {
	s, _ := m.SpecByID(m.defaultSpecID)
	return s
}

func (m *TableMetadata) SpecByID(id int) (PartitionSpec, bool) {
	for _, s := range m.specs {
		if s.SpecID == id {
			return s.clone(), true
		}
	}
	return PartitionSpec{}, false
}

func (m *TableMetadata) Properties() map[string]string {
	return maps.Clone(m.properties)
}

func (m *TableMetadata) Property(key, defaultVal string) string {
	if v, ok := m.properties[key]; ok {
		return v
	}
	return defaultVal
}

func (m *TableMetadata) PropertyInt(key string, defaultVal int) int {
	v, ok := m.properties[key]
	if !ok {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func (m *TableMetadata) PropertyBool(key string, defaultVal bool) bool {
	v, ok := m.properties[key]
	if !ok {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// Snapshots returns the snapshot history, oldest first.
func (m *TableMetadata) Snapshots() []Snapshot {
	ls := make([]Snapshot, len(m.snapshots))
	for i, s := range m.snapshots {
		ls[i] = s.clone()
	}
	return ls
}

func (m *TableMetadata) SnapshotIDs() []int64 {
	ids := make([]int64, len(m.snapshots))
	for i, s := range m.snapshots {
		ids[i] = s.SnapshotID
	}
	return ids
}

func (m *TableMetadata) SnapshotByID(id int64) (Snapshot, bool) {
	for _, s := range m.snapshots {
		if s.SnapshotID == id {
			return s.clone(), true
		}
	}
	return Snapshot{}, false
}

func (m *TableMetadata) CurrentSnapshot() (Snapshot, bool) {
	if m.currentSnapshotID == NoSnapshot {
		return Snapshot{}, false
	}
	return m.SnapshotByID(m.currentSnapshotID)
}

// Ancestors walks parent pointers from id, returning id first. The walk stops
// at the first parent that is no longer in the history.
func (m *TableMetadata) Ancestors(id int64) []Snapshot {
	var ls []Snapshot
	seen := make(map[int64]bool)
	for {
		s, ok := m.SnapshotByID(id)
		if !ok || seen[id] {
			return ls
		}
		seen[id] = true
		ls = append(ls, s)
		if s.ParentSnapshotID == nil {
			return ls
		}
		id = *s.ParentSnapshotID
	}
}

func (m *TableMetadata) SnapshotLog() []SnapshotLogEntry {
	return slices.Clone(m.snapshotLog)
}

func (m *TableMetadata) MetadataLog() []MetadataLogEntry {
	return slices.Clone(m.metadataLog)
}

// Equal compares table content. The metadata file location and update
// timestamps are not part of the comparison.
func (m *TableMetadata) Equal(other *TableMetadata) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	return m.formatVersion == other.formatVersion &&
		m.tableUUID == other.tableUUID &&
		m.location == other.location &&
		m.lastSequenceNumber == other.lastSequenceNumber &&
		m.lastColumnID == other.lastColumnID &&
		m.currentSchemaID == other.currentSchemaID &&
		m.defaultSpecID == other.defaultSpecID &&
		m.lastPartitionID == other.lastPartitionID &&
		m.currentSnapshotID == other.currentSnapshotID &&
		slices.EqualFunc(m.schemas, other.schemas, Schema.Equal) &&
		slices.EqualFunc(m.specs, other.specs, PartitionSpec.Equal) &&
		slices.EqualFunc(m.snapshots, other.snapshots, Snapshot.Equal) &&
		maps.Equal(m.properties, other.properties) &&
		slices.Equal(m.snapshotLog, other.snapshotLog) &&
		slices.Equal(m.metadataLog, other.metadataLog)
}
