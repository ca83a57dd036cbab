package metadata

import (
	"fmt"
	"maps"
)

// WithSnapshot appends s to the history and makes it current. A missing
// parent defaults to the current snapshot, a zero timestamp to now, and in
// format version 2 a zero sequence number to the next one.
func (m *TableMetadata) WithSnapshot(s Snapshot) (*TableMetadata, error) {
	if s.SnapshotID < 0 {
		return nil, fmt.Errorf("%w: negative snapshot id %d", ErrInvalidMetadata, s.SnapshotID)
	}
	if _, ok := m.SnapshotByID(s.SnapshotID); ok {
		return nil, fmt.Errorf("%w: snapshot id %d already exists", ErrInvalidMetadata, s.SnapshotID)
	}
	if s.SchemaID != nil {
		if _, ok := m.SchemaByID(*s.SchemaID); !ok {
			return nil, fmt.Errorf("%w: snapshot schema %d not found", ErrInvalidMetadata, *s.SchemaID)
		}
	}

	c := m.clone()
	s = s.clone()
	if s.ParentSnapshotID == nil && m.currentSnapshotID != NoSnapshot {
		parent := m.currentSnapshotID
		s.ParentSnapshotID = &parent
	}
	if s.TimestampMS == 0 {
		s.TimestampMS = nowMillis()
	}
	if c.formatVersion >= 2 {
		if s.SequenceNumber == 0 {
			s.SequenceNumber = c.lastSequenceNumber + 1
		} else if s.SequenceNumber <= c.lastSequenceNumber {
			return nil, fmt.Errorf("%w: sequence number %d must be > %d",
				ErrInvalidMetadata, s.SequenceNumber, c.lastSequenceNumber)
		}
		c.lastSequenceNumber = s.SequenceNumber
	}
	if s.SchemaID == nil {
		id := c.currentSchemaID
		s.SchemaID = &id
	}

	c.snapshots = append(c.snapshots, s)
	c.currentSnapshotID = s.SnapshotID
	c.snapshotLog = append(c.snapshotLog, SnapshotLogEntry{
		TimestampMS: s.TimestampMS,
		SnapshotID:  s.SnapshotID,
	})
	c.lastUpdatedMS = max(s.TimestampMS, nowMillis())
	c.metadataFileLocation = ""
	return c, nil
}

// WithCurrentSnapshot rolls the table to an existing snapshot.
func (m *TableMetadata) WithCurrentSnapshot(id int64) (*TableMetadata, error) {
	if id == m.currentSnapshotID {
		return m, nil
	}
	if _, ok := m.SnapshotByID(id); !ok {
		return nil, fmt.Errorf("%w: snapshot %d not found", ErrInvalidMetadata, id)
	}
	c := m.clone()
	now := nowMillis()
	c.currentSnapshotID = id
	c.snapshotLog = append(c.snapshotLog, SnapshotLogEntry{TimestampMS: now, SnapshotID: id})
	c.lastUpdatedMS = now
	c.metadataFileLocation = ""
	return c, nil
}

// WithSchema adds s and makes it the current schema. An existing schema with
// the same id is replaced only if it is identical.
func (m *TableMetadata) WithSchema(s Schema) (*TableMetadata, error) {
	c := m.clone()
	if existing, ok := m.SchemaByID(s.SchemaID); ok {
		if !existing.Equal(s) {
			return nil, fmt.Errorf("%w: schema %d already exists with different fields", ErrInvalidMetadata, s.SchemaID)
		}
	} else {
		c.schemas = append(c.schemas, s.clone())
	}
	c.lastColumnID = max(c.lastColumnID, s.HighestFieldID())
	c.currentSchemaID = s.SchemaID
	c.lastUpdatedMS = nowMillis()
	c.metadataFileLocation = ""
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithPartitionSpec adds spec and makes it the default.
func (m *TableMetadata) WithPartitionSpec(spec PartitionSpec) (*TableMetadata, error) {
	c := m.clone()
	if existing, ok := m.SpecByID(spec.SpecID); ok {
		if !existing.Equal(spec) {
			return nil, fmt.Errorf("%w: partition spec %d already exists with different fields", ErrInvalidMetadata, spec.SpecID)
		}
	} else {
		c.specs = append(c.specs, spec.clone())
	}
	for _, f := range spec.Fields {
		c.lastPartitionID = max(c.lastPartitionID, f.FieldID)
	}
	c.defaultSpecID = spec.SpecID
	c.lastUpdatedMS = nowMillis()
	c.metadataFileLocation = ""
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (m *TableMetadata) WithProperties(set map[string]string, remove []string) *TableMetadata {
	c := m.clone()
	if c.properties == nil {
		c.properties = make(map[string]string)
	}
	maps.Copy(c.properties, set)
	for _, k := range remove {
		delete(c.properties, k)
	}
	c.lastUpdatedMS = nowMillis()
	c.metadataFileLocation = ""
	return c
}

func (m *TableMetadata) WithLocation(location string) *TableMetadata {
	c := m.clone()
	c.location = location
	c.lastUpdatedMS = nowMillis()
	c.metadataFileLocation = ""
	return c
}

// WithPreviousFile records prev, the metadata file this value replaces, in
// the metadata log, keeping at most maxEntries. It returns the entries that
// were dropped from the log.
func (m *TableMetadata) WithPreviousFile(prev string, timestampMS int64, maxEntries int) (*TableMetadata, []MetadataLogEntry) {
	c := m.clone()
	c.metadataFileLocation = ""
	if prev == "" {
		return c, nil
	}
	c.metadataLog = append(c.metadataLog, MetadataLogEntry{
		TimestampMS:  timestampMS,
		MetadataFile: prev,
	})
	var dropped []MetadataLogEntry
	if maxEntries < 1 {
		maxEntries = 1
	}
	if n := len(c.metadataLog) - maxEntries; n > 0 {
		dropped = append(dropped, c.metadataLog[:n]...)
		c.metadataLog = append([]MetadataLogEntry(nil), c.metadataLog[n:]...)
	}
	return c, dropped
}

// WithMetadataFileLocation returns a copy that records where it is stored.
func (m *TableMetadata) WithMetadataFileLocation(location string) *TableMetadata {
	c := m.clone()
	c.metadataFileLocation = location
	return c
}
