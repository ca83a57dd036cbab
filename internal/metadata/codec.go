package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidMetadata = errors.New("metadata: invalid table metadata")
)

// metadataJSON is the on-disk form. Pointer fields tell a missing field apart
// from a zero value, so required fields can be enforced per format version.
type metadataJSON struct {
	FormatVersion      *int               `json:"format-version"`
	TableUUID          *uuid.UUID         `json:"table-uuid,omitempty"`
	Location           *string            `json:"location"`
	LastSequenceNumber *int64             `json:"last-sequence-number,omitempty"`
	LastUpdatedMS      *int64             `json:"last-updated-ms"`
	LastColumnID       *int               `json:"last-column-id"`
	Schema             *Schema            `json:"schema,omitempty"`
	Schemas            []Schema           `json:"schemas,omitempty"`
	CurrentSchemaID    *int               `json:"current-schema-id,omitempty"`
	PartitionSpec      []PartitionField   `json:"partition-spec,omitempty"`
	PartitionSpecs     []PartitionSpec    `json:"partition-specs,omitempty"`
	DefaultSpecID      *int               `json:"default-spec-id,omitempty"`
	LastPartitionID    *int               `json:"last-partition-id,omitempty"`
	Properties         map[string]string  `json:"properties,omitempty"`
	CurrentSnapshotID  *int64             `json:"current-snapshot-id"`
	Snapshots          []Snapshot         `json:"snapshots,omitempty"`
	SnapshotLog        []SnapshotLogEntry `json:"snapshot-log,omitempty"`
	MetadataLog        []MetadataLogEntry `json:"metadata-log,omitempty"`
}

// Marshal serializes m as indented JSON.
func Marshal(m *TableMetadata) ([]byte, error) {
	currentSnapshotID := m.currentSnapshotID
	w := metadataJSON{
		FormatVersion:     &m.formatVersion,
		Location:          &m.location,
		LastUpdatedMS:     &m.lastUpdatedMS,
		LastColumnID:      &m.lastColumnID,
		Schemas:           m.schemas,
		CurrentSchemaID:   &m.currentSchemaID,
		PartitionSpecs:    m.specs,
		DefaultSpecID:     &m.defaultSpecID,
		LastPartitionID:   &m.lastPartitionID,
		Properties:        m.properties,
		CurrentSnapshotID: &currentSnapshotID,
		Snapshots:         m.snapshots,
		SnapshotLog:       m.snapshotLog,
		MetadataLog:       m.metadataLog,
	}
	if m.tableUUID != uuid.Nil {
		w.TableUUID = &m.tableUUID
	}
	if m.formatVersion >= 2 {
		w.LastSequenceNumber = &m.lastSequenceNumber
	} else {
		// Version 1 readers only know the single schema and spec fields.
		s := m.CurrentSchema()
		w.Schema = &s
		w.PartitionSpec = m.PartitionSpec().Fields
		if w.PartitionSpec == nil {
			w.PartitionSpec = []PartitionField{}
		}
	}

	b, err := json.MarshalIndent(&w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("metadata: marshal: %w", err)
	}
	return b, nil
}

func Parse(r io.Reader) (*TableMetadata, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseBytes(b)
}

// ParseBytes decodes table metadata. Unknown fields are ignored. Fields that
// are required by the declared format version must be present.
func ParseBytes(b []byte) (*TableMetadata, error) {
	var w metadataJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if w.FormatVersion == nil {
		return nil, fmt.Errorf("%w: missing format-version", ErrInvalidMetadata)
	}

	var m *TableMetadata
	var err error
	switch v := *w.FormatVersion; v {
	case 1:
		m, err = fromV1(&w)
	case 2:
		m, err = fromV2(&w)
	default:
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidMetadata, v)
	}
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func missingFields(names ...string) error {
	return fmt.Errorf("%w: missing required fields: %s", ErrInvalidMetadata, strings.Join(names, ", "))
}

func fromCommon(w *metadataJSON) *TableMetadata {
	m := &TableMetadata{
		formatVersion:     *w.FormatVersion,
		location:          *w.Location,
		lastUpdatedMS:     *w.LastUpdatedMS,
		lastColumnID:      *w.LastColumnID,
		schemas:           w.Schemas,
		specs:             w.PartitionSpecs,
		properties:        w.Properties,
		currentSnapshotID: NoSnapshot,
		snapshots:         w.Snapshots,
		snapshotLog:       w.SnapshotLog,
		metadataLog:       w.MetadataLog,
	}
	if m.properties == nil {
		m.properties = map[string]string{}
	}
	if w.TableUUID != nil {
		m.tableUUID = *w.TableUUID
	}
	if w.CurrentSnapshotID != nil && *w.CurrentSnapshotID >= 0 {
		m.currentSnapshotID = *w.CurrentSnapshotID
	}
	if w.LastPartitionID != nil {
		m.lastPartitionID = *w.LastPartitionID
	}
	return m
}

func fromV1(w *metadataJSON) (*TableMetadata, error) {
	var missing []string
	if w.Location == nil {
		missing = append(missing, "location")
	}
	if w.LastUpdatedMS == nil {
		missing = append(missing, "last-updated-ms")
	}
	if w.LastColumnID == nil {
		missing = append(missing, "last-column-id")
	}
	if w.Schema == nil && w.Schemas == nil {
		missing = append(missing, "schema")
	}
	if w.PartitionSpec == nil && w.PartitionSpecs == nil {
		missing = append(missing, "partition-spec")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing...)
	}

	if w.Schemas == nil {
		w.Schemas = []Schema{*w.Schema}
	}
	if w.PartitionSpecs == nil {
		w.PartitionSpecs = []PartitionSpec{{SpecID: 0, Fields: w.PartitionSpec}}
	}
	m := fromCommon(w)

	if w.CurrentSchemaID != nil {
		m.currentSchemaID = *w.CurrentSchemaID
	} else if w.Schema != nil {
		m.currentSchemaID = w.Schema.SchemaID
	} else {
		m.currentSchemaID = w.Schemas[0].SchemaID
	}
	if w.DefaultSpecID != nil {
		m.defaultSpecID = *w.DefaultSpecID
	} else {
		m.defaultSpecID = w.PartitionSpecs[0].SpecID
	}
	if w.LastPartitionID == nil {
		m.lastPartitionID = PartitionFieldIDStart - 1
		for _, spec := range m.specs {
			for _, f := range spec.Fields {
				m.lastPartitionID = max(m.lastPartitionID, f.FieldID)
			}
		}
	}
	return m, nil
}

func fromV2(w *metadataJSON) (*TableMetadata, error) {
	var missing []string
	if w.TableUUID == nil {
		missing = append(missing, "table-uuid")
	}
	if w.Location == nil {
		missing = append(missing, "location")
	}
	if w.LastSequenceNumber == nil {
		missing = append(missing, "last-sequence-number")
	}
	if w.LastUpdatedMS == nil {
		missing = append(missing, "last-updated-ms")
	}
	if w.LastColumnID == nil {
		missing = append(missing, "last-column-id")
	}
	if w.Schemas == nil {
		missing = append(missing, "schemas")
	}
	if w.CurrentSchemaID == nil {
		missing = append(missing, "current-schema-id")
	}
	if w.PartitionSpecs == nil {
		missing = append(missing, "partition-specs")
	}
	if w.DefaultSpecID == nil {
		missing = append(missing, "default-spec-id")
	}
	if w.LastPartitionID == nil {
		missing = append(missing, "last-partition-id")
	}
	if len(missing) > 0 {
		return nil, missingFields(missing...)
	}

	m := fromCommon(w)
	m.lastSequenceNumber = *w.LastSequenceNumber
	m.currentSchemaID = *w.CurrentSchemaID
	m.defaultSpecID = *w.DefaultSpecID
	return m, nil
}
