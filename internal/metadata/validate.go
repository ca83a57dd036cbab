package metadata

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Ids above this are tracked in a map so a corrupt file can't force a huge
// bitset allocation.
const maxBitsetID = 1 << 20

func checkUniqueIDs(kind string, ids []int) error {
	var seen bitset.BitSet
	var sparse map[int]bool
	for _, id := range ids {
		if id < 0 {
			return fmt.Errorf("%w: negative %s id %d", ErrInvalidMetadata, kind, id)
		}
		var dup bool
		if id < maxBitsetID {
			dup = seen.Test(uint(id))
			seen.Set(uint(id))
		} else {
			if sparse == nil {
				sparse = make(map[int]bool)
			}
			dup = sparse[id]
			sparse[id] = true
		}
		if dup {
			return fmt.Errorf("%w: duplicate %s id %d", ErrInvalidMetadata, kind, id)
		}
	}
	return nil
}

func (s Schema) validate() error {
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: schema %d field %d has no name", ErrInvalidMetadata, s.SchemaID, f.ID)
		}
		if f.Type == "" {
			return fmt.Errorf("%w: schema %d field %s has no type", ErrInvalidMetadata, s.SchemaID, f.Name)
		}
	}
	return checkUniqueIDs("field", s.FieldIDs())
}

func (p PartitionSpec) validate(schema Schema) error {
	ids := make([]int, len(p.Fields))
	for i, f := range p.Fields {
		if _, ok := schema.FindField(f.SourceID); !ok {
			return fmt.Errorf("%w: partition field %s source %d not in current schema",
				ErrInvalidMetadata, f.Name, f.SourceID)
		}
		ids[i] = f.FieldID
	}
	return checkUniqueIDs("partition field", ids)
}

// Validate checks the internal consistency of m.
func (m *TableMetadata) Validate() error {
	if m.formatVersion < 1 || m.formatVersion > SupportedFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrInvalidMetadata, m.formatVersion)
	}
	if len(m.schemas) == 0 {
		return fmt.Errorf("%w: no schemas", ErrInvalidMetadata)
	}
	if len(m.specs) == 0 {
		return fmt.Errorf("%w: no partition specs", ErrInvalidMetadata)
	}

	schemaIDs := make([]int, len(m.schemas))
	for i, s := range m.schemas {
		if err := s.validate(); err != nil {
			return err
		}
		schemaIDs[i] = s.SchemaID
	}
	if err := checkUniqueIDs("schema", schemaIDs); err != nil {
		return err
	}
	current, ok := m.SchemaByID(m.currentSchemaID)
	if !ok {
		return fmt.Errorf("%w: current schema %d not found", ErrInvalidMetadata, m.currentSchemaID)
	}

	specIDs := make([]int, len(m.specs))
	for i, s := range m.specs {
		specIDs[i] = s.SpecID
	}
	if err := checkUniqueIDs("partition spec", specIDs); err != nil {
		return err
	}
	spec, ok := m.SpecByID(m.defaultSpecID)
	if !ok {
		return fmt.Errorf("%w: default partition spec %d not found", ErrInvalidMetadata, m.defaultSpecID)
	}
	if err := spec.validate(current); err != nil {
		return err
	}

	seen := make(map[int64]bool, len(m.snapshots))
	for _, s := range m.snapshots {
		if s.SnapshotID < 0 {
			return fmt.Errorf("%w: negative snapshot id %d", ErrInvalidMetadata, s.SnapshotID)
		}
		if seen[s.SnapshotID] {
			return fmt.Errorf("%w: duplicate snapshot id %d", ErrInvalidMetadata, s.SnapshotID)
		}
		seen[s.SnapshotID] = true
	}
	if m.currentSnapshotID != NoSnapshot && !seen[m.currentSnapshotID] {
		return fmt.Errorf("%w: current snapshot %d not found", ErrInvalidMetadata, m.currentSnapshotID)
	}
	return nil
}
