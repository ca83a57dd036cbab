package metadata

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
)

func testSchema() Schema {
	return Schema{
		SchemaID: 0,
		Fields: []Field{
			{ID: 1, Name: "id", Type: "long", Required: true},
			{ID: 2, Name: "data", Type: "string"},
			{ID: 3, Name: "ts", Type: "timestamptz", Required: true},
		},
	}
}

func testSpec() PartitionSpec {
	return PartitionSpec{
		SpecID: 0,
		Fields: []PartitionField{
			{SourceID: 3, FieldID: 1000, Name: "ts_day", Transform: "day"},
		},
	}
}

func newTestMetadata(t *testing.T) *TableMetadata {
	t.Helper()
	m, err := New("db/events", testSchema(), testSpec(), map[string]string{"owner": "test"})
	if err != nil {
		t.Fatalf("New error %v", err)
	}
	return m
}

func TestNew(t *testing.T) {
	m := newTestMetadata(t)
	if m.FormatVersion() != 2 {
		t.Errorf("FormatVersion() %d != 2", m.FormatVersion())
	}
	if m.LastColumnID() != 3 {
		t.Errorf("LastColumnID() %d != 3", m.LastColumnID())
	}
	if m.LastPartitionID() != 1000 {
		t.Errorf("LastPartitionID() %d != 1000", m.LastPartitionID())
	}
	if m.CurrentSnapshotID() != NoSnapshot {
		t.Errorf("CurrentSnapshotID() %d != %d", m.CurrentSnapshotID(), NoSnapshot)
	}
	if _, ok := m.CurrentSnapshot(); ok {
		t.Errorf("CurrentSnapshot() found on new table")
	}
	if !m.CurrentSchema().Equal(testSchema()) {
		t.Errorf("CurrentSchema() %v != %v", m.CurrentSchema(), testSchema())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
		spec   PartitionSpec
	}{
		{"duplicate field id", Schema{Fields: []Field{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}}, PartitionSpec{}},
		{"unnamed field", Schema{Fields: []Field{{ID: 1}}}, PartitionSpec{}},
		{"unknown partition source", testSchema(), PartitionSpec{Fields: []PartitionField{{SourceID: 9, FieldID: 1000, Name: "x"}}}},
		{"duplicate partition field", testSchema(), PartitionSpec{Fields: []PartitionField{
			{SourceID: 1, FieldID: 1000, Name: "a"}, {SourceID: 2, FieldID: 1000, Name: "b"}}}},
	}
	for _, tc := range tests {
		_, err := New("loc", tc.schema, tc.spec, nil)
		if !errors.Is(err, ErrInvalidMetadata) {
			t.Errorf("%s: New error %v != ErrInvalidMetadata", tc.name, err)
		}
	}
}

func TestImmutability(t *testing.T) {
	m := newTestMetadata(t)

	props := m.Properties()
	props["owner"] = "changed"
	if m.Property("owner", "") != "test" {
		t.Errorf("Properties() exposed internal map")
	}

	schemas := m.Schemas()
	schemas[0].Fields[0].Name = "changed"
	if m.CurrentSchema().Fields[0].Name != "id" {
		t.Errorf("Schemas() exposed internal slice")
	}

	next, err := m.WithSnapshot(Snapshot{SnapshotID: 101})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Snapshots()) != 0 {
		t.Errorf("WithSnapshot mutated the base value")
	}
	if len(next.Snapshots()) != 1 {
		t.Errorf("WithSnapshot result has %d snapshots", len(next.Snapshots()))
	}

	s, _ := next.SnapshotByID(101)
	*s.SchemaID = 55
	s2, _ := next.SnapshotByID(101)
	if *s2.SchemaID != 0 {
		t.Errorf("SnapshotByID exposed internal pointer")
	}
}

func TestWithSnapshot(t *testing.T) {
	m := newTestMetadata(t)

	m1, err := m.WithSnapshot(Snapshot{SnapshotID: 101, ManifestList: "snap-101.avro"})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := m1.WithSnapshot(Snapshot{SnapshotID: 102, ManifestList: "snap-102.avro"})
	if err != nil {
		t.Fatal(err)
	}

	if ids := m2.SnapshotIDs(); !slices.Equal(ids, []int64{101, 102}) {
		t.Errorf("SnapshotIDs() %v != [101 102]", ids)
	}
	if m2.CurrentSnapshotID() != 102 {
		t.Errorf("CurrentSnapshotID() %d != 102", m2.CurrentSnapshotID())
	}
	s, _ := m2.SnapshotByID(102)
	if s.ParentSnapshotID == nil || *s.ParentSnapshotID != 101 {
		t.Errorf("parent of 102 %v != 101", s.ParentSnapshotID)
	}
	if s.SequenceNumber != 2 || m2.LastSequenceNumber() != 2 {
		t.Errorf("sequence number %d, last %d != 2", s.SequenceNumber, m2.LastSequenceNumber())
	}
	if s.SchemaID == nil || *s.SchemaID != 0 {
		t.Errorf("schema id %v != 0", s.SchemaID)
	}
	if len(m2.SnapshotLog()) != 2 {
		t.Errorf("SnapshotLog() len %d != 2", len(m2.SnapshotLog()))
	}

	ancestors := m2.Ancestors(102)
	if len(ancestors) != 2 || ancestors[0].SnapshotID != 102 || ancestors[1].SnapshotID != 101 {
		t.Errorf("Ancestors(102) %v", ancestors)
	}

	if _, err := m2.WithSnapshot(Snapshot{SnapshotID: 101}); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("duplicate snapshot error %v", err)
	}
	if _, err := m2.WithSnapshot(Snapshot{SnapshotID: -5}); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("negative snapshot error %v", err)
	}
	if _, err := m2.WithSnapshot(Snapshot{SnapshotID: 103, SequenceNumber: 1}); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("stale sequence number error %v", err)
	}

	rolled, err := m2.WithCurrentSnapshot(101)
	if err != nil {
		t.Fatal(err)
	}
	if rolled.CurrentSnapshotID() != 101 || len(rolled.Snapshots()) != 2 {
		t.Errorf("rollback: current %d, %d snapshots", rolled.CurrentSnapshotID(), len(rolled.Snapshots()))
	}
	if _, err := m2.WithCurrentSnapshot(999); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("unknown snapshot error %v", err)
	}
}

func TestWithSchemaAndSpec(t *testing.T) {
	m := newTestMetadata(t)

	s1 := testSchema()
	s1.SchemaID = 1
	s1.Fields = append(s1.Fields, Field{ID: 4, Name: "category", Type: "string"})
	m1, err := m.WithSchema(s1)
	if err != nil {
		t.Fatal(err)
	}
	if m1.CurrentSchemaID() != 1 || m1.LastColumnID() != 4 || len(m1.Schemas()) != 2 {
		t.Errorf("WithSchema: current %d, last column %d, %d schemas",
			m1.CurrentSchemaID(), m1.LastColumnID(), len(m1.Schemas()))
	}

	conflicting := testSchema()
	conflicting.Fields = conflicting.Fields[:1]
	if _, err := m1.WithSchema(conflicting); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("conflicting schema error %v", err)
	}

	spec := PartitionSpec{SpecID: 1, Fields: []PartitionField{
		{SourceID: 4, FieldID: 1001, Name: "category", Transform: "identity"},
	}}
	m2, err := m1.WithPartitionSpec(spec)
	if err != nil {
		t.Fatal(err)
	}
	if m2.DefaultSpecID() != 1 || m2.LastPartitionID() != 1001 {
		t.Errorf("WithPartitionSpec: default %d, last partition id %d", m2.DefaultSpecID(), m2.LastPartitionID())
	}
}

func TestWithPreviousFile(t *testing.T) {
	m := newTestMetadata(t)

	var dropped []MetadataLogEntry
	for i, f := range []string{"v1", "v2", "v3", "v4"} {
		m, dropped = m.WithPreviousFile(f, int64(i), 3)
	}
	log := m.MetadataLog()
	if len(log) != 3 || log[0].MetadataFile != "v2" || log[2].MetadataFile != "v4" {
		t.Errorf("MetadataLog() %v", log)
	}
	if len(dropped) != 1 || dropped[0].MetadataFile != "v1" {
		t.Errorf("dropped %v != [v1]", dropped)
	}
}

func TestRoundTrip(t *testing.T) {
	m := newTestMetadata(t)
	m, _ = m.WithSnapshot(Snapshot{SnapshotID: 101, ManifestList: "a", Summary: map[string]string{"operation": "append"}})
	m, _ = m.WithSnapshot(Snapshot{SnapshotID: 102, ManifestList: "b"})
	m = m.WithProperties(map[string]string{"k": "v"}, nil)
	m, _ = m.WithPreviousFile("db/events/metadata/00001-x.metadata.json", 5, 10)

	b, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseBytes(b)
	if err != nil {
		t.Fatalf("ParseBytes error %v\n%s", err, b)
	}
	if !parsed.Equal(m) {
		t.Errorf("round trip mismatch\n%s", b)
	}
	if !slices.Equal(parsed.SnapshotIDs(), m.SnapshotIDs()) {
		t.Errorf("snapshot history %v != %v", parsed.SnapshotIDs(), m.SnapshotIDs())
	}
	if parsed.CurrentSnapshotID() != 102 {
		t.Errorf("current snapshot %d != 102", parsed.CurrentSnapshotID())
	}
	if !parsed.PartitionSpec().Equal(m.PartitionSpec()) || !parsed.CurrentSchema().Equal(m.CurrentSchema()) {
		t.Errorf("schema or spec mismatch")
	}

	// Nested column types survive a round trip and count toward the column ids.
	var loc Field
	if err := json.Unmarshal([]byte(`{"id": 4, "name": "loc", "required": false, "type": {
		"type": "struct", "fields": [
			{"id": 5, "name": "lat", "required": true, "type": "double"},
			{"id": 6, "name": "tags", "required": false,
			 "type": {"type": "list", "element-id": 7, "element": "string", "element-required": false}}]}}`), &loc); err != nil {
		t.Fatal(err)
	}
	nested := testSchema()
	nested.SchemaID = 1
	nested.Fields = append(nested.Fields, loc)
	m, err = m.WithSchema(nested)
	if err != nil {
		t.Fatal(err)
	}
	if m.LastColumnID() != 7 {
		t.Errorf("LastColumnID() %d != 7", m.LastColumnID())
	}
	b, err = Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err = ParseBytes(b)
	if err != nil {
		t.Fatalf("ParseBytes error %v\n%s", err, b)
	}
	if !parsed.Equal(m) || !parsed.CurrentSchema().Equal(nested) {
		t.Errorf("nested round trip mismatch\n%s", b)
	}
	f, _ := parsed.CurrentSchema().FindField(4)
	if !f.Type.IsNested() || f.Type.Kind() != "struct" {
		t.Errorf("field type %s, kind %s", f.Type, f.Type.Kind())
	}
	if !strings.Contains(string(b), `"element-required": false`) {
		t.Errorf("nested type members dropped\n%s", b)
	}
}

const v2NestedMetadata = `{
  "format-version": 2,
  "table-uuid": "9c12d441-03fe-4693-9a96-a0705ddf69c1",
  "location": "s3://bucket/test/location",
  "last-sequence-number": 0,
  "last-updated-ms": 1602638573590,
  "last-column-id": 8,
  "current-schema-id": 0,
  "schemas": [{"type": "struct", "schema-id": 0, "fields": [
    {"id": 1, "name": "x", "required": true, "type": "long"},
    {"id": 2, "name": "p", "required": false, "type": {"type": "struct", "fields": [
      {"id": 3, "name": "a", "required": true, "type": "decimal(9,2)"},
      {"id": 4, "name": "m", "required": false, "type": {"type": "map",
        "key-id": 5, "key": "string", "value-id": 6, "value-required": true,
        "value": {"type": "list", "element-id": 7, "element": "int", "element-required": true}}}]}},
    {"id": 8, "name": "z", "required": true, "type": "string"}]}],
  "default-spec-id": 0,
  "partition-specs": [{"spec-id": 0, "fields": [{"name": "x", "transform": "identity", "source-id": 1, "field-id": 1000}]}],
  "last-partition-id": 1000,
  "current-snapshot-id": -1
}`

func TestParse_NestedTypes(t *testing.T) {
	m, err := ParseBytes([]byte(v2NestedMetadata))
	if err != nil {
		t.Fatalf("ParseBytes error %v", err)
	}
	schema := m.CurrentSchema()
	if ids := schema.FieldIDs(); !slices.Equal(ids, []int{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("FieldIDs() %v", ids)
	}
	p, _ := schema.FindField(2)
	if p.Type.Kind() != "struct" {
		t.Errorf("p kind %s != struct", p.Type.Kind())
	}
	x, _ := schema.FindField(1)
	if x.Type.IsNested() || x.Type.Kind() != "long" {
		t.Errorf("x type %s", x.Type)
	}

	b, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	again, err := ParseBytes(b)
	if err != nil {
		t.Fatalf("re-parse error %v\n%s", err, b)
	}
	if !again.Equal(m) {
		t.Errorf("nested round trip mismatch\n%s", b)
	}

	dup := strings.Replace(v2NestedMetadata, `"key-id": 5`, `"key-id": 3`, 1)
	if _, err := ParseBytes([]byte(dup)); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("duplicate nested id error %v != ErrInvalidMetadata", err)
	}
	bad := strings.Replace(v2NestedMetadata, `"type": "map"`, `"type": "union"`, 1)
	if _, err := ParseBytes([]byte(bad)); !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("unknown nested type error %v != ErrInvalidMetadata", err)
	}
}

const v1Metadata = `{
  "format-version": 1,
  "table-uuid": "d20125c8-7284-442c-9aea-15fee620737c",
  "location": "s3://bucket/test/location",
  "last-updated-ms": 1602638573874,
  "last-column-id": 3,
  "schema": {
    "type": "struct",
    "fields": [
      {"id": 1, "name": "x", "required": true, "type": "long"},
      {"id": 2, "name": "y", "required": true, "type": "long", "doc": "comment"},
      {"id": 3, "name": "z", "required": true, "type": "long"}
    ]
  },
  "partition-spec": [{"name": "x", "transform": "identity", "source-id": 1, "field-id": 1000}],
  "properties": {},
  "current-snapshot-id": -1,
  "snapshots": [{"snapshot-id": 1925, "timestamp-ms": 1602638573822}],
  "some-future-field": {"ignored": true}
}`

func TestParse_V1(t *testing.T) {
	m, err := Parse(strings.NewReader(v1Metadata))
	if err != nil {
		t.Fatalf("Parse error %v", err)
	}
	if m.FormatVersion() != 1 {
		t.Errorf("FormatVersion() %d != 1", m.FormatVersion())
	}
	if len(m.Schemas()) != 1 || len(m.CurrentSchema().Fields) != 3 {
		t.Errorf("schemas %v", m.Schemas())
	}
	if len(m.PartitionSpec().Fields) != 1 || m.LastPartitionID() != 1000 {
		t.Errorf("spec %v, last partition id %d", m.PartitionSpec(), m.LastPartitionID())
	}
	if m.CurrentSnapshotID() != NoSnapshot {
		t.Errorf("current snapshot %d", m.CurrentSnapshotID())
	}

	b, err := Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	again, err := ParseBytes(b)
	if err != nil {
		t.Fatalf("re-parse error %v\n%s", err, b)
	}
	if !again.Equal(m) {
		t.Errorf("v1 round trip mismatch\n%s", b)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"no format version", `{"location": "x"}`},
		{"unsupported version", `{"format-version": 3}`},
		{"v2 missing fields", `{"format-version": 2, "location": "x", "last-updated-ms": 1, "last-column-id": 1,
			"schemas": [{"schema-id": 0, "fields": []}], "partition-specs": [{"spec-id": 0, "fields": []}]}`},
		{"v1 missing schema", `{"format-version": 1, "location": "x", "last-updated-ms": 1, "last-column-id": 1,
			"partition-spec": []}`},
		{"bad current snapshot", `{"format-version": 1, "location": "x", "last-updated-ms": 1, "last-column-id": 1,
			"schema": {"fields": []}, "partition-spec": [], "current-snapshot-id": 7}`},
	}
	for _, tc := range tests {
		_, err := ParseBytes([]byte(tc.data))
		if !errors.Is(err, ErrInvalidMetadata) {
			t.Errorf("%s: error %v != ErrInvalidMetadata", tc.name, err)
		}
	}
}
