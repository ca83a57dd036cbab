package locations

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/akmistry/tablemeta/internal/metadata"
)

const (
	MetadataDir    = "metadata"
	MetadataSuffix = ".metadata.json"
)

// Resolver maps metadata file names to full locations for one table.
type Resolver struct {
	metadataDir string
}

// NewResolver returns a resolver for a table rooted at base. If props sets
// write.metadata.path, metadata files are placed there instead of
// <base>/metadata.
func NewResolver(base string, props map[string]string) *Resolver {
	dir := props[metadata.PropMetadataPath]
	if dir == "" {
		dir = join(base, MetadataDir)
	}
	return &Resolver{metadataDir: strings.TrimRight(dir, "/")}
}

// ForMetadata returns the resolver for the table described by m.
func ForMetadata(m *metadata.TableMetadata) *Resolver {
	return NewResolver(m.Location(), m.Properties())
}

func (r *Resolver) MetadataDir() string {
	return r.metadataDir
}

// Resolve returns the location of fileName. The result does not depend on
// whether the file exists.
func (r *Resolver) Resolve(fileName string) string {
	return join(r.metadataDir, fileName)
}

// Locations may be URLs, so path.Join would collapse "//" after the scheme.
func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + strings.TrimLeft(name, "/")
}

// MetadataFileName returns a fresh, never-reused file name for the given
// table version.
func MetadataFileName(version int) string {
	return fmt.Sprintf("%05d-%s%s", version, uuid.NewString(), MetadataSuffix)
}

// ParseVersion extracts the version number from a metadata file location
// produced by MetadataFileName. It returns -1 if the name does not carry one.
func ParseVersion(location string) int {
	name := path.Base(location)
	if !strings.HasSuffix(name, MetadataSuffix) {
		return -1
	}
	prefix, _, ok := strings.Cut(name, "-")
	if !ok || prefix == "" {
		return -1
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v < 0 {
		return -1
	}
	return v
}
