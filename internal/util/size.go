package util

import (
	"errors"
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidSizeString = errors.New("invalid size string")

	sizePattern = regexp.MustCompile("^([1-9][0-9]*)([KMGTP])?$")

	sizeShifts = map[string]int{
		"K": 10,
		"M": 20,
		"G": 30,
		"T": 40,
		"P": 50,
	}
)

// ParseSizeString parses a byte count with an optional binary suffix, such
// as "512", "64K" or "8G".
func ParseSizeString(str string) (uint64, error) {
	// Special case "0" to simplify the regexp.
	if str == "0" {
		return 0, nil
	}

	parts := sizePattern.FindStringSubmatch(str)
	if len(parts) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSizeString, str)
	}

	size, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSizeString, str)
	}
	if shift, ok := sizeShifts[parts[2]]; ok {
		if bits.LeadingZeros64(size) < shift {
			return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSizeString, str)
		}
		size <<= shift
	}
	return size, nil
}

var byteUnits = []string{"B", "K", "M", "G", "T", "P", "E"}

// Bytes formats a byte count with the suffixes ParseSizeString accepts,
// e.g. "512B", "1.5K", "8G".
type Bytes uint64

func (b Bytes) String() string {
	v := float64(b)
	unit := 0
	for v >= 1024 && unit < len(byteUnits)-1 {
		unit++
		v /= 1024
	}
	if unit == 0 {
		return fmt.Sprintf("%d%s", uint64(b), byteUnits[0])
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	return s + byteUnits[unit]
}
