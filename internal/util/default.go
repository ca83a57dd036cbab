package util

func SetDefaultIfZero[V comparable](v *V, defaultVal V) {
	var zeroVal V
	if *v == zeroVal {
		*v = defaultVal
	}
}

// DefaultIfZero returns v, or defaultVal if v is the zero value.
func DefaultIfZero[V comparable](v, defaultVal V) V {
	SetDefaultIfZero(&v, defaultVal)
	return v
}
