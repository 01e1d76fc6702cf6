// Package occ models the expected-version preconditions carried by mutating
// operations.
package occ

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrStale     = errors.New("version precondition failed")
	ErrMalformed = errors.New("malformed version token")
)

// Precondition is the version a caller expects an entity to be at. The zero
// value matches any version.
type Precondition struct {
	version int64
	set     bool
}

func Any() Precondition { return Precondition{} }

func Exactly(version int64) Precondition {
	return Precondition{version: version, set: true}
}

// FromPtr converts an optional integer, as sent in move request bodies.
func FromPtr(v *int64) Precondition {
	if v == nil {
		return Any()
	}
	return Exactly(*v)
}

func (p Precondition) IsSet() bool { return p.set }

func (p Precondition) Version() int64 { return p.version }

// Check returns ErrStale when p is set and differs from current.
func (p Precondition) Check(current int64) error {
	if !p.set || p.version == current {
		return nil
	}
	return fmt.Errorf("%w: expected version %d, current %d", ErrStale, p.version, current)
}

func (p Precondition) String() string {
	if !p.set {
		return "*"
	}
	return ETag(p.version)
}

// ETag renders version as a strong entity tag.
func ETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ParseETag reads an If-Match value. An empty value yields Any. Weak tags and
// unquoted numbers are accepted.
func ParseETag(raw string) (Precondition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return Any(), nil
	}
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return Any(), fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	return Exactly(v), nil
}
