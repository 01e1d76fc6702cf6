// Package keyspace generates fractional ordering keys: strings that sort
// strictly between two neighbours so an item can be placed without
// renumbering its siblings.
package keyspace

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultAlphabet is the base-36 symbol set. Byte order of the symbols is
// their value order, so plain string comparison gives key order.
const DefaultAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var (
	ErrInvalidKey    = errors.New("invalid ordering key")
	ErrInvalidBounds = errors.New("left bound must sort before right bound")
)

// Space computes keys over a fixed alphabet. A Space is immutable after
// construction and safe for concurrent use.
type Space struct {
	alphabet string
	values   [256]int
}

// New builds a Space over alphabet. Symbols must be single-byte, unique and
// listed in ascending byte order.
func New(alphabet string) (*Space, error) {
	if len(alphabet) < 3 {
		return nil, fmt.Errorf("alphabet needs at least 3 symbols, got %d", len(alphabet))
	}
	s := &Space{alphabet: alphabet}
	for i := range s.values {
		s.values[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if i > 0 && c <= alphabet[i-1] {
			return nil, fmt.Errorf("alphabet must be strictly ascending at position %d", i)
		}
		s.values[c] = i
	}
	return s, nil
}

// Base36 returns a Space over DefaultAlphabet.
func Base36() *Space {
	s, err := New(DefaultAlphabet)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Space) Alphabet() string { return s.alphabet }

func (s *Space) max() int { return len(s.alphabet) - 1 }

// Validate reports whether key can be used as a bound. Generated keys never
// end in the minimum symbol, and a key that did would leave no room below it
// for a descendant of its prefix.
func (s *Space) Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for i := 0; i < len(key); i++ {
		if s.values[key[i]] < 0 {
			return fmt.Errorf("%w: %q has symbol %q outside the alphabet", ErrInvalidKey, key, key[i])
		}
	}
	if key[len(key)-1] == s.alphabet[0] {
		return fmt.Errorf("%w: %q ends with the minimum symbol", ErrInvalidKey, key)
	}
	return nil
}

// Midpoint returns a key strictly between left and right. An empty bound is
// unbounded on that side: left as an endless run of the minimum symbol, right
// as an endless run of the maximum one.
func (s *Space) Midpoint(left, right string) (string, error) {
	if left != "" {
		if err := s.Validate(left); err != nil {
			return "", err
		}
	}
	if right != "" {
		if err := s.Validate(right); err != nil {
			return "", err
		}
	}
	if left != "" && right != "" && left >= right {
		return "", fmt.Errorf("%w: %q >= %q", ErrInvalidBounds, left, right)
	}

	var out strings.Builder
	for i := 0; ; i++ {
		l := 0
		if i < len(left) {
			l = s.values[left[i]]
		}
		r := s.max()
		if i < len(right) {
			r = s.values[right[i]]
		}
		if r-l >= 2 {
			out.WriteByte(s.alphabet[(l+r)/2])
			return out.String(), nil
		}
		out.WriteByte(s.alphabet[l])
	}
}
