package storage

import (
	"fmt"
	"time"
)

// ParseDuration parses an RFC 2445 duration string such as "P1D",
// "PT1H30M", "P2W" or "-PT15M". The empty string parses to zero.
//
// The grammar is accepted loosely, the way calendar producers actually
// emit it: an optional sign, a mandatory P, then number-unit pairs with
// the T separator allowed anywhere. Days are fixed 24 hour spans.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	i := 0
	sign := int64(1)
	switch s[0] {
	case '-':
		sign = -1
		i++
	case '+':
		i++
	}
	if i >= len(s) || s[i] != 'P' {
		return 0, &Error{
			Type:    ErrInvalidInput,
			Message: fmt.Sprintf("duration %q: expected 'P' at index %d", s, i),
		}
	}
	i++

	var secs, n int64
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + int64(c-'0')
		case c == 'W':
			secs += n * 7 * 86400
			n = 0
		case c == 'D':
			secs += n * 86400
			n = 0
		case c == 'H':
			secs += n * 3600
			n = 0
		case c == 'M':
			secs += n * 60
			n = 0
		case c == 'S':
			secs += n
			n = 0
		case c == 'T':
			// separator, ignored
		default:
			return 0, &Error{
				Type:    ErrInvalidInput,
				Message: fmt.Sprintf("duration %q: unexpected %q at index %d", s, c, i),
			}
		}
	}
	return time.Duration(sign*secs) * time.Second, nil
}
