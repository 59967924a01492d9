// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package idmanager

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Yvictor/pj/pkg/errors"
)

// ParseDuration parses a human-friendly interval such as "1d12h" or
// "2h30m45s": one or more number/unit pairs with no separators, units
// d/h/m/s, case-insensitive, summed. A bare number, an unknown unit, an
// empty string or a zero total are errors.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.Wrap(errors.ErrInvalidDuration, "empty duration string")
	}

	var total uint64
	var num strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			num.WriteRune(ch)
			continue
		}
		if num.Len() == 0 {
			return 0, fmt.Errorf("%w: missing number before %q", errors.ErrInvalidDuration, ch)
		}
		n, err := strconv.ParseUint(num.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q", errors.ErrInvalidDuration, num.String())
		}
		var mult uint64
		switch ch {
		case 'd':
			mult = 86400
		case 'h':
			mult = 3600
		case 'm':
			mult = 60
		case 's':
			mult = 1
		default:
			return 0, fmt.Errorf("%w: unknown time unit %q", errors.ErrInvalidDuration, ch)
		}
		total += n * mult
		num.Reset()
	}

	if num.Len() > 0 {
		return 0, errors.Wrap(errors.ErrInvalidDuration, "duration must include a unit (d/h/m/s)")
	}
	if total == 0 {
		return 0, errors.Wrap(errors.ErrInvalidDuration, "duration must be greater than 0")
	}
	return time.Duration(total) * time.Second, nil
}

// ParseCount parses an integer with an optional k/m/g suffix
// (x1e3/1e6/1e9, case-insensitive), e.g. "100k". Zero values and
// multiplication overflow are errors.
func ParseCount(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, errors.Wrap(errors.ErrInvalidCount, "empty count string")
	}

	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k':
		mult, s = 1_000, s[:len(s)-1]
	case 'm':
		mult, s = 1_000_000, s[:len(s)-1]
	case 'g':
		mult, s = 1_000_000_000, s[:len(s)-1]
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", errors.ErrInvalidCount, s)
	}
	if n == 0 {
		return 0, errors.Wrap(errors.ErrInvalidCount, "count must be greater than 0")
	}
	if n > math.MaxUint64/mult {
		return 0, errors.Wrap(errors.ErrInvalidCount, "count value too large")
	}
	return n * mult, nil
}
