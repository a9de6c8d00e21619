package model

import (
	"fmt"
	"strings"
)

const base32Digits = "0123456789abcdefghijklmnopqrstuv"

// SortTicks returns the two ticks in canonical (lexicographic) order and
// whether they were swapped. Callers re-order any per-side amounts the
// same way, so canonicalization sorts sides, not just storage keys.
func SortTicks(tick0, tick1 string) (string, string, bool) {
	if tick0 > tick1 {
		return tick1, tick0, true
	}
	return tick0, tick1, false
}

// EncodePair renders the canonical pair string: the length of tick0 as a
// single base-32 digit, a slash, then both ticks concatenated without a
// separator. Ticks are sorted first.
func EncodePair(tick0, tick1 string) (string, error) {
	t0, t1, _ := SortTicks(tick0, tick1)
	if t0 == "" || t1 == "" {
		return "", fmt.Errorf("empty tick in pair %q/%q", tick0, tick1)
	}
	if t0 == t1 {
		return "", fmt.Errorf("identical ticks in pair: %q", t0)
	}
	if len(t0) >= len(base32Digits) {
		return "", fmt.Errorf("tick too long for pair encoding: %q", t0)
	}
	return string(base32Digits[len(t0)]) + "/" + t0 + t1, nil
}

// DecodePair reads a pair string. The length-prefixed form is canonical;
// the plain "tick0/tick1" form predates it and is still accepted for
// replay of old history. Returned ticks are always in sorted order.
func DecodePair(s string) (string, string, error) {
	t0, t1, _, err := DecodePairSides(s)
	return t0, t1, err
}

// DecodePairSides decodes a pair string and additionally reports whether
// the written side order was swapped to reach canonical order, so callers
// can re-order per-side amounts the same way.
func DecodePairSides(s string) (string, string, bool, error) {
	if t0, t1, err := decodePairCanonical(s); err == nil {
		return t0, t1, false, nil
	}
	t0, t1, swapped, err := decodePairLegacySides(s)
	return t0, t1, swapped, err
}

func decodePairCanonical(s string) (string, string, error) {
	if len(s) < 4 || s[1] != '/' {
		return "", "", fmt.Errorf("not a length-prefixed pair: %q", s)
	}
	n := strings.IndexByte(base32Digits, s[0])
	if n <= 0 {
		return "", "", fmt.Errorf("bad length digit in pair: %q", s)
	}
	body := s[2:]
	if len(body) <= n {
		return "", "", fmt.Errorf("pair body shorter than prefix: %q", s)
	}
	t0, t1 := body[:n], body[n:]
	if t0 >= t1 {
		return "", "", fmt.Errorf("pair ticks not in canonical order: %q", s)
	}
	return t0, t1, nil
}

func decodePairLegacySides(s string) (string, string, bool, error) {
	idx := strings.IndexByte(s, '/')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false, fmt.Errorf("invalid pair: %q", s)
	}
	t0, t1 := s[:idx], s[idx+1:]
	if t0 == t1 {
		return "", "", false, fmt.Errorf("identical ticks in pair: %q", s)
	}
	t0, t1, swapped := SortTicks(t0, t1)
	return t0, t1, swapped, nil
}
