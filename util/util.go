// Package util contains misc internal utilities.
package util

import "time"

// GetBit returns the value of a given bit in a byte
func GetBit(b byte, bitIndex uint) bool {
	return (b & (1 << bitIndex)) != 0
}

// SetBit sets a bit in a byte to a value
func SetBit(b byte, bitIndex uint, value bool) byte {
	if value {
		return b | (1 << bitIndex)
	}
	return b &^ (1 << bitIndex)
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// UniqueString returns the unique elements of a slice of strings,
// preserving their order of first appearance
func UniqueString(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, str := range s {
		if _, ok := seen[str]; ok {
			continue
		}
		seen[str] = struct{}{}
		out = append(out, str)
	}
	return out
}
