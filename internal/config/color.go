package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseARGB parses a hex color string into a packed 0xAARRGGBB word.
// Accepts RRGGBB (full alpha implied) or AARRGGBB, with an optional '#'.
func ParseARGB(s string) (uint32, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(hex) {
	case 6:
		hex = "FF" + hex
	case 8:
	default:
		return 0, fmt.Errorf("invalid color %q: want RRGGBB or AARRGGBB", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return uint32(v), nil
}

// OpacityCardinal converts an opacity percentage to the 32-bit cardinal the
// _NET_WM_WINDOW_OPACITY property expects.
func OpacityCardinal(percent uint8) uint32 {
	if percent >= 100 {
		return 0xFFFFFFFF
	}
	return uint32(uint64(percent) * 0xFFFFFFFF / 100)
}
