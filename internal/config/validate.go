package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

// ValidationResult separates fatal errors, which must block startup, from
// warnings, which are logged and then clamp-and-continue.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just want
// to log everything found.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Structurally invalid
// settings (bad listen address, misaligned or non-positive surface size,
// non-positive minimum bitrate, inverted bitrate bounds) are fatal.
// Out-of-range numeric settings are clamped to a safe value, and an unknown
// log level or format is reset to its default; both are reported as
// warnings so the process can still start.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("listen_address %q is not host:port: %w", c.ListenAddress, err))
		}
	}

	// surface_width/height must be positive multiples of 16 (spec.md §3:
	// the encode session's macroblock grid requires 16-aligned dimensions).
	if c.SurfaceWidth <= 0 || c.SurfaceWidth%16 != 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("surface_width %d must be a positive multiple of 16", c.SurfaceWidth))
	}
	if c.SurfaceHeight <= 0 || c.SurfaceHeight%16 != 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("surface_height %d must be a positive multiple of 16", c.SurfaceHeight))
	}

	if c.RefreshRate < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("refresh_rate %d is below minimum 1, clamping", c.RefreshRate))
		c.RefreshRate = 1
	} else if c.RefreshRate > 240 {
		result.Warnings = append(result.Warnings, fmt.Errorf("refresh_rate %d exceeds maximum 240, clamping", c.RefreshRate))
		c.RefreshRate = 240
	}

	if c.MinBitrateBps <= 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("min_bitrate_bps %d must be positive", c.MinBitrateBps))
	}
	if c.MaxBitrateBps < c.MinBitrateBps {
		result.Fatals = append(result.Fatals, fmt.Errorf("max_bitrate_bps %d is below min_bitrate_bps %d", c.MaxBitrateBps, c.MinBitrateBps))
	}
	if c.InitialBitrateBps < c.MinBitrateBps || c.InitialBitrateBps > c.MaxBitrateBps {
		result.Warnings = append(result.Warnings, fmt.Errorf("initial_bitrate_bps %d outside [%d,%d], clamping", c.InitialBitrateBps, c.MinBitrateBps, c.MaxBitrateBps))
		c.InitialBitrateBps = clampInt(c.InitialBitrateBps, c.MinBitrateBps, c.MaxBitrateBps)
	}

	if c.DecodeWorkers < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("decode_workers %d is below minimum 1, clamping", c.DecodeWorkers))
		c.DecodeWorkers = 1
	} else if c.DecodeWorkers > 64 {
		result.Warnings = append(result.Warnings, fmt.Errorf("decode_workers %d exceeds maximum 64, clamping", c.DecodeWorkers))
		c.DecodeWorkers = 64
	}

	if c.DecodeQueueLen < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("decode_queue_len %d is below minimum 1, clamping", c.DecodeQueueLen))
		c.DecodeQueueLen = 1
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	return result
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
