// Copyright (c) pj authors
// SPDX-License-Identifier: Apache-2.0

package connection

import "fmt"

const (
	kb = uint64(1) << 10
	mb = uint64(1) << 20
	gb = uint64(1) << 30
)

// FormatBytes renders a byte count in the largest binary unit keeping the
// value at or above one: B below 1024, then KB, MB and GB with one
// decimal. GB has no upper bound.
func FormatBytes(bytes uint64) string {
	switch {
	case bytes < kb:
		return fmt.Sprintf("%d B", bytes)
	case bytes < mb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	case bytes < gb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	}
}
