// Package paths normalizes and relates entry paths inside a mounted file system.
//
// Entry paths are provider-side names, not host paths: they are always
// slash separated, absolute and cleaned ("/docs/a.txt"). The bridge compares
// them verbatim, so every path crossing the public surface goes through
// Normalize first.
//
// # Usage
//
//	p, err := paths.Normalize("/docs//a.txt") // "/docs/a.txt"
//	paths.Covers("/docs", false, "/docs/a.txt")   // true
//	paths.Match("/docs/**", "/docs/x/y.txt")      // true
package paths
