// Package main is fsbridgectl, a command line client of the fsbridge HTTP
// API.
//
// Usage:
//
//	fsbridgectl list
//	fsbridgectl ls local /
//	echo hello | fsbridgectl put local /notes/hello.txt
//	fsbridgectl watch -r local /notes
//
// The server URL comes from -server or FSBRIDGE_URL.
package main
