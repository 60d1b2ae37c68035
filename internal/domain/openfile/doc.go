// Package openfile manages open file handles and their capacity limits.
//
// A handle is reserved when an open is dispatched and confirmed when the
// provider accepts it. Reservations count against the mount's limit so that
// concurrent opens can never overshoot it. Handle ids come from a sequence
// per file system and are never reused while the file system stays mounted.
package openfile
