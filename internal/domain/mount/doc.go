// Package mount tracks which file systems are mounted and what they declared.
//
// The table owns the fileSystemId space: Mount and Unmount are the only ways
// an identity appears or disappears. Each successful mount gets a fresh
// MountID so a remount under the same fileSystemId is distinguishable from
// its predecessor.
//
// Example Usage:
//
//	table := mount.NewTable()
//	fs, err := table.Mount(types.MountOptions{FileSystemID: "fs1", DisplayName: "Docs"})
//	if errors.Is(err, types.ErrAlreadyMounted) { ... }
package mount
