// Package types provides shared data structures for the provider bridge.
//
// This package defines the values exchanged between the OS-facing front end,
// the bridge runtime and the provider that backs a mounted file system.
//
// Core Types:
//   - ProviderError: Closed set of wire error codes
//   - Error: Bridge-local error carrying a ProviderError code
//   - MountOptions, FileSystemInfo: Mounted file system identity and capabilities
//   - OpenedFile, WatcherInfo: Per-mount handle and watch state
//
// Request Types:
//   - ProviderRequest: Envelope delivered to the provider
//   - Operation: One record per operation kind (GetMetadataRequest, ReadFileRequest, ...)
//
// Reply Types:
//   - Payload: One record per successful reply shape (EntryMetadata, DirectoryPage, FileChunk, ...)
//
// Change Notification:
//   - NotifyOptions, Change, ChangeType
//   - ChangeEvent: Fan-out record delivered to subscribers
//
// Example Usage:
//
//	req := types.ProviderRequest{
//	    FileSystemID: "fs1",
//	    RequestID:    7,
//	    Operation:    &types.GetMetadataRequest{EntryPath: "/docs"},
//	}
package types
