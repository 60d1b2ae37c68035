/*
Package bridge connects an out-of-process file system provider to the OS.

The Bridge façade owns the mount table, open file handles, watchers and the
request dispatcher. Front-end calls are validated against the mounted file
system's capabilities, registered under a fresh request id and delivered to
the attached Provider. The provider answers each request exactly once through
Respond or Fail (read-directory and read-file may Respond several times with
hasMore set) and reports changes through Notify.

Front-end callers receive a dispatch.Future or dispatch.Stream. Waiting on
one never holds the bridge lock; the only way to cancel a request is Abort.

Example Usage:

	b := bridge.New(bridge.Options{Logger: logger})
	_ = b.AttachProvider(provider)
	_, _ = b.Mount(types.MountOptions{FileSystemID: "docs", DisplayName: "Docs"})

	future, err := b.GetMetadata(ctx, "docs", "/a.txt", types.AllMetadataFields())
	if err != nil {
		return err // synchronous failure, nothing was sent
	}
	md, err := future.Wait(ctx)
*/
package bridge
