// Package localdir serves host directories through the bridge.
//
// Each Root becomes one mounted file system. Requests run on their own
// goroutine so an abort can cancel the operation it targets; an aborted
// operation sends nothing back. Listings are paginated, reads are chunked and
// copies of directory trees are walked with fastwalk.
//
// Watchers share a single fsnotify watcher. A recursive watcher observes every
// directory below its entry and follows directories created later. Changes
// are batched per watcher for the debounce window and reported with Notify;
// roots that support tags get a fresh ULID per notification.
//
// # Usage
//
// 	p, err := localdir.New(b, []localdir.Root{{
// 		Options: types.MountOptions{FileSystemID: "docs", Writable: true, Watchable: true},
// 		Dir:     "/srv/docs",
// 		Ignore:  []string{".git", "**/*.tmp"},
// 	}}, localdir.Options{Logger: logger, PageSize: 64})
// 	if err != nil {
// 		return err
// 	}
// 	defer p.Close()
//
// 	if err := b.AttachProvider(p); err != nil {
// 		return err
// 	}
// 	if err := p.Start(); err != nil {
// 		return err
// 	}
package localdir
