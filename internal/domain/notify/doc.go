// Package notify turns provider change notifications into change events.
//
// A notification is accepted for any observed path; only paths with a
// registered watcher produce an event. Events go out on a Bus whose
// subscribers each own a buffered channel, so a slow subscriber loses events
// instead of stalling the provider.
package notify
