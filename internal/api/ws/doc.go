/*
Package ws carries the bridge over WebSocket.

GET /provider attaches a remote provider for the lifetime of the socket.
The server opens with a hello frame (session id and current mounts with
their watcher tags), then pushes request frames:

	{"type":"request","fileSystemId":"docs","requestId":4,"kind":"read_directory","operation":{...}}

The provider answers with success or error frames and may send mount,
unmount, notify and ping frames of its own. Frames carrying a seq are
acknowledged with ack or nack. Closing the socket detaches the provider.

GET /events streams accepted change notifications to UI subscribers,
optionally narrowed by fileSystemId and a doublestar pattern.
*/
package ws
