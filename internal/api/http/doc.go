/*
Package http exposes the bridge to the OS front end over gin.

Every dispatching route waits for the provider's answer for at most the
configured request timeout. A request that runs out of time is aborted and
answered with 504 and code ABORT. Failures carry their wire code:

	{"error": "file system is read-only", "code": "ACCESS_DENIED"}

Routes live under /fs/:fsid; directory listings and file reads gather every
page before answering.
*/
package http
