/*
Package middleware holds the gin middleware of the bridge HTTP surface:
CORS for the browser front end, per-client rate limiting, and gzip
compression of listing and read responses.
*/
package middleware
