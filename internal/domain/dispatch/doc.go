// Package dispatch correlates asynchronous provider replies with requests.
//
// Every file system has its own request id space. A dispatched request moves
// from Dispatched to exactly one of Succeeded, Failed or Aborted; a second
// reply for a finished request is reported as a protocol violation and never
// reaches the caller. Requests aborted by the bridge leave a tombstone so
// the provider's late answer is swallowed quietly.
//
// Callers consume results through Future (unary operations) or Stream
// (read-directory and read-file, whose replies arrive in pages).
package dispatch
