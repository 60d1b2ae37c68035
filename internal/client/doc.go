/*
Package client is a Go client for the bridge HTTP API.

Calls go through resty with sonic as the JSON codec, a client side rate
limiter and a circuit breaker that only counts transport failures and 5xx
answers. Failed calls return *APIError, which unwraps to the wire code:

	c := client.New(client.Options{BaseURL: "http://localhost:8000"})
	md, err := c.Metadata(ctx, "docs", "/readme.md")
	if errors.Is(err, types.CodeNotFound) {
		...
	}
*/
package client
