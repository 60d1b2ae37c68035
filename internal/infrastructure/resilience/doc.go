/*
Package resilience provides the circuit breaker guarding provider delivery.

When the provider transport keeps failing, the bridge stops queueing work for
it and fails new requests with FAILED right away. After Timeout the breaker
lets MaxRequests trial deliveries through; enough successes close it again.

# Usage

	breaker := resilience.New("provider", resilience.Settings{
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	err := breaker.Execute(func() error {
		return provider.Deliver(ctx, req)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
