/*
Package resilience provides the circuit breaker guarding the command channel.

When the autoguider stops clearing the busy flag, every request would
otherwise spend its full timeout polling. The breaker counts consecutive
timeouts and, once tripped, fails calls immediately until a trial call
succeeds.

# States

- Closed: calls pass through
- Open: calls fail with ErrCircuitOpen without running
- Half-Open: one probe call decides between Closed and Open; other
  callers wait for its outcome

	Closed --[failures]-> Open --[timeout]-> Half-Open --[probe ok]-> Closed
	                                           |
	                                    [probe failed]
	                                           |
	                                           v
	                                         Open

# Usage

	breaker := resilience.New("command", resilience.Settings{
		Timeout:     5 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 3 },
		IsFailure:   func(err error) bool { return errors.Is(err, protocol.ErrTimeout) },
	})

	resp, err := resilience.Do(breaker, func() ([]byte, error) {
		return send(op, payload)
	})

OnStateChange runs with the breaker locked and must not call back into it.
*/
package resilience
