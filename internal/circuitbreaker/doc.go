// Package circuitbreaker isolates failing backend targets so that one
// unreachable backend cannot drag down unrelated traffic.
//
// Each target address gets its own breaker with three states:
//
//   - CLOSED: normal operation, connects pass through
//   - OPEN: target failing, connects are refused without dialing
//   - HALF-OPEN: probing whether the target recovered
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("127.0.0.1:9001")
//	if cb.Allow() {
//	    // Dial...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
