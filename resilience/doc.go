// Package resilience isolates resolver backends from each other.
//
//   - CircuitBreaker: fails fast once a backend keeps reporting outages
//   - Bulkhead: bounds concurrent calls into one backend
//
// The resolver gateway wraps every backend capability call in both:
//
//	err := cb.Execute(func() error {
//	    return bh.Execute(ctx, func() error {
//	        return backend.CheckPass(ctx, id, password)
//	    })
//	})
//
// Neither retries; a caller that wants another attempt makes a new call.
package resilience
