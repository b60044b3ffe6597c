// Package resource governs the store's optional resource limits.
//
//   - Memory: substores promoted to memory residency reserve their size up
//     front (non-blocking, fail-fast).
//   - Workers: bounds how many partitions are materialized concurrently.
//   - IO: token bucket throttling the bytes copied into partition substores.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   1 << 30,
//	    MaxWorkers:         4,
//	    IOLimitBytesPerSec: 100 << 20,
//	})
//
// All methods are safe for concurrent use, and a nil *Controller is a valid
// no-op so callers never need to check for it.
package resource
