// Package buffer implements the input-side buffering engine of a port.
//
// A transport calls Deliver once per arriving frame on its own goroutine, and
// one or more consumers call Take in a loop. The Buffer decouples the two with
// a pool of reusable slots, bounding memory and optionally dropping stale
// messages so the consumer always sees the most recent ones.
//
// # Slots and the pool
//
// Each slot holds one message: either a payload object made once by the
// port.Factory and reused on every later delivery, or an external object
// handed in through AcceptExternal together with a completion callback. Slots
// live in an arena addressed by index; free slots form a stack and pending
// slots a FIFO queue. The slot most recently returned by Take is "held" and is
// recycled on the following Take.
//
//	buf := buffer.New(buffer.Config{Name: "/imu", Capacity: 8}, codec.NewSample, logger, metrics)
//	if err := buf.Attach(transport); err != nil {
//	    return err
//	}
//
//	for {
//	    d := buf.Take()
//	    if !d.OK {
//	        continue // missed deadline or interrupt
//	    }
//	    process(d.Message, buf.Envelope())
//	}
//
// # Backpressure
//
// Capacity bounds the number of free plus pending slots; 0 means unbounded.
// With prune disabled a producer blocks once the bound is reached until the
// consumer takes a message. With prune enabled every commit drops the previous
// pending message, so at most one message is ever pending and the producer
// never blocks.
//
// # Periodic sampling
//
// When Config.Period is positive, Take targets a fixed cadence. A consumer
// woken early sleeps until the deadline. A deadline that passes with nothing
// pending yields a Delivery with Missed set, and the schedule advances by
// exactly one period so that a late producer does not cause a burst.
//
// # Teardown
//
// Close marks the buffer closed and releases blocked producers, then closes
// the transport outside the state lock, since a transport may re-enter
// Deliver with a disconnection notice while closing. Finally it clears the
// pool, runs outstanding completions and wakes blocked consumers. A closed
// Buffer rejects deliveries with errors.ErrBufferClosed and returns empty
// deliveries from Take.
//
// # Thread Safety
//
// All slot and pool state is guarded by a single mutex. The two counting
// signals, content available and slot released, are posted and waited on
// without that mutex held. Completion callbacks run after the mutex is
// released and may safely call back into the Buffer.
package buffer
