// Package port implements host port probing and the usable port pool used
// when repairing forwarded-port collisions.
//
// The Prober answers "is something accepting TCP connections on this port"
// by connecting to it and closing the connection immediately. A refused or
// timed-out connection means the port is free; the probe never reports an
// error to its caller.
//
// The Pool is the shrinking set of candidate replacement ports. It hands out
// the numerically smallest remaining port first, so repeated runs against the
// same collision set produce the same assignments:
//
//	pool := port.NewPool(machine.UsablePorts())
//	pool.Subtract(extraInUse)
//	replacement, ok := pool.TakeSmallest()
package port
