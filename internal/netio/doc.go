// Package netio provides raw socket abstractions for LEACH control
// packet I/O.
//
// Linux-specific implementation uses golang.org/x/sys/unix for a
// single UDP listener per node on port 501, fixed at TTL=1 and
// SO_BROADCAST-enabled for AD fan-out, matching the single
// broadcast-domain subnet this simulator models.
package netio
