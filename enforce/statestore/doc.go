// Enforcement component for per-key mutable state (eg, one token bucket per actor and capability).
//
// Updates to a single key are serialized: Update runs a read-modify-write function with no other writer interleaved on that key. Different keys never contend. Includes implementations using in-process memory and redis.
package statestore
