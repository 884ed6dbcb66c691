// Package calls tracks in-memory call presence: per call-id participant sets
// and the join/leave deltas members see.
//
// A call record exists exactly while its participant set is non-empty.
// Every entry point runs under the store lock first and the coordinator lock
// second, never the other way round.
package calls
