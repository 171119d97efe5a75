// Package jobs implements the threshold job session: a single round in which
// the master asks a set of nodes for partial results, counts the accepted ones
// and combines them once threshold+1 nodes agree.
//
// Sessions do no I/O themselves. What a partial request or response means is
// decided by an Executor, delivery is done by a Transport, and the owner of a
// session feeds it network and timer events one at a time.
package jobs
