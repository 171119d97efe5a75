// Package cluster runs job sessions on a node of the secret store cluster.
//
// A Cluster owns every live session keyed by its SessionID and serialises the
// calls into each one. Master sessions are started with RunMaster; slave
// sessions are created when the first partial request of a session arrives,
// using the executor factory registered for the job with RegisterSlave.
//
// Outgoing messages are queued on a Dispatcher whose workers deliver them over
// a Network, typically HTTPNetwork. Delivery failures are fed back to the
// sessions as node errors.
package cluster
