/*
Package api holds the wire types and HTTP configuration shared by the secret
store servers and clients.

Two APIs are served by every node:

1. Cluster API - nodes exchange signed ClusterMessage envelopes at
ClusterMessagePath. The X-Node-Signature header must recover to the sender's
node id.

2. Key server API - requesters generate server keys, check access and restore
document keys. Every request carries the requester's signature of the key id.

See the clusterhandler and keyserverhandler subpackages for the handlers and
their clients.
*/
package api
