// Package clusterhandler accepts cluster messages sent by other nodes.
//
// Every message is posted as JSON to api.ClusterMessagePath with the sender's
// signature of the body in the X-Node-Signature header. The signature must
// recover to the node id in the message's From field.
package clusterhandler
