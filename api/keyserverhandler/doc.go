// Package keyserverhandler serves the requester API of a secret store node
// and provides a client for it.
//
// Every request carries the requester's recoverable signature of the server
// key id, which identifies the requester to the access control list.
//
//	POST /api/server_key/{key_id}              generate a server key
//	POST /api/server_key/{key_id}/public       get the server public key
//	POST /api/access/{key_id}                  run the access consensus
//	POST /api/document_key/{key_id}            generate a server key and document key
//	POST /api/document_key/{key_id}/store      store a client encrypted document key
//	POST /api/document_key/{key_id}/restore    restore the document key
//	POST /api/document_key/{key_id}/shadow     get the document key shadows
package keyserverhandler
