// Package jupyter implements the parts of the Jupyter messaging protocol
// (version 5.3) needed to drive an IPython kernel: connection files, message
// headers, HMAC signing and the multipart wire format.
//
// The package is transport agnostic. A message is encoded to, and decoded
// from, the list of frames a ZeroMQ socket sends or receives:
//
//	[identities...] "<IDS|MSG>" signature header parent_header metadata content [buffers...]
package jupyter
