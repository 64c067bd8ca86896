package kernel

import "context"

// SocketKind selects the ZeroMQ pattern used for a channel.
type SocketKind int

const (
	// SocketDealer is used for the shell and control channels.
	SocketDealer SocketKind = iota
	// SocketSub is used for IOPub; it subscribes to every topic.
	SocketSub
	// SocketReq is used for heartbeat pings.
	SocketReq
)

func (k SocketKind) String() string {
	switch k {
	case SocketDealer:
		return "DEALER"
	case SocketSub:
		return "SUB"
	case SocketReq:
		return "REQ"
	default:
		return "UNKNOWN"
	}
}

// Socket is a connected multipart message socket.
type Socket interface {
	// Send writes one multipart message.
	Send(frames [][]byte) error
	// Recv blocks until a multipart message arrives or the socket is closed.
	Recv() ([][]byte, error)
	Close() error
}

// Dialer opens sockets to kernel endpoints. The identity is used as the
// routing id for DEALER sockets and ignored otherwise.
type Dialer interface {
	Dial(ctx context.Context, kind SocketKind, endpoint, identity string) (Socket, error)
}
