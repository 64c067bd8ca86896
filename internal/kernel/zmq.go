package kernel

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// ZMQDialer opens real ZeroMQ sockets. Each Dial makes a single connection
// attempt; Manager retries until its startup deadline.
type ZMQDialer struct{}

var _ Dialer = ZMQDialer{}

// Dial implements Dialer.
func (ZMQDialer) Dial(ctx context.Context, kind SocketKind, endpoint, identity string) (Socket, error) {
	opts := []zmq4.Option{zmq4.WithDialerMaxRetries(0)}
	if identity != "" {
		opts = append(opts, zmq4.WithID(zmq4.SocketIdentity(identity)))
	}

	var sock zmq4.Socket
	switch kind {
	case SocketDealer:
		sock = zmq4.NewDealer(ctx, opts...)
	case SocketSub:
		sock = zmq4.NewSub(ctx, opts...)
	case SocketReq:
		sock = zmq4.NewReq(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported socket kind %v", kind)
	}

	if err := sock.Dial(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s %s: %w", kind, endpoint, err)
	}

	if kind == SocketSub {
		if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			_ = sock.Close()
			return nil, fmt.Errorf("subscribe %s: %w", endpoint, err)
		}
	}

	return &zmqSocket{sock: sock}, nil
}

type zmqSocket struct {
	sock zmq4.Socket
}

func (s *zmqSocket) Send(frames [][]byte) error {
	return s.sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (s *zmqSocket) Recv() ([][]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (s *zmqSocket) Close() error {
	return s.sock.Close()
}
