package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kreijstal/mcp-ipython/internal/collections"
	"github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/jupyter"
	"github.com/kreijstal/mcp-ipython/internal/logging"
)

const (
	// channelBuffer is the number of decoded messages queued per channel.
	channelBuffer = 1024

	// readyPollInterval bounds a single kernel_info wait in WaitForReady.
	readyPollInterval = time.Second
)

// ClientOptions configures a Client.
type ClientOptions struct {
	Dialer   Dialer
	Username string
	Logger   *logging.Logger
}

// Client speaks the Jupyter messaging protocol to one kernel.
type Client struct {
	info     *jupyter.ConnectionInfo
	signer   *jupyter.Signer
	dialer   Dialer
	session  string
	username string
	logger   *logging.Logger

	mu sync.Mutex
	ch *channels

	sendMu sync.Mutex
}

// channels holds the sockets and pumps of one StartChannels call.
type channels struct {
	shell   Socket
	control Socket
	iopub   Socket

	shellIn chan *jupyter.Message
	iopubIn chan *jupyter.Message
	// controlReplies routes control replies by parent msg_id.
	controlReplies *collections.SyncMap[string, chan *jupyter.Message]

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewClient creates a client for the kernel described by info. Channels
// are not opened until StartChannels.
func NewClient(info *jupyter.ConnectionInfo, opts ClientOptions) (*Client, error) {
	if info == nil {
		return nil, errors.Validation("connection info cannot be nil")
	}
	if err := info.Validate(); err != nil {
		return nil, errors.ConfigurationWithCause("invalid connection info", err)
	}

	signer, err := jupyter.NewSigner(info.SignatureScheme, info.Key)
	if err != nil {
		return nil, errors.ConfigurationWithCause("invalid signature scheme", err)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = ZMQDialer{}
	}
	username := opts.Username
	if username == "" {
		username = "mcp-ipython"
	}
	session := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{
		info:     info,
		signer:   signer,
		dialer:   dialer,
		session:  session,
		username: username,
		logger:   logger.WithKernel(session),
	}, nil
}

// Session returns the Jupyter session id used in message headers.
func (c *Client) Session() string {
	return c.session
}

// ConnectionInfo returns the connection description the client dials.
func (c *Client) ConnectionInfo() *jupyter.ConnectionInfo {
	return c.info
}

// StartChannels connects the shell, control and IOPub sockets and starts
// their receive pumps. It is a no-op when the channels are running.
func (c *Client) StartChannels(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil && c.ch.ctx.Err() == nil {
		return nil
	}
	if c.ch != nil {
		c.closeLocked()
	}

	// The channel context outlives ctx; ctx only bounds dialing.
	chCtx, cancel := context.WithCancel(context.Background())
	ch := &channels{
		shellIn:        make(chan *jupyter.Message, channelBuffer),
		iopubIn:        make(chan *jupyter.Message, channelBuffer),
		controlReplies: collections.NewSyncMap[string, chan *jupyter.Message](),
		cancel:         cancel,
	}

	dial := func(kind SocketKind, channel jupyter.Channel) (Socket, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return c.dialer.Dial(chCtx, kind, c.info.Endpoint(channel), c.session)
	}

	var err error
	if ch.shell, err = dial(SocketDealer, jupyter.ChannelShell); err == nil {
		if ch.control, err = dial(SocketDealer, jupyter.ChannelControl); err == nil {
			ch.iopub, err = dial(SocketSub, jupyter.ChannelIOPub)
		}
	}
	if err != nil {
		ch.closeSockets()
		cancel()
		return errors.Wrap(err, "failed to connect kernel channels")
	}

	group, gctx := errgroup.WithContext(chCtx)
	ch.ctx = gctx
	ch.group = group

	group.Go(func() error {
		return c.pump(gctx, jupyter.ChannelShell, ch.shell, func(msg *jupyter.Message) {
			deliver(gctx, ch.shellIn, msg)
		})
	})
	group.Go(func() error {
		return c.pump(gctx, jupyter.ChannelIOPub, ch.iopub, func(msg *jupyter.Message) {
			deliver(gctx, ch.iopubIn, msg)
		})
	})
	group.Go(func() error {
		return c.pump(gctx, jupyter.ChannelControl, ch.control, func(msg *jupyter.Message) {
			if reply, ok := ch.controlReplies.LoadAndDelete(msg.ParentID()); ok {
				reply <- msg
				return
			}
			c.logger.Debug("Dropped unsolicited control message", "msg_type", msg.Type())
		})
	})
	// A pump failing cancels gctx; closing the sockets unblocks the others.
	go func() {
		<-gctx.Done()
		ch.closeSockets()
	}()

	c.ch = ch
	c.logger.Debug("Kernel client channels started")
	return nil
}

// StopChannels closes the sockets and waits for the pumps to exit.
func (c *Client) StopChannels() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.ch == nil {
		return
	}
	ch := c.ch
	c.ch = nil

	ch.cancel()
	ch.closeSockets()
	if err := ch.group.Wait(); err != nil {
		c.logger.Debug("Kernel channel pump stopped with error", logging.Err(err))
	}
	c.logger.Debug("Kernel client channels stopped")
}

// ChannelsRunning reports whether the channels are open and every pump is
// still receiving.
func (c *Client) ChannelsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil && c.ch.ctx.Err() == nil
}

func (c *Client) current() (*channels, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil || c.ch.ctx.Err() != nil {
		return nil, errors.ErrChannelsClosed
	}
	return c.ch, nil
}

func (c *Client) pump(ctx context.Context, channel jupyter.Channel, sock Socket, handle func(*jupyter.Message)) error {
	for {
		frames, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Kernel channel receive failed", "channel", channel, logging.Err(err))
			return fmt.Errorf("%s channel: %w", channel, err)
		}

		msg, err := jupyter.Decode(frames, c.signer)
		if err != nil {
			c.logger.Warn("Dropped invalid kernel message", "channel", channel, logging.Err(err))
			continue
		}
		handle(msg)
	}
}

func deliver(ctx context.Context, dst chan<- *jupyter.Message, msg *jupyter.Message) {
	select {
	case dst <- msg:
	case <-ctx.Done():
	}
}

func (ch *channels) closeSockets() {
	for _, s := range []Socket{ch.shell, ch.control, ch.iopub} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// send encodes and writes a request on sock.
func (c *Client) send(sock Socket, msgType string, content any) (*jupyter.Message, error) {
	msg, err := jupyter.NewMessage(msgType, c.session, c.username, content)
	if err != nil {
		return nil, err
	}
	frames, err := jupyter.Encode(msg, c.signer)
	if err != nil {
		return nil, err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := sock.Send(frames); err != nil {
		return nil, fmt.Errorf("send %s: %w", msgType, err)
	}
	return msg, nil
}

// Execute sends an execute_request and returns its msg_id.
func (c *Client) Execute(ctx context.Context, code string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch, err := c.current()
	if err != nil {
		return "", err
	}

	msg, err := c.send(ch.shell, jupyter.MsgExecuteRequest, jupyter.ExecuteRequest{
		Code:            code,
		Silent:          false,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		AllowStdin:      false,
		StopOnError:     true,
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("Sent execute request", "msg_id", msg.Header.MsgID)
	return msg.Header.MsgID, nil
}

// IOPubMessage returns the next IOPub message, or ErrNoMessage if none
// arrives within timeout.
func (c *Client) IOPubMessage(ctx context.Context, timeout time.Duration) (*jupyter.Message, error) {
	ch, err := c.current()
	if err != nil {
		return nil, err
	}
	return next(ctx, ch, ch.iopubIn, timeout)
}

// ShellMessage returns the next shell reply, or ErrNoMessage if none
// arrives within timeout.
func (c *Client) ShellMessage(ctx context.Context, timeout time.Duration) (*jupyter.Message, error) {
	ch, err := c.current()
	if err != nil {
		return nil, err
	}
	return next(ctx, ch, ch.shellIn, timeout)
}

func next(ctx context.Context, ch *channels, src <-chan *jupyter.Message, timeout time.Duration) (*jupyter.Message, error) {
	// Prefer queued messages over a closing channel set.
	select {
	case msg := <-src:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-src:
		return msg, nil
	case <-timer.C:
		return nil, ErrNoMessage
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ch.ctx.Done():
		return nil, errors.ErrChannelsClosed
	}
}

// KernelInfo sends kernel_info_request and waits for the matching reply.
// Unrelated shell replies received meanwhile are discarded.
func (c *Client) KernelInfo(ctx context.Context, timeout time.Duration) (*jupyter.KernelInfoReply, error) {
	ch, err := c.current()
	if err != nil {
		return nil, err
	}
	req, err := c.send(ch.shell, jupyter.MsgKernelInfoRequest, nil)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoMessage
		}
		msg, err := next(ctx, ch, ch.shellIn, remaining)
		if err != nil {
			return nil, err
		}
		if msg.ParentID() != req.Header.MsgID || msg.Type() != jupyter.MsgKernelInfoReply {
			c.logger.Debug("Discarded shell message while waiting for kernel info", "msg_type", msg.Type())
			continue
		}

		var reply jupyter.KernelInfoReply
		if err := msg.DecodeContent(&reply); err != nil {
			return nil, err
		}
		return &reply, nil
	}
}

// WaitForReady repeats kernel_info_request until the kernel answers or
// timeout passes, then discards IOPub traffic produced during startup.
func (c *Client) WaitForReady(ctx context.Context, timeout time.Duration) (*jupyter.KernelInfoReply, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.ErrKernelNotReady
		}

		info, err := c.KernelInfo(ctx, min(remaining, readyPollInterval))
		if err == nil {
			c.drainIOPub()
			c.logger.Debug("Kernel is ready",
				"implementation", info.Implementation,
				"language", info.LanguageInfo.Name)
			return info, nil
		}
		if !errors.Is(err, ErrNoMessage) {
			return nil, err
		}
	}
}

func (c *Client) drainIOPub() {
	ch, err := c.current()
	if err != nil {
		return
	}
	for {
		select {
		case <-ch.iopubIn:
		default:
			return
		}
	}
}

// request sends a control message and waits for its reply.
func (c *Client) request(ctx context.Context, msgType string, content any, timeout time.Duration) (*jupyter.Message, error) {
	ch, err := c.current()
	if err != nil {
		return nil, err
	}

	msg, err := jupyter.NewMessage(msgType, c.session, c.username, content)
	if err != nil {
		return nil, err
	}
	reply := make(chan *jupyter.Message, 1)
	ch.controlReplies.Set(msg.Header.MsgID, reply)
	defer ch.controlReplies.Delete(msg.Header.MsgID)

	frames, err := jupyter.Encode(msg, c.signer)
	if err != nil {
		return nil, err
	}
	c.sendMu.Lock()
	err = ch.control.Send(frames)
	c.sendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", msgType, err)
	}

	return next(ctx, ch, reply, timeout)
}

// Shutdown asks the kernel to exit (or restart in place) over the
// control channel and waits up to timeout for the reply.
func (c *Client) Shutdown(ctx context.Context, restart bool, timeout time.Duration) error {
	_, err := c.request(ctx, jupyter.MsgShutdownRequest, jupyter.ShutdownRequest{Restart: restart}, timeout)
	return err
}

// Interrupt sends interrupt_request over the control channel.
func (c *Client) Interrupt(ctx context.Context, timeout time.Duration) error {
	_, err := c.request(ctx, jupyter.MsgInterruptRequest, nil, timeout)
	return err
}

// Ping checks the heartbeat channel. Each ping uses a fresh REQ socket so
// a lost reply cannot wedge later pings.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sock, err := c.dialer.Dial(ctx, SocketReq, c.info.Endpoint(jupyter.ChannelHB), "")
	if err != nil {
		return errors.Wrap(err, "heartbeat dial")
	}
	defer func() {
		_ = sock.Close()
	}()

	payload := []byte(uuid.NewString())
	errCh := make(chan error, 1)
	go func() {
		if err := sock.Send([][]byte{payload}); err != nil {
			errCh <- err
			return
		}
		frames, err := sock.Recv()
		if err != nil {
			errCh <- err
			return
		}
		if len(frames) == 0 || string(frames[0]) != string(payload) {
			errCh <- fmt.Errorf("unexpected heartbeat reply")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return errors.Timeout("no heartbeat reply from kernel")
	}
}
