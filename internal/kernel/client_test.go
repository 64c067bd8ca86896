package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/jupyter"
)

func newTestClient(t *testing.T, k *fakeKernel) *Client {
	t.Helper()
	c, err := NewClient(k.info, ClientOptions{Dialer: k})
	require.NoError(t, err)
	require.NoError(t, c.StartChannels(context.Background()))
	t.Cleanup(c.StopChannels)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, ClientOptions{})
	assert.True(t, kerrors.Is(err, kerrors.ErrValidation))

	_, err = NewClient(&jupyter.ConnectionInfo{IP: "127.0.0.1"}, ClientOptions{})
	assert.True(t, kerrors.Is(err, kerrors.ErrConfiguration))

	info := newFakeKernel(t).info
	info.SignatureScheme = "hmac-md5"
	_, err = NewClient(info, ClientOptions{})
	assert.Error(t, err)
}

func TestClient_StartStopChannels(t *testing.T) {
	k := newFakeKernel(t)
	c, err := NewClient(k.info, ClientOptions{Dialer: k})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Session())
	assert.False(t, c.ChannelsRunning())

	require.NoError(t, c.StartChannels(context.Background()))
	assert.True(t, c.ChannelsRunning())
	assert.Equal(t, 2, k.dials[SocketDealer])
	assert.Equal(t, 1, k.dials[SocketSub])

	// Starting again while running does not redial.
	require.NoError(t, c.StartChannels(context.Background()))
	assert.Equal(t, 2, k.dials[SocketDealer])

	c.StopChannels()
	assert.False(t, c.ChannelsRunning())
	c.StopChannels()

	_, err = c.Execute(context.Background(), "1")
	assert.ErrorIs(t, err, kerrors.ErrChannelsClosed)
	_, err = c.IOPubMessage(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, kerrors.ErrChannelsClosed)
}

func TestClient_StartChannelsDialError(t *testing.T) {
	k := newFakeKernel(t)
	k.dialErr = errors.New("connection refused")

	c, err := NewClient(k.info, ClientOptions{Dialer: k})
	require.NoError(t, err)
	err = c.StartChannels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, c.ChannelsRunning())
}

func TestClient_BrokenSocketStopsChannels(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestClient(t, k)

	// Closing the kernel side of IOPub makes the pump fail.
	_ = k.iopub.Close()

	assert.Eventually(t, func() bool { return !c.ChannelsRunning() }, time.Second, 5*time.Millisecond)

	// Channels can be started again.
	require.NoError(t, c.StartChannels(context.Background()))
	assert.True(t, c.ChannelsRunning())
}

func TestClient_ExecuteRoundTrip(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestClient(t, k)
	ctx := context.Background()

	msgID, err := c.Execute(ctx, "print('hi')")
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	var types []string
	for {
		msg, err := c.IOPubMessage(ctx, 200*time.Millisecond)
		if errors.Is(err, ErrNoMessage) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, msgID, msg.ParentID())
		types = append(types, msg.Type())
	}
	assert.Equal(t, []string{"status", "stream", "status"}, types)

	reply, err := c.ShellMessage(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, jupyter.MsgExecuteReply, reply.Type())
	assert.Equal(t, msgID, reply.ParentID())

	var content jupyter.ExecuteReply
	require.NoError(t, reply.DecodeContent(&content))
	assert.Equal(t, jupyter.StatusOK, content.Status)
	assert.Equal(t, 1, content.ExecutionCount)

	_, err = c.ShellMessage(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestClient_DropsBadlySignedMessages(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestClient(t, k)

	forged, err := jupyter.NewSigner(jupyter.SchemeHMACSHA256, "wrong-key")
	require.NoError(t, err)
	msg, err := jupyter.NewMessage(jupyter.MsgStatus, "s", "u", jupyter.StatusContent{ExecutionState: "busy"})
	require.NoError(t, err)
	frames, err := jupyter.Encode(msg, forged)
	require.NoError(t, err)
	k.iopub.deliver(frames)

	_, err = c.IOPubMessage(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)
	assert.True(t, c.ChannelsRunning())
}

func TestClient_KernelInfo(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestClient(t, k)

	info, err := c.KernelInfo(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ipython", info.Implementation)
	assert.Equal(t, "python", info.LanguageInfo.Name)
}

func TestClient_WaitForReady(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestClient(t, k)

	info, err := c.WaitForReady(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "3.12.1", info.LanguageInfo.Version)

	// Anything still arriving is startup status traffic.
	for {
		msg, err := c.IOPubMessage(context.Background(), 20*time.Millisecond)
		if errors.Is(err, ErrNoMessage) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, jupyter.MsgStatus, msg.Type())
	}
}

func TestClient_WaitForReadyTimeout(t *testing.T) {
	k := newFakeKernel(t)
	k.setSilent(true)
	c := newTestClient(t, k)

	start := time.Now()
	_, err := c.WaitForReady(context.Background(), 150*time.Millisecond)
	assert.ErrorIs(t, err, kerrors.ErrKernelNotReady)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_ControlRequests(t *testing.T) {
	k := newFakeKernel(t)
	c := newTestClient(t, k)
	ctx := context.Background()

	require.NoError(t, c.Interrupt(ctx, time.Second))
	require.NoError(t, c.Shutdown(ctx, true, time.Second))
	assert.Equal(t, []string{jupyter.MsgInterruptRequest, jupyter.MsgShutdownRequest}, k.requestTypes())

	k.setSilent(true)
	err := c.Interrupt(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestClient_Ping(t *testing.T) {
	k := newFakeKernel(t)
	c, err := NewClient(k.info, ClientOptions{Dialer: k})
	require.NoError(t, err)

	require.NoError(t, c.Ping(context.Background(), time.Second))
	assert.Equal(t, 1, k.dials[SocketReq])

	k.setHeartbeat(false)
	err = c.Ping(context.Background(), 30*time.Millisecond)
	assert.True(t, kerrors.Is(err, kerrors.ErrTimeout))
}
