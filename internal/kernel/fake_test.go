package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/jupyter"
)

var (
	errSocketClosed   = errors.New("socket closed")
	errTimeoutForTest = kerrors.Timeout("fake process still running")
)

// memSocket is one end of an in-memory socket. Frames written with Send
// are handed to onSend; the peer pushes frames for Recv with deliver.
type memSocket struct {
	in        chan [][]byte
	closed    chan struct{}
	closeOnce sync.Once
	onSend    func(frames [][]byte)
}

func newMemSocket(onSend func([][]byte)) *memSocket {
	return &memSocket{
		in:     make(chan [][]byte, 256),
		closed: make(chan struct{}),
		onSend: onSend,
	}
}

func (s *memSocket) Send(frames [][]byte) error {
	select {
	case <-s.closed:
		return errSocketClosed
	default:
	}
	if s.onSend != nil {
		s.onSend(frames)
	}
	return nil
}

func (s *memSocket) Recv() ([][]byte, error) {
	select {
	case frames := <-s.in:
		return frames, nil
	case <-s.closed:
		return nil, errSocketClosed
	}
}

func (s *memSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *memSocket) deliver(frames [][]byte) {
	select {
	case s.in <- frames:
	case <-s.closed:
	}
}

// execScript describes what the fake kernel does for one execute_request.
type execScript struct {
	// iopub messages published between busy and idle.
	outputs []fakeOutput
	reply   jupyter.ExecuteReply
	// noReply suppresses the shell reply.
	noReply bool
	// noIdle suppresses the trailing idle status.
	noIdle bool
}

type fakeOutput struct {
	msgType string
	content any
}

// fakeKernel plays the kernel side of the protocol over memSockets.
type fakeKernel struct {
	t      *testing.T
	info   *jupyter.ConnectionInfo
	signer *jupyter.Signer

	mu        sync.Mutex
	shell     *memSocket
	control   *memSocket
	iopub     *memSocket
	dials     map[SocketKind]int
	dialErr   error
	refused   int
	// bindAt refuses dials before it, like a kernel still binding ports.
	bindAt time.Time
	execCount int
	requests  []string

	// silent makes the kernel ignore every request.
	silent bool
	// heartbeat controls whether pings are answered.
	heartbeat bool
	// exec scripts execute requests; nil echoes the code to stdout.
	exec func(code string) execScript
}

func newFakeKernel(t *testing.T) *fakeKernel {
	t.Helper()
	info := &jupyter.ConnectionInfo{
		Transport:       "tcp",
		IP:              "127.0.0.1",
		ShellPort:       40001,
		IOPubPort:       40002,
		StdinPort:       40003,
		ControlPort:     40004,
		HBPort:          40005,
		Key:             "test-key",
		SignatureScheme: jupyter.SchemeHMACSHA256,
	}
	signer, err := jupyter.NewSigner(info.SignatureScheme, info.Key)
	require.NoError(t, err)
	return &fakeKernel{
		t:         t,
		info:      info,
		signer:    signer,
		dials:     map[SocketKind]int{},
		heartbeat: true,
	}
}

// bindAfter makes the kernel refuse connections for d.
func (k *fakeKernel) bindAfter(d time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.bindAt = time.Now().Add(d)
	k.refused = 0
}

func (k *fakeKernel) refusedDials() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.refused
}

// adopt makes the kernel answer on the endpoints of info, as a launched
// kernel does with its connection file.
func (k *fakeKernel) adopt(info *jupyter.ConnectionInfo) {
	signer, err := jupyter.NewSigner(info.SignatureScheme, info.Key)
	if !assert.NoError(k.t, err) {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.info = info
	k.signer = signer
}

func (k *fakeKernel) Dial(_ context.Context, kind SocketKind, endpoint, _ string) (Socket, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.dialErr != nil {
		return nil, k.dialErr
	}
	if time.Now().Before(k.bindAt) {
		k.refused++
		return nil, fmt.Errorf("dial %s %s: connect: connection refused", kind, endpoint)
	}
	k.dials[kind]++

	switch endpoint {
	case k.info.Endpoint(jupyter.ChannelShell):
		k.shell = newMemSocket(func(f [][]byte) { k.handle(jupyter.ChannelShell, f) })
		return k.shell, nil
	case k.info.Endpoint(jupyter.ChannelControl):
		k.control = newMemSocket(func(f [][]byte) { k.handle(jupyter.ChannelControl, f) })
		return k.control, nil
	case k.info.Endpoint(jupyter.ChannelIOPub):
		k.iopub = newMemSocket(nil)
		return k.iopub, nil
	case k.info.Endpoint(jupyter.ChannelHB):
		var hb *memSocket
		hb = newMemSocket(func(f [][]byte) {
			k.mu.Lock()
			alive := k.heartbeat
			k.mu.Unlock()
			if alive {
				hb.deliver(f)
			}
		})
		return hb, nil
	}
	assert.Failf(k.t, "unexpected endpoint", "endpoint %s", endpoint)
	return nil, errors.New("unexpected endpoint")
}

func (k *fakeKernel) setHeartbeat(alive bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.heartbeat = alive
}

func (k *fakeKernel) setSilent(silent bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.silent = silent
}

func (k *fakeKernel) requestTypes() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.requests...)
}

func (k *fakeKernel) handle(channel jupyter.Channel, frames [][]byte) {
	k.mu.Lock()
	signer := k.signer
	k.mu.Unlock()

	req, err := jupyter.Decode(frames, signer)
	if !assert.NoError(k.t, err, "fake kernel: decode %s request", channel) {
		return
	}

	k.mu.Lock()
	k.requests = append(k.requests, req.Type())
	silent := k.silent
	shell, control, iopub := k.shell, k.control, k.iopub
	k.mu.Unlock()

	if silent {
		return
	}

	switch req.Type() {
	case jupyter.MsgKernelInfoRequest:
		k.publish(iopub, req, jupyter.MsgStatus, jupyter.StatusContent{ExecutionState: jupyter.StateBusy})
		k.send(shell, req, jupyter.MsgKernelInfoReply, jupyter.KernelInfoReply{
			Status:                jupyter.StatusOK,
			ProtocolVersion:       jupyter.ProtocolVersion,
			Implementation:        "ipython",
			ImplementationVersion: "8.20.0",
			LanguageInfo:          jupyter.LanguageInfo{Name: "python", Version: "3.12.1", FileExtension: ".py"},
		})
		k.publish(iopub, req, jupyter.MsgStatus, jupyter.StatusContent{ExecutionState: jupyter.StateIdle})

	case jupyter.MsgExecuteRequest:
		var content jupyter.ExecuteRequest
		if err := req.DecodeContent(&content); !assert.NoError(k.t, err, "fake kernel: decode execute_request") {
			return
		}
		script := k.script(content.Code)

		k.publish(iopub, req, jupyter.MsgStatus, jupyter.StatusContent{ExecutionState: jupyter.StateBusy})
		for _, out := range script.outputs {
			k.publish(iopub, req, out.msgType, out.content)
		}
		if !script.noReply {
			k.send(shell, req, jupyter.MsgExecuteReply, script.reply)
		}
		if !script.noIdle {
			k.publish(iopub, req, jupyter.MsgStatus, jupyter.StatusContent{ExecutionState: jupyter.StateIdle})
		}

	case jupyter.MsgShutdownRequest:
		var content jupyter.ShutdownRequest
		_ = req.DecodeContent(&content)
		k.send(control, req, jupyter.MsgShutdownReply, map[string]any{"status": "ok", "restart": content.Restart})

	case jupyter.MsgInterruptRequest:
		k.send(control, req, jupyter.MsgInterruptReply, map[string]any{"status": "ok"})
	}
}

func (k *fakeKernel) script(code string) execScript {
	k.mu.Lock()
	k.execCount++
	count := k.execCount
	exec := k.exec
	k.mu.Unlock()

	if exec != nil {
		s := exec(code)
		if s.reply.Status == "" {
			s.reply.Status = jupyter.StatusOK
		}
		if s.reply.ExecutionCount == 0 {
			s.reply.ExecutionCount = count
		}
		return s
	}
	return execScript{
		outputs: []fakeOutput{{jupyter.MsgStream, jupyter.StreamContent{Name: "stdout", Text: code + "\n"}}},
		reply:   jupyter.ExecuteReply{Status: jupyter.StatusOK, ExecutionCount: count},
	}
}

func (k *fakeKernel) currentSigner() *jupyter.Signer {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.signer
}

func (k *fakeKernel) send(sock *memSocket, req *jupyter.Message, msgType string, content any) {
	if sock == nil {
		return
	}
	reply, err := req.Reply(msgType, content)
	if !assert.NoError(k.t, err, "fake kernel: build %s", msgType) {
		return
	}
	frames, err := jupyter.Encode(reply, k.currentSigner())
	if !assert.NoError(k.t, err, "fake kernel: encode %s", msgType) {
		return
	}
	sock.deliver(frames)
}

func (k *fakeKernel) publish(sock *memSocket, req *jupyter.Message, msgType string, content any) {
	if sock == nil {
		return
	}
	msg, err := req.Reply(msgType, content)
	if !assert.NoError(k.t, err, "fake kernel: build %s", msgType) {
		return
	}
	msg.Identities = [][]byte{[]byte("kernel." + msgType)}
	frames, err := jupyter.Encode(msg, k.currentSigner())
	if !assert.NoError(k.t, err, "fake kernel: encode %s", msgType) {
		return
	}
	sock.deliver(frames)
}

// fakeProcess is a KernelProcess that exits when killed.
type fakeProcess struct {
	mu          sync.Mutex
	pid         int
	connFile    string
	started     time.Time
	done        chan struct{}
	exited      bool
	kills       int
	interrupts  int
	interruptFn func() error
	// exitOnWait makes Wait see a graceful exit.
	exitOnWait bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, started: time.Now(), done: make(chan struct{}), connFile: "/tmp/kernel-fake.json"}
}

func (p *fakeProcess) Pid() int               { return p.pid }
func (p *fakeProcess) StartedAt() time.Time   { return p.started }
func (p *fakeProcess) ConnectionFile() string { return p.connFile }
func (p *fakeProcess) Done() <-chan struct{}  { return p.done }
func (p *fakeProcess) Stderr() string         { return "fake stderr" }

func (p *fakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *fakeProcess) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		p.exited = true
		close(p.done)
	}
}

func (p *fakeProcess) Wait(timeout time.Duration) error {
	p.mu.Lock()
	graceful := p.exitOnWait
	p.mu.Unlock()
	if graceful {
		p.exit()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return errTimeoutForTest
	}
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProcess) Interrupt() error {
	p.mu.Lock()
	p.interrupts++
	fn := p.interruptFn
	p.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// fakeLauncher hands out fakeProcesses and points kernel at the
// connection info it was asked to launch with.
type fakeLauncher struct {
	kernel   *fakeKernel
	mu       sync.Mutex
	procs    []*fakeProcess
	startErr error
	cleanups []string
	infos    []*jupyter.ConnectionInfo
}

func (l *fakeLauncher) Start(_ context.Context, _ string, info *jupyter.ConnectionInfo) (KernelProcess, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.startErr != nil {
		return nil, l.startErr
	}
	if l.kernel != nil {
		l.kernel.adopt(info)
	}
	p := newFakeProcess(1000 + len(l.procs))
	l.procs = append(l.procs, p)
	l.infos = append(l.infos, info)
	return p, nil
}

func (l *fakeLauncher) Cleanup(kernelID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanups = append(l.cleanups, kernelID)
	return nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}
