package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kreijstal/mcp-ipython/internal/errors"
	"github.com/kreijstal/mcp-ipython/internal/jupyter"
	"github.com/kreijstal/mcp-ipython/internal/logging"
)

// Statuses reported when no usable execute_reply arrived.
const (
	StatusShellReplyTimeout   = "error_shell_reply_timeout"
	StatusShellReplyException = "error_shell_reply_exception"
)

// ErrClientNotReady is returned by Executor.Run when the channels were
// down and could not be brought back.
var ErrClientNotReady = errors.New("failed to ensure kernel client readiness")

// Conn is the part of Client the executor needs.
type Conn interface {
	ChannelsRunning() bool
	StartChannels(ctx context.Context) error
	WaitForReady(ctx context.Context, timeout time.Duration) (*jupyter.KernelInfoReply, error)
	Execute(ctx context.Context, code string) (string, error)
	IOPubMessage(ctx context.Context, timeout time.Duration) (*jupyter.Message, error)
	ShellMessage(ctx context.Context, timeout time.Duration) (*jupyter.Message, error)
}

var _ Conn = (*Client)(nil)

// OutputKind identifies the IOPub message an Output came from.
type OutputKind string

const (
	OutputStatus  OutputKind = jupyter.MsgStatus
	OutputStream  OutputKind = jupyter.MsgStream
	OutputResult  OutputKind = jupyter.MsgExecuteResult
	OutputDisplay OutputKind = jupyter.MsgDisplayData
	OutputError   OutputKind = jupyter.MsgError
)

// Output is one IOPub message recorded for a request.
type Output struct {
	Kind OutputKind
	// State is the execution_state of a status message.
	State string
	// Name is the stream name (stdout, stderr).
	Name string
	// Text is the stream text or the text/plain representation.
	Text string
	// DataKeys lists the MIME types of a result without text/plain.
	DataKeys  []string
	EName     string
	EValue    string
	Traceback []string
}

// ExecutionResult is everything collected for one execute_request.
type ExecutionResult struct {
	MsgID string
	// Status is the execute_reply status, or one of the StatusShellReply*
	// values when no reply could be read.
	Status         string
	ExecutionCount int
	Outputs        []Output
	// ShellError is set when the reply status is "error".
	ShellError *jupyter.ErrorContent
	// IOPubTimedOut is set when the overall IOPub budget ran out.
	IOPubTimedOut bool
	// IOPubErr ends IOPub collection early.
	IOPubErr error
	// ShellErr is the failure behind StatusShellReplyException.
	ShellErr error
	Duration time.Duration
}

// ExecutorOptions tunes the collection loop. Zero values take defaults.
type ExecutorOptions struct {
	IOPubTimeout      time.Duration
	PollInterval      time.Duration
	RetryDelay        time.Duration
	ShellReplyTimeout time.Duration
	ReadyTimeout      time.Duration
	Logger            *logging.Logger
}

func (o *ExecutorOptions) setDefaults() {
	if o.IOPubTimeout <= 0 {
		o.IOPubTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	if o.ShellReplyTimeout <= 0 {
		o.ShellReplyTimeout = 10 * time.Second
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Executor runs one request at a time against a kernel connection.
type Executor struct {
	mu     sync.Mutex
	conn   Conn
	opts   ExecutorOptions
	logger *logging.Logger
}

// NewExecutor creates an executor for conn.
func NewExecutor(conn Conn, opts ExecutorOptions) *Executor {
	opts.setDefaults()
	return &Executor{
		conn:   conn,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Run executes code and collects its IOPub output and shell reply.
// Errors are returned only when nothing was executed; kernel-side
// failures are reported in the result.
func (e *Executor) Run(ctx context.Context, code string) (*ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureChannels(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	msgID, err := e.conn.Execute(ctx, code)
	if err != nil {
		return nil, errors.ExecutionWithCause("failed to send execute request", err)
	}

	result := &ExecutionResult{MsgID: msgID}
	logger := e.logger.With("msg_id", msgID)

	e.collectIOPub(ctx, result, logger)
	e.collectShellReply(ctx, result, logger)

	result.Duration = time.Since(started)
	logger.Debug("Execution finished", "status", result.Status, "outputs", len(result.Outputs), "duration", result.Duration)
	return result, nil
}

func (e *Executor) ensureChannels(ctx context.Context) error {
	if e.conn.ChannelsRunning() {
		return nil
	}

	e.logger.Warn("Kernel client channels were not running. Restarting them.")
	err := e.conn.StartChannels(ctx)
	if err == nil {
		_, err = e.conn.WaitForReady(ctx, e.opts.ReadyTimeout)
	}
	if err != nil {
		e.logger.Error("Failed to re-establish connection with kernel after channel restart", logging.Err(err))
		return errors.Join(ErrClientNotReady, err)
	}
	return nil
}

func (e *Executor) collectIOPub(ctx context.Context, result *ExecutionResult, logger *slog.Logger) {
	start := time.Now()
	idle := false

	for {
		if time.Since(start) > e.opts.IOPubTimeout {
			result.IOPubTimedOut = true
			logger.Debug("Overall IOPub timeout reached")
			return
		}

		msg, err := e.conn.IOPubMessage(ctx, e.opts.PollInterval)
		if errors.Is(err, ErrNoMessage) {
			if idle {
				// Idle was reported and the queue is empty: the request is done.
				return
			}
			if err := sleep(ctx, e.opts.RetryDelay); err != nil {
				result.IOPubErr = err
				return
			}
			continue
		}
		if err != nil {
			result.IOPubErr = err
			return
		}

		if msg.ParentID() != result.MsgID {
			logger.Debug("Ignored IOPub message", "msg_type", msg.Type(), "parent_id", msg.ParentID())
			continue
		}

		out, ok, err := decodeOutput(msg)
		if err != nil {
			result.IOPubErr = err
			return
		}
		if !ok {
			continue
		}
		result.Outputs = append(result.Outputs, out)
		if out.Kind == OutputStatus && out.State == jupyter.StateIdle {
			idle = true
		}
	}
}

func (e *Executor) collectShellReply(ctx context.Context, result *ExecutionResult, logger *slog.Logger) {
	deadline := time.Now().Add(e.opts.ShellReplyTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			result.Status = StatusShellReplyTimeout
			return
		}

		msg, err := e.conn.ShellMessage(ctx, remaining)
		if errors.Is(err, ErrNoMessage) {
			result.Status = StatusShellReplyTimeout
			return
		}
		if err != nil {
			result.Status = StatusShellReplyException
			result.ShellErr = err
			return
		}

		// Replies to requests that timed out earlier are still queued.
		if msg.ParentID() != result.MsgID {
			logger.Debug("Skipped stale shell reply", "msg_type", msg.Type(), "parent_id", msg.ParentID())
			continue
		}

		var reply jupyter.ExecuteReply
		if err := msg.DecodeContent(&reply); err != nil {
			result.Status = StatusShellReplyException
			result.ShellErr = err
			return
		}

		result.Status = reply.Status
		result.ExecutionCount = reply.ExecutionCount
		if reply.Status == jupyter.StatusError {
			var details errorDetails
			if err := msg.DecodeContent(&details); err != nil {
				result.Status = StatusShellReplyException
				result.ShellErr = err
				return
			}
			result.ShellError = details.content()
		}
		return
	}
}

// decodeOutput converts an IOPub message into an Output. Message types
// that carry no output (execute_input, clear_output, comms) report false.
func decodeOutput(msg *jupyter.Message) (Output, bool, error) {
	switch msg.Type() {
	case jupyter.MsgStatus:
		var c jupyter.StatusContent
		if err := msg.DecodeContent(&c); err != nil {
			return Output{}, false, err
		}
		return Output{Kind: OutputStatus, State: c.ExecutionState}, true, nil

	case jupyter.MsgStream:
		var c jupyter.StreamContent
		if err := msg.DecodeContent(&c); err != nil {
			return Output{}, false, err
		}
		return Output{Kind: OutputStream, Name: c.Name, Text: c.Text}, true, nil

	case jupyter.MsgExecuteResult, jupyter.MsgDisplayData:
		var c struct {
			Data json.RawMessage `json:"data"`
		}
		if err := msg.DecodeContent(&c); err != nil {
			return Output{}, false, err
		}
		keys, plain, err := mimeBundle(c.Data)
		if err != nil {
			return Output{}, false, err
		}
		return Output{Kind: OutputKind(msg.Type()), Text: plain, DataKeys: keys}, true, nil

	case jupyter.MsgError:
		var details errorDetails
		if err := msg.DecodeContent(&details); err != nil {
			return Output{}, false, err
		}
		c := details.content()
		return Output{Kind: OutputError, EName: c.EName, EValue: c.EValue, Traceback: c.Traceback}, true, nil
	}
	return Output{}, false, nil
}

// errorDetails is the error part of an error message or execute_reply.
// The pointers tell a missing ename or evalue apart from an empty one.
type errorDetails struct {
	EName     *string  `json:"ename"`
	EValue    *string  `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// content substitutes N/A for a missing ename or evalue.
func (d errorDetails) content() *jupyter.ErrorContent {
	return &jupyter.ErrorContent{
		EName:     valueOrNA(d.EName),
		EValue:    valueOrNA(d.EValue),
		Traceback: d.Traceback,
	}
}

func valueOrNA(s *string) string {
	if s == nil {
		return notAvailable
	}
	return *s
}

// mimeBundle returns the MIME types of a data bundle in document order
// and its text/plain value.
func mimeBundle(raw json.RawMessage) ([]string, string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, "", nil
	}

	var bundle map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, "", err
	}

	var plain string
	if v, ok := bundle["text/plain"]; ok {
		// Non-string text/plain values are treated as absent.
		_ = json.Unmarshal(v, &plain)
	}

	keys, err := objectKeys(raw)
	if err != nil {
		return nil, "", err
	}
	return keys, plain, nil
}

// objectKeys lists the top-level keys of a JSON object in order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
