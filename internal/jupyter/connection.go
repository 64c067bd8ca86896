package jupyter

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// Channel names a kernel socket.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelIOPub   Channel = "iopub"
	ChannelStdin   Channel = "stdin"
	ChannelControl Channel = "control"
	ChannelHB      Channel = "hb"
)

// ConnectionInfo is the content of a kernel connection file.
type ConnectionInfo struct {
	Transport       string `json:"transport"`
	IP              string `json:"ip"`
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	Key             string `json:"key"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// Port returns the port assigned to ch.
func (c *ConnectionInfo) Port(ch Channel) int {
	switch ch {
	case ChannelShell:
		return c.ShellPort
	case ChannelIOPub:
		return c.IOPubPort
	case ChannelStdin:
		return c.StdinPort
	case ChannelControl:
		return c.ControlPort
	case ChannelHB:
		return c.HBPort
	default:
		return 0
	}
}

// Endpoint returns the ZeroMQ endpoint for ch, e.g. tcp://127.0.0.1:53794.
func (c *ConnectionInfo) Endpoint(ch Channel) string {
	transport := c.Transport
	if transport == "" {
		transport = "tcp"
	}
	if transport == "ipc" {
		return fmt.Sprintf("ipc://%s-%d", c.IP, c.Port(ch))
	}
	return fmt.Sprintf("%s://%s", transport, net.JoinHostPort(c.IP, strconv.Itoa(c.Port(ch))))
}

// Validate reports missing or out of range fields.
func (c *ConnectionInfo) Validate() error {
	if c.Transport != "" && c.Transport != "tcp" && c.Transport != "ipc" {
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	if c.IP == "" {
		return fmt.Errorf("connection info has no ip")
	}
	for _, ch := range []Channel{ChannelShell, ChannelIOPub, ChannelStdin, ChannelControl, ChannelHB} {
		if p := c.Port(ch); p <= 0 || p > 65535 {
			return fmt.Errorf("invalid %s port %d", ch, p)
		}
	}
	if c.Key != "" && c.SignatureScheme != "" && c.SignatureScheme != SchemeHMACSHA256 {
		return fmt.Errorf("unsupported signature scheme %q", c.SignatureScheme)
	}
	return nil
}

// NewConnectionInfo allocates five free TCP ports on ip and returns a
// connection description signed with key.
func NewConnectionInfo(ip, key string) (*ConnectionInfo, error) {
	ports, err := freePorts(ip, 5)
	if err != nil {
		return nil, err
	}
	return &ConnectionInfo{
		Transport:       "tcp",
		IP:              ip,
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		ControlPort:     ports[3],
		HBPort:          ports[4],
		Key:             key,
		SignatureScheme: SchemeHMACSHA256,
		KernelName:      "python3",
	}, nil
}

// freePorts binds n ephemeral ports at once so they are distinct, then
// releases them for the kernel to claim.
func freePorts(ip string, n int) ([]int, error) {
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()

	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
		if err != nil {
			return nil, fmt.Errorf("allocate port on %s: %w", ip, err)
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}
	return ports, nil
}

// ReadConnectionFile parses and validates a connection file.
func ReadConnectionFile(path string) (*ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connection file: %w", err)
	}
	var info ConnectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse connection file %s: %w", path, err)
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("connection file %s: %w", path, err)
	}
	return &info, nil
}
