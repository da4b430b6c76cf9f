package transport

import (
	"errors"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/cockpit-project/cockpit-ws-go/internal/knownhosts"
	"github.com/cockpit-project/cockpit-ws-go/internal/problem"
	"github.com/cockpit-project/cockpit-ws-go/internal/secret"
)

// SSHConfig configures an SSHTransport dial.
type SSHConfig struct {
	Host string
	Port int // defaults to 22
	User string

	Password *secret.String // nil if key-based auth only
	Signers  []ssh.Signer

	KnownHosts *knownhosts.Store // nil disables verification (test use only)

	// AgentProgram is the remote command executed on the opened session
	// channel, e.g. "cockpit-bridge". Defaults to "cockpit-bridge".
	AgentProgram string

	DialTimeout time.Duration
}

// SSHTransport frames a cockpit-bridge session channel opened over SSH.
type SSHTransport struct {
	*framedConn
	client *ssh.Client
}

// Dial connects, authenticates, and starts the remote agent program,
// returning a framed Transport over its combined stdio.
func Dial(cfg SSHConfig) (*SSHTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("transport: missing ssh host")
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	agent := cfg.AgentProgram
	if agent == "" {
		agent = "cockpit-bridge"
	}
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var auths []ssh.AuthMethod
	if len(cfg.Signers) > 0 {
		auths = append(auths, ssh.PublicKeys(cfg.Signers...))
	}
	if cfg.Password != nil {
		auths = append(auths, ssh.Password(cfg.Password.Reveal()))
	}

	var verify knownhosts.VerifyResult
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != nil {
		hostKeyCallback = cfg.KnownHosts.Callback(&verify)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		if verify.Fingerprint != "" {
			return nil, &ErrUnknownHostKey{Key: verify.Key, Fingerprint: verify.Fingerprint}
		}
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	rwc, err := sessionPipe(session)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := session.Start(agent); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &SSHTransport{framedConn: newFramedConn(rwc), client: client}, nil
}

// sessionRWC adapts an *ssh.Session's Stdin/Stdout into one
// io.ReadWriteCloser; closing it closes the whole SSH session channel, the
// counterpart of stdioRWC closing both of a local bridge's pipes.
type sessionRWC struct {
	session *ssh.Session
	stdin   interface{ Write([]byte) (int, error) }
	stdout  interface{ Read([]byte) (int, error) }
}

func (s sessionRWC) Read(b []byte) (int, error)  { return s.stdout.Read(b) }
func (s sessionRWC) Write(b []byte) (int, error) { return s.stdin.Write(b) }
func (s sessionRWC) Close() error                { return s.session.Close() }

func sessionPipe(session *ssh.Session) (sessionRWC, error) {
	stdin, err := session.StdinPipe()
	if err != nil {
		return sessionRWC{}, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return sessionRWC{}, err
	}
	return sessionRWC{session: session, stdin: stdin, stdout: stdout}, nil
}

// Close closes the SSH session and the underlying client connection.
func (t *SSHTransport) Close(prob problem.Problem) {
	t.closeOnce.Do(func() {
		_ = t.rwc.Close()
		_ = t.client.Close()
		t.closedC <- ClosedEvent{Problem: prob}
		close(t.closedC)
	})
}
