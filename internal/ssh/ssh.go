package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	"github.com/3cpo-dev/stackroll/pkg/api"
)

type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

type NetDialer struct{ Timeout time.Duration }

func (d NetDialer) Dial(network, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	return nd.Dial(network, addr)
}

// Client holds everything needed to reach one host. Retries apply to
// establishing the connection only; commands are never re-run.
type Client struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Dialer     Dialer
}

func (c *Client) makeConfig() (*xssh.ClientConfig, error) {
	if c.Signer == nil {
		return nil, errors.New("ssh: signer required")
	}
	if c.KnownHosts == nil {
		// autoscaled hosts are replaced too often for a pinned known_hosts
		c.KnownHosts = xssh.InsecureIgnoreHostKey()
	}
	return &xssh.ClientConfig{
		User:            c.User,
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(c.Signer)},
		HostKeyCallback: c.KnownHosts,
		Timeout:         c.Timeout,
	}, nil
}

// Connect establishes an authenticated connection, retrying the dial with
// linear backoff. The caller must Close the returned Conn.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	cfg, err := c.makeConfig()
	if err != nil {
		return nil, err
	}
	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = NetDialer{Timeout: c.Timeout}
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		cli, err := dial(dialer, c.Addr, cfg)
		if err == nil {
			return &Conn{Addr: c.Addr, client: cli}, nil
		}
		lastErr = err
		if attempt < retries {
			log.Debug().Err(err).Str("addr", c.Addr).Int("attempt", attempt+1).Msg("ssh dial failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff * time.Duration(attempt+1)):
			}
		}
	}
	return nil, fmt.Errorf("ssh dial %s: %w", c.Addr, lastErr)
}

func dial(d Dialer, addr string, cfg *xssh.ClientConfig) (*xssh.Client, error) {
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	sc, chans, reqs, err := xssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return xssh.NewClient(sc, chans, reqs), nil
}

// Conn is an open connection that runs commands one after another.
type Conn struct {
	Addr   string
	client *xssh.Client
}

// Run executes command in a new channel on the connection. A non-zero exit
// is reported in the result, not as an error; err is reserved for transport
// failures.
func (c *Conn) Run(ctx context.Context, command string) (api.CommandResult, error) {
	res := api.CommandResult{Command: command}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	session, err := c.client.NewSession()
	if err != nil {
		return res, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	err = session.Run(command)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	var exitErr *xssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
	default:
		return res, fmt.Errorf("run command: %w", err)
	}
	return res, nil
}

// Pull downloads remotePath into localPath over SFTP.
func (c *Conn) Pull(ctx context.Context, remotePath, localPath string) error {
	return PullFile(ctx, c.client, remotePath, localPath)
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.client.Close() }
