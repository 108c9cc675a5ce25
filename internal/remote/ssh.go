package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	xssh "golang.org/x/crypto/ssh"

	gssh "github.com/3cpo-dev/stackroll/internal/ssh"
	"github.com/3cpo-dev/stackroll/pkg/api"
)

// SSHOptions configures sessions to fleet instances.
type SSHOptions struct {
	User       string
	Port       int
	KeyPath    string
	KnownHosts string
	Timeout    time.Duration
	Retries    int
}

// SSHDialer opens sessions over SSH with a single private key.
type SSHDialer struct {
	opts       SSHOptions
	signer     xssh.Signer
	knownHosts xssh.HostKeyCallback
}

// NewSSHDialer loads the private key and known_hosts once up front.
func NewSSHDialer(opts SSHOptions) (*SSHDialer, error) {
	signer, err := gssh.LoadPrivateKeySigner(opts.KeyPath)
	if err != nil {
		return nil, err
	}
	kh, err := gssh.LoadKnownHostsCallback(opts.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	return &SSHDialer{opts: opts, signer: signer, knownHosts: kh}, nil
}

func (d *SSHDialer) Open(ctx context.Context, inst api.Instance) (Session, error) {
	if inst.Address == "" {
		return nil, fmt.Errorf("instance %s has no address", inst.ID)
	}
	c := &gssh.Client{
		Addr:       net.JoinHostPort(inst.Address, strconv.Itoa(d.opts.Port)),
		User:       d.opts.User,
		Signer:     d.signer,
		KnownHosts: d.knownHosts,
		Timeout:    d.opts.Timeout,
		Retries:    d.opts.Retries,
	}
	conn, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
