package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

type reply struct {
	stdout, stderr string
	status         uint32
}

// startServer runs an SSH server on loopback that answers exec requests
// from the replies table. Unknown commands exit 127.
func startServer(t *testing.T, replies map[string]reply) string {
	t.Helper()
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	hostSigner, err := xssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &xssh.ServerConfig{
		PublicKeyCallback: func(conn xssh.ConnMetadata, key xssh.PublicKey) (*xssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg, replies)
		}
	}()
	return ln.Addr().String()
}

func serveConn(nc net.Conn, cfg *xssh.ServerConfig, replies map[string]reply) {
	_, chans, reqs, err := xssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go xssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(xssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			return
		}
		go func(ch xssh.Channel, in <-chan *xssh.Request) {
			defer ch.Close()
			for req := range in {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = xssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				r, ok := replies[payload.Command]
				if !ok {
					r = reply{stderr: "command not found", status: 127}
				}
				_, _ = ch.Write([]byte(r.stdout))
				_, _ = ch.Stderr().Write([]byte(r.stderr))
				_, _ = ch.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{r.status}))
				return
			}
		}(ch, chReqs)
	}
}

func testSigner(t *testing.T) xssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	s, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

func TestConnRunReportsExitStatus(t *testing.T) {
	addr := startServer(t, map[string]reply{
		"echo ok":  {stdout: "ok\n"},
		"exit 3":   {stderr: "bad\n", status: 3},
		"uname -a": {stdout: "Linux\n"},
	})
	c := &Client{Addr: addr, User: "ec2-user", Signer: testSigner(t), Timeout: 5 * time.Second}
	ctx := context.Background()
	conn, err := c.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	res, err := conn.Run(ctx, "echo ok")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success() || res.Stdout != "ok\n" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = conn.Run(ctx, "exit 3")
	if err != nil {
		t.Fatalf("non-zero exit must not be a transport error: %v", err)
	}
	if res.ExitStatus != 3 || res.Stderr != "bad\n" || res.Command != "exit 3" {
		t.Fatalf("unexpected result %+v", res)
	}

	// the same connection serves further commands
	res, err = conn.Run(ctx, "uname -a")
	if err != nil || res.Stdout != "Linux\n" {
		t.Fatalf("second command on connection: %+v %v", res, err)
	}
}

func TestConnectFailsWithoutSigner(t *testing.T) {
	c := &Client{Addr: "127.0.0.1:1"}
	if _, err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected error without signer")
	}
}

func TestConnectGivesUpAfterRetries(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := &Client{Addr: addr, Signer: testSigner(t), Timeout: time.Second, Retries: 1, Backoff: 10 * time.Millisecond}
	if _, err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
}
