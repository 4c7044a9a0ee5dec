package workload

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/confidentio/tdxid/pkg/log"
)

// SSHListener is an embedded SSH daemon whose sole authorized key is the
// workload owner's public key. It exists only from configure_workload
// until expose_workload, matching invariant I4.
type SSHListener struct {
	listener net.Listener
	config   *ssh.ServerConfig
}

// StartSSHListener binds an SSH listener on addr (e.g. ":2222") that
// accepts only connections authenticating as ownerPubkey (an Ed25519
// public key). Accepted connections are handled in the background; this
// driver does not interpret the session beyond authentication, matching
// spec.md §1's "embedded SSH daemon" external collaborator.
func StartSSHListener(addr string, ownerPubkey ed25519.PublicKey) (*SSHListener, error) {
	hostKey, err := newHostKey()
	if err != nil {
		return nil, fmt.Errorf("generate ssh host key: %w", err)
	}

	authorized, err := ssh.NewPublicKey(ownerPubkey)
	if err != nil {
		return nil, fmt.Errorf("parse owner public key: %w", err)
	}
	authorizedMarshaled := authorized.Marshal()

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if !bytes.Equal(key.Marshal(), authorizedMarshaled) {
				return nil, fmt.Errorf("unauthorized public key from %s", conn.RemoteAddr())
			}
			return &ssh.Permissions{}, nil
		},
	}
	config.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	l := &SSHListener{listener: ln, config: config}
	go l.acceptLoop()
	return l, nil
}

// Close stops accepting new connections. It does not forcibly close
// sessions already established.
func (l *SSHListener) Close() error {
	return l.listener.Close()
}

func (l *SSHListener) acceptLoop() {
	logger := log.WithComponent("workload")
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			sshConn, chans, reqs, err := ssh.NewServerConn(conn, l.config)
			if err != nil {
				logger.Debug().Err(err).Msg("ssh handshake rejected")
				return
			}
			defer sshConn.Close()
			go ssh.DiscardRequests(reqs)
			for newChannel := range chans {
				newChannel.Reject(ssh.Prohibited, "interactive sessions are not enabled")
			}
		}()
	}
}

// newHostKey generates an ephemeral Ed25519 host key for the SSH
// listener. ed25519.PrivateKey already implements crypto.Signer, so no
// adapter is needed.
func newHostKey() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromSigner(priv)
}
