package backend

import (
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/houya/fqsocks/internal/config"
	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// SSH dials host:port, authenticates, and opens a direct-tcpip channel
// to the session's destination; the channel satisfies io.ReadWriteCloser
// and is handed straight to the shared Relay.
type SSH struct {
	meta     *domain.BackendMeta
	relay    ports.Relay
	addr     string
	username string
	password string
}

func NewSSH(identity string, cfg config.PrivateServerConfig, priority int, relay ports.Relay) *SSH {
	return &SSH{
		meta:     domain.NewBackendMeta(domain.BackendSSH, identity, priority),
		relay:    relay,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
	}
}

func (s *SSH) Meta() *domain.BackendMeta { return s.meta }

func (s *SSH) Supports(domain.Protocol, *domain.Session) bool { return true }

func (s *SSH) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	clientConfig := &ssh.ClientConfig{
		User:            s.username,
		Auth:            []ssh.AuthMethod{ssh.Password(s.password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         constants.DefaultConnectTimeout,
	}

	client, err := ssh.Dial("tcp", s.addr, clientConfig)
	if err != nil {
		return domain.Fallback(fmt.Sprintf("ssh dial %s: %v", s.addr, err), false, nil)
	}
	session.Own(client)

	dest := destAddr(session)
	channel, err := client.Dial("tcp", dest)
	if err != nil {
		return domain.Fallback(fmt.Sprintf("ssh direct-tcpip %s: %v", dest, err), false, nil)
	}
	session.Own(channel)

	return s.relay.Forward(ctx, session, channel, ports.RelayOptions{})
}

func RefreshSSH(context.Context, []ports.Backend) bool { return true }
