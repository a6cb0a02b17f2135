package backend

import (
	"context"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/houya/fqsocks/internal/config"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
)

// Shadowsocks dials host:port and wraps the byte stream in a ChaCha20
// keystream cipher keyed from the configured password, exercising the
// Relay's encrypt/decrypt hooks rather than reimplementing the full
// Shadowsocks AEAD wire format.
type Shadowsocks struct {
	meta     *domain.BackendMeta
	relay    ports.Relay
	addr     string
	password string
}

func NewShadowsocks(identity string, cfg config.PrivateServerConfig, priority int, relay ports.Relay) *Shadowsocks {
	return &Shadowsocks{
		meta:     domain.NewBackendMeta(domain.BackendShadowsocks, identity, priority),
		relay:    relay,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		password: cfg.Password,
	}
}

func (s *Shadowsocks) Meta() *domain.BackendMeta { return s.meta }

func (s *Shadowsocks) Supports(domain.Protocol, *domain.Session) bool { return true }

func (s *Shadowsocks) Forward(ctx context.Context, session *domain.Session) domain.ForwardResult {
	key := sha256.Sum256([]byte(s.password))
	var nonce [chacha20.NonceSize]byte

	encCipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return domain.Fallback(fmt.Sprintf("shadowsocks cipher init: %v", err), false, nil)
	}
	decCipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return domain.Fallback(fmt.Sprintf("shadowsocks cipher init: %v", err), false, nil)
	}

	opts := ports.RelayOptions{
		Encrypt: func(b []byte) []byte {
			out := make([]byte, len(b))
			encCipher.XORKeyStream(out, b)
			return out
		},
		Decrypt: func(b []byte) []byte {
			out := make([]byte, len(b))
			decCipher.XORKeyStream(out, b)
			return out
		},
	}

	return relayVia(ctx, s.relay, session, s.addr, opts)
}

func RefreshShadowsocks(context.Context, []ports.Backend) bool { return true }
