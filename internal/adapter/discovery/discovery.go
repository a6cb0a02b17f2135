// Package discovery resolves the public-backend directory via a DNS TXT
// lookup against a fixed resolver, per the external interfaces contract:
// each TXT answer has the form PRIORITY:TYPE:COUNT:TEMPLATE, and for
// i in 1..COUNT a dynamic backend identity is instantiated by substituting
// '#' in TEMPLATE with i.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/houya/fqsocks/internal/core/constants"
	"github.com/houya/fqsocks/internal/core/domain"
	"github.com/houya/fqsocks/internal/core/ports"
	"github.com/houya/fqsocks/internal/logger"
	"github.com/houya/fqsocks/internal/util"
)

// Client implements ports.DirectoryClient against a pinned DNS server,
// since no ecosystem DNS client library is present in the dependency
// corpus this module was built from.
type Client struct {
	dnsServer string
	log       *logger.StyledLogger
}

// New builds a Client that queries the given "host:port" DNS server
// (typically constants.DirectoryDNSServer).
func New(dnsServer string, log *logger.StyledLogger) *Client {
	if dnsServer == "" {
		dnsServer = constants.DirectoryDNSServer
	}
	return &Client{dnsServer: dnsServer, log: log}
}

func (c *Client) resolver() *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: constants.HealthCheckTimeout}
			return d.DialContext(ctx, network, c.dnsServer)
		},
	}
}

// Lookup queries name for TXT records and expands each PRIORITY:TYPE:COUNT:TEMPLATE
// record into its COUNT instantiated DirectoryRecords. After the first
// query, up to DirectoryMaxAttempts (8) retries follow, each after a
// cancellable timer of 1,2,4,...,128s; all of them failing returns the
// last error.
func (c *Client) Lookup(ctx context.Context, name string) ([]ports.DirectoryRecord, error) {
	var lastErr error

	for attempt := 1; attempt <= constants.DirectoryMaxAttempts+1; attempt++ {
		records, err := c.lookupOnce(ctx, name)
		if err == nil {
			return records, nil
		}
		lastErr = err

		if c.log != nil {
			c.log.Warn("directory lookup attempt failed", "attempt", attempt, "name", name, "error", err)
		}

		if attempt > constants.DirectoryMaxAttempts {
			break
		}

		backoff := util.CalculateExponentialBackoff(attempt, constants.DirectoryBaseBackoff, constants.DirectoryMaxBackoff, 0)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("discovery: lookup %q: %w", name, lastErr)
}

func (c *Client) lookupOnce(ctx context.Context, name string) ([]ports.DirectoryRecord, error) {
	txts, err := c.resolver().LookupTXT(ctx, name)
	if err != nil {
		return nil, err
	}

	var out []ports.DirectoryRecord
	for _, txt := range txts {
		recs, err := parseTXTRecord(txt)
		if err != nil {
			if c.log != nil {
				c.log.Warn("discarding malformed directory record", "record", txt, "error", err)
			}
			continue
		}
		out = append(out, recs...)
	}

	return out, nil
}

// parseTXTRecord expands one PRIORITY:TYPE:COUNT:TEMPLATE TXT answer into
// COUNT DirectoryRecords with '#' substituted by 1..COUNT in TEMPLATE.
func parseTXTRecord(txt string) ([]ports.DirectoryRecord, error) {
	parts := strings.SplitN(txt, ":", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected 4 colon-separated fields, got %d", len(parts))
	}

	priority, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid priority %q: %w", parts[0], err)
	}

	backendType := domain.BackendType(parts[1])
	if !constants.KnownBackendTypes[string(backendType)] {
		return nil, fmt.Errorf("unknown backend type %q", parts[1])
	}

	count, err := strconv.Atoi(parts[2])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("invalid count %q", parts[2])
	}

	template := parts[3]
	if !strings.Contains(template, "#") {
		return nil, fmt.Errorf("template %q missing '#' placeholder", template)
	}

	records := make([]ports.DirectoryRecord, 0, count)
	for i := 1; i <= count; i++ {
		identity := strings.ReplaceAll(template, "#", strconv.Itoa(i)) + constants.DirectoryDomainSuffix
		records = append(records, ports.DirectoryRecord{
			Priority: priority,
			Type:     backendType,
			Identity: identity,
		})
	}

	return records, nil
}
