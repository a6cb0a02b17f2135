package domain

// Protocol is the application protocol a Session is classified as, inferred
// by the sniffer from the first bytes the client sends.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolHTTP
	ProtocolHTTPS
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "HTTP"
	case ProtocolHTTPS:
		return "HTTPS"
	default:
		return "UNKNOWN"
	}
}
