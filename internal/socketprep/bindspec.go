package socketprep

import (
	"fmt"
	"strings"
)

// Family restricts which address family a bind spec may resolve to.
type Family int

const (
	FamilyAny Family = iota
	FamilyV4Only
	FamilyV6Only
)

// network returns the net.Listen network name implied by a Family, i.e. how
// address-family restriction is applied as a filter during resolution:
// resolution picks the first address of the allowed family.
func (f Family) network() string {
	switch f {
	case FamilyV4Only:
		return "tcp4"
	case FamilyV6Only:
		return "tcp6"
	default:
		return "tcp"
	}
}

// BindSpec is one parsed `-b/--bind` argument: a host/port pair plus the two
// option bits from the `host:port[,r][,n]` grammar.
type BindSpec struct {
	Raw         string
	Host        string
	Port        string
	ReuseAddr   bool
	NonBlocking bool
}

// ParseBindSpec parses the `-b/--bind` grammar. Unknown option letters are
// fatal.
func ParseBindSpec(raw string) (BindSpec, error) {
	parts := strings.Split(raw, ",")
	hostport := parts[0]

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return BindSpec{}, fmt.Errorf("bind spec %q: %w", raw, err)
	}

	spec := BindSpec{Raw: raw, Host: host, Port: port}
	for _, opt := range parts[1:] {
		switch opt {
		case "r":
			spec.ReuseAddr = true
		case "n":
			spec.NonBlocking = true
		case "":
			// tolerate a trailing comma
		default:
			return BindSpec{}, fmt.Errorf("bind spec %q: unknown option %q", raw, opt)
		}
	}
	return spec, nil
}

// splitHostPort splits "host:port" without requiring a resolvable host up
// front — resolution happens later, in Prepare, against the configured
// address-family restriction.
func splitHostPort(hostport string) (host, port string, err error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port in %q", hostport)
	}
	host = hostport[:idx]
	port = hostport[idx+1:]
	if port == "" {
		return "", "", fmt.Errorf("missing port in %q", hostport)
	}
	return host, port, nil
}
