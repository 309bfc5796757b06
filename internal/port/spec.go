package port

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/errors"
)

// Spec is a parsed forward request from the command line.
//
// Accepted forms:
//
//	HOST                 forward HOST to the same port in the container
//	HOST:TARGET          forward HOST to TARGET
//	BIND:HOST[:TARGET]   as above, bound to the BIND address
//	:TARGET              any free host port to TARGET
//	BIND::TARGET         any free host port on BIND to TARGET
//
// Any form may end in /udp or /tcp. IPv6 bind addresses are bracketed:
// [::1]:8080:80.
type Spec struct {
	Raw         string
	BindAddress string
	HostPort    int
	TargetPort  int
	Protocol    Protocol
}

// ParseSpec parses a single forward spec.
func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	spec := Spec{Raw: raw, Protocol: TCP}
	if s == "" {
		return spec, errors.InvalidSpec(raw, "empty")
	}

	if i := strings.LastIndex(s, "/"); i >= 0 {
		proto, err := ParseProtocol(s[i+1:])
		if err != nil || s[i+1:] == "" {
			return spec, errors.InvalidSpec(raw, fmt.Sprintf("unknown protocol %q", s[i+1:]))
		}
		spec.Protocol = proto
		s = s[:i]
	}

	var parts []string
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return spec, errors.InvalidSpec(raw, "unterminated [")
		}
		spec.BindAddress = s[1:end]
		rest := s[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return spec, errors.InvalidSpec(raw, "expected : after bind address")
		}
		parts = strings.Split(rest[1:], ":")
		if len(parts) > 2 {
			return spec, errors.InvalidSpec(raw, "too many fields")
		}
	} else {
		parts = strings.Split(s, ":")
		switch len(parts) {
		case 1:
		case 2:
			if parts[0] != "" && net.ParseIP(parts[0]) != nil {
				spec.BindAddress = parts[0]
				parts = parts[1:]
			}
		case 3:
			spec.BindAddress = parts[0]
			parts = parts[1:]
		default:
			return spec, errors.InvalidSpec(raw, "too many fields")
		}
	}

	if spec.BindAddress != "" && net.ParseIP(spec.BindAddress) == nil {
		return spec, errors.InvalidSpec(raw, fmt.Sprintf("bind address %q is not an IP address", spec.BindAddress))
	}

	hostField := parts[0]
	targetField := hostField
	if len(parts) == 2 {
		targetField = parts[1]
	}

	if hostField != "" {
		p, err := parsePort(hostField)
		if err != nil {
			return spec, errors.InvalidSpec(raw, "host port: "+err.Error())
		}
		spec.HostPort = p
	}

	if targetField == "" {
		return spec, errors.InvalidSpec(raw, "missing target port")
	}
	p, err := parsePort(targetField)
	if err != nil {
		return spec, errors.InvalidSpec(raw, "target port: "+err.Error())
	}
	spec.TargetPort = p

	return spec, nil
}

// ParseSpecs parses each argument, failing on the first bad spec.
func ParseSpecs(raw []string) ([]Spec, error) {
	specs := make([]Spec, 0, len(raw))
	for _, r := range raw {
		spec, err := ParseSpec(r)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Auto reports whether the host port is left to the allocator.
func (s Spec) Auto() bool {
	return s.HostPort == 0
}

// Request converts the spec to an allocation request. Auto specs scan
// [low, high]; an empty bind address becomes defaultBind.
func (s Spec) Request(low, high int, defaultBind string) Request {
	bind := s.BindAddress
	if bind == "" {
		bind = defaultBind
	}
	if s.Auto() {
		return AnyInRange(low, high, s.TargetPort, s.Protocol, bind)
	}
	return Explicit(s.HostPort, s.TargetPort, s.Protocol, bind)
}

func (s Spec) String() string {
	var b strings.Builder
	if s.BindAddress != "" {
		if strings.Contains(s.BindAddress, ":") {
			b.WriteString("[" + s.BindAddress + "]")
		} else {
			b.WriteString(s.BindAddress)
		}
		b.WriteString(":")
	}
	if !s.Auto() {
		b.WriteString(strconv.Itoa(s.HostPort))
	}
	b.WriteString(":" + strconv.Itoa(s.TargetPort))
	if s.Protocol == UDP {
		b.WriteString("/udp")
	}
	return b.String()
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if !ValidPort(p) {
		return 0, fmt.Errorf("%d is out of range 1-65535", p)
	}
	return p, nil
}
