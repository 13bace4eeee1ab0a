// Package listener implements the listener spec (C3) and the state
// machine (C7) that turns one-line and block-form declarations into
// it. A Spec describes one listening endpoint: its address, its
// upstream divert/return addresses, its target (either a NAT engine
// name or an explicit target address, mutually exclusive), and the
// protocol-family flags that tell the proxy engine collaborator which
// rewriting path to use.
package listener

import (
	"fmt"

	"github.com/jaydave/sslproxy-core/internal/options"
)

// Protocol is the set of listener protocol keywords from spec.md §6.
type Protocol int

const (
	ProtoTCP Protocol = iota
	ProtoSSL
	ProtoHTTP
	ProtoHTTPS
	ProtoAutoSSL
	ProtoPOP3
	ProtoPOP3S
	ProtoSMTP
	ProtoSMTPS
)

var protoKeywords = map[string]Protocol{
	"tcp":     ProtoTCP,
	"ssl":     ProtoSSL,
	"http":    ProtoHTTP,
	"https":   ProtoHTTPS,
	"autossl": ProtoAutoSSL,
	"pop3":    ProtoPOP3,
	"pop3s":   ProtoPOP3S,
	"smtp":    ProtoSMTP,
	"smtps":   ProtoSMTPS,
}

func (p Protocol) String() string {
	for name, v := range protoKeywords {
		if v == p {
			return name
		}
	}
	return "?"
}

// IsProtocolKeyword reports whether tok is one of the nine listener
// protocol keywords.
func IsProtocolKeyword(tok string) bool {
	_, ok := protoKeywords[tok]
	return ok
}

// Flags derives the {ssl, http, upgrade, pop3, smtp} protocol-family
// flags spec.md §3.1 assigns a Spec, from its Protocol.
type Flags struct {
	SSL     bool
	HTTP    bool
	Upgrade bool // autossl: starts plaintext, upgrades to TLS
	POP3    bool
	SMTP    bool
}

func flagsFor(p Protocol) Flags {
	switch p {
	case ProtoSSL:
		return Flags{SSL: true}
	case ProtoHTTP:
		return Flags{HTTP: true}
	case ProtoHTTPS:
		return Flags{SSL: true, HTTP: true}
	case ProtoAutoSSL:
		return Flags{SSL: true, Upgrade: true}
	case ProtoPOP3:
		return Flags{POP3: true}
	case ProtoPOP3S:
		return Flags{SSL: true, POP3: true}
	case ProtoSMTP:
		return Flags{SMTP: true}
	case ProtoSMTPS:
		return Flags{SSL: true, SMTP: true}
	default:
		return Flags{}
	}
}

// Spec is one listener declaration (spec.md §3.1 "Listener spec").
type Spec struct {
	File string
	Line int

	Proto Protocol
	Flags Flags

	ListenAddr string
	ListenPort int

	// Upstream divert leg: up:<port> [ua:<addr>] [ra:<addr>].
	DivertPort int
	DivertAddr string
	ReturnAddr string

	// Target: either NATEngine or TargetAddr+TargetPort, mutually
	// exclusive. SNIPort is set only for "sni <port>" listeners.
	NATEngine  string
	TargetAddr string
	TargetPort int
	SNIPort    int

	Opts *options.Options
}

// HasUpstream reports whether an upstream divert address was given —
// used by options.EffectiveDivert (spec.md §4.4).
func (s *Spec) HasUpstream() bool { return s.DivertPort != 0 }

// EffectiveDivert computes this listener's divert/split mode given the
// process-wide split flag (-n).
func (s *Spec) EffectiveDivert(split bool) bool {
	return options.EffectiveDivert(split, s.HasUpstream(), s.Opts.Divert.True())
}

// Validate enforces the semantic constraints spec.md §4.4 and §7
// assign to a completed Spec: sni requires ssl/https; a NAT engine and
// an explicit target are mutually exclusive; TargetPort requires
// TargetAddr.
func (s *Spec) Validate() error {
	if s.SNIPort != 0 && !s.Flags.SSL {
		return fmt.Errorf("%s:%d: 'sni' listener requires ssl or https protocol", s.File, s.Line)
	}
	if s.NATEngine != "" && s.TargetAddr != "" {
		return fmt.Errorf("%s:%d: NAT engine and explicit target address are mutually exclusive", s.File, s.Line)
	}
	if s.TargetPort != 0 && s.TargetAddr == "" {
		return fmt.Errorf("%s:%d: TargetPort given without TargetAddr", s.File, s.Line)
	}
	if s.ListenAddr == "" {
		return fmt.Errorf("%s:%d: listener has no listen address", s.File, s.Line)
	}
	return nil
}
