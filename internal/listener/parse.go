package listener

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jaydave/sslproxy-core/internal/options"
)

// natEngineNames lists the known NAT-engine tokens a one-line listener
// declaration may name as its target resolver (spec.md §3.1: "upstream
// NAT engine name", mutually exclusive with an explicit target
// address). The set mirrors the platform NAT adapters spec.md §1
// treats as out-of-scope collaborators.
var natEngineNames = map[string]bool{
	"netfilter": true,
	"pf":        true,
	"ipfw":      true,
	"ipf":       true,
}

// IsNATEngineName reports whether tok names a known NAT engine.
func IsNATEngineName(tok string) bool { return natEngineNames[strings.ToLower(tok)] }

// fsmState is the six-state sum type spec.md §4.4/§9 asks for ("model
// the six states as a sum type; do not thread raw integers"). Each
// value names what the FSM expects to consume next, not a bare index.
type fsmState int

const (
	stateWantProto fsmState = iota
	stateWantListenAddr
	stateWantListenPort
	stateWantTail       // optional up:/nat/target/sni tail, or end of line
	stateWantDivertTail // after up:<port>, optional ua:/ra:/target, or end
	stateWantTrailingPort
)

// trailingPortKind distinguishes what stateWantTrailingPort is waiting
// for: an explicit target port (after a bare target address) or an SNI
// port (after the "sni" keyword). Folding both into one state keeps
// the automaton at six states per spec.md §9's design note.
type trailingPortKind int

const (
	trailingPortTarget trailingPortKind = iota
	trailingPortSNI
)

// ParseOneLine implements the C7 one-line listener grammar of spec.md
// §4.4: "<proto> <listen-addr> <listen-port> [up:<divert-port>
// [ua:<divert-addr>] [ra:<return-addr>]] [<nat>|<target-addr>
// <target-port>|sni <port>]".
func ParseOneLine(file string, lineNo int, text string, globalOpts *options.Options) (*Spec, error) {
	toks := strings.Fields(text)
	if len(toks) == 0 {
		return nil, fmt.Errorf("%s:%d: empty listener line", file, lineNo)
	}

	s := &Spec{File: file, Line: lineNo, Opts: globalOpts.Clone()}
	state := stateWantProto
	var trailingKind trailingPortKind
	i := 0

	for i < len(toks) {
		tok := toks[i]
		switch state {
		case stateWantProto:
			if !IsProtocolKeyword(strings.ToLower(tok)) {
				return nil, fmt.Errorf("%s:%d: expected protocol keyword, got %q", file, lineNo, tok)
			}
			s.Proto = protoKeywords[strings.ToLower(tok)]
			s.Flags = flagsFor(s.Proto)
			state = stateWantListenAddr
			i++

		case stateWantListenAddr:
			s.ListenAddr = tok
			state = stateWantListenPort
			i++

		case stateWantListenPort:
			p, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: expected listen port, got %q", file, lineNo, tok)
			}
			s.ListenPort = p
			state = stateWantTail
			i++

		case stateWantTail:
			switch {
			case strings.HasPrefix(tok, "up:"):
				port, err := strconv.Atoi(strings.TrimPrefix(tok, "up:"))
				if err != nil {
					return nil, fmt.Errorf("%s:%d: bad up: port %q", file, lineNo, tok)
				}
				s.DivertPort = port
				state = stateWantDivertTail
				i++
			case strings.EqualFold(tok, "sni"):
				trailingKind = trailingPortSNI
				state = stateWantTrailingPort
				i++
			case IsNATEngineName(tok):
				s.NATEngine = strings.ToLower(tok)
				i++
				return s, finishOneLine(s, file, lineNo, toks, i)
			default:
				// Explicit target address: consume it, then require a
				// target port token.
				s.TargetAddr = tok
				trailingKind = trailingPortTarget
				state = stateWantTrailingPort
				i++
			}

		case stateWantDivertTail:
			switch {
			case strings.HasPrefix(tok, "ua:"):
				s.DivertAddr = strings.TrimPrefix(tok, "ua:")
				i++
			case strings.HasPrefix(tok, "ra:"):
				s.ReturnAddr = strings.TrimPrefix(tok, "ra:")
				i++
			case strings.EqualFold(tok, "sni"):
				trailingKind = trailingPortSNI
				state = stateWantTrailingPort
				i++
			case IsNATEngineName(tok):
				s.NATEngine = strings.ToLower(tok)
				i++
				return s, finishOneLine(s, file, lineNo, toks, i)
			default:
				s.TargetAddr = tok
				trailingKind = trailingPortTarget
				state = stateWantTrailingPort
				i++
			}

		case stateWantTrailingPort:
			p, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: expected a port number, got %q", file, lineNo, tok)
			}
			if trailingKind == trailingPortSNI {
				s.SNIPort = p
			} else {
				s.TargetPort = p
			}
			i++
			return s, finishOneLine(s, file, lineNo, toks, i)
		}
	}

	return s, finishOneLine(s, file, lineNo, toks, i)
}

// finishOneLine rejects trailing garbage and runs the shared semantic
// validation (spec.md §4.4/§7).
func finishOneLine(s *Spec, file string, lineNo int, toks []string, consumed int) error {
	if consumed != len(toks) {
		return fmt.Errorf("%s:%d: unexpected trailing token %q", file, lineNo, toks[consumed])
	}
	return s.Validate()
}

// BlockState drives the block-form `ProxySpec { ... }` parser (C7
// block path). Unlike the one-line form, Addr must be set before Port
// and TargetAddr before TargetPort is set — spec.md §9: "different from
// the one-line form where either order works."
type BlockState struct {
	spec     *Spec
	sawAddr  bool
	sawProto bool
}

// NewBlockState starts a block-form listener, cloning globalOpts the
// way spec.md §3.2 invariant 1 requires (every listener's Options is a
// clone taken at declaration time).
func NewBlockState(file string, lineNo int, globalOpts *options.Options) *BlockState {
	return &BlockState{spec: &Spec{File: file, Line: lineNo, Opts: globalOpts.Clone()}}
}

func (b *BlockState) SetProto(v string) error {
	p, ok := protoKeywords[strings.ToLower(v)]
	if !ok {
		return fmt.Errorf("unknown protocol %q", v)
	}
	b.spec.Proto = p
	b.spec.Flags = flagsFor(p)
	b.sawProto = true
	return nil
}

func (b *BlockState) SetAddr(v string) error {
	b.spec.ListenAddr = v
	b.sawAddr = true
	return nil
}

func (b *BlockState) SetPort(v string) error {
	if !b.sawAddr {
		return fmt.Errorf("Port given before Addr")
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("bad Port %q", v)
	}
	b.spec.ListenPort = p
	return nil
}

func (b *BlockState) SetTargetAddr(v string) error {
	b.spec.TargetAddr = v
	return nil
}

func (b *BlockState) SetTargetPort(v string) error {
	if b.spec.TargetAddr == "" {
		return fmt.Errorf("TargetPort given before TargetAddr")
	}
	p, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("bad TargetPort %q", v)
	}
	b.spec.TargetPort = p
	return nil
}

func (b *BlockState) SetNATEngine(v string) error {
	b.spec.NATEngine = v
	return nil
}

func (b *BlockState) SetDivertPort(v string) error {
	p, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("bad divert port %q", v)
	}
	b.spec.DivertPort = p
	return nil
}

func (b *BlockState) SetDivertAddr(v string) error { b.spec.DivertAddr = v; return nil }
func (b *BlockState) SetReturnAddr(v string) error { b.spec.ReturnAddr = v; return nil }

func (b *BlockState) SetSNIPort(v string) error {
	p, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("bad sni port %q", v)
	}
	b.spec.SNIPort = p
	return nil
}

// Options returns the listener-scoped Options a block-form `Set*`
// dispatch for ordinary (non-listener-specific) directives should
// mutate.
func (b *BlockState) Options() *options.Options { return b.spec.Opts }

// Finish validates and returns the completed Spec (spec.md §4.4: "at
// block close, both Addr and address-family must be populated").
func (b *BlockState) Finish() (*Spec, error) {
	if !b.sawProto {
		return nil, fmt.Errorf("%s:%d: ProxySpec block has no protocol/address-family", b.spec.File, b.spec.Line)
	}
	if err := b.spec.Validate(); err != nil {
		return nil, err
	}
	return b.spec, nil
}
