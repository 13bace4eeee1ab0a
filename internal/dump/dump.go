// Package dump implements the textual formatter (C12): printing
// Options, Rule and Global values back out in the config grammar
// internal/config's Load understands, so that dump-then-reparse and
// clone-then-dump round-trip (spec.md §8.1, §8.3).
package dump

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jaydave/sslproxy-core/internal/global"
	"github.com/jaydave/sslproxy-core/internal/listener"
	"github.com/jaydave/sslproxy-core/internal/options"
	"github.com/jaydave/sslproxy-core/internal/rule"
)

// Rule renders one rule back to its one-line textual form: "Action
// [from ...] [to ...] [log ...] [inspector ...]", or "Action *" for a
// rule with none of those clauses.
func Rule(r *rule.Rule) string {
	var b strings.Builder
	b.WriteString(capitalize(r.Action.String()))
	if fromClause(r) == "" && toClause(r) == "" && logClause(r) == "" && r.Inspector == "" {
		b.WriteString(" *")
		return b.String()
	}

	if from := fromClause(r); from != "" {
		b.WriteString(" from ")
		b.WriteString(from)
	}
	if to := toClause(r); to != "" {
		b.WriteString(" to ")
		b.WriteString(to)
	}
	if log := logClause(r); log != "" {
		b.WriteString(" log ")
		b.WriteString(log)
	}
	if r.Inspector != "" {
		b.WriteString(" inspector ")
		b.WriteString(r.Inspector)
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func fromClause(r *rule.Rule) string {
	switch {
	case r.AllUsers:
		return "user *"
	case r.User != nil:
		return "user " + predicateToken(*r.User)
	case r.Desc != nil:
		return "desc " + predicateToken(*r.Desc)
	case r.SourceIP != nil:
		return "ip " + predicateToken(*r.SourceIP)
	default:
		return ""
	}
}

func toClause(r *rule.Rule) string {
	if r.Site == nil && r.Port == nil {
		return ""
	}
	if r.Site != nil && r.ApplyTo == 0 && r.Site.IsSentinel() {
		// "to *" / "to port P": no channel was named.
		if r.Port == nil {
			return "*"
		}
		return "port " + predicateToken(*r.Port)
	}
	var parts []string
	if r.Site != nil {
		channel := "ip"
		channels := r.ApplyTo.Channels()
		if len(channels) == 1 {
			channel = channels[0].String()
		}
		parts = append(parts, channel, predicateToken(*r.Site))
	}
	if r.Port != nil {
		parts = append(parts, "port", predicateToken(*r.Port))
	}
	return strings.Join(parts, " ")
}

func predicateToken(p rule.Predicate) string {
	if p.IsSentinel() {
		return "*"
	}
	if p.Substring {
		return p.Value + "*"
	}
	return p.Value
}

func logClause(r *rule.Rule) string {
	var tokens []string
	for _, pair := range logChannelOrder {
		if r.Log.Pos&pair.bit != 0 {
			tokens = append(tokens, pair.name)
		}
		if r.Log.Neg&pair.bit != 0 {
			tokens = append(tokens, "!"+pair.name)
		}
	}
	return strings.Join(tokens, " ")
}

var logChannelOrder = []struct {
	bit  rule.LogChannel
	name string
}{
	{rule.LogConnect, "connect"},
	{rule.LogMaster, "master"},
	{rule.LogCert, "cert"},
	{rule.LogContent, "content"},
	{rule.LogPcap, "pcap"},
	{rule.LogMirror, "mirror"},
}

// Rules renders every rule in r, one per line, in declaration order.
func Rules(rules []*rule.Rule) string {
	lines := make([]string, len(rules))
	for i, r := range rules {
		lines[i] = Rule(r)
	}
	return strings.Join(lines, "\n")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Options renders o's directive lines, sorted, followed by its Rules in
// declaration order. Certificate material, Ciphers, CipherSuites,
// ECDHCurve, LeafCRLURL, WriteGenCertsDir and WriteAllCertsDir are not
// rendered.
func Options(o *options.Options) string {
	var lines []string
	add := func(name, value string) { lines = append(lines, name+" "+value) }

	add("MinSSLProto", o.MinSSLProto.String())
	add("MaxSSLProto", o.MaxSSLProto.String())
	if o.ForceSSLProtoOn {
		add("ForceSSLProto", o.ForceSSLProto.String())
	}
	for p := range o.DisabledProtos {
		add("DisableSSLProto", p.String())
	}
	add("SSLCompression", yesNo(o.SSLCompression.True()))
	add("DenyOCSP", yesNo(o.DenyOCSP.True()))
	add("RemoveHTTPAcceptEncoding", yesNo(o.RemoveHTTPAcceptEncoding.True()))
	add("RemoveHTTPReferer", yesNo(o.RemoveHTTPReferer.True()))
	add("MaxHTTPHeaderSize", strconv.Itoa(o.MaxHTTPHeaderSize))
	add("Passthrough", yesNo(o.Passthrough.True()))
	add("ValidateProto", yesNo(o.ValidateProto.True()))
	add("VerifyPeer", yesNo(o.VerifyPeer.True()))
	add("AllowWrongHost", yesNo(o.AllowWrongHost.True()))
	add("ConnIdleTimeout", strconv.Itoa(o.ConnIdleTimeout))
	add("UserAuth", yesNo(o.UserAuth.True()))
	if o.UserAuthURL != "" {
		add("UserAuthURL", o.UserAuthURL)
	}
	add("UserTimeout", strconv.Itoa(o.UserTimeout))
	if len(o.DivertUsers) > 0 {
		add("DivertUsers", strings.Join(o.DivertUsers, " "))
	}
	if len(o.PassUsers) > 0 {
		add("PassUsers", strings.Join(o.PassUsers, " "))
	}
	add("Divert", yesNo(o.Divert.True()))
	if o.DefaultInspector != "" {
		add("DivertInspector", o.DefaultInspector)
	}
	if o.LeafKeyRSABits != 0 {
		add("LeafKeyRSABits", strconv.Itoa(o.LeafKeyRSABits))
	}
	if o.LeafCertDir != "" {
		add("LeafCertDir", o.LeafCertDir)
	}
	if o.DefaultLeafCert != "" {
		add("DefaultLeafCert", o.DefaultLeafCert)
	}

	for _, name := range o.Macros.Names() {
		values, _ := o.Macros.Lookup(name)
		add("Define", name+" "+strings.Join(values, " "))
	}

	sort.Strings(lines)
	out := strings.Join(lines, "\n")
	if rules := Rules(o.Rules); rules != "" {
		out += "\n" + rules
	}
	return out
}

// Listener renders one listener's block-form declaration: protocol,
// addresses and ports. The listener's own Options and rules are not
// included.
func Listener(s *listener.Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ProxySpec {\n")
	fmt.Fprintf(&b, "\t%s\n", strings.ToUpper(s.Proto.String()))
	fmt.Fprintf(&b, "\tAddr %s\n", s.ListenAddr)
	fmt.Fprintf(&b, "\tPort %d\n", s.ListenPort)
	if s.DivertPort != 0 {
		fmt.Fprintf(&b, "\tDivertPort %d\n", s.DivertPort)
	}
	if s.DivertAddr != "" {
		fmt.Fprintf(&b, "\tDivertAddr %s\n", s.DivertAddr)
	}
	if s.ReturnAddr != "" {
		fmt.Fprintf(&b, "\tReturnAddr %s\n", s.ReturnAddr)
	}
	if s.NATEngine != "" {
		fmt.Fprintf(&b, "\tNATEngine %s\n", s.NATEngine)
	}
	if s.TargetAddr != "" {
		fmt.Fprintf(&b, "\tTargetAddr %s\n", s.TargetAddr)
	}
	if s.TargetPort != 0 {
		fmt.Fprintf(&b, "\tTargetPort %d\n", s.TargetPort)
	}
	if s.SNIPort != 0 {
		fmt.Fprintf(&b, "\tSNIPort %d\n", s.SNIPort)
	}
	b.WriteString("}")
	return b.String()
}

// Global renders the top-level Options and every listener in
// declaration order. Process-wide Global fields (paths, logging
// targets, privilege drop, limits) are not rendered.
func Global(g *global.Global) string {
	var sections []string
	sections = append(sections, Options(g.Options))
	for _, l := range g.Listeners {
		sections = append(sections, Listener(l))
	}
	return strings.Join(sections, "\n\n")
}
