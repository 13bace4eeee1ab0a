package filterc

import (
	"testing"

	"github.com/jaydave/sslproxy-core/internal/macro"
	"github.com/jaydave/sslproxy-core/internal/rule"
)

func parseOne(t *testing.T, text string, userAuth bool) *rule.Rule {
	t.Helper()
	rules, _, err := rule.ParseLine("test.conf", 1, text, macro.NewTable(), userAuth)
	if err != nil {
		t.Fatalf("ParseLine(%q): %v", text, err)
	}
	if len(rules) != 1 {
		t.Fatalf("ParseLine(%q): got %d rules, want 1", text, len(rules))
	}
	return rules[0]
}

func TestBareRulePrecedence(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"Divert *", 0},
		{"Split *", 0},
		{"Pass *", 0},
		{"Match *", 0},
		{"Block *", 1},
	}
	for _, c := range cases {
		r := parseOne(t, c.text, false)
		if r.Precedence != c.want {
			t.Errorf("%q: precedence = %d, want %d", c.text, r.Precedence, c.want)
		}
	}
}

func TestLookupBareRuleAppliesEverywhere(t *testing.T) {
	r := parseOne(t, "Divert *", false)
	f := Compile([]*rule.Rule{r})

	d := f.Lookup(Query{SrcIP: "10.0.0.5", Channel: rule.ChannelSNI, Site: "example.com", Port: "443"})
	if !d.Matched || d.Action != rule.ActionDivert {
		t.Fatalf("Lookup: got %+v, want matched divert", d)
	}
}

func TestIPMacroExpansionProducesTwoExactEntries(t *testing.T) {
	macros := macro.NewTable()
	if err := macros.Define("$ips", []string{"192.168.0.1", "192.168.0.2"}); err != nil {
		t.Fatal(err)
	}
	rules, expanded, err := rule.ParseLine("test.conf", 1, "Block from ip $ips", macros, false)
	if err != nil {
		t.Fatal(err)
	}
	if !expanded || len(rules) != 2 {
		t.Fatalf("got %d rules, expanded=%v, want 2 rules expanded", len(rules), expanded)
	}

	f := Compile(rules)
	stats := f.Stats()
	if stats.IPExact != 2 {
		t.Fatalf("ip_filter_exact has %d entries, want 2", stats.IPExact)
	}
}

func TestUserPredicateRequiresUserAuth(t *testing.T) {
	_, _, err := rule.ParseLine("test.conf", 1, "Block from user alice", macro.NewTable(), false)
	if err == nil {
		t.Fatal("expected error when UserAuth is disabled and rule has a user predicate")
	}
	_, _, err = rule.ParseLine("test.conf", 1, "Block from user alice", macro.NewTable(), true)
	if err != nil {
		t.Fatalf("unexpected error with UserAuth enabled: %v", err)
	}
}

func TestMacroCartesianProductOnTwoSlots(t *testing.T) {
	macros := macro.NewTable()
	if err := macros.Define("$srcs", []string{"10.0.0.1", "10.0.0.2"}); err != nil {
		t.Fatal(err)
	}
	if err := macros.Define("$dsts", []string{"93.184.216.1", "93.184.216.2", "93.184.216.3", "93.184.216.4"}); err != nil {
		t.Fatal(err)
	}
	rules, expanded, err := rule.ParseLine("test.conf", 1, "Divert from ip $srcs to ip $dsts", macros, false)
	if err != nil {
		t.Fatal(err)
	}
	if !expanded || len(rules) != 8 {
		t.Fatalf("got %d rules, want 8 (2x4 cartesian product)", len(rules))
	}
}

func TestSingleNegatedLogChannelPerMacroValue(t *testing.T) {
	macros := macro.NewTable()
	if err := macros.Define("$logs", []string{"!master", "!pcap"}); err != nil {
		t.Fatal(err)
	}
	rules, _, err := rule.ParseLine("test.conf", 1, "Match log $logs", macros, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	if rules[0].Log.Neg != rule.LogMaster || rules[1].Log.Neg != rule.LogPcap {
		t.Fatalf("unexpected log masks: %+v, %+v", rules[0].Log, rules[1].Log)
	}
}

func TestFourMacroCartesianProduct(t *testing.T) {
	macros := macro.NewTable()
	must := func(name string, vals []string) {
		if err := macros.Define(name, vals); err != nil {
			t.Fatal(err)
		}
	}
	must("$ips", []string{"192.168.0.1", "192.168.0.2"})
	must("$dstips", []string{"192.168.0.3", "192.168.0.4"})
	must("$ports", []string{"80", "443"})
	must("$logs", []string{"!master", "!pcap"})

	rules, expanded, err := rule.ParseLine("test.conf", 1, "Match from ip $ips to ip $dstips port $ports log $logs", macros, false)
	if err != nil {
		t.Fatal(err)
	}
	if !expanded || len(rules) != 16 {
		t.Fatalf("got %d rules, want 16 (2^4 cartesian product)", len(rules))
	}
	for _, r := range rules {
		if r.Log.Neg != rule.LogMaster && r.Log.Neg != rule.LogPcap {
			t.Fatalf("rule has unexpected negated log mask %v, want exactly one of master/pcap", r.Log.Neg)
		}
		if r.Log.Pos != 0 {
			t.Fatalf("rule has positive log bits %v, want none", r.Log.Pos)
		}
	}
}

func TestPrecedenceOverrideAndMerge(t *testing.T) {
	site := rule.Predicate{Value: "192.168.0.2"}
	port := rule.Predicate{Value: "443"}

	// Same site+port leaf throughout, so all four land on the identical
	// Leaf. Precedence is set explicitly rather than derived, to pin
	// down the exact scenario from spec.md §8.2 scenario 5 (and the
	// original reference test, filter.t.c:1634): a low-precedence Divert
	// arrives first, Split and Pass tie at a higher precedence and carry
	// the leaf forward, and a later, weaker Block must not retract what
	// the stronger rules already decided.
	divert := &rule.Rule{Site: &site, Port: &port, Action: rule.ActionDivert, Precedence: 2}
	split := &rule.Rule{
		Site: &site, Port: &port, Action: rule.ActionSplit, Precedence: 3,
		Log: rule.LogMask{Pos: rule.LogConnect | rule.LogMaster | rule.LogCert | rule.LogContent | rule.LogPcap | rule.LogMirror},
	}
	pass := &rule.Rule{
		Site: &site, Port: &port, Action: rule.ActionPass, Precedence: 3,
		Log: rule.LogMask{Neg: rule.LogConnect | rule.LogCert | rule.LogPcap},
	}
	block := &rule.Rule{Site: &site, Port: &port, Action: rule.ActionBlock, Precedence: 2}

	f := Compile([]*rule.Rule{divert, split, pass, block})

	d := f.Lookup(Query{SrcIP: "0.0.0.0", Channel: rule.ChannelDstIP, Site: "192.168.0.2", Port: "443"})
	if !d.Matched {
		t.Fatal("expected a match")
	}
	// Split and Pass tie at the highest precedence (both carry a log
	// clause); their actions OR-merge and their log masks merge with
	// negation taking priority. Divert is weaker but must survive the
	// merge regardless — only Block is precedence-gated, and its own
	// precedence here is strictly below the leaf's final precedence, so
	// it contributes nothing.
	if d.Action&rule.ActionDivert == 0 || d.Action&rule.ActionSplit == 0 || d.Action&rule.ActionPass == 0 {
		t.Fatalf("expected merged Divert|Split|Pass action, got %v", d.Action)
	}
	if d.Action&rule.ActionBlock != 0 {
		t.Fatalf("weaker Block must not appear in the merged outcome: %v", d.Action)
	}
	if d.Precedence != 3 {
		t.Fatalf("leaf precedence = %d, want 3", d.Precedence)
	}
	wantLog := rule.LogMaster | rule.LogContent | rule.LogMirror
	if d.Log.Pos != wantLog {
		t.Fatalf("merged log = %v, want %v", d.Log.Pos, wantLog)
	}
}

func TestAllSitesSentinelOrderedLast(t *testing.T) {
	specific := parseOne(t, "Divert to sni example.com*", false)
	wildcard := parseOne(t, "Block to sni *", false)

	f := Compile([]*rule.Rule{wildcard, specific})

	// The sentinel was inserted first but must end up after the specific
	// substring entry.
	substr := f.allFilter.channels[rule.ChannelSNI].substr
	if len(substr) != 2 || substr[0].prefix != "example.com" || substr[1].prefix != "" {
		t.Fatalf("expected [example.com, all_sites] substring order, got %d entries", len(substr))
	}

	// Both entries match; the Block (precedence 2) outranks the
	// substring Divert (precedence 1).
	d := f.Lookup(Query{SrcIP: "0.0.0.0", Channel: rule.ChannelSNI, Site: "example.com.evil.test", Port: "443"})
	if !d.Matched || d.Action != rule.ActionBlock || d.Precedence != 2 {
		t.Fatalf("expected the higher-precedence all_sites Block to win, got %+v", d)
	}

	d2 := f.Lookup(Query{SrcIP: "0.0.0.0", Channel: rule.ChannelSNI, Site: "other.test", Port: "443"})
	if !d2.Matched || d2.Action != rule.ActionBlock {
		t.Fatalf("expected all_sites fallback to match unrelated site, got %+v", d2)
	}
}

func TestLookupCarriesRuleInspectorName(t *testing.T) {
	r := parseOne(t, "Divert to sni example.com inspector sniffer1", false)
	f := Compile([]*rule.Rule{r})

	d := f.Lookup(Query{Channel: rule.ChannelSNI, Site: "example.com", Port: "443"})
	if !d.Matched || d.Inspector != "sniffer1" {
		t.Fatalf("got %+v", d)
	}
	if got := d.EffectiveInspector("fallback"); got != "sniffer1" {
		t.Fatalf("EffectiveInspector = %q, want the rule's own name", got)
	}
}

func TestEffectiveInspectorFallsBackToScopeDefault(t *testing.T) {
	r := parseOne(t, "Divert *", false)
	f := Compile([]*rule.Rule{r})

	d := f.Lookup(Query{Channel: rule.ChannelSNI, Site: "example.com", Port: "443"})
	if !d.Matched || d.Inspector != "" {
		t.Fatalf("got %+v", d)
	}
	if got := d.EffectiveInspector("fallback"); got != "fallback" {
		t.Fatalf("EffectiveInspector = %q, want the scope default", got)
	}
}

func TestRulesRoundTripThroughCompiledFilter(t *testing.T) {
	r1 := parseOne(t, "Divert *", false)
	r2 := parseOne(t, "Block to sni example.com", false)
	f := Compile([]*rule.Rule{r1, r2})

	got := f.Rules()
	if len(got) != 2 || got[0] != r1 || got[1] != r2 {
		t.Fatalf("Rules() = %v, want [r1, r2] in declaration order", got)
	}
}
