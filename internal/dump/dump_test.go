package dump

import (
	"strings"
	"testing"

	"github.com/jaydave/sslproxy-core/internal/macro"
	"github.com/jaydave/sslproxy-core/internal/rule"
)

func mustParse(t *testing.T, text string) *rule.Rule {
	t.Helper()
	rules, _, err := rule.ParseLine("t.conf", 1, text, macro.NewTable(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules", len(rules))
	}
	return rules[0]
}

func TestRuleRoundTrip(t *testing.T) {
	cases := []string{
		"Divert *",
		"Pass from ip 10.0.0.1",
		"Block from user alice",
		"Match to sni example.com",
		"Split to ip 10.0.0.2 port 443",
		"Divert to sni example.com inspector sniffer1",
	}
	for _, text := range cases {
		r := mustParse(t, text)
		out := Rule(r)
		r2 := mustParse(t, out)
		if out2 := Rule(r2); out2 != out {
			t.Errorf("round-trip mismatch: %q -> %q -> %q", text, out, out2)
		}
	}
}

func TestRuleLogClause(t *testing.T) {
	r := mustParse(t, "Match log connect !cert")
	out := Rule(r)
	if !strings.Contains(out, "connect") || !strings.Contains(out, "!cert") {
		t.Fatalf("got %q", out)
	}
}
