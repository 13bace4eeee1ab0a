package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jaydave/sslproxy-core/internal/rule"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sslproxy.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOneLineListener(t *testing.T) {
	path := writeConf(t, `
https 0.0.0.0 8443 up:8080
Divert *
`)
	g, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Listeners) != 1 {
		t.Fatalf("got %d listeners, want 1", len(g.Listeners))
	}
	if len(g.Options.Rules) != 1 {
		t.Fatalf("got %d top-level rules, want 1", len(g.Options.Rules))
	}
	if g.Options.Compiled == nil {
		t.Fatal("expected the top-level filter to be compiled")
	}
}

func TestLoadBlockFormListenerAndRule(t *testing.T) {
	path := writeConf(t, `
ProxySpec {
	https
	Addr 0.0.0.0
	Port 8443
	TargetAddr 10.0.0.5
	TargetPort 443
	Pass from ip 10.0.0.0/8
}
`)
	g, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Listeners) != 1 {
		t.Fatalf("got %d listeners", len(g.Listeners))
	}
	l := g.Listeners[0]
	if l.TargetAddr != "10.0.0.5" || l.TargetPort != 443 {
		t.Fatalf("got %+v", l)
	}
	if len(l.Opts.Rules) != 1 {
		t.Fatalf("got %d rules on the listener", len(l.Opts.Rules))
	}
	if l.Opts.Compiled == nil {
		t.Fatal("expected the listener's filter to be compiled")
	}
}

func TestLoadDivertDirectiveVsRuleAmbiguity(t *testing.T) {
	path := writeConf(t, `
Divert yes
Divert from ip 10.0.0.1
`)
	g, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Options.Divert.True() {
		t.Fatal("expected Divert yes to set the toggle")
	}
	if len(g.Options.Rules) != 1 {
		t.Fatalf("expected the second Divert line to parse as a rule, got %d rules", len(g.Options.Rules))
	}
	if g.Options.Rules[0].Action != rule.ActionDivert {
		t.Fatalf("got action %v", g.Options.Rules[0].Action)
	}
}

func TestLoadUnterminatedBlockIsAnError(t *testing.T) {
	path := writeConf(t, "ProxySpec {\n\thttps\n\tAddr 0.0.0.0\n\tPort 8443\n")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unterminated ProxySpec block")
	}
}

func TestLoadUnknownDirectiveIsAnError(t *testing.T) {
	path := writeConf(t, "ThisIsNotARealDirective foo\n")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown directive")
	}
}

func TestLoadMacroDefineAndCartesianExpansion(t *testing.T) {
	path := writeConf(t, `
Define $ips 192.168.0.1 192.168.0.2
Define $ports 80 443
Match from ip $ips to port $ports
`)
	g, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Options.Rules) != 4 {
		t.Fatalf("got %d rules, want 4", len(g.Options.Rules))
	}
}

func TestLoadUserPredicateRejectedWithoutUserAuth(t *testing.T) {
	path := writeConf(t, "Divert from user alice\n")
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected an error: user predicate without UserAuth=yes")
	}
}

func TestLoadUserPredicateAcceptedWithUserAuth(t *testing.T) {
	path := writeConf(t, "UserAuth yes\nDivert from user alice\n")
	g, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Options.Rules) != 1 {
		t.Fatalf("got %d rules", len(g.Options.Rules))
	}
}

func TestLoadDivertInspectorDefaultAndRuleOverride(t *testing.T) {
	path := writeConf(t, `
InspectorPlugin sniffer1 /usr/local/bin/sniffer1
InspectorPlugin sniffer2 /usr/local/bin/sniffer2
DivertInspector sniffer1
Divert to sni example.com inspector sniffer2
Divert *
`)
	g, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if g.Options.DefaultInspector != "sniffer1" {
		t.Fatalf("got default inspector %q", g.Options.DefaultInspector)
	}
	if len(g.Options.Rules) != 2 {
		t.Fatalf("got %d rules", len(g.Options.Rules))
	}
	if g.Options.Rules[0].Inspector != "sniffer2" {
		t.Fatalf("got %q, want the rule's own inspector override", g.Options.Rules[0].Inspector)
	}
	if g.Options.Rules[1].Inspector != "" {
		t.Fatalf("expected the bare rule to carry no inspector override, got %q", g.Options.Rules[1].Inspector)
	}
}

func TestApplyCLIOption(t *testing.T) {
	path := writeConf(t, "Daemon no\n")
	g, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyCLIOption(g, "ConnIdleTimeout=90"); err != nil {
		t.Fatal(err)
	}
	if g.Options.ConnIdleTimeout != 90 {
		t.Fatalf("got %d", g.Options.ConnIdleTimeout)
	}
	if err := ApplyCLIOption(g, "NoEqualsSign"); err == nil {
		t.Fatal("expected an error for a malformed -o token")
	}
}
