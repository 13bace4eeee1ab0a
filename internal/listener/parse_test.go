package listener

import (
	"testing"

	"github.com/jaydave/sslproxy-core/internal/options"
)

func newGlobalOpts() *options.Options {
	return options.New(fakeGlobal{})
}

type fakeGlobal struct{}

func (fakeGlobal) UserAuthEnabled() bool { return false }

func TestParseOneLineBasic(t *testing.T) {
	s, err := ParseOneLine("t.conf", 1, "https 127.0.0.1 8443", newGlobalOpts())
	if err != nil {
		t.Fatal(err)
	}
	if s.Proto != ProtoHTTPS || s.ListenAddr != "127.0.0.1" || s.ListenPort != 8443 {
		t.Fatalf("got %+v", s)
	}
	if !s.Flags.SSL || !s.Flags.HTTP {
		t.Fatalf("flags = %+v", s.Flags)
	}
}

func TestParseOneLineWithDivertAndTarget(t *testing.T) {
	s, err := ParseOneLine("t.conf", 1, "ssl 0.0.0.0 8443 up:8080 ua:127.0.0.1 ra:127.0.0.2 10.0.0.5 443", newGlobalOpts())
	if err != nil {
		t.Fatal(err)
	}
	if s.DivertPort != 8080 || s.DivertAddr != "127.0.0.1" || s.ReturnAddr != "127.0.0.2" {
		t.Fatalf("got %+v", s)
	}
	if s.TargetAddr != "10.0.0.5" || s.TargetPort != 443 {
		t.Fatalf("got %+v", s)
	}
}

func TestParseOneLineNATEngine(t *testing.T) {
	s, err := ParseOneLine("t.conf", 1, "tcp 0.0.0.0 8080 netfilter", newGlobalOpts())
	if err != nil {
		t.Fatal(err)
	}
	if s.NATEngine != "netfilter" {
		t.Fatalf("got %+v", s)
	}
}

func TestParseOneLineSNIRequiresSSL(t *testing.T) {
	_, err := ParseOneLine("t.conf", 1, "tcp 0.0.0.0 8080 sni 443", newGlobalOpts())
	if err == nil {
		t.Fatal("expected an error: sni without ssl/https")
	}
}

func TestParseOneLineSNIWithSSL(t *testing.T) {
	s, err := ParseOneLine("t.conf", 1, "https 0.0.0.0 8443 sni 8444", newGlobalOpts())
	if err != nil {
		t.Fatal(err)
	}
	if s.SNIPort != 8444 {
		t.Fatalf("got %+v", s)
	}
}

func TestParseOneLineTrailingGarbage(t *testing.T) {
	_, err := ParseOneLine("t.conf", 1, "https 0.0.0.0 8443 10.0.0.5 443 extra", newGlobalOpts())
	if err == nil {
		t.Fatal("expected an error for trailing tokens")
	}
}

func TestBlockFormOrderingRules(t *testing.T) {
	b := NewBlockState("t.conf", 1, newGlobalOpts())
	if err := b.SetPort("8443"); err == nil {
		t.Fatal("expected Port given before Addr to fail")
	}
	if err := b.SetAddr("0.0.0.0"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetPort("8443"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetTargetPort("443"); err == nil {
		t.Fatal("expected TargetPort given before TargetAddr to fail")
	}
	if err := b.SetTargetAddr("10.0.0.5"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetTargetPort("443"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetProto("https"); err != nil {
		t.Fatal(err)
	}
	spec, err := b.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if spec.ListenAddr != "0.0.0.0" || spec.TargetAddr != "10.0.0.5" || spec.TargetPort != 443 {
		t.Fatalf("got %+v", spec)
	}
}

func TestBlockFormRequiresProto(t *testing.T) {
	b := NewBlockState("t.conf", 1, newGlobalOpts())
	b.SetAddr("0.0.0.0")
	b.SetPort("443")
	if _, err := b.Finish(); err == nil {
		t.Fatal("expected an error: block has no protocol")
	}
}
