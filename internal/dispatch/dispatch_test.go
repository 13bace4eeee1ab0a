package dispatch

import (
	"testing"

	"github.com/jaydave/sslproxy-core/internal/global"
)

func TestDispatchOptionSetsField(t *testing.T) {
	g := global.New()
	ok, err := DispatchOption(g.Options, "ConnIdleTimeout", "60")
	if !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if g.Options.ConnIdleTimeout != 60 {
		t.Fatalf("ConnIdleTimeout = %d, want 60", g.Options.ConnIdleTimeout)
	}
}

func TestDispatchOptionUnknownName(t *testing.T) {
	g := global.New()
	ok, err := DispatchOption(g.Options, "NotARealDirective", "x")
	if ok || err != nil {
		t.Fatalf("ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestDispatchGlobalSetsField(t *testing.T) {
	g := global.New()
	ok, err := DispatchGlobal(g, "StatsPeriod", "5")
	if !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if g.StatsPeriod != 5 {
		t.Fatalf("StatsPeriod = %d, want 5", g.StatsPeriod)
	}
}

func TestDispatchGlobalRangeValidation(t *testing.T) {
	g := global.New()
	ok, err := DispatchGlobal(g, "StatsPeriod", "50")
	if !ok || err == nil {
		t.Fatalf("expected a range error, got ok=%v err=%v", ok, err)
	}
}

func TestAddEachSplitsOnWhitespace(t *testing.T) {
	g := global.New()
	ok, err := DispatchOption(g.Options, "DivertUsers", "alice bob carol")
	if !ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if len(g.Options.DivertUsers) != 3 {
		t.Fatalf("DivertUsers = %v", g.Options.DivertUsers)
	}
}
