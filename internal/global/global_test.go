package global

import (
	"testing"

	"github.com/jaydave/sslproxy-core/internal/listener"
)

func TestNewAppliesDefaults(t *testing.T) {
	g := New()
	if g.ExpiredConnCheckPeriod != 10 || g.StatsPeriod != 1 || g.OpenFilesLimit != 50 {
		t.Fatalf("got %+v", g)
	}
	if g.Options == nil {
		t.Fatal("expected a default top-level Options")
	}
	if g.UserAuthEnabled() != g.Options.UserAuthEnabled() {
		t.Fatal("Global.UserAuthEnabled must delegate to its top-level Options")
	}
	if g.UserAuthEnabled() {
		t.Fatal("UserAuth defaults to no")
	}
}

func TestRegisterInspector(t *testing.T) {
	g := New()
	g.RegisterInspector("sniff", "/usr/local/bin/sniff")
	if g.InspectorPlugins["sniff"] != "/usr/local/bin/sniff" {
		t.Fatalf("got %v", g.InspectorPlugins)
	}
}

func TestAddListenerPreservesOrder(t *testing.T) {
	g := New()
	first := &listener.Spec{ListenAddr: "10.0.0.1"}
	second := &listener.Spec{ListenAddr: "10.0.0.2"}
	g.AddListener(first)
	g.AddListener(second)
	if len(g.Listeners) != 2 || g.Listeners[0] != first || g.Listeners[1] != second {
		t.Fatalf("got %+v", g.Listeners)
	}
}
