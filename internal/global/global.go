// Package global implements the process-wide state (C4): the fields
// that exist once per process regardless of how many listeners are
// configured, plus the top-level Options and the head of the listener
// list. It is allocated at startup, mutated only during parsing
// (single-threaded, spec.md §5), then frozen.
package global

import (
	"github.com/jaydave/sslproxy-core/internal/listener"
	"github.com/jaydave/sslproxy-core/internal/options"
)

// Global is the top of the configuration tree (spec.md §3.1 "Global").
type Global struct {
	// Process.
	ConfigFile string
	PidFile    string
	ChrootDir  string
	DropUser   string
	DropGroup  string
	Daemon     bool
	Debug      bool
	DebugLevel int

	// Logging/mirroring targets. These name files or directories the
	// (out-of-scope) logging back-end writes to; this subsystem only
	// carries the configured paths through.
	ConnectLog          string
	ContentLog          string
	ContentLogDir       string
	ContentLogPathSpec  string
	LogProcInfo         bool
	MasterKeyLog        string
	PcapLog             string
	PcapLogDir          string
	PcapLogPathSpec     string
	MirrorIf            string
	MirrorTarget        string
	LogStats            bool
	StatsPeriod         int

	// Certificate material defaults.
	LeafCertDir     string
	DefaultLeafCert string

	// Process limits / timers.
	ExpiredConnCheckPeriod int
	OpenFilesLimit         int
	NATEngine              string
	OpenSSLEngine          string
	UserDBPath             string

	// (added) SPEC_FULL §6: out-of-process inspector descriptors and
	// the admin introspection listen address.
	InspectorPlugins map[string]string // name -> path
	AdminListenAddr  string

	// Split mode: set by the -n command-line flag; forces every
	// listener's effective Divert to false regardless of its own
	// setting (spec.md §4.4).
	SplitMode bool

	// Options is the top-level policy scope; every listener clones it
	// at declaration time (spec.md §3.2 invariant 1).
	Options *options.Options

	// Listeners is the declaration-ordered list of configured
	// listener specs.
	Listeners []*listener.Spec
}

// New allocates a Global with spec.md §4.1 option defaults applied to
// its top-level Options; the Options' back-reference closes the loop
// the spec.md §9 design note calls for (non-owning handle, not shared
// ownership).
func New() *Global {
	g := &Global{
		ExpiredConnCheckPeriod: 10,
		StatsPeriod:            1,
		OpenFilesLimit:         50,
		InspectorPlugins:       make(map[string]string),
	}
	g.Options = options.New(g)
	return g
}

// UserAuthEnabled implements options.Global by reporting the top-level
// Options' UserAuth setting. The rule parser's user/desc gate does not
// call it; internal/config passes each scope's own
// Options.UserAuthEnabled instead.
func (g *Global) UserAuthEnabled() bool { return g.Options.UserAuthEnabled() }

// AddListener appends a completed Spec, preserving declaration order
// (spec.md §5: "ordering ... is significant").
func (g *Global) AddListener(s *listener.Spec) { g.Listeners = append(g.Listeners, s) }

// RegisterInspector records the (added) `InspectorPlugin <name> <path>`
// directive (SPEC_FULL §6).
func (g *Global) RegisterInspector(name, path string) {
	g.InspectorPlugins[name] = path
}

// Release tears down every certificate handle this Global's top-level
// Options and every listener's Options hold, in reverse declaration
// order (spec.md §3.3).
func (g *Global) Release() {
	for i := len(g.Listeners) - 1; i >= 0; i-- {
		g.Listeners[i].Opts.Release()
	}
	g.Options.Release()
}
