// Package dispatch implements the C6 option dispatcher: the
// name-to-setter tables spec.md §9 calls for ("use a table mapping
// name -> typed setter ... not a long if/else chain"). It never reads
// or writes files itself; internal/config hands it (name, value) pairs
// and it routes them to internal/options or internal/global. Macro
// definitions, rules, listeners and InspectorPlugin are routed by
// internal/config before it is consulted.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/jaydave/sslproxy-core/internal/global"
	"github.com/jaydave/sslproxy-core/internal/options"
)

// OptionSetter is one entry of the shared Options table: every
// directive that is legal both at global scope and inside a
// `ProxySpec { }` block routes through here.
type OptionSetter func(*options.Options, string) error

// optionSetters is the single source of truth for directive names that
// set a field on an Options (spec.md §4.1/§6). Shared between global
// and listener scope.
var optionSetters = map[string]OptionSetter{
	"CACert":                   func(o *options.Options, v string) error { return o.SetCACert(v) },
	"CAKey":                    func(o *options.Options, v string) error { return o.SetCAKey(v) },
	"CAChain":                  func(o *options.Options, v string) error { return o.SetCAChain(v) },
	"ClientCert":               func(o *options.Options, v string) error { return o.SetClientCert(v) },
	"ClientKey":                func(o *options.Options, v string) error { return o.SetClientKey(v) },
	"LeafKey":                  func(o *options.Options, v string) error { return o.SetLeafKey(v) },
	"LeafKeyRSABits":           func(o *options.Options, v string) error { return o.SetLeafKeyRSABits(v) },
	"LeafCRLURL":               func(o *options.Options, v string) error { return o.SetLeafCRLURL(v) },
	"LeafCertDir":              func(o *options.Options, v string) error { return o.SetLeafCertDir(v) },
	"DefaultLeafCert":          func(o *options.Options, v string) error { return o.SetDefaultLeafCert(v) },
	"WriteGenCertsDir":         func(o *options.Options, v string) error { return o.SetWriteGenCertsDir(v) },
	"WriteAllCertsDir":         func(o *options.Options, v string) error { return o.SetWriteAllCertsDir(v) },
	"DenyOCSP":                 func(o *options.Options, v string) error { return o.SetDenyOCSP(v) },
	"Passthrough":              func(o *options.Options, v string) error { return o.SetPassthrough(v) },
	"DHGroupParams":            func(o *options.Options, v string) error { return o.SetDHGroupParams(v) },
	"ECDHCurve":                func(o *options.Options, v string) error { return o.SetECDHCurve(v) },
	"SSLCompression":           func(o *options.Options, v string) error { return o.SetSSLCompression(v) },
	"ForceSSLProto":            func(o *options.Options, v string) error { return o.SetForceSSLProto(v) },
	"DisableSSLProto":          func(o *options.Options, v string) error { return o.SetDisableSSLProto(v) },
	"EnableSSLProto":           func(o *options.Options, v string) error { return o.SetEnableSSLProto(v) },
	"MinSSLProto":              func(o *options.Options, v string) error { return o.SetMinSSLProto(v) },
	"MaxSSLProto":              func(o *options.Options, v string) error { return o.SetMaxSSLProto(v) },
	"Ciphers":                  func(o *options.Options, v string) error { return o.SetCiphers(v) },
	"CipherSuites":             func(o *options.Options, v string) error { return o.SetCipherSuites(v) },
	"ConnIdleTimeout":          func(o *options.Options, v string) error { return o.SetConnIdleTimeout(v) },
	"RemoveHTTPAcceptEncoding": func(o *options.Options, v string) error { return o.SetRemoveHTTPAcceptEncoding(v) },
	"RemoveHTTPReferer":        func(o *options.Options, v string) error { return o.SetRemoveHTTPReferer(v) },
	"VerifyPeer":               func(o *options.Options, v string) error { return o.SetVerifyPeer(v) },
	"AllowWrongHost":           func(o *options.Options, v string) error { return o.SetAllowWrongHost(v) },
	"UserAuth":                 func(o *options.Options, v string) error { return o.SetUserAuth(v) },
	"UserAuthURL":              func(o *options.Options, v string) error { return o.SetUserAuthURL(v) },
	"UserTimeout":              func(o *options.Options, v string) error { return o.SetUserTimeout(v) },
	"DivertUsers":              func(o *options.Options, v string) error { return addEach(v, o.AddDivertUser) },
	"PassUsers":                func(o *options.Options, v string) error { return addEach(v, o.AddPassUser) },
	"ValidateProto":            func(o *options.Options, v string) error { return o.SetValidateProto(v) },
	"MaxHTTPHeaderSize":        func(o *options.Options, v string) error { return o.SetMaxHTTPHeaderSize(v) },
	"DivertInspector":          func(o *options.Options, v string) error { return o.SetDivertInspector(v) },
}

func addEach(v string, add func(string) error) error {
	for _, name := range strings.Fields(v) {
		if err := add(name); err != nil {
			return err
		}
	}
	return nil
}

// globalOnlySetters are directives legal only at process scope
// (spec.md §6): paths, logging targets, chroot/privilege-drop, NAT
// engine default, stats, (added) admin listen address.
var globalOnlySetters = map[string]func(*global.Global, string) error{
	"NATEngine":              func(g *global.Global, v string) error { g.NATEngine = v; return nil },
	"User":                   func(g *global.Global, v string) error { g.DropUser = v; return nil },
	"Group":                  func(g *global.Global, v string) error { g.DropGroup = v; return nil },
	"Chroot":                 func(g *global.Global, v string) error { g.ChrootDir = v; return nil },
	"PidFile":                func(g *global.Global, v string) error { g.PidFile = v; return nil },
	"ConnectLog":             func(g *global.Global, v string) error { g.ConnectLog = v; return nil },
	"ContentLog":             func(g *global.Global, v string) error { g.ContentLog = v; return nil },
	"ContentLogDir":          func(g *global.Global, v string) error { g.ContentLogDir = v; return nil },
	"ContentLogPathSpec":     func(g *global.Global, v string) error { g.ContentLogPathSpec = v; return nil },
	"LogProcInfo":            func(g *global.Global, v string) error { return setBool(v, &g.LogProcInfo) },
	"MasterKeyLog":           func(g *global.Global, v string) error { g.MasterKeyLog = v; return nil },
	"PcapLog":                func(g *global.Global, v string) error { g.PcapLog = v; return nil },
	"PcapLogDir":             func(g *global.Global, v string) error { g.PcapLogDir = v; return nil },
	"PcapLogPathSpec":        func(g *global.Global, v string) error { g.PcapLogPathSpec = v; return nil },
	"MirrorIf":               func(g *global.Global, v string) error { g.MirrorIf = v; return nil },
	"MirrorTarget":           func(g *global.Global, v string) error { g.MirrorTarget = v; return nil },
	"Daemon":                 func(g *global.Global, v string) error { return setBool(v, &g.Daemon) },
	"Debug":                  func(g *global.Global, v string) error { return setBool(v, &g.Debug) },
	"DebugLevel":             func(g *global.Global, v string) error { return setIntNoRange("DebugLevel", v, &g.DebugLevel) },
	"ExpiredConnCheckPeriod": func(g *global.Global, v string) error { return setIntRange("ExpiredConnCheckPeriod", v, 10, 60, &g.ExpiredConnCheckPeriod) },
	"LogStats":               func(g *global.Global, v string) error { return setBool(v, &g.LogStats) },
	"StatsPeriod":            func(g *global.Global, v string) error { return setIntRange("StatsPeriod", v, 1, 10, &g.StatsPeriod) },
	"OpenFilesLimit":         func(g *global.Global, v string) error { return setIntRange("OpenFilesLimit", v, 50, 10000, &g.OpenFilesLimit) },
	"UserDBPath":             func(g *global.Global, v string) error { g.UserDBPath = v; return nil },
	"AdminListen":            func(g *global.Global, v string) error { g.AdminListenAddr = v; return nil },
}

func setBool(v string, dst *bool) error {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes":
		*dst = true
	case "no":
		*dst = false
	default:
		return fmt.Errorf("expected yes or no, got %q", v)
	}
	return nil
}

func setIntRange(name, v string, min, max int, dst *int) error {
	n, err := parseInt(v)
	if err != nil {
		return fmt.Errorf("%s: not a number: %q", name, v)
	}
	if n < min || n > max {
		return fmt.Errorf("%s: %d out of range [%d, %d]", name, n, min, max)
	}
	*dst = n
	return nil
}

func setIntNoRange(name, v string, dst *int) error {
	n, err := parseInt(v)
	if err != nil {
		return fmt.Errorf("%s: not a number: %q", name, v)
	}
	*dst = n
	return nil
}

func parseInt(s string) (int, error) {
	n := 0
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	neg := false
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(s) {
		return 0, fmt.Errorf("not a number")
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("not a number")
		}
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// IsOptionDirective reports whether name is handled by the shared
// Options table.
func IsOptionDirective(name string) bool {
	_, ok := optionSetters[name]
	return ok
}

// DispatchOption applies an Options-scope directive. ok is false if
// name is not a recognized Options directive.
func DispatchOption(o *options.Options, name, value string) (ok bool, err error) {
	setter, found := optionSetters[name]
	if !found {
		return false, nil
	}
	return true, setter(o, value)
}

// IsGlobalOnlyDirective reports whether name is one of the
// process-wide-only directives.
func IsGlobalOnlyDirective(name string) bool {
	_, ok := globalOnlySetters[name]
	return ok
}

// DispatchGlobal applies a process-scope-only directive.
func DispatchGlobal(g *global.Global, name, value string) (ok bool, err error) {
	setter, found := globalOnlySetters[name]
	if !found {
		return false, nil
	}
	return true, setter(g, value)
}
