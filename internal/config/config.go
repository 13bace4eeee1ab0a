// Package config ties the lexer (C5), dispatcher (C6), listener state
// machine (C7), macro table (C8) and rule parser (C9) together into the
// single entry point that turns a config file plus command-line
// overrides into a frozen global.Global (spec.md §2 data flow: "C5 ->
// C6 ... After parsing, C10 traverses every listener's rule list").
package config

import (
	"fmt"
	"strings"

	"github.com/jaydave/sslproxy-core/internal/dispatch"
	"github.com/jaydave/sslproxy-core/internal/global"
	"github.com/jaydave/sslproxy-core/internal/lexer"
	"github.com/jaydave/sslproxy-core/internal/listener"
	"github.com/jaydave/sslproxy-core/internal/options"
	"github.com/jaydave/sslproxy-core/internal/rule"
)

// Diagnostic carries a file/line-tagged error or warning (spec.md §7:
// "reported with file path and line number"). It wraps Err so callers
// can `errors.As` it back out of the plain `error` Load returns.
type Diagnostic struct {
	File string
	Line int
	Err  error
}

func (d *Diagnostic) Error() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", d.File, d.Line, d.Err)
	}
	return fmt.Sprintf("%s: %v", d.File, d.Err)
}

func (d *Diagnostic) Unwrap() error { return d.Err }

func diag(ln lexer.Line, err error) error {
	if err == nil {
		return nil
	}
	return &Diagnostic{File: ln.File, Line: ln.No, Err: err}
}

// Load parses path (and any files it Includes) into a complete
// global.Global: every listener declared, every rule expanded and
// compiled. warnings collects the one documented non-fatal case
// (spec.md §7: split-mode conn-dst).
func Load(path string) (*global.Global, []Diagnostic, error) {
	g := global.New()
	g.ConfigFile = path

	var warnings []Diagnostic
	var pending *listener.BlockState

	err := lexer.NewReader().Walk(path, func(ln lexer.Line) error {
		if pending != nil {
			if lexer.IsBlockClose(ln.Raw) {
				spec, err := pending.Finish()
				if err != nil {
					return diag(ln, err)
				}
				if spec.TargetAddr != "" && !spec.EffectiveDivert(g.SplitMode) {
					warnings = append(warnings, Diagnostic{
						File: spec.File, Line: spec.Line,
						Err: fmt.Errorf("TargetAddr given on a listener whose effective mode is split"),
					})
				}
				g.AddListener(spec)
				pending = nil
				return nil
			}
			return diag(ln, dispatchBlockLine(pending, ln))
		}
		if strings.EqualFold(ln.Name, "ProxySpec") && ln.IsBlockOpen() {
			pending = listener.NewBlockState(ln.File, ln.No, g.Options)
			return nil
		}
		return diag(ln, dispatchGlobalLine(g, ln))
	})
	if err != nil {
		return nil, warnings, err
	}
	if pending != nil {
		return nil, warnings, fmt.Errorf("%s: unterminated ProxySpec block", path)
	}

	g.Options.Compile()
	for _, l := range g.Listeners {
		l.Opts.Compile()
	}

	return g, warnings, nil
}

func dispatchGlobalLine(g *global.Global, ln lexer.Line) error {
	name := ln.Name

	if strings.EqualFold(name, "ProxySpec") {
		spec, err := listener.ParseOneLine(ln.File, ln.No, ln.Value, g.Options)
		if err != nil {
			return err
		}
		g.AddListener(spec)
		return nil
	}

	if listener.IsProtocolKeyword(strings.ToLower(name)) {
		full := name
		if ln.Value != "" {
			full = name + " " + ln.Value
		}
		spec, err := listener.ParseOneLine(ln.File, ln.No, full, g.Options)
		if err != nil {
			return err
		}
		g.AddListener(spec)
		return nil
	}

	if strings.EqualFold(name, "Define") {
		return defineMacro(g.Options, ln.Value)
	}

	if strings.EqualFold(name, "InspectorPlugin") {
		parts := strings.Fields(ln.Value)
		if len(parts) != 2 {
			return fmt.Errorf("InspectorPlugin requires a name and a path")
		}
		g.RegisterInspector(parts[0], parts[1])
		return nil
	}

	if strings.EqualFold(name, "Divert") {
		// spec.md §9 open question: `Divert <value>` is ambiguous with
		// the one-line rule keyword `Divert`. Disambiguate by trying
		// yes/no first; anything else becomes a rule.
		if err := g.Options.SetDivertMode(ln.Value); err == nil {
			return nil
		}
		return appendRule(g.Options, ln, name)
	}

	if _, err := rule.ParseAction(name); err == nil {
		return appendRule(g.Options, ln, name)
	}

	if ok, err := dispatch.DispatchOption(g.Options, name, ln.Value); ok {
		return err
	}
	if ok, err := dispatch.DispatchGlobal(g, name, ln.Value); ok {
		return err
	}
	return fmt.Errorf("unknown directive %q", name)
}

func dispatchBlockLine(b *listener.BlockState, ln lexer.Line) error {
	name := ln.Name

	if listener.IsProtocolKeyword(strings.ToLower(name)) && ln.Value == "" {
		return b.SetProto(name)
	}

	switch {
	case strings.EqualFold(name, "Addr"):
		return b.SetAddr(ln.Value)
	case strings.EqualFold(name, "Port"):
		return b.SetPort(ln.Value)
	case strings.EqualFold(name, "TargetAddr"):
		return b.SetTargetAddr(ln.Value)
	case strings.EqualFold(name, "TargetPort"):
		return b.SetTargetPort(ln.Value)
	case strings.EqualFold(name, "NATEngine"):
		return b.SetNATEngine(ln.Value)
	case strings.EqualFold(name, "DivertPort"):
		return b.SetDivertPort(ln.Value)
	case strings.EqualFold(name, "DivertAddr"):
		return b.SetDivertAddr(ln.Value)
	case strings.EqualFold(name, "ReturnAddr"):
		return b.SetReturnAddr(ln.Value)
	case strings.EqualFold(name, "SNIPort"):
		return b.SetSNIPort(ln.Value)
	case strings.EqualFold(name, "Define"):
		return defineMacro(b.Options(), ln.Value)
	case strings.EqualFold(name, "Divert"):
		if err := b.Options().SetDivertMode(ln.Value); err == nil {
			return nil
		}
		return appendRule(b.Options(), ln, name)
	}

	if _, err := rule.ParseAction(name); err == nil {
		return appendRule(b.Options(), ln, name)
	}

	if ok, err := dispatch.DispatchOption(b.Options(), name, ln.Value); ok {
		return err
	}
	return fmt.Errorf("unknown directive %q inside ProxySpec block", name)
}

func defineMacro(o *options.Options, value string) error {
	parts := strings.Fields(value)
	if len(parts) < 2 {
		return fmt.Errorf("Define requires a name and at least one value")
	}
	return o.Macros.Define(parts[0], parts[1:])
}

func appendRule(o *options.Options, ln lexer.Line, actionName string) error {
	full := actionName
	if ln.Value != "" {
		full = actionName + " " + ln.Value
	}
	rules, _, err := rule.ParseLine(ln.File, ln.No, full, o.Macros, o.UserAuthEnabled())
	if err != nil {
		return err
	}
	o.Rules = append(o.Rules, rules...)
	return nil
}

// ApplyCLIOption applies one `-o KEY=VAL` command-line override to the
// top-level Options, using the same dispatch table as the file parser
// (spec.md §6: "any directive be set on the command line").
func ApplyCLIOption(g *global.Global, keyval string) error {
	name, value, ok := lexer.GetNameValueCLI(keyval)
	if !ok {
		return fmt.Errorf("-o expects KEY=VAL, got %q", keyval)
	}
	if ok, err := dispatch.DispatchOption(g.Options, name, value); ok {
		return err
	}
	if ok, err := dispatch.DispatchGlobal(g, name, value); ok {
		return err
	}
	return fmt.Errorf("-o: unknown directive %q", name)
}
