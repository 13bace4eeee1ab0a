// Package options implements the Options container (C2): the ~40-field
// policy record shared by the global scope, every listener, and (for a
// curated subset) per-rule overrides. It owns Clone, the setter table
// that internal/dispatch drives, and the construction-time defaults
// spec.md §4.1 mandates.
package options

import (
	"fmt"

	"github.com/jaydave/sslproxy-core/internal/certhandle"
	"github.com/jaydave/sslproxy-core/internal/filterc"
	"github.com/jaydave/sslproxy-core/internal/macro"
	"github.com/jaydave/sslproxy-core/internal/optval"
	"github.com/jaydave/sslproxy-core/internal/rule"
)

// Global is the minimal back-reference an Options needs from its
// owning global state: a non-owning handle, never shared ownership
// (spec.md §9 "Global Options reference from per-listener Options").
type Global interface {
	UserAuthEnabled() bool
}

// Options aggregates the tunable policy for one scope. Every field is
// exported so internal/dispatch's setter tables and internal/dump's
// formatter can reach it directly; validation happens exclusively
// through the Set* methods below, never by field assignment from
// outside this package's tests.
type Options struct {
	global Global

	// TLS/SSL policy.
	MinSSLProto     optval.SSLProto
	MaxSSLProto     optval.SSLProto
	ForceSSLProto   optval.SSLProto
	ForceSSLProtoOn bool
	DisabledProtos  map[optval.SSLProto]bool
	Ciphers         optval.CipherList
	CipherSuites    optval.CipherList
	SSLCompression  optval.Bool
	ECDHCurve       string
	DenyOCSP        optval.Bool
	LeafCRLURL      string

	// Certificate material.
	CACert     *certhandle.Handle
	CAKey      *certhandle.Handle
	CAChain    *certhandle.Handle
	ClientCert *certhandle.Handle
	ClientKey  *certhandle.Handle
	LeafKey    *certhandle.Handle
	DHParams   *certhandle.Handle

	LeafKeyRSABits   int
	LeafCertDir      string
	DefaultLeafCert  string
	WriteGenCertsDir string
	WriteAllCertsDir string

	// Application behavior.
	RemoveHTTPAcceptEncoding optval.Bool
	RemoveHTTPReferer        optval.Bool
	MaxHTTPHeaderSize        int
	Passthrough              optval.Bool
	ValidateProto            optval.Bool
	VerifyPeer               optval.Bool
	AllowWrongHost           optval.Bool
	ConnIdleTimeout          int

	// User auth.
	UserAuth    optval.Bool
	UserAuthURL string
	UserTimeout int
	DivertUsers []string
	PassUsers   []string

	// Operation mode.
	Divert           optval.Bool // true => divert to inspector, false => split
	DefaultInspector string      // set by `DivertInspector <name>`; a Divert rule's own "inspector <name>" clause overrides this

	// Filtering.
	Macros   *macro.Table
	Rules    []*rule.Rule
	Compiled *filterc.Filter // populated by internal/config.Load, once parsing completes
}

// Compile folds this scope's Rules into its Compiled lookup filter
// (spec.md §4.3/§5: compiled once, after parsing, then immutable).
// Never touched by Clone — a listener's filter is compiled from its
// own Rules, not inherited from the global's.
func (o *Options) Compile() { o.Compiled = filterc.Compile(o.Rules) }

// New constructs an Options with spec.md §4.1's defaults applied.
func New(g Global) *Options {
	o := &Options{
		global:                   g,
		MinSSLProto:              optval.ProtoTLS10,
		MaxSSLProto:              optval.MaxSupportedProto,
		DisabledProtos:           make(map[optval.SSLProto]bool),
		SSLCompression:           optval.FromBool(true),
		DenyOCSP:                 optval.FromBool(false),
		RemoveHTTPReferer:        optval.FromBool(true),
		MaxHTTPHeaderSize:        8192,
		ValidateProto:            optval.FromBool(false),
		VerifyPeer:               optval.FromBool(true),
		AllowWrongHost:           optval.FromBool(false),
		ConnIdleTimeout:          120,
		UserAuth:                 optval.FromBool(false),
		UserTimeout:              300,
		Divert:                   optval.FromBool(true),
		LeafKeyRSABits:           2048,
		Macros:                   macro.NewTable(),
	}
	return o
}

// Clone implements spec.md §4.1's Clone contract: copy every scalar,
// duplicate every owned string, replicate both user lists preserving
// order, deep-copy the macro table and filter-rule list, and share
// certificate handles by incrementing their reference counts.
func (o *Options) Clone() *Options {
	c := &Options{
		global:                   o.global,
		MinSSLProto:              o.MinSSLProto,
		MaxSSLProto:              o.MaxSSLProto,
		ForceSSLProto:            o.ForceSSLProto,
		ForceSSLProtoOn:          o.ForceSSLProtoOn,
		DisabledProtos:           cloneProtoSet(o.DisabledProtos),
		Ciphers:                  o.Ciphers.Clone(),
		CipherSuites:             o.CipherSuites.Clone(),
		SSLCompression:           o.SSLCompression,
		ECDHCurve:                o.ECDHCurve,
		DenyOCSP:                 o.DenyOCSP,
		LeafCRLURL:               o.LeafCRLURL,
		CACert:                   o.CACert.Retain(),
		CAKey:                    o.CAKey.Retain(),
		CAChain:                  o.CAChain.Retain(),
		ClientCert:               o.ClientCert.Retain(),
		ClientKey:                o.ClientKey.Retain(),
		LeafKey:                  o.LeafKey.Retain(),
		DHParams:                 o.DHParams.Retain(),
		LeafKeyRSABits:           o.LeafKeyRSABits,
		LeafCertDir:              o.LeafCertDir,
		DefaultLeafCert:          o.DefaultLeafCert,
		WriteGenCertsDir:         o.WriteGenCertsDir,
		WriteAllCertsDir:         o.WriteAllCertsDir,
		RemoveHTTPAcceptEncoding: o.RemoveHTTPAcceptEncoding,
		RemoveHTTPReferer:        o.RemoveHTTPReferer,
		MaxHTTPHeaderSize:        o.MaxHTTPHeaderSize,
		Passthrough:              o.Passthrough,
		ValidateProto:            o.ValidateProto,
		VerifyPeer:               o.VerifyPeer,
		AllowWrongHost:           o.AllowWrongHost,
		ConnIdleTimeout:          o.ConnIdleTimeout,
		UserAuth:                 o.UserAuth,
		UserAuthURL:              o.UserAuthURL,
		UserTimeout:              o.UserTimeout,
		DivertUsers:              cloneStrings(o.DivertUsers),
		PassUsers:                cloneStrings(o.PassUsers),
		Divert:                   o.Divert,
		DefaultInspector:         o.DefaultInspector,
		Macros:                   o.Macros.Clone(),
		Rules:                    cloneRules(o.Rules),
	}
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRules(in []*rule.Rule) []*rule.Rule {
	if in == nil {
		return nil
	}
	cp := func(p *rule.Predicate) *rule.Predicate {
		if p == nil {
			return nil
		}
		v := *p
		return &v
	}
	out := make([]*rule.Rule, len(in))
	for i, r := range in {
		c := *r
		c.User, c.Desc, c.SourceIP = cp(r.User), cp(r.Desc), cp(r.SourceIP)
		c.Site, c.Port = cp(r.Site), cp(r.Port)
		out[i] = &c
	}
	return out
}

func cloneProtoSet(in map[optval.SSLProto]bool) map[optval.SSLProto]bool {
	out := make(map[optval.SSLProto]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Release drops this Options' references to its certificate handles.
// Call once when an Options (global or listener) is torn down.
func (o *Options) Release() {
	o.CACert.Release()
	o.CAKey.Release()
	o.CAChain.Release()
	o.ClientCert.Release()
	o.ClientKey.Release()
	o.LeafKey.Release()
	o.DHParams.Release()
}

// UserAuthEnabled reports whether user/description rule predicates are
// legal in this scope — used by internal/rule's parser gate.
func (o *Options) UserAuthEnabled() bool { return o.UserAuth.True() }

// --- Setters. Each validates per spec.md §4.1's ranges/enumerations
// and returns an error the caller (internal/dispatch) annotates with
// file/line. ---

func (o *Options) SetMinSSLProto(v string) error {
	p, err := optval.ParseSSLProto(v)
	if err != nil {
		return err
	}
	o.MinSSLProto = p
	return nil
}

func (o *Options) SetMaxSSLProto(v string) error {
	p, err := optval.ParseSSLProto(v)
	if err != nil {
		return err
	}
	o.MaxSSLProto = p
	return nil
}

func (o *Options) SetForceSSLProto(v string) error {
	p, err := optval.ParseSSLProto(v)
	if err != nil {
		return err
	}
	o.ForceSSLProto = p
	o.ForceSSLProtoOn = true
	return nil
}

func (o *Options) SetDisableSSLProto(v string) error {
	p, err := optval.ParseSSLProto(v)
	if err != nil {
		return err
	}
	o.DisabledProtos[p] = true
	return nil
}

func (o *Options) SetEnableSSLProto(v string) error {
	p, err := optval.ParseSSLProto(v)
	if err != nil {
		return err
	}
	delete(o.DisabledProtos, p)
	return nil
}

func (o *Options) SetCiphers(v string) error {
	o.Ciphers = optval.ParseCipherList(v)
	return nil
}

func (o *Options) SetCipherSuites(v string) error {
	o.CipherSuites = optval.ParseCipherList(v)
	return nil
}

func (o *Options) SetSSLCompression(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.SSLCompression = b
	return nil
}

func (o *Options) SetECDHCurve(v string) error {
	o.ECDHCurve = v
	return nil
}

func (o *Options) SetDenyOCSP(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.DenyOCSP = b
	return nil
}

func (o *Options) SetLeafCRLURL(v string) error {
	o.LeafCRLURL = v
	return nil
}

func (o *Options) SetCACert(v string) error {
	h, err := certhandle.Load(certhandle.KindCACert, v)
	if err != nil {
		return err
	}
	o.CACert.Release()
	o.CACert = h
	return nil
}

func (o *Options) SetCAKey(v string) error {
	h, err := certhandle.Load(certhandle.KindCAKey, v)
	if err != nil {
		return err
	}
	o.CAKey.Release()
	o.CAKey = h
	return nil
}

func (o *Options) SetCAChain(v string) error {
	h, err := certhandle.Load(certhandle.KindCAChain, v)
	if err != nil {
		return err
	}
	o.CAChain.Release()
	o.CAChain = h
	return nil
}

func (o *Options) SetClientCert(v string) error {
	h, err := certhandle.Load(certhandle.KindClientCert, v)
	if err != nil {
		return err
	}
	o.ClientCert.Release()
	o.ClientCert = h
	return nil
}

func (o *Options) SetClientKey(v string) error {
	h, err := certhandle.Load(certhandle.KindClientKey, v)
	if err != nil {
		return err
	}
	o.ClientKey.Release()
	o.ClientKey = h
	return nil
}

func (o *Options) SetLeafKey(v string) error {
	h, err := certhandle.Load(certhandle.KindLeafKey, v)
	if err != nil {
		return err
	}
	o.LeafKey.Release()
	o.LeafKey = h
	return nil
}

func (o *Options) SetDHGroupParams(v string) error {
	h, err := certhandle.Load(certhandle.KindDHParams, v)
	if err != nil {
		return err
	}
	o.DHParams.Release()
	o.DHParams = h
	return nil
}

func (o *Options) SetLeafKeyRSABits(v string) error {
	n, err := optval.ParseEnumInt("LeafKeyRSABits", v, 1024, 2048, 3072, 4096)
	if err != nil {
		return err
	}
	o.LeafKeyRSABits = n
	return nil
}

func (o *Options) SetLeafCertDir(v string) error     { o.LeafCertDir = v; return nil }
func (o *Options) SetDefaultLeafCert(v string) error { o.DefaultLeafCert = v; return nil }
func (o *Options) SetWriteGenCertsDir(v string) error { o.WriteGenCertsDir = v; return nil }
func (o *Options) SetWriteAllCertsDir(v string) error { o.WriteAllCertsDir = v; return nil }
func (o *Options) SetDivertInspector(v string) error  { o.DefaultInspector = v; return nil }

func (o *Options) SetPassthrough(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.Passthrough = b
	return nil
}

func (o *Options) SetRemoveHTTPAcceptEncoding(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.RemoveHTTPAcceptEncoding = b
	return nil
}

func (o *Options) SetRemoveHTTPReferer(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.RemoveHTTPReferer = b
	return nil
}

func (o *Options) SetMaxHTTPHeaderSize(v string) error {
	n, err := optval.ParseIntRange("MaxHTTPHeaderSize", v, 1024, 65536)
	if err != nil {
		return err
	}
	o.MaxHTTPHeaderSize = n
	return nil
}

func (o *Options) SetValidateProto(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.ValidateProto = b
	return nil
}

func (o *Options) SetVerifyPeer(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.VerifyPeer = b
	return nil
}

func (o *Options) SetAllowWrongHost(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.AllowWrongHost = b
	return nil
}

func (o *Options) SetConnIdleTimeout(v string) error {
	n, err := optval.ParseIntRange("ConnIdleTimeout", v, 10, 3600)
	if err != nil {
		return err
	}
	o.ConnIdleTimeout = n
	return nil
}

func (o *Options) SetUserAuth(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.UserAuth = b
	return nil
}

func (o *Options) SetUserAuthURL(v string) error { o.UserAuthURL = v; return nil }

func (o *Options) SetUserTimeout(v string) error {
	n, err := optval.ParseIntRange("UserTimeout", v, 0, 86400)
	if err != nil {
		return err
	}
	o.UserTimeout = n
	return nil
}

// MaxUserListEntries is the silent cap on DivertUsers/PassUsers spec.md
// §9 says to preserve explicitly rather than leaving implicit: the
// 51st name on either directive is rejected.
const MaxUserListEntries = 50

func (o *Options) AddDivertUser(v string) error {
	if len(o.DivertUsers) >= MaxUserListEntries {
		return fmt.Errorf("DivertUsers: more than %d users", MaxUserListEntries)
	}
	o.DivertUsers = append(o.DivertUsers, v)
	return nil
}

func (o *Options) AddPassUser(v string) error {
	if len(o.PassUsers) >= MaxUserListEntries {
		return fmt.Errorf("PassUsers: more than %d users", MaxUserListEntries)
	}
	o.PassUsers = append(o.PassUsers, v)
	return nil
}

func (o *Options) SetDivertMode(v string) error {
	b, err := optval.ParseBool(v)
	if err != nil {
		return err
	}
	o.Divert = b
	return nil
}

// EffectiveDivert implements spec.md §4.4: split (global -n flag)
// forces false; absence of an upstream divert address forces false;
// otherwise the listener's own Divert setting wins.
func EffectiveDivert(split bool, hasUpstream bool, listenerDivert bool) bool {
	if split {
		return false
	}
	if !hasUpstream {
		return false
	}
	return listenerDivert
}
