// Package certhandle implements the reference-counted certificate
// material handle described in spec.md §3.1/§3.2/§9: Options.Clone
// shares CA/client cert, key, chain and DH-params handles across
// listener clones instead of re-reading the backing file per clone.
package certhandle

import (
	"crypto/x509"
	"fmt"
	"os"
	"sync/atomic"
)

// Kind distinguishes what a Handle was loaded as; its value is the
// directive name, used in Load's error messages.
type Kind string

const (
	KindCACert     Kind = "CACert"
	KindCAKey      Kind = "CAKey"
	KindCAChain    Kind = "CAChain"
	KindClientCert Kind = "ClientCert"
	KindClientKey  Kind = "ClientKey"
	KindLeafKey    Kind = "LeafKey"
	KindDHParams   Kind = "DHGroupParams"
)

// Handle wraps the raw PEM bytes of a loaded credential plus (for
// cert/chain kinds) its parsed x509 form. It is refcounted: the file is
// read exactly once by Load, and every Clone of an Options that holds
// this Handle calls Retain instead of reopening the path.
type Handle struct {
	Kind Kind
	Path string

	raw   []byte
	certs []*x509.Certificate // non-nil for CACert/CAChain/ClientCert

	refs *atomic.Int32
}

// Load reads path once and, for certificate kinds, parses it as a PEM
// chain. Key kinds are kept as opaque PEM bytes — this subsystem never
// needs the decoded private key, only a handle to hand to the TLS
// engine collaborator.
func Load(kind Kind, path string) (*Handle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	h := &Handle{Kind: kind, Path: path, raw: raw, refs: new(atomic.Int32)}
	h.refs.Store(1)

	switch kind {
	case KindCACert, KindCAChain, KindClientCert:
		certs, err := parseCertChain(raw)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", kind, path, err)
		}
		h.certs = certs
	case KindCAKey, KindClientKey:
		// Best-effort "is it PEM at all" sanity check; decoding the
		// actual private key is the TLS engine's job, not this
		// subsystem's.
		if _, derr := decodePEMBlocks(raw); derr != nil {
			return nil, fmt.Errorf("%s %s: not valid PEM: %w", kind, path, derr)
		}
	}

	return h, nil
}

func parseCertChain(raw []byte) ([]*x509.Certificate, error) {
	blocks, err := decodePEMBlocks(raw)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, b := range blocks {
		c, err := x509.ParseCertificate(b)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found")
	}
	return certs, nil
}

// Certs returns the parsed certificate chain, or nil for key/DH-param
// handles.
func (h *Handle) Certs() []*x509.Certificate { return h.certs }

// Raw returns the original PEM bytes.
func (h *Handle) Raw() []byte { return h.raw }

// Retain increments the refcount and returns h, so call sites can write
// `other.Field = h.Retain()`.
func (h *Handle) Retain() *Handle {
	if h == nil {
		return nil
	}
	h.refs.Add(1)
	return h
}

// Release decrements the refcount; once it reaches zero the handle's
// backing bytes are dropped so the GC can reclaim them promptly rather
// than waiting for every clone to go out of scope independently.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if h.refs.Add(-1) == 0 {
		h.raw = nil
		h.certs = nil
	}
}

// RefCount reports the current reference count; intended for tests.
func (h *Handle) RefCount() int32 {
	if h == nil {
		return 0
	}
	return h.refs.Load()
}
