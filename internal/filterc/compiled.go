// Package filterc implements the filter compiler (C10): folding a
// flat, declaration-ordered list of rule.Rule values into the layered
// lookup trie described in spec.md §4.3, and querying it per
// connection. Compilation happens once, after parsing; the result is
// never modified afterwards, so it may be read from multiple goroutines
// without locking.
package filterc

import (
	"sort"

	"github.com/jaydave/sslproxy-core/internal/rule"
)

// Leaf is the resolved outcome at one point in the trie: every rule
// seen so far OR-merged together (spec.md §4.3 "Action and log
// merging"). Action/log accumulation is unconditional across
// precedences — a lower-precedence Divert/Split/Pass/Match is never
// displaced by a later, higher-precedence rule landing on the same
// leaf. The sole exception is Block: a Block rule whose own precedence
// is strictly lower than the leaf's running max does not contribute
// its Block bit, so a later, weaker Block cannot retroactively shut
// down traffic a stronger rule already allowed (spec.md §8.2 scenario
// 5).
type Leaf struct {
	Precedence int
	Action     rule.Action
	Log        rule.LogMask
	Inspector  string

	// Rules lists every rule.Rule that was inserted at this leaf, in
	// declaration order, independent of whether it won. Used by Stats
	// and by lookup's "is this leaf populated" check — the compiled
	// filter never discards a rule, it only decides which one(s)
	// currently govern the merged outcome.
	Rules []*rule.Rule
}

func (l *Leaf) insert(r *rule.Rule) {
	l.Rules = append(l.Rules, r)
	if len(l.Rules) == 1 {
		l.Precedence = r.Precedence
		l.Action = r.Action
		l.Log = r.Log
		l.Inspector = r.Inspector
		return
	}

	action := r.Action
	if r.Action == rule.ActionBlock && r.Precedence < l.Precedence {
		// A weaker, later Block must not override what a stronger rule
		// already established — skip merging just this bit.
		action = 0
	}
	l.Action |= action
	l.Log = l.Log.Merge(r.Log)
	if l.Inspector == "" {
		l.Inspector = r.Inspector
	}
	if r.Precedence > l.Precedence {
		l.Precedence = r.Precedence
	}
}

// siteSubstrEntry is one entry of an ordered substring-site list; the
// all_sites sentinel (empty value) is always kept last (spec.md §3.2
// invariant 3).
type siteSubstrEntry struct {
	prefix string
	ports  *portTable
}

// siteTable holds one channel's target-site index: exact lookups first,
// then an ordered substring scan with the all_sites sentinel last.
type siteTable struct {
	exact  map[string]*portTable
	substr []*siteSubstrEntry
}

func newSiteTable() *siteTable {
	return &siteTable{exact: make(map[string]*portTable)}
}

func (t *siteTable) getOrCreate(pred rule.Predicate) *portTable {
	if !pred.Substring {
		pt, ok := t.exact[pred.Value]
		if !ok {
			pt = newPortTable()
			t.exact[pred.Value] = pt
		}
		return pt
	}
	for _, e := range t.substr {
		if e.prefix == pred.Value {
			return e.ports
		}
	}
	entry := &siteSubstrEntry{prefix: pred.Value, ports: newPortTable()}
	t.insertSubstrOrdered(entry)
	return entry.ports
}

// insertSubstrOrdered appends entry keeping the all_sites sentinel
// (prefix=="") last, per spec.md §3.2 invariant 3.
func (t *siteTable) insertSubstrOrdered(entry *siteSubstrEntry) {
	if entry.prefix == "" {
		t.substr = append(t.substr, entry)
		return
	}
	// Insert before any trailing sentinel entries.
	idx := len(t.substr)
	for idx > 0 && t.substr[idx-1].prefix == "" {
		idx--
	}
	t.substr = append(t.substr, nil)
	copy(t.substr[idx+1:], t.substr[idx:])
	t.substr[idx] = entry
}

// lookup returns every portTable whose site matches: the exact entry
// first, then matching substrings in list order (spec.md §4.3: "site
// exact before site substring, with all_sites last").
func (t *siteTable) lookup(site string) []*portTable {
	var out []*portTable
	if pt, ok := t.exact[site]; ok {
		out = append(out, pt)
	}
	for _, e := range t.substr {
		if e.prefix == "" || len(site) >= len(e.prefix) && site[:len(e.prefix)] == e.prefix {
			out = append(out, e.ports)
		}
	}
	return out
}

// portSubstrEntry mirrors siteSubstrEntry, for the port dimension.
type portSubstrEntry struct {
	prefix string
	leaf   *Leaf
}

// portTable is consulted only when its enclosing site already matched;
// "any" holds the leaf for a site predicate with no port constraint.
type portTable struct {
	any    *Leaf
	exact  map[string]*Leaf
	substr []*portSubstrEntry
}

func newPortTable() *portTable {
	return &portTable{exact: make(map[string]*Leaf)}
}

func (pt *portTable) getOrCreate(pred *rule.Predicate) *Leaf {
	if pred == nil {
		if pt.any == nil {
			pt.any = &Leaf{}
		}
		return pt.any
	}
	if !pred.Substring {
		l, ok := pt.exact[pred.Value]
		if !ok {
			l = &Leaf{}
			pt.exact[pred.Value] = l
		}
		return l
	}
	for _, e := range pt.substr {
		if e.prefix == pred.Value {
			return e.leaf
		}
	}
	entry := &portSubstrEntry{prefix: pred.Value, leaf: &Leaf{}}
	if entry.prefix == "" {
		pt.substr = append(pt.substr, entry)
	} else {
		idx := len(pt.substr)
		for idx > 0 && pt.substr[idx-1].prefix == "" {
			idx--
		}
		pt.substr = append(pt.substr, nil)
		copy(pt.substr[idx+1:], pt.substr[idx:])
		pt.substr[idx] = entry
	}
	return entry.leaf
}

func (pt *portTable) lookup(port string) []*Leaf {
	var out []*Leaf
	if pt.any != nil {
		out = append(out, pt.any)
	}
	if l, ok := pt.exact[port]; ok {
		out = append(out, l)
	}
	for _, e := range pt.substr {
		if e.prefix == "" || len(port) >= len(e.prefix) && port[:len(e.prefix)] == e.prefix {
			out = append(out, e.leaf)
		}
	}
	return out
}

// sourceNode is the target phase (spec.md §4.3) for rules sharing one
// source bucket: one siteTable per destination channel.
type sourceNode struct {
	channels [5]*siteTable
}

func newSourceNode() *sourceNode {
	n := &sourceNode{}
	for _, c := range rule.AllChannels() {
		n.channels[c] = newSiteTable()
	}
	return n
}

func (n *sourceNode) insert(r *rule.Rule) {
	site := rule.Sentinel()
	if r.Site != nil {
		site = *r.Site
	}
	for _, ch := range r.ApplyTo.Channels() {
		pt := n.channels[ch].getOrCreate(site)
		leaf := pt.getOrCreate(r.Port)
		leaf.insert(r)
	}
}

func (n *sourceNode) lookup(ch rule.Channel, site, port string) []*Leaf {
	var out []*Leaf
	for _, pt := range n.channels[ch].lookup(site) {
		out = append(out, pt.lookup(port)...)
	}
	return out
}

// substrBucketEntry pairs an ordered substring key (username,
// description or source-IP prefix) with its sourceNode.
type substrBucketEntry struct {
	key  string
	node *sourceNode
}

type substrBucket struct {
	entries []*substrBucketEntry
}

func (b *substrBucket) getOrCreate(pred rule.Predicate) *sourceNode {
	for _, e := range b.entries {
		if e.key == pred.Value {
			return e.node
		}
	}
	entry := &substrBucketEntry{key: pred.Value, node: newSourceNode()}
	if entry.key == "" {
		b.entries = append(b.entries, entry)
	} else {
		idx := len(b.entries)
		for idx > 0 && b.entries[idx-1].key == "" {
			idx--
		}
		b.entries = append(b.entries, nil)
		copy(b.entries[idx+1:], b.entries[idx:])
		b.entries[idx] = entry
	}
	return entry.node
}

func (b *substrBucket) lookup(value string) []*sourceNode {
	var out []*sourceNode
	for _, e := range b.entries {
		if e.key == "" || len(value) >= len(e.key) && value[:len(e.key)] == e.key {
			out = append(out, e.node)
		}
	}
	return out
}

// keyword bucket keys combine a user and a description predicate.
type userDescKey struct {
	user string
	desc string
}

// Filter is the immutable compiled lookup structure, spec.md §3.1's
// "compiled filter": six user/keyword buckets, plus all-user, IP and
// all-unconstrained buckets.
type Filter struct {
	userKeywordExact  map[userDescKey]*sourceNode
	userKeywordSubstr *substrBucket // keyed by user; desc held separately per entry via descBucket

	userExact  map[string]*sourceNode
	userSubstr *substrBucket

	keywordExact  map[string]*sourceNode
	keywordSubstr *substrBucket

	allUserFilter *sourceNode

	ipExact  map[string]*sourceNode
	ipSubstr *substrBucket

	allFilter *sourceNode

	// userKeywordSubstrDesc tracks, per user-substring-bucket entry, the
	// description substring table (keyed identically to ipSubstr/userSubstr
	// machinery); kept as a side map to avoid contorting substrBucket
	// into a three-level structure for what is a rarely-exercised corner
	// of the predicate space.
	userKeywordSubstrDesc map[*sourceNode]*substrBucket

	// rules is the full declaration-ordered rule set, returned by Rules.
	rules []*rule.Rule
}

func newFilter() *Filter {
	return &Filter{
		userKeywordExact:      make(map[userDescKey]*sourceNode),
		userKeywordSubstr:     &substrBucket{},
		userExact:             make(map[string]*sourceNode),
		userSubstr:            &substrBucket{},
		keywordExact:          make(map[string]*sourceNode),
		keywordSubstr:         &substrBucket{},
		allUserFilter:         newSourceNode(),
		ipExact:               make(map[string]*sourceNode),
		ipSubstr:              &substrBucket{},
		allFilter:             newSourceNode(),
		userKeywordSubstrDesc: make(map[*sourceNode]*substrBucket),
	}
}

// Rules returns every rule folded into this filter, in declaration
// order — the basis for the textual dump / round-trip property.
func (f *Filter) Rules() []*rule.Rule {
	out := make([]*rule.Rule, len(f.rules))
	copy(out, f.rules)
	return out
}

// Compile folds rules (already macro-expanded, in declaration order)
// into a new immutable Filter.
func Compile(rules []*rule.Rule) *Filter {
	f := newFilter()
	f.rules = append(f.rules, rules...)
	for _, r := range rules {
		f.insert(r)
	}
	return f
}

func (f *Filter) insert(r *rule.Rule) {
	switch {
	case r.User != nil && r.Desc != nil:
		if !r.User.Substring && !r.Desc.Substring {
			key := userDescKey{user: r.User.Value, desc: r.Desc.Value}
			node, ok := f.userKeywordExact[key]
			if !ok {
				node = newSourceNode()
				f.userKeywordExact[key] = node
			}
			node.insert(r)
			return
		}
		userNode := f.userKeywordSubstr.getOrCreate(*r.User)
		descBucket, ok := f.userKeywordSubstrDesc[userNode]
		if !ok {
			descBucket = &substrBucket{}
			f.userKeywordSubstrDesc[userNode] = descBucket
		}
		node := descBucket.getOrCreate(*r.Desc)
		node.insert(r)

	case r.User != nil:
		node := bucketNode(f.userExact, f.userSubstr, *r.User)
		node.insert(r)

	case r.Desc != nil:
		node := bucketNode(f.keywordExact, f.keywordSubstr, *r.Desc)
		node.insert(r)

	case r.AllUsers:
		f.allUserFilter.insert(r)

	case r.SourceIP != nil:
		node := bucketNode(f.ipExact, f.ipSubstr, *r.SourceIP)
		node.insert(r)

	default:
		f.allFilter.insert(r)
	}
}

func bucketNode(exact map[string]*sourceNode, substr *substrBucket, pred rule.Predicate) *sourceNode {
	if !pred.Substring {
		n, ok := exact[pred.Value]
		if !ok {
			n = newSourceNode()
			exact[pred.Value] = n
		}
		return n
	}
	return substr.getOrCreate(pred)
}

// Query is the connection-time input described in spec.md §4.3.
type Query struct {
	User    string // "" if unknown
	Desc    string // "" if unknown
	SrcIP   string
	Channel rule.Channel
	Site    string
	Port    string
}

// Decision is the resolved outcome of a lookup: the winning merged
// action/log mask and its precedence, or Matched==false if nothing in
// the filter applies at all.
type Decision struct {
	Matched    bool
	Precedence int
	Action     rule.Action
	Log        rule.LogMask
	Inspector  string
}

// EffectiveInspector implements the precedence decided in SPEC_FULL.md
// §6 (DESIGN.md open question 4) for which C14 inspector a Divert
// decision uses: the winning
// rule's own "inspector <name>" clause, falling back to the scope's
// "DivertInspector <name>" default when the rule didn't name one.
func (d Decision) EffectiveInspector(scopeDefault string) string {
	if d.Inspector != "" {
		return d.Inspector
	}
	return scopeDefault
}

func mergeLeaves(leaves []*Leaf) Decision {
	d := Decision{}
	for _, l := range leaves {
		if l == nil || len(l.Rules) == 0 {
			continue
		}
		if !d.Matched || l.Precedence > d.Precedence {
			d = Decision{Matched: true, Precedence: l.Precedence, Action: l.Action, Log: l.Log, Inspector: l.Inspector}
		} else if l.Precedence == d.Precedence {
			d.Action |= l.Action
			d.Log = d.Log.Merge(l.Log)
			if d.Inspector == "" {
				d.Inspector = l.Inspector
			}
		}
	}
	return d
}

// Lookup implements the probe order of spec.md §4.3: user+desc, else
// user, else desc — always also consulting all_user_filter,
// ip_filter_{exact,substr} and all_filter — and returns the
// highest-precedence merged decision across every bucket that produced
// a hit.
func (f *Filter) Lookup(q Query) Decision {
	var leaves []*Leaf

	collect := func(n *sourceNode) {
		if n == nil {
			return
		}
		leaves = append(leaves, n.lookup(q.Channel, q.Site, q.Port)...)
	}

	switch {
	case q.User != "" && q.Desc != "":
		if n, ok := f.userKeywordExact[userDescKey{user: q.User, desc: q.Desc}]; ok {
			collect(n)
		}
		for _, userNode := range f.userKeywordSubstr.lookup(q.User) {
			if descBucket, ok := f.userKeywordSubstrDesc[userNode]; ok {
				for _, n := range descBucket.lookup(q.Desc) {
					collect(n)
				}
			}
		}
	case q.User != "":
		if n, ok := f.userExact[q.User]; ok {
			collect(n)
		}
		for _, n := range f.userSubstr.lookup(q.User) {
			collect(n)
		}
	case q.Desc != "":
		if n, ok := f.keywordExact[q.Desc]; ok {
			collect(n)
		}
		for _, n := range f.keywordSubstr.lookup(q.Desc) {
			collect(n)
		}
	}

	collect(f.allUserFilter)
	if n, ok := f.ipExact[q.SrcIP]; ok {
		collect(n)
	}
	for _, n := range f.ipSubstr.lookup(q.SrcIP) {
		collect(n)
	}
	collect(f.allFilter)

	return mergeLeaves(leaves)
}

// Stats reports bucket population counts, used by tests asserting
// exact bucket sizes (spec.md §8.2 scenario 2: "ip_filter_exact
// contains exactly two entries"). AllUser and All are 1 when the
// bucket holds any rule, else 0.
type Stats struct {
	UserKeywordExact, UserKeywordSubstr int
	UserExact, UserSubstr               int
	KeywordExact, KeywordSubstr         int
	AllUser                             int
	IPExact, IPSubstr                   int
	All                                 int
}

func (f *Filter) Stats() Stats {
	return Stats{
		UserKeywordExact:  len(f.userKeywordExact),
		UserKeywordSubstr: len(f.userKeywordSubstr.entries),
		UserExact:         len(f.userExact),
		UserSubstr:        len(f.userSubstr.entries),
		KeywordExact:      len(f.keywordExact),
		KeywordSubstr:     len(f.keywordSubstr.entries),
		AllUser:           boolCount(len(f.allUserFilter.rulesCount()) > 0),
		IPExact:           len(f.ipExact),
		IPSubstr:          len(f.ipSubstr.entries),
		All:               boolCount(len(f.allFilter.rulesCount()) > 0),
	}
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rulesCount walks every leaf under a sourceNode and returns the
// flattened rule list, used only by Stats' "is this bucket populated"
// check above.
func (n *sourceNode) rulesCount() []*rule.Rule {
	var out []*rule.Rule
	for _, ch := range rule.AllChannels() {
		st := n.channels[ch]
		for _, pt := range st.exact {
			out = append(out, leafRules(pt)...)
		}
		for _, e := range st.substr {
			out = append(out, leafRules(e.ports)...)
		}
	}
	return out
}

func leafRules(pt *portTable) []*rule.Rule {
	var out []*rule.Rule
	if pt.any != nil {
		out = append(out, pt.any.Rules...)
	}
	for _, l := range pt.exact {
		out = append(out, l.Rules...)
	}
	for _, e := range pt.substr {
		out = append(out, e.leaf.Rules...)
	}
	return out
}

// SortedIPExactKeys returns the ip_filter_exact keys in sorted order.
func (f *Filter) SortedIPExactKeys() []string {
	keys := make([]string, 0, len(f.ipExact))
	for k := range f.ipExact {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
