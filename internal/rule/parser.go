package rule

import (
	"fmt"
	"strings"

	"github.com/jaydave/sslproxy-core/internal/macro"
)

const allLogChannels = LogConnect | LogMaster | LogCert | LogContent | LogPcap | LogMirror

// ParseLine tokenizes one filter-rule line (spec.md §4.5 grammar) and
// expands any macro references it contains into the cartesian product
// of concrete rules (spec.md §3.2 invariant 5, §4.3 "macro expansion at
// rule time"). expanded reports whether at least one macro reference
// was present — callers use this the way the original C API used a
// distinct "1" return value, so "a macro fanned this rule out" is never
// silently conflated with "parsing just succeeded" (spec.md §9).
func ParseLine(file string, lineNo int, text string, macros *macro.Table, userAuthEnabled bool) (rules []*Rule, expanded bool, err error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, false, fmt.Errorf("%s:%d: empty rule", file, lineNo)
	}

	action, err := ParseAction(tokens[0])
	if err != nil {
		return nil, false, fmt.Errorf("%s:%d: %w", file, lineNo, err)
	}

	rest := tokens[1:]
	if len(rest) == 0 {
		return nil, false, fmt.Errorf("%s:%d: rule %q missing predicate (use '*' to match everything)", file, lineNo, tokens[0])
	}

	type macroSlot struct {
		idx    int
		values []string
	}
	var slots []macroSlot
	for idx, tok := range rest {
		if macro.IsReference(tok) {
			values, ok := macros.Lookup(tok)
			if !ok {
				return nil, false, fmt.Errorf("%s:%d: undefined macro %q", file, lineNo, tok)
			}
			slots = append(slots, macroSlot{idx: idx, values: values})
		}
	}

	build := func(chosen []string) (*Rule, error) {
		toks := make([]string, len(rest))
		copy(toks, rest)
		for i, s := range slots {
			toks[s.idx] = chosen[i]
		}
		return parseLiteralRule(file, lineNo, action, toks, userAuthEnabled)
	}

	if len(slots) == 0 {
		r, err := build(nil)
		if err != nil {
			return nil, false, err
		}
		return []*Rule{r}, false, nil
	}

	choice := make([]string, len(slots))
	var recurse func(i int) error
	recurse = func(i int) error {
		if i == len(slots) {
			r, err := build(choice)
			if err != nil {
				return err
			}
			rules = append(rules, r)
			return nil
		}
		for _, v := range slots[i].values {
			choice[i] = v
			if err := recurse(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := recurse(0); err != nil {
		return nil, false, err
	}
	return rules, true, nil
}

func isClauseKeyword(tok string) bool {
	switch lower(tok) {
	case "from", "to", "log", "inspector":
		return true
	default:
		return false
	}
}

func parseLiteralRule(file string, lineNo int, action Action, toks []string, userAuthEnabled bool) (*Rule, error) {
	r := &Rule{File: file, Line: lineNo, Action: action}

	if len(toks) == 1 && toks[0] == "*" {
		r.Precedence = r.computePrecedence()
		return r, nil
	}

	i := 0
	for i < len(toks) {
		switch lower(toks[i]) {
		case "from":
			i++
			if i >= len(toks) {
				return nil, fmt.Errorf("%s:%d: missing value after 'from'", file, lineNo)
			}
			switch lower(toks[i]) {
			case "user":
				i++
				if i >= len(toks) {
					return nil, fmt.Errorf("%s:%d: missing value after 'from user'", file, lineNo)
				}
				if toks[i] == "*" {
					r.AllUsers = true
				} else {
					p := ParseSiteToken(toks[i])
					r.User = &p
				}
				i++
			case "desc":
				i++
				if i >= len(toks) {
					return nil, fmt.Errorf("%s:%d: missing value after 'from desc'", file, lineNo)
				}
				p := ParseSiteToken(toks[i])
				r.Desc = &p
				i++
			case "ip":
				i++
				if i >= len(toks) {
					return nil, fmt.Errorf("%s:%d: missing value after 'from ip'", file, lineNo)
				}
				p := ParseSiteToken(toks[i])
				r.SourceIP = &p
				i++
			case "*":
				i++ // unconstrained source, equivalent to omitting "from"
			default:
				return nil, fmt.Errorf("%s:%d: unknown 'from' predicate %q", file, lineNo, toks[i])
			}

		case "to":
			i++
			if i >= len(toks) {
				return nil, fmt.Errorf("%s:%d: missing value after 'to'", file, lineNo)
			}
			switch lower(toks[i]) {
			case "sni", "cn", "host", "uri":
				ch, _ := ParseChannel(lower(toks[i]))
				i++
				if i >= len(toks) {
					return nil, fmt.Errorf("%s:%d: missing value after 'to %s'", file, lineNo, ch)
				}
				p := ParseSiteToken(toks[i])
				r.Site = &p
				r.ApplyTo = r.ApplyTo.Set(ch)
				i++
			case "ip":
				i++
				if i >= len(toks) {
					return nil, fmt.Errorf("%s:%d: missing value after 'to ip'", file, lineNo)
				}
				p := ParseSiteToken(toks[i])
				r.Site = &p
				r.ApplyTo = r.ApplyTo.Set(ChannelDstIP)
				i++
				if i < len(toks) && lower(toks[i]) == "port" {
					i++
					if i >= len(toks) {
						return nil, fmt.Errorf("%s:%d: missing value after 'port'", file, lineNo)
					}
					pp := ParseSiteToken(toks[i])
					r.Port = &pp
					i++
				}
			case "port":
				i++
				if i >= len(toks) {
					return nil, fmt.Errorf("%s:%d: missing value after 'to port'", file, lineNo)
				}
				pp := ParseSiteToken(toks[i])
				r.Port = &pp
				sentinel := Sentinel()
				r.Site = &sentinel
				i++
			case "*":
				sentinel := Sentinel()
				r.Site = &sentinel
				i++
			default:
				return nil, fmt.Errorf("%s:%d: unknown 'to' predicate %q", file, lineNo, toks[i])
			}

		case "log":
			i++
			if i >= len(toks) {
				return nil, fmt.Errorf("%s:%d: missing value after 'log'", file, lineNo)
			}
			consumed := false
			for i < len(toks) && !isClauseKeyword(toks[i]) {
				tok := toks[i]
				i++
				consumed = true
				if tok == "*" {
					r.Log.Pos |= allLogChannels
					continue
				}
				neg := false
				name := tok
				if strings.HasPrefix(tok, "!") {
					neg = true
					name = tok[1:]
				}
				ch, ok := ParseLogChannel(name)
				if !ok {
					return nil, fmt.Errorf("%s:%d: unknown log channel %q", file, lineNo, tok)
				}
				if neg {
					r.Log.Neg |= ch
				} else {
					r.Log.Pos |= ch
				}
			}
			if !consumed {
				return nil, fmt.Errorf("%s:%d: missing value after 'log'", file, lineNo)
			}

		case "inspector":
			i++
			if i >= len(toks) {
				return nil, fmt.Errorf("%s:%d: missing value after 'inspector'", file, lineNo)
			}
			r.Inspector = toks[i]
			i++

		default:
			return nil, fmt.Errorf("%s:%d: unexpected token %q in rule", file, lineNo, toks[i])
		}
	}

	r.Log.Pos &^= r.Log.Neg

	if !userAuthEnabled && (r.User != nil || r.AllUsers || r.Desc != nil) {
		return nil, fmt.Errorf("%s:%d: rule has a user/desc predicate but UserAuth is disabled", file, lineNo)
	}

	r.Precedence = r.computePrecedence()
	return r, nil
}
