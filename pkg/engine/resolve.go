package engine

import (
	"strconv"
	"strings"
)

// Sigil prefixes a variable reference. A reference is the sigil, a variable
// name, and zero or more dotted path segments: "$bq", "$bq.label",
// "$dets.items.0.bbox". This syntax is wire-level and must stay stable.
const Sigil = "$"

// Env is the mutable variable store for a single run. It is owned by
// exactly one in-flight run; saves overwrite prior bindings, reads never
// mutate it.
type Env map[string]any

// Clone returns a shallow copy, used to seed a run from a plan's declared
// initial variables without aliasing the plan document.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Resolve resolves a string reference against the environment. A string not
// carrying the sigil is returned as a literal. A missing variable, missing
// field, or out-of-range index yields NotFound; resolution has no error
// path and never mutates the environment.
func Resolve(ref string, env Env) any {
	if !strings.HasPrefix(ref, Sigil) {
		return ref
	}

	token := ref[len(Sigil):]
	name, tail, _ := strings.Cut(token, ".")
	if name == "" {
		return NotFound{}
	}
	root, ok := env[name]
	if !ok {
		return NotFound{}
	}
	if tail == "" {
		return root
	}
	return getPath(root, tail)
}

// getPath walks a dotted path into nested maps and lists.
func getPath(v any, path string) any {
	cur := v
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[part]
			if !ok {
				return NotFound{}
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return NotFound{}
			}
			cur = c[idx]
		default:
			return NotFound{}
		}
	}
	return cur
}

// ResolveValue resolves v if it is a sigil-carrying string, otherwise
// returns it unchanged. Only string leaves are reference candidates;
// numbers and booleans pass through untouched.
func ResolveValue(v any, env Env) any {
	if s, ok := v.(string); ok && strings.HasPrefix(s, Sigil) {
		return Resolve(s, env)
	}
	return v
}

// ResolveArgs recursively resolves every string leaf inside a step's args
// structure. Maps and lists are rebuilt so the plan document is never
// mutated.
func ResolveArgs(args map[string]any, env Env) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = resolveTree(v, env)
	}
	return out
}

func resolveTree(v any, env Env) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = resolveTree(val, env)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = resolveTree(val, env)
		}
		return out
	default:
		return ResolveValue(v, env)
	}
}
