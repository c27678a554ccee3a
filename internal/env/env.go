package env

import (
	"os"
	"sort"
	"strings"
)

// VerboseVar is the environment variable that forwards --verbose to the backend.
const VerboseVar = "VERBOSE"

type Var map[string]string

// Env composes the environment handed to the backend service.
type Env struct {
	Var Var // shell-level overrides (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

// WithBase replaces the cached base with kvs instead of the OS environment.
func (e *Env) WithBase(kvs []string) *Env {
	e.env = parse(kvs)
	return e
}

// WithSet sets K=V and returns e for chaining.
func (e *Env) WithSet(k, v string) *Env {
	e.Set(k, v)
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Lookup resolves k against overrides first, then the base.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply e.Var overrides
// then apply extra (slice of "K=V") overrides
// ${VAR} references are expanded once against the composed map.
// The result is sorted by key.
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(extra))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range parse(extra) {
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// Truthy reports whether v is "1" or a case-insensitive "true".
func Truthy(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

// Verbose reports whether VERBOSE is truthy in e.
func (e *Env) Verbose() bool {
	v, _ := e.Lookup(VerboseVar)
	return Truthy(v)
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
