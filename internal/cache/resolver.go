// Package cache implements resource validators: URL templates resolve a
// request path to resource keys, a shared store keeps one monotonic
// timestamp per key, and an HTTP middleware answers conditional reads and
// bumps keys on writes.
package cache

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTemplate = errors.New("invalid cache template")

type segmentKind int

const (
	literal segmentKind = iota
	placeholder
	optional
	wildcard
)

type segment struct {
	kind    segmentKind
	value   string
	cascade bool
}

type template struct {
	raw        string
	segments   []segment
	collection bool
}

// Resolver maps request paths to resource keys. Templates are compiled once
// and tried in declaration order; the first match wins.
type Resolver struct {
	templates []template
}

// NewResolver compiles templates such as
// "/api/workspaces/{workspace}/tasks/{task?}/*". A trailing slash or "*"
// marks a collection template whose keys keep a trailing separator. A "^"
// suffix, as in "{assignment^}", marks a parent whose item and collection
// keys also resolve, so writes below it invalidate the parent too.
func NewResolver(templates []string) (*Resolver, error) {
	r := &Resolver{templates: make([]template, 0, len(templates))}
	for _, raw := range templates {
		tpl, err := compile(raw)
		if err != nil {
			return nil, err
		}
		r.templates = append(r.templates, tpl)
	}
	return r, nil
}

func MustResolver(templates []string) *Resolver {
	r, err := NewResolver(templates)
	if err != nil {
		panic(err)
	}
	return r
}

func compile(raw string) (template, error) {
	tpl := template{raw: raw, collection: strings.HasSuffix(raw, "/") || strings.HasSuffix(raw, "*")}
	parts := splitPath(raw)
	if len(parts) == 0 {
		return template{}, fmt.Errorf("%w: %q has no segments", ErrInvalidTemplate, raw)
	}
	seen := map[string]bool{}
	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return template{}, fmt.Errorf("%w: %q wildcard must be last", ErrInvalidTemplate, raw)
			}
			tpl.segments = append(tpl.segments, segment{kind: wildcard})
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := strings.TrimSuffix(strings.TrimPrefix(part, "{"), "}")
			kind := placeholder
			cascade := false
			if strings.HasSuffix(name, "^") {
				cascade = true
				name = strings.TrimSuffix(name, "^")
			}
			if strings.HasSuffix(name, "?") {
				kind = optional
				name = strings.TrimSuffix(name, "?")
			}
			if cascade && kind == optional {
				return template{}, fmt.Errorf("%w: %q cascading placeholder %q cannot be optional", ErrInvalidTemplate, raw, name)
			}
			if name == "" || strings.ContainsAny(name, "{}/*?^") {
				return template{}, fmt.Errorf("%w: %q has a malformed placeholder", ErrInvalidTemplate, raw)
			}
			if seen[name] {
				return template{}, fmt.Errorf("%w: %q repeats placeholder %q", ErrInvalidTemplate, raw, name)
			}
			seen[name] = true
			tpl.segments = append(tpl.segments, segment{kind: kind, value: name, cascade: cascade})
		default:
			if strings.ContainsAny(part, "{}*") {
				return template{}, fmt.Errorf("%w: %q has a malformed segment %q", ErrInvalidTemplate, raw, part)
			}
			tpl.segments = append(tpl.segments, segment{kind: literal, value: part})
		}
	}
	return tpl, nil
}

// Resolve returns the keys for path, most specific first, or nil when no
// template matches.
func (r *Resolver) Resolve(path string) []string {
	parts := splitPath(path)
	for _, tpl := range r.templates {
		if captured, ok := tpl.match(parts); ok {
			return tpl.keys(captured)
		}
	}
	return nil
}

// match returns, per template segment, the captured value; "" marks an
// optional placeholder that was absent and the wildcard.
func (t template) match(parts []string) ([]string, bool) {
	captured := make([]string, len(t.segments))
	var walk func(si, pi int) bool
	walk = func(si, pi int) bool {
		if si == len(t.segments) {
			return pi == len(parts)
		}
		seg := t.segments[si]
		switch seg.kind {
		case wildcard:
			return true
		case literal:
			return pi < len(parts) && parts[pi] == seg.value && walk(si+1, pi+1)
		case placeholder:
			if pi < len(parts) {
				captured[si] = parts[pi]
				if walk(si+1, pi+1) {
					return true
				}
			}
			captured[si] = ""
			return false
		default:
			if pi < len(parts) {
				captured[si] = parts[pi]
				if walk(si+1, pi+1) {
					return true
				}
			}
			captured[si] = ""
			return walk(si+1, pi)
		}
	}
	if !walk(0, 0) {
		return nil, false
	}
	return captured, true
}

func (t template) keys(captured []string) []string {
	build := func(limit int) string {
		parts := make([]string, 0, limit)
		for i := 0; i < limit; i++ {
			seg := t.segments[i]
			switch seg.kind {
			case literal:
				parts = append(parts, seg.value)
			case placeholder, optional:
				if captured[i] != "" {
					parts = append(parts, captured[i])
				}
			}
		}
		return joinKey(parts, t.collection || limit < len(t.segments))
	}

	keys := []string{build(len(t.segments))}
	add := func(key string) {
		for _, k := range keys {
			if k == key {
				return
			}
		}
		keys = append(keys, key)
	}
	for i := len(t.segments) - 1; i >= 0; i-- {
		if t.segments[i].kind == optional && captured[i] != "" {
			add(build(i))
		}
	}
	for i := len(t.segments) - 1; i >= 0; i-- {
		if t.segments[i].cascade {
			add(build(i + 1))
			add(build(i))
		}
	}
	return keys
}

func joinKey(parts []string, collection bool) string {
	key := "/" + strings.Join(parts, "/")
	if collection && key != "/" {
		key += "/"
	}
	return key
}

func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
