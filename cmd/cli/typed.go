package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// setFlags collects repeated -set Field=value flags.
type setFlags []string

func (s *setFlags) String() string { return strings.Join(*s, ",") }

func (s *setFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parsePair splits "Field=value". The value may itself contain '='.
func parsePair(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", "", fmt.Errorf("bad -set %q, want Field=value", s)
	}
	return k, v, nil
}

// fieldKinds reads a GetFieldDefinitions response into name -> kind.
func fieldKinds(defs map[string]any) map[string]string {
	out := map[string]string{}
	list, _ := defs["fields"].([]any)
	for _, f := range list {
		m, ok := f.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		kind, _ := m["kind"].(string)
		if name != "" {
			out[name] = kind
		}
	}
	return out
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// coerceValue converts a command-line string to the value a field of kind expects.
func coerceValue(field, kind, raw string) (any, error) {
	switch kind {
	case "int":
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: want an integer: %w", field, err)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: want a number: %w", field, err)
		}
		return f, nil
	case "bool":
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: want true/false: %w", field, err)
		}
		return b, nil
	case "time":
		for _, l := range dateLayouts {
			if t, err := time.Parse(l, strings.TrimSpace(raw)); err == nil {
				return t.UTC().Format(time.RFC3339Nano), nil
			}
		}
		return nil, fmt.Errorf("%s: want a date (YYYY-MM-DD or RFC 3339)", field)
	default:
		return raw, nil
	}
}

// coerceValues types every pair by its field kind. Unknown fields are rejected
// here so the user sees the list of valid names.
func coerceValues(kinds map[string]string, pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, err := parsePair(p)
		if err != nil {
			return nil, err
		}
		kind, ok := kinds[k]
		if !ok {
			names := make([]string, 0, len(kinds))
			for n := range kinds {
				names = append(names, n)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("unknown field %q (have %s)", k, strings.Join(names, ", "))
		}
		val, err := coerceValue(k, kind, v)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

// typeValues replaces the raw -set pairs in req with values typed by the
// server's field definitions.
func typeValues(ctx context.Context, cc invoker, req map[string]any) error {
	pairs, _ := req["set"].([]string)
	delete(req, "set")
	defs, err := call(ctx, cc, "GetFieldDefinitions", map[string]any{"type": req["type"]})
	if err != nil {
		return err
	}
	vals, err := coerceValues(fieldKinds(defs), pairs)
	if err != nil {
		return err
	}
	req["values"] = vals
	return nil
}
