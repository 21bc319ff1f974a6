package anatomy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/cast"

	"github.com/richinsley/comfy2ayon/errdefs"
)

// Data is the value map a Template is formatted against. Nested sections such as
// "project" or "root" are map[string]any.
type Data map[string]any

// Template is a path or name template with {key}, {key[sub]} and {key.sub}
// placeholders. A placeholder may carry a fill spec, {frame:0>4}. Text wrapped in
// <...> is optional and vanishes when any placeholder inside it has no value.
type Template string

var (
	placeholderRe = regexp.MustCompile(`\{([A-Za-z_@][A-Za-z0-9_]*(?:\[[^\]{}]+\]|\.[A-Za-z0-9_]+)*)(?::([^{}]*))?\}`)
	optionalRe    = regexp.MustCompile(`<((?:[^<>{}]|\{[^{}]*\})*)>`)
	fillSpecRe    = regexp.MustCompile(`^(.)?>(\d+)$`)
	intSpecRe     = regexp.MustCompile(`^0?(\d+)d$`)
)

// Keys lists the placeholder keys in order of appearance, duplicates included.
func (t Template) Keys() []string {
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(string(t), -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// Format substitutes every resolvable placeholder and leaves the rest verbatim.
func (t Template) Format(data Data) string {
	out, _ := t.format(data)
	return out
}

// FormatStrict is Format that fails when any placeholder outside an optional segment
// cannot be resolved.
func (t Template) FormatStrict(data Data) (string, error) {
	out, missing := t.format(data)
	if len(missing) > 0 {
		return out, errdefs.Configuration("Template.FormatStrict",
			"template %q is missing keys: %s", string(t), strings.Join(missing, ", "))
	}
	return out, nil
}

func (t Template) format(data Data) (string, []string) {
	expanded := ExpandOptional(string(t), data)

	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(expanded, func(ph string) string {
		m := placeholderRe.FindStringSubmatch(ph)
		value, ok := lookup(data, m[1])
		if !ok {
			missing = append(missing, m[1])
			return ph
		}
		return applySpec(value, m[2])
	})
	return out, missing
}

// ExpandOptional resolves every <...> segment of s: the brackets are dropped when all
// placeholders inside have a non-empty value, the whole segment otherwise. A segment
// without placeholders is kept as plain text.
func ExpandOptional(s string, data Data) string {
	return optionalRe.ReplaceAllStringFunc(s, func(seg string) string {
		inner := seg[1 : len(seg)-1]
		phs := placeholderRe.FindAllStringSubmatch(inner, -1)
		for _, m := range phs {
			v, ok := lookup(data, m[1])
			if !ok || v == "" {
				return ""
			}
		}
		return inner
	})
}

// lookup resolves a dotted or indexed key. A capitalised top level key that is
// absent from data falls back to its lower case form, the value being capitalised
// ({Variant}) or upper cased ({VARIANT}) to match.
func lookup(data Data, key string) (string, bool) {
	parts := splitKey(key)
	if len(parts) == 0 {
		return "", false
	}

	head := parts[0]
	transform := func(s string) string { return s }
	if _, ok := data[head]; !ok {
		lower := strings.ToLower(head)
		if lower == head {
			return "", false
		}
		if _, ok := data[lower]; !ok {
			return "", false
		}
		if head == strings.ToUpper(head) && len(head) > 1 {
			transform = strings.ToUpper
		} else {
			transform = capitalize
		}
		head = lower
	}

	var cur any = data[head]
	for _, p := range parts[1:] {
		m, ok := asMap(cur)
		if !ok {
			return "", false
		}
		cur, ok = m[p]
		if !ok {
			return "", false
		}
	}
	if _, isMap := asMap(cur); isMap {
		return "", false
	}
	s, err := cast.ToStringE(cur)
	if err != nil {
		return "", false
	}
	return transform(s), true
}

func splitKey(key string) []string {
	var parts []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			parts = append(parts, b.String())
			b.Reset()
		}
	}
	for _, r := range key {
		switch r {
		case '.', '[', ']':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return parts
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Data:
		return m, true
	case map[string]any:
		return m, true
	case map[string]string:
		return cast.ToStringMap(m), true
	}
	return nil, false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// applySpec handles the fill specs templates use in practice: "0>4" and "04d".
func applySpec(value, spec string) string {
	if spec == "" {
		return value
	}
	if m := fillSpecRe.FindStringSubmatch(spec); m != nil {
		fill := m[1]
		if fill == "" {
			fill = " "
		}
		width, _ := strconv.Atoi(m[2])
		if n := width - utf8.RuneCountInString(value); n > 0 {
			return strings.Repeat(fill, n) + value
		}
		return value
	}
	if m := intSpecRe.FindStringSubmatch(spec); m != nil {
		if i, err := strconv.Atoi(value); err == nil {
			width, _ := strconv.Atoi(m[1])
			return fmt.Sprintf("%0*d", width, i)
		}
	}
	return value
}
