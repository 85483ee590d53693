// Package resolver implements {{NodeName.path}} reference resolution over
// an execution's node outputs and variables.
package resolver

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/skeinworks/skein/engine/exec"
)

// referencePattern matches one {{...}} occurrence
var referencePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// bracketIndex rewrites foo[0].bar into gjson's foo.0.bar form
var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// Source is the context snapshot a resolver reads. The engine guarantees
// outputs are not mutated while a resolution is in flight.
type Source interface {
	NodeIDByName(name string) (string, bool)
	NodeOutput(id string) (interface{}, bool)
	Variable(key string) (interface{}, bool)
}

// Resolver resolves references against one execution's context
type Resolver struct {
	src Source
	log exec.Logger
}

// New creates a resolver over the given source
func New(src Source, log exec.Logger) *Resolver {
	return &Resolver{src: src, log: log}
}

// IsDirectReference reports whether text is exactly one reference and
// nothing else. Direct references resolve type-preserving instead of
// through string interpolation.
func IsDirectReference(text string) bool {
	trimmed := strings.TrimSpace(text)
	match := referencePattern.FindString(trimmed)
	return match == trimmed && match != ""
}

// Interpolate substitutes every {{...}} occurrence in text with the
// stringification of its resolved value: strings verbatim, missing values
// as the empty string, everything else JSON-encoded.
func (r *Resolver) Interpolate(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return referencePattern.ReplaceAllStringFunc(text, func(match string) string {
		body := match[2 : len(match)-2]
		value, ok := r.Resolve(body)
		if !ok {
			return ""
		}
		return stringify(value)
	})
}

// Resolve resolves a single reference to its raw value, preserving nulls,
// objects, numbers, and booleans. The ref may be wrapped in {{...}} or
// bare. ok is false when the reference points at nothing; a missing leaf
// is not an error.
func (r *Resolver) Resolve(ref string) (interface{}, bool) {
	body := strings.TrimSpace(ref)
	if strings.HasPrefix(body, "{{") && strings.HasSuffix(body, "}}") {
		body = strings.TrimSpace(body[2 : len(body)-2])
	}
	if body == "" {
		return nil, false
	}

	name, path := splitReference(body)

	if id, ok := r.src.NodeIDByName(name); ok {
		output, ok := r.src.NodeOutput(id)
		if !ok {
			r.log.Debug("reference target has no output yet", "node", name)
			return nil, false
		}
		if path == "" {
			return output, true
		}
		return applyPath(normalizeOutput(output), path)
	}

	// Not a node name: the whole body may be a variable key, including the
	// workflow.input alias the engine seeds.
	if value, ok := r.src.Variable(body); ok {
		return value, true
	}

	r.log.Debug("unresolvable reference", "ref", body)
	return nil, false
}

// splitReference separates the node name from the path. The name runs to
// the first '.' or '[' so bracket indexing directly after the name works.
func splitReference(body string) (name, path string) {
	dot := strings.IndexByte(body, '.')
	bracket := strings.IndexByte(body, '[')

	cut := dot
	if cut == -1 || (bracket != -1 && bracket < cut) {
		cut = bracket
	}
	if cut == -1 {
		return body, ""
	}

	name = body[:cut]
	path = body[cut:]
	path = strings.TrimPrefix(path, ".")
	return name, path
}

// applyPath extracts path from value using gjson
func applyPath(value interface{}, path string) (interface{}, bool) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}

	gjsonPath := bracketIndex.ReplaceAllString(path, ".$1")
	gjsonPath = strings.TrimPrefix(gjsonPath, ".")

	result := gjson.GetBytes(raw, gjsonPath)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// normalizeOutput shapes a node output for path access: maps expose their
// fields, strings expose result and prompt, other scalars expose result.
func normalizeOutput(output interface{}) interface{} {
	switch v := output.(type) {
	case map[string]interface{}:
		return v
	case string:
		return map[string]interface{}{"result": v, "prompt": v}
	default:
		return map[string]interface{}{"result": v}
	}
}

// stringify renders a resolved value for interpolation. A present null
// renders as "null"; only an unresolvable reference becomes "".
func stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}
