package mapping

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/metahub/integrationhub/internal/jsonvalue"
)

func lookup(payload interface{}, path string) interface{} {
	return jsonvalue.Get(payload, path)
}

func isAbsent(v interface{}) bool {
	return jsonvalue.IsAbsent(v)
}

// Apply runs a Mapping against a decoded payload (see DecodePayload) and
// returns the transformed output plus any non-fatal warnings. Apply never
// returns an error for bad or missing data; it only errors when the Mapping
// itself is structurally invalid (wrong mode/template combination).
func Apply(m Mapping, payload interface{}) (PartialResult, error) {
	switch m.Mode {
	case ModeFieldMap:
		return applyFieldMap(m, payload), nil
	case ModeTemplate:
		if strings.TrimSpace(m.Template) == "" {
			return PartialResult{}, &StructuralError{Message: "template mode requires a non-empty template"}
		}
		return applyTemplate(m, payload), nil
	default:
		return PartialResult{}, &StructuralError{Message: fmt.Sprintf("unknown mapping mode %q", m.Mode)}
	}
}

func applyFieldMap(m Mapping, payload interface{}) PartialResult {
	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	output := map[string]interface{}{}
	if m.PassThrough {
		if root, ok := payload.(map[string]interface{}); ok {
			output = jsonvalue.CloneShallow(root)
		} else if payload != nil {
			warn("pass_through requested but payload is not a JSON object, starting from empty output")
		}
	}

	for _, rule := range m.Rules {
		if rule.TargetPath == "" {
			warn("rule missing target_path, skipped")
			continue
		}
		if !evaluateCondition(payload, rule.Condition, warn) {
			continue
		}

		resolved := lookup(payload, rule.SourcePath)
		if isAbsent(resolved) {
			if rule.HasDefault {
				resolved = rule.DefaultValue
			} else {
				warn(fmt.Sprintf("source_path %q not found and no default_value, target %q skipped", rule.SourcePath, rule.TargetPath))
				continue
			}
		}

		if rule.Transform != "" {
			resolved = applyTransform(rule.Transform, resolved, warn)
		}

		output = jsonvalue.Set(output, rule.TargetPath, resolved)
	}

	finalOutput := jsonvalue.ShallowMerge(output, m.StaticFields, !m.PassThrough)
	return PartialResult{Output: finalOutput, Warnings: warnings}
}

// applyTemplate substitutes every {{path}} placeholder in m.Template with
// the stringified resolved value (empty string if absent). The fully
// substituted text is then returned as a parsed JSON value if it parses,
// else as the raw string; static_fields are merged in only when the parse
// succeeds into a JSON object (the "object merge is requested" case), and
// are ignored otherwise.
func applyTemplate(m Mapping, payload interface{}) PartialResult {
	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	var b strings.Builder
	rest := m.Template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		close := strings.Index(rest[open:], "}}")
		if close < 0 {
			b.WriteString(rest[open:])
			break
		}
		path := strings.TrimSpace(rest[open+2 : open+close])
		resolved := lookup(payload, path)
		if isAbsent(resolved) {
			warn(fmt.Sprintf("template path %q not found, rendered as empty string", path))
			resolved = ""
		}
		b.WriteString(fmt.Sprint(toStringValue(resolved)))
		rest = rest[open+close+2:]
	}

	rendered := b.String()
	var parsed interface{}
	if err := json.Unmarshal([]byte(rendered), &parsed); err != nil {
		if len(m.StaticFields) > 0 {
			warn("static_fields ignored: template output did not parse as JSON")
		}
		return PartialResult{Output: rendered, Warnings: warnings}
	}

	if obj, ok := parsed.(map[string]interface{}); ok && len(m.StaticFields) > 0 {
		parsed = jsonvalue.ShallowMerge(jsonvalue.CloneShallow(obj), m.StaticFields, !m.PassThrough)
	}
	return PartialResult{Output: parsed, Warnings: warnings}
}
