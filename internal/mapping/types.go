// Package mapping implements the pure JSON-to-JSON transformation engine:
// field_map and template modes, the closed transform table, and the
// condition micro-DSL described for destination payload shaping.
package mapping

import "encoding/json"

// Mode selects how a Mapping interprets its rules.
type Mode string

const (
	ModeFieldMap Mode = "field_map"
	ModeTemplate Mode = "template"
)

// SourceType is an editor hint only; the engine never branches on it.
type SourceType string

const (
	SourceWhatsApp SourceType = "whatsapp"
	SourceForms    SourceType = "forms"
	SourceAds      SourceType = "ads"
	SourceWebhook  SourceType = "webhook"
	SourceAny      SourceType = "any"
)

// Transform names the closed set of value coercions a rule may apply.
type Transform string

const (
	TransformUppercase      Transform = "uppercase"
	TransformLowercase      Transform = "lowercase"
	TransformTrim           Transform = "trim"
	TransformNumber         Transform = "number"
	TransformBoolean        Transform = "boolean"
	TransformString         Transform = "string"
	TransformDateISO        Transform = "date_iso"
	TransformJSONParse      Transform = "json_parse"
	TransformJSONStringify  Transform = "json_stringify"
	TransformArrayFirst     Transform = "array_first"
	TransformArrayLast      Transform = "array_last"
	TransformArrayJoin      Transform = "array_join"
	TransformPhoneClean     Transform = "phone_clean"
	TransformEmailLower     Transform = "email_lower"
)

// Rule is one field_map transformation step.
type Rule struct {
	SourcePath   string      `json:"source_path"`
	TargetPath   string      `json:"target_path"`
	Transform    Transform   `json:"transform,omitempty"`
	DefaultValue interface{} `json:"default_value,omitempty"`
	HasDefault   bool        `json:"-"`
	Condition    *Condition  `json:"condition,omitempty"`
}

// Mapping is the reusable transformation configuration.
type Mapping struct {
	Mode         Mode                   `json:"mode"`
	Rules        []Rule                 `json:"rules,omitempty"`
	Template     string                 `json:"template,omitempty"`
	StaticFields map[string]interface{} `json:"static_fields,omitempty"`
	PassThrough  bool                   `json:"pass_through"`
	SourceType   SourceType             `json:"source_type,omitempty"`
}

// PartialResult is the engine's never-throws output: the best-effort
// transformed value plus any warnings collected along the way.
type PartialResult struct {
	Output   interface{} `json:"output"`
	Warnings []string    `json:"warnings,omitempty"`
}

// StructuralError is returned (not panicked) when the Mapping itself is
// malformed: template mode with an empty template, or an unknown mode. This is the only failure
// mode of Apply; bad *data* never fails, it only produces warnings.
type StructuralError struct {
	Message string
}

func (e *StructuralError) Error() string { return e.Message }

// DecodePayload parses raw JSON into the generic tagged-value shape the
// engine operates on (map[string]interface{}, []interface{}, or scalars).
func DecodePayload(raw []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
