package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	v, err := DecodePayload([]byte(raw))
	require.NoError(t, err)
	return v
}

func TestApplyFieldMap_BasicResolutionAndTransform(t *testing.T) {
	payload := decode(t, `{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"123"},"contacts":[{"wa_id":"5511999999999","profile":{"name":"  Jane Doe  "}}]}}]}]}`)

	m := Mapping{
		Mode: ModeFieldMap,
		Rules: []Rule{
			{SourcePath: "entry[0].changes[0].value.metadata.phone_number_id", TargetPath: "phone_id"},
			{SourcePath: "entry[0].changes[0].value.contacts[0].wa_id", TargetPath: "lead.phone", Transform: TransformPhoneClean},
			{SourcePath: "entry[0].changes[0].value.contacts[0].profile.name", TargetPath: "lead.name", Transform: TransformTrim},
		},
	}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	out, ok := res.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "123", out["phone_id"])

	lead, ok := out["lead"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "5511999999999", lead["phone"])
	assert.Equal(t, "Jane Doe", lead["name"])
}

func TestApplyFieldMap_MissingSourceUsesDefault(t *testing.T) {
	payload := decode(t, `{}`)
	m := Mapping{
		Mode: ModeFieldMap,
		Rules: []Rule{
			{SourcePath: "nope", TargetPath: "status", HasDefault: true, DefaultValue: "unknown"},
			{SourcePath: "also_nope", TargetPath: "skip_me"},
		},
	}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)

	out := res.Output.(map[string]interface{})
	assert.Equal(t, "unknown", out["status"])
	_, present := out["skip_me"]
	assert.False(t, present)
}

func TestApplyFieldMap_ConditionGatesRule(t *testing.T) {
	payload := decode(t, `{"type":"leadgen"}`)
	m := Mapping{
		Mode: ModeFieldMap,
		Rules: []Rule{
			{
				SourcePath: "type",
				TargetPath: "lead_type",
				Condition:  &Condition{Path: "type", Op: OpEquals, Value: "leadgen"},
			},
			{
				SourcePath: "type",
				TargetPath: "should_not_appear",
				Condition:  &Condition{Path: "type", Op: OpEquals, Value: "page"},
			},
		},
	}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	out := res.Output.(map[string]interface{})
	assert.Equal(t, "leadgen", out["lead_type"])
	_, present := out["should_not_appear"]
	assert.False(t, present)
}

func TestApplyFieldMap_PassThroughAndStaticFieldsPrecedence(t *testing.T) {
	payload := decode(t, `{"source":"meta","extra":"kept"}`)
	m := Mapping{
		Mode:        ModeFieldMap,
		PassThrough: true,
		Rules: []Rule{
			{SourcePath: "source", TargetPath: "source", Transform: TransformUppercase},
		},
		StaticFields: map[string]interface{}{"source": "override", "tag": "static"},
	}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	out := res.Output.(map[string]interface{})
	assert.Equal(t, "kept", out["extra"])
	// pass_through=true: computed wins over static_fields for a key both set.
	assert.Equal(t, "META", out["source"])
	assert.Equal(t, "static", out["tag"])
}

func TestApplyFieldMap_StaticFieldsWinWithoutPassThrough(t *testing.T) {
	payload := decode(t, `{"source":"meta"}`)
	m := Mapping{
		Mode: ModeFieldMap,
		Rules: []Rule{
			{SourcePath: "source", TargetPath: "source", Transform: TransformUppercase},
		},
		StaticFields: map[string]interface{}{"source": "override"},
	}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	out := res.Output.(map[string]interface{})
	// pass_through=false (default): static_fields win over computed.
	assert.Equal(t, "override", out["source"])
}

func TestApplyTemplate_SolePlaceholderPreservesType(t *testing.T) {
	payload := decode(t, `{"value":{"nested":true,"n":2}}`)
	m := Mapping{Mode: ModeTemplate, Template: "{{value}}"}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	out, ok := res.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, out["nested"])
}

func TestApplyTemplate_MixedStringInterpolation(t *testing.T) {
	payload := decode(t, `{"name":"Jane","id":42}`)
	m := Mapping{Mode: ModeTemplate, Template: "hello {{name}} (#{{id}})"}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	assert.Equal(t, "hello Jane (#42)", res.Output)
}

func TestApplyTemplate_MissingPathWarnsAndRendersEmpty(t *testing.T) {
	payload := decode(t, `{}`)
	m := Mapping{Mode: ModeTemplate, Template: "value={{missing}}"}

	res, err := Apply(m, payload)
	require.NoError(t, err)
	assert.Equal(t, "value=", res.Output)
	assert.Len(t, res.Warnings, 1)
}

func TestApply_StructuralErrors(t *testing.T) {
	_, err := Apply(Mapping{Mode: ModeTemplate, Template: ""}, map[string]interface{}{})
	require.Error(t, err)

	_, err = Apply(Mapping{Mode: "bogus"}, map[string]interface{}{})
	require.Error(t, err)
}

func TestTransforms_NumberBooleanDateISO(t *testing.T) {
	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	assert.Equal(t, float64(42), applyTransform(TransformNumber, "42", warn))
	assert.Equal(t, true, applyTransform(TransformBoolean, "yes", warn))
	assert.Equal(t, "2024-01-02T00:00:00Z", applyTransform(TransformDateISO, "2024-01-02", warn))
	assert.Empty(t, warnings)

	applyTransform(TransformNumber, "not-a-number", warn)
	require.Len(t, warnings, 1)
}

func TestTransforms_DateISOAcceptsUnixSecondsAndMillis(t *testing.T) {
	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	assert.Equal(t, "2021-01-01T00:00:00Z", applyTransform(TransformDateISO, float64(1609459200), warn))
	assert.Equal(t, "2021-01-01T00:00:00Z", applyTransform(TransformDateISO, float64(1609459200000), warn))
	assert.Equal(t, "2021-01-01T00:00:00Z", applyTransform(TransformDateISO, "1609459200", warn))
	assert.Empty(t, warnings)
}

func TestTransforms_ArrayHelpers(t *testing.T) {
	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	arr := []interface{}{"a", "b", "c"}
	assert.Equal(t, "a", applyTransform(TransformArrayFirst, arr, warn))
	assert.Equal(t, "c", applyTransform(TransformArrayLast, arr, warn))
	assert.Equal(t, "a,b,c", applyTransform(TransformArrayJoin, arr, warn))
	assert.Empty(t, warnings)
}
