package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocumentValidator(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestValidate_AcceptsWellFormedDocument(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	doc := []byte(`{
		"name": "demo",
		"body": [
			{"kind": "let", "name": "x", "value": "1"},
			{"kind": "if", "condition": "x > 0", "then": [{"kind": "status", "message": "positive"}]},
			{"kind": "waiting", "prompt": "go on?", "timeout_ms": 5000}
		]
	}`)
	assert.NoError(t, v.Validate(doc))
}

func TestValidate_Rejections(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	cases := []struct {
		name string
		doc  string
	}{
		{"missing body", `{"name": "x"}`},
		{"missing kind", `{"body": [{"message": "hi"}]}`},
		{"unknown kind", `{"body": [{"kind": "teleport"}]}`},
		{"unknown node field", `{"body": [{"kind": "status", "message": "hi", "extra": 1}]}`},
		{"negative timeout", `{"body": [{"kind": "waiting", "prompt": "p", "timeout_ms": -1}]}`},
		{"empty callable", `{"body": [{"kind": "call", "callable": ""}]}`},
		{"non-string arg expression", `{"body": [{"kind": "call", "callable": "f", "args": {"a": 1}}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate([]byte(tc.doc))
			require.Error(t, err)
			assert.Equal(t, ErrCodeValidation, CodeOf(err))
		})
	}
}

func TestValidate_EmptyAndMalformed(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	assert.Error(t, v.Validate(nil))
	assert.Error(t, v.Validate([]byte("not json")))
}

func TestValidateAndDecode(t *testing.T) {
	v, err := NewDocumentValidator()
	require.NoError(t, err)

	p, err := v.ValidateAndDecode([]byte(`{"name": "p", "body": [{"kind": "return", "value": "42"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "p", p.Name)
	require.Len(t, p.Body, 1)
}
