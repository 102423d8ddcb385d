package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/crate-deps/pkg/model"
)

func edge(req string) model.Edge {
	return model.Edge{TargetID: 1, Requirement: req}
}

func TestNewVersionPredicateValue(t *testing.T) {
	p := NewVersionPredicate(nil, "^1.0")
	assert.Equal(t, FieldVersion, p.Field)
	assert.IsType(t, Requirement{}, p.Value)

	p = NewVersionPredicate(nil, "not a version")
	assert.Equal(t, Literal("not a version"), p.Value)
}

func TestRequirementMatch(t *testing.T) {
	tests := []struct {
		predicate string
		edge      string
		want      bool
	}{
		{"^1.0", "^1.0", true},
		{"^1.0", "^1.4.2", true},
		{"^2.0", "^1.0", false},
		{"^0.3", "^0.3.1", true},
		{"^0.3", "^0.4", false},
		{"1.2", "^1.5", true}, // bare version reads as caret
		{"1.2", "^2.0", false},
		{">=0.5, <2", "~1.1", true},
		{"^1.0", "*", false},
		{"<1.0", "*", true},
		{"^1.0", "=1.0.3", true},
		{"^1.0", ">= 1.2, < 1.5", true},
		{"^1.0", "", false},
		{"^1.0", "<2.0, >=1.5", true}, // lower bound after an upper bound
		{"=1.0.0", ">1.0", false},     // exclusive bound rejects 1.0.0 itself
		{"^1.0", ">1.0", true},
	}

	for _, tt := range tests {
		p := NewVersionPredicate(nil, tt.predicate)
		require.IsType(t, Requirement{}, p.Value, tt.predicate)
		assert.Equal(t, tt.want, p.Match(edge(tt.edge)), "%s against %q", tt.predicate, tt.edge)
	}
}

func TestLiteralMatch(t *testing.T) {
	p := &Predicate{Field: FieldVersion, Value: Literal("git-main")}

	assert.True(t, p.Match(edge("git-main")))
	assert.True(t, p.Match(edge("  git-main ")))
	assert.False(t, p.Match(edge("git-dev")))
	assert.False(t, p.Match(edge("")))
}

func TestOperatorDefaults(t *testing.T) {
	op := OperatorEquals
	withOp := NewVersionPredicate(&op, "^1.0")
	withoutOp := NewVersionPredicate(nil, "^1.0")

	for _, req := range []string{"^1.0", "^2.0"} {
		assert.Equal(t, withOp.Match(edge(req)), withoutOp.Match(edge(req)))
	}
	assert.Equal(t, withOp.String(), withoutOp.String())
	assert.Equal(t, "version == ^1.0", withOp.String())
}

func TestParseRequirement(t *testing.T) {
	_, err := ParseRequirement("")
	assert.Error(t, err)

	_, err = ParseRequirement("abc")
	assert.Error(t, err)

	req, err := ParseRequirement(" ~1.2 ")
	require.NoError(t, err)
	assert.Equal(t, "~1.2", req.String())
}

func TestLowestAdmitted(t *testing.T) {
	tests := []struct {
		req  string
		want string
		ok   bool
	}{
		{"^1.2.3", "1.2.3", true},
		{"~0.4", "0.4.0", true},
		{">= 2.0, < 3", "2.0.0", true},
		{"*", "0.0.0", true},
		{"<0.9", "0.0.0", true},
		{"1.0.0-beta.1", "1.0.0-beta.1", true},
		{"latest", "", false},
		{"<2.0, >=1.5", "1.5.0", true},
		{">1.0", "1.0.1", true},
		{"> 1.2.3, < 2", "1.2.4", true},
		{">=1.0, >1.4", "1.4.1", true},
		{"<= 3", "0.0.0", true},
	}

	for _, tt := range tests {
		v, ok := LowestAdmitted(tt.req)
		if !assert.Equal(t, tt.ok, ok, tt.req) || !ok {
			continue
		}
		assert.Equal(t, tt.want, v.String(), tt.req)
	}
}
