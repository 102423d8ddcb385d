// Package query describes a tree query and the predicate that filters the
// edges it follows.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ritzau/crate-deps/pkg/model"
)

// Query asks for the dependency tree below one crate
type Query struct {
	CrateName string
	Predicate *Predicate // nil follows every edge
}

// Field is the edge attribute a predicate inspects
type Field int

const (
	FieldVersion Field = iota // The edge's version requirement
)

func (f Field) String() string {
	return "version"
}

// Operator compares the field against the predicate value
type Operator int

const (
	OperatorEquals Operator = iota
)

func (o Operator) String() string {
	return "=="
}

// Value is either a Requirement or a Literal
type Value interface {
	isValue()
	String() string
}

// Requirement is a parsed version requirement such as "^1.0" or ">=0.3, <0.5"
type Requirement struct {
	Raw         string
	constraints *semver.Constraints
}

func (Requirement) isValue() {}

func (r Requirement) String() string { return r.Raw }

// ParseRequirement parses a requirement the way Cargo reads one: a bare
// version like "1.2" means "^1.2"
func ParseRequirement(raw string) (Requirement, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Requirement{}, fmt.Errorf("empty version requirement")
	}

	parts := strings.Split(raw, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" && part[0] >= '0' && part[0] <= '9' {
			part = "^" + part
		}
		parts[i] = part
	}

	c, err := semver.NewConstraint(strings.Join(parts, ", "))
	if err != nil {
		return Requirement{}, fmt.Errorf("parse requirement %q: %w", raw, err)
	}
	return Requirement{Raw: raw, constraints: c}, nil
}

// Admits reports whether version satisfies the requirement
func (r Requirement) Admits(v *semver.Version) bool {
	return r.constraints != nil && r.constraints.Check(v)
}

// Literal is compared verbatim against the edge requirement
type Literal string

func (Literal) isValue() {}

func (l Literal) String() string { return string(l) }

// Predicate filters edges during traversal
type Predicate struct {
	Field    Field
	Operator *Operator // nil behaves as OperatorEquals
	Value    Value
}

// NewVersionPredicate builds a predicate on the edge requirement. A raw value
// that parses as a requirement becomes a Requirement; anything else is kept
// as a Literal.
func NewVersionPredicate(op *Operator, raw string) *Predicate {
	p := &Predicate{Field: FieldVersion, Operator: op}
	if req, err := ParseRequirement(raw); err == nil {
		p.Value = req
	} else {
		p.Value = Literal(strings.TrimSpace(raw))
	}
	return p
}

func (p *Predicate) String() string {
	op := OperatorEquals
	if p.Operator != nil {
		op = *p.Operator
	}
	return fmt.Sprintf("%s %s %s", p.Field, op, p.Value)
}

// Match reports whether an edge passes the predicate. An edge without a
// requirement never matches.
func (p *Predicate) Match(edge model.Edge) bool {
	req := strings.TrimSpace(edge.Requirement)
	if req == "" {
		return false
	}

	switch v := p.Value.(type) {
	case Requirement:
		lowest, ok := LowestAdmitted(req)
		return ok && v.Admits(lowest)
	case Literal:
		return req == string(v)
	default:
		return false
	}
}

var versionLiteral = regexp.MustCompile(`\d+(?:\.\d+){0,2}(?:-[0-9A-Za-z.-]+)?`)

// LowestAdmitted approximates the lowest version an edge requirement accepts.
// Each comma-separated clause may raise the bound: an exclusive ">X" to the
// next patch after X, any other clause naming a version to that version.
// Upper bounds and "*" leave it alone, so a requirement without a lower
// bound yields 0.0.0.
func LowestAdmitted(req string) (*semver.Version, bool) {
	lowest := semver.New(0, 0, 0, "", "")
	for _, clause := range strings.Split(req, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" || clause == "*" || strings.HasPrefix(clause, "<") {
			continue
		}

		lit := versionLiteral.FindString(clause)
		if lit == "" {
			return nil, false
		}
		v, err := semver.NewVersion(lit)
		if err != nil {
			return nil, false
		}
		if strings.HasPrefix(clause, ">") && !strings.HasPrefix(clause, ">=") {
			next := v.IncPatch()
			v = &next
		}
		if v.GreaterThan(lowest) {
			lowest = v
		}
	}
	return lowest, true
}
