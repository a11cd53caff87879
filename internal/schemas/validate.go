// Package schemas compiles JSON Schema documents and checks decoded configuration
// against them.
package schemas

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a compiled JSON Schema. It is safe for concurrent use.
type Schema struct {
	name     string
	compiled *gojsonschema.Schema
}

// Violation is one failed constraint. Path is "(root)" for document-level failures.
type Violation struct {
	Path   string
	Reason string
}

// ValidationError lists every violation found in a document, ordered by path.
type ValidationError struct {
	Document   string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s does not match its schema", e.Document)
	for _, v := range e.Violations {
		fmt.Fprintf(&sb, "; %s: %s", v.Path, v.Reason)
	}
	return sb.String()
}

// Compile parses schema source. name identifies the documents it checks in errors.
func Compile(name, source string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompile is Compile for schemas embedded in the binary.
func MustCompile(name, source string) *Schema {
	s, err := Compile(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a decoded document (maps, slices and scalars as produced by a
// JSON or YAML decoder). A mismatch is reported as *ValidationError.
func (s *Schema) Validate(document any) error {
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("failed to read %s document: %w", s.name, err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		path := desc.Field()
		if path == "" {
			path = "(root)"
		}
		violations = append(violations, Violation{Path: path, Reason: desc.Description()})
	}
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Path < violations[j].Path
	})

	return &ValidationError{Document: s.name, Violations: violations}
}
