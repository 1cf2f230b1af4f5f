// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Schema is a compiled CUE definition that documents are validated against.
// It is compiled once and safe for concurrent use; every document is checked
// under the schema's own lock because a cue.Context is not.
type Schema struct {
	mu         sync.Mutex
	definition string
	root       cue.Value
	opts       parseOptions
}

// Compile compiles source and selects definition (e.g. "#Addon") as the
// root every document is unified with.
func Compile(source, definition string, opts ...Option) (*Schema, error) {
	s := &Schema{definition: definition, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&s.opts)
	}

	compiled := cuecontext.New().CompileString(source)
	if err := compiled.Err(); err != nil {
		return nil, fmt.Errorf("internal error: failed to compile schema: %w", err)
	}
	s.root = compiled.LookupPath(cue.ParsePath(definition))
	if err := s.root.Err(); err != nil {
		return nil, fmt.Errorf("internal error: schema definition %s not found: %w", definition, err)
	}
	return s, nil
}

// MustCompile is Compile for schemas embedded in the binary.
func MustCompile(source, definition string, opts ...Option) *Schema {
	s, err := Compile(source, definition, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Definition returns the name of the root definition.
func (s *Schema) Definition() string { return s.definition }

// Decode validates data (read from filename) against s and decodes the
// unified value into v. Oversized documents are rejected before compiling.
func (s *Schema) Decode(data []byte, filename string, v any) error {
	if filename == "" {
		filename = "<input>"
	}
	if err := CheckFileSize(data, s.opts.maxFileSize, filename); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.root.Context().CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return FormatError(err, filename)
	}
	unified := s.root.Unify(doc)
	if err := unified.Validate(cue.Concrete(s.opts.concrete)); err != nil {
		return FormatError(err, filename)
	}
	if err := unified.Decode(v); err != nil {
		return FormatError(err, filename)
	}
	return nil
}

// Decode is the typed form of Schema.Decode.
func Decode[T any](s *Schema, data []byte, filename string) (*T, error) {
	var out T
	if err := s.Decode(data, filename, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
