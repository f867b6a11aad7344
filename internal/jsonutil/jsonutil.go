// Package jsonutil renders structs as colored JSON for terminal output.
package jsonutil

import (
	"bytes"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var compact, indented *prettyjson.Formatter

func init() {
	compact = prettyjson.NewFormatter()
	compact.Indent = 0
	compact.Newline = ""

	indented = prettyjson.NewFormatter()
}

// DisableColor turns off terminal colors, e.g. when output is not a terminal.
func DisableColor() {
	compact.DisabledColor = true
	indented.DisabledColor = true
}

// MarshalFields writes one "Field: value" line per exported field of struct v, sorted by field name.
// Nested structs are written on a single line.
func MarshalFields(v any) ([]byte, error) {
	m := structs.Map(v)
	names := structs.Names(v)
	sort.Strings(names)
	var buf bytes.Buffer
	for _, name := range names {
		b, err := compact.Marshal(m[name])
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// MarshalPretty returns indented JSON of v.
func MarshalPretty(v any) ([]byte, error) {
	return indented.Marshal(v)
}
