// Package schema interprets an agent's field schema: it partitions fields
// into form sections, supplies per-datatype defaults, and infers file-picker
// accept patterns from variable names.
package schema

import (
	"strings"

	"github.com/agenthub-ai/agenthub/internal/model"
)

// Partitioned groups an agent's fields by form section. Each subset keeps
// the original schema order.
type Partitioned struct {
	File   []model.FieldSchema
	Bool   []model.FieldSchema
	Scalar []model.FieldSchema
}

// Partition splits fields into file, bool, and scalar sections. The implicit
// structured_output flag is excluded from the bool partition; it is forced
// true at submission and never rendered.
func Partition(fields []model.FieldSchema) Partitioned {
	var p Partitioned
	for _, f := range fields {
		switch f.Datatype {
		case model.FieldFile:
			p.File = append(p.File, f)
		case model.FieldBool:
			if f.Variable == model.StructuredOutputField {
				continue
			}
			p.Bool = append(p.Bool, f)
		default:
			p.Scalar = append(p.Scalar, f)
		}
	}
	return p
}

// DefaultValue returns the initial form value for a field: false for bool
// (structured_output is true), 0 for int, "" for string, nil for file.
func DefaultValue(f model.FieldSchema) any {
	switch f.Datatype {
	case model.FieldBool:
		return f.Variable == model.StructuredOutputField
	case model.FieldInt:
		return 0
	case model.FieldFile:
		return nil
	default:
		return ""
	}
}

// acceptPatterns maps variable-name substrings to file-picker accept hints.
// Order matters: the first matching group wins.
var acceptPatterns = []struct {
	tokens  []string
	pattern string
}{
	{[]string{"audio", "sound"}, "audio/*,.mp3,.wav,.m4a,.ogg"},
	{[]string{"video"}, "video/*,.mp4,.mov,.webm"},
	{[]string{"image", "photo"}, "image/*,.png,.jpg,.jpeg,.webp"},
	{[]string{"document", "doc"}, ".pdf,.doc,.docx,.txt"},
	{[]string{"csv", "excel"}, ".csv,.xls,.xlsx"},
}

// AcceptPattern infers a mime/extension hint for a file field from substring
// matches on its variable name. Best-effort: a mismatch only affects the file
// picker's filter, never validation.
func AcceptPattern(variable string) string {
	v := strings.ToLower(variable)
	for _, g := range acceptPatterns {
		for _, tok := range g.tokens {
			if strings.Contains(v, tok) {
				return g.pattern
			}
		}
	}
	return "*/*"
}
