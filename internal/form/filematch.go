package form

import (
	"net/url"
	"path"
	"strings"

	"github.com/agenthub-ai/agenthub/internal/model"
)

// genericFileTokens are variable-name fragments that mark a field as the
// natural home for any uploaded file during tier-2 matching.
var genericFileTokens = []string{"file", "audio", "video", "image"}

// MatchField associates a stored file with a schema file-field. Tiers, in
// order: (1) exact match between the filename stem and the field's variable,
// (2) substring match between filename and variable, or a generic token in
// the variable name, (3) the first file-typed field. Returns false when the
// schema has no file fields.
func MatchField(meta model.FileMeta, fields []model.FieldSchema) (string, bool) {
	var fileFields []model.FieldSchema
	for _, f := range fields {
		if f.Datatype == model.FieldFile {
			fileFields = append(fileFields, f)
		}
	}
	if len(fileFields) == 0 {
		return "", false
	}

	stem := strings.ToLower(filenameStem(meta))

	// Tier 1: exact stem match.
	for _, f := range fileFields {
		if stem != "" && stem == strings.ToLower(f.Variable) {
			return f.Variable, true
		}
	}

	// Tier 2: substring match, or a generic token in the variable name.
	for _, f := range fileFields {
		v := strings.ToLower(f.Variable)
		if stem != "" && (strings.Contains(stem, v) || strings.Contains(v, stem)) {
			return f.Variable, true
		}
		for _, tok := range genericFileTokens {
			if strings.Contains(v, tok) {
				return f.Variable, true
			}
		}
	}

	// Tier 3: first file-typed field.
	return fileFields[0].Variable, true
}

// filenameStem returns the file's base name without extension, falling back
// to the URL path when no filename was recorded.
func filenameStem(meta model.FileMeta) string {
	name := meta.FileName
	if name == "" {
		if u, err := url.Parse(meta.DisplayURL()); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" {
		return ""
	}
	return strings.TrimSuffix(name, path.Ext(name))
}
