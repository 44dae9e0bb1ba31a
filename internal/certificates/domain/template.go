package certificates

// Template is the certificate document holding {{ placeholders }}.
type Template struct {
	FileRef
	Variables []string `json:"variables"`
}

// Validate checks template invariants.
func (t *Template) Validate() error {
	if t == nil {
		return Validation("template: nil")
	}
	if err := t.FileRef.Validate(); err != nil {
		return err
	}
	if !t.FileFormat.IsTemplate() {
		return Validation("template: unsupported file format %q", t.FileFormat)
	}
	seen := make(map[string]struct{}, len(t.Variables))
	for _, v := range t.Variables {
		if v == "" {
			return Validation("template: empty variable name")
		}
		if _, ok := seen[v]; ok {
			return Validation("template: duplicate variable %q", v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func (t *Template) clone() *Template {
	if t == nil {
		return nil
	}
	out := *t
	out.Variables = append([]string(nil), t.Variables...)
	return &out
}
