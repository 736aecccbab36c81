package manifest

import (
	"maps"
	"strings"
	"text/template"
)

// templateEngine renders manifest values and resolves the [[name]] variables
// of control files, INFO files and scripts.
type templateEngine struct {
	defines map[string]string
	funcs   template.FuncMap
}

// newTemplateEngine creates a new engine with the provided global definitions.
func newTemplateEngine(defines map[string]string) *templateEngine {
	return &templateEngine{
		defines: maps.Clone(defines),
		funcs: template.FuncMap{
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
		},
	}
}

// sub creates a new templateEngine that inherits the parent's definitions
// and adds (or overrides) them with the provided local definitions.
// Local values may refer to the parent's definitions.
func (e *templateEngine) sub(locals map[string]string) (*templateEngine, error) {
	d := maps.Clone(e.defines)
	if d == nil {
		d = make(map[string]string)
	}
	for k, v := range locals {
		rendered, err := e.render("variables."+k, v)
		if err != nil {
			return nil, err
		}
		d[k] = rendered
	}
	return &templateEngine{defines: d, funcs: e.funcs}, nil
}

// render executes the provided text as a template using the engine's definitions.
// If the text does not contain "{{", it is returned as-is.
func (e *templateEngine) render(name, text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := t.Execute(&buf, e.defines); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Resolve implements deb.Resolver.
func (e *templateEngine) Resolve(name string) (string, bool) {
	v, ok := e.defines[name]
	return v, ok
}

// renderer renders a sequence of fields and keeps the first error.
type renderer struct {
	e   *templateEngine
	err error
}

func (r *renderer) str(name, text string) string {
	if r.err != nil {
		return ""
	}
	out, err := r.e.render(name, text)
	if err != nil {
		r.err = err
	}
	return out
}

func (r *renderer) list(name string, texts []string) []string {
	if texts == nil {
		return nil
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = r.str(name, t)
	}
	return out
}
