package changelog

import (
	"regexp"
)

var propertyRe = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Property is a changelog parameter referenced as ${Name}. A property only
// applies when its Context, Labels and DBMS match the run.
type Property struct {
	Name    string   `json:"name"`
	Value   string   `json:"value"`
	Context string   `json:"context,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	DBMS    string   `json:"dbms,omitempty"`
	// Global is kept for compatibility. Local properties resolve like
	// global ones.
	Global *bool `json:"global,omitempty"`
}

// Scope describes the run properties are resolved for.
type Scope struct {
	Contexts    []string
	LabelFilter string
	DBMS        string
}

// Properties resolves ${name} references.
type Properties struct {
	values map[string]string
}

// ResolveProperties returns the properties applying to scope. The first
// applicable definition of a name wins and params override every
// definition.
func ResolveProperties(props []Property, params map[string]string, scope Scope) (*Properties, error) {
	p := &Properties{values: map[string]string{}}
	for _, prop := range props {
		if _, ok := p.values[prop.Name]; ok {
			continue
		}
		inContext, err := MatchContexts(prop.Context, scope.Contexts)
		if err != nil {
			return nil, err
		}
		labeled, err := MatchLabels(scope.LabelFilter, prop.Labels)
		if err != nil {
			return nil, err
		}
		if !inContext || !labeled || !MatchDBMS(prop.DBMS, scope.DBMS) {
			continue
		}
		p.values[prop.Name] = prop.Value
	}
	for k, v := range params {
		p.values[k] = v
	}
	return p, nil
}

// Lookup returns the value of name.
func (p *Properties) Lookup(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[name]
	return v, ok
}

// Expand replaces every defined ${name} in s. Undefined references are
// left in place.
func (p *Properties) Expand(s string) string {
	if p == nil || len(p.values) == 0 {
		return s
	}
	return propertyRe.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := p.values[ref[2:len(ref)-1]]; ok {
			return v
		}
		return ref
	})
}
