// Package prompts provides a registry of named prompt templates declared in
// the agent runtime config, rendered with text/template.
package prompts

import (
	"sort"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/agentmesh/agentgate/pkg/config"
)

// Registry holds parsed prompt templates keyed by name.
type Registry struct {
	templates map[string]*template.Template
	names     []string
}

// NewRegistry parses the configured prompt templates. A template that fails
// to parse is a configuration error surfaced at startup.
func NewRegistry(configs []config.PromptConfig) (*Registry, error) {
	registry := &Registry{
		templates: make(map[string]*template.Template, len(configs)),
	}

	for _, cfg := range configs {
		tmpl, err := template.New(cfg.Name).Option("missingkey=zero").Parse(cfg.Template)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse prompt template %q", cfg.Name)
		}
		registry.templates[cfg.Name] = tmpl
		registry.names = append(registry.names, cfg.Name)
	}

	sort.Strings(registry.names)
	return registry, nil
}

// Render executes the named template with the given values. Variables the
// caller does not supply render as empty strings.
func (r *Registry) Render(name string, values map[string]string) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", errors.Errorf("prompt %q not found", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, values); err != nil {
		return "", errors.Wrapf(err, "failed to render prompt %q", name)
	}

	return sb.String(), nil
}

// Names returns the registered prompt names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}
