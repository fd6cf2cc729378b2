// Package templates loads the infrastructure template catalog: per-cloud
// Terraform configurations with declared variables and optional add-ons,
// described in YAML files.
package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Variable declares one input of a template
type Variable struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Type        string      `yaml:"type"`
	Default     interface{} `yaml:"default"`
	Required    bool        `yaml:"required"`
}

// AddOn is an optional extension of a template: extra files and variables
// merged into the rendered configuration when selected
type AddOn struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Files       map[string]string `yaml:"files"`
	Variables   []Variable        `yaml:"variables"`
}

// Template is one deployable infrastructure configuration
type Template struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Cloud       string            `yaml:"cloud"`
	Files       map[string]string `yaml:"files"`
	Variables   []Variable        `yaml:"variables"`
	AddOns      []AddOn           `yaml:"add_ons"`
}

// Catalog holds the loaded templates keyed by ID
type Catalog struct {
	templates map[string]Template
	order     []string
}

// Load reads every .yaml file in dir as one template definition
func Load(dir string, logger zerolog.Logger) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template directory: %w", err)
	}

	catalog := &Catalog{templates: make(map[string]Template)}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}

		var tpl Template
		if err := yaml.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}

		if tpl.ID == "" {
			return nil, fmt.Errorf("template %s has no id", entry.Name())
		}
		if _, exists := catalog.templates[tpl.ID]; exists {
			return nil, fmt.Errorf("duplicate template id: %s", tpl.ID)
		}

		catalog.templates[tpl.ID] = tpl
		catalog.order = append(catalog.order, tpl.ID)
	}

	sort.Strings(catalog.order)

	logger.Info().
		Str("dir", dir).
		Int("templates", len(catalog.order)).
		Msg("Template catalog loaded")

	return catalog, nil
}

// List returns all templates in stable ID order
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}

// Get returns the template with the given ID
func (c *Catalog) Get(id string) (Template, error) {
	tpl, ok := c.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("unknown template: %s", id)
	}
	return tpl, nil
}

// Render resolves a template into the files and variable values handed to the
// provisioning gateway. Selected add-ons contribute their files and variable
// declarations; defaults fill unset values and missing required values fail.
func (c *Catalog) Render(id string, values map[string]interface{}, addOnIDs []string) (map[string]string, map[string]interface{}, error) {
	tpl, err := c.Get(id)
	if err != nil {
		return nil, nil, err
	}

	files := make(map[string]string, len(tpl.Files))
	for name, content := range tpl.Files {
		files[name] = content
	}

	declared := append([]Variable{}, tpl.Variables...)

	for _, addOnID := range addOnIDs {
		addOn, err := findAddOn(tpl, addOnID)
		if err != nil {
			return nil, nil, err
		}
		for name, content := range addOn.Files {
			if _, exists := files[name]; exists {
				return nil, nil, fmt.Errorf("add-on %s overwrites file %s", addOnID, name)
			}
			files[name] = content
		}
		declared = append(declared, addOn.Variables...)
	}

	resolved := make(map[string]interface{}, len(declared))
	for _, v := range declared {
		if value, ok := values[v.Name]; ok {
			resolved[v.Name] = value
			continue
		}
		if v.Default != nil {
			resolved[v.Name] = v.Default
			continue
		}
		if v.Required {
			return nil, nil, fmt.Errorf("missing required variable: %s", v.Name)
		}
	}

	return files, resolved, nil
}

func findAddOn(tpl Template, id string) (AddOn, error) {
	for _, addOn := range tpl.AddOns {
		if addOn.ID == id {
			return addOn, nil
		}
	}
	return AddOn{}, fmt.Errorf("template %s has no add-on %s", tpl.ID, id)
}
