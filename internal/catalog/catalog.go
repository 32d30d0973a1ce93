// Package catalog describes the models a run can select, where to reach
// them and what they cost.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/scaffold-bench/internal/evaluation"
)

//go:embed default.yaml
var defaultCatalog []byte

// Model is one selectable model.
type Model struct {
	// Name is the selector used in run configurations.
	Name string `yaml:"name" json:"name"`
	// APIModel is the model identifier sent to the endpoint; defaults to Name.
	APIModel string `yaml:"api_model,omitempty" json:"api_model,omitempty"`
	// BaseURL overrides the default OpenAI-compatible endpoint for this model.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	// InferenceService names a KServe InferenceService whose URL serves this model.
	InferenceService string `yaml:"inference_service,omitempty" json:"inference_service,omitempty"`

	InputPerMTok  float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}

// Cost returns the USD price of a call with the given token usage.
func (m Model) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*m.InputPerMTok + float64(outputTokens)/1e6*m.OutputPerMTok
}

// RequestModel returns the identifier to send to the endpoint.
func (m Model) RequestModel() string {
	if m.APIModel != "" {
		return m.APIModel
	}
	return m.Name
}

// Catalog is an immutable set of models keyed by name.
type Catalog struct {
	models map[string]Model
}

type file struct {
	Models []Model `yaml:"models"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in model catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing model catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("catalog defines no models")
	}

	c := &Catalog{models: make(map[string]Model, len(f.Models))}
	for i, m := range f.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("model %d has no name", i)
		}
		if _, dup := c.models[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model %q", m.Name)
		}
		if m.InputPerMTok < 0 || m.OutputPerMTok < 0 {
			return nil, fmt.Errorf("model %q has a negative price", m.Name)
		}
		c.models[m.Name] = m
	}
	return c, nil
}

// Names returns the sorted model selectors.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns every model sorted by name.
func (c *Catalog) Models() []Model {
	out := make([]Model, 0, len(c.models))
	for _, name := range c.Names() {
		out = append(out, c.models[name])
	}
	return out
}

// Get returns the model with the given selector.
func (c *Catalog) Get(name string) (Model, error) {
	m, ok := c.models[name]
	if !ok {
		return Model{}, &evaluation.UnknownSelectorError{Kind: "model", Value: name, Known: c.Names()}
	}
	return m, nil
}
