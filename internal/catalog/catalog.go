package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalidEntry is returned when a catalog entry fails validation
var ErrInvalidEntry = errors.New("invalid catalog entry")

// ModelCatalogEntry describes one 3D machine model placed in the scene
type ModelCatalogEntry struct {
	ID       string      `mapstructure:"id" json:"id"`
	Src      string      `mapstructure:"src" json:"src"`
	Position *[3]float64 `mapstructure:"position" json:"position,omitempty"`
	Rotation *[3]float64 `mapstructure:"rotation" json:"rotation,omitempty"`
	Scale    *[3]float64 `mapstructure:"scale" json:"scale,omitempty"`
}

// Validate checks the required fields of an entry
func (e ModelCatalogEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.Src) == "" {
		return fmt.Errorf("%w: model %q missing src", ErrInvalidEntry, e.ID)
	}
	if e.Scale != nil {
		for i, s := range e.Scale {
			if s <= 0 {
				return fmt.Errorf("%w: model %q scale[%d] must be positive", ErrInvalidEntry, e.ID, i)
			}
		}
	}
	return nil
}

// FlowEntry references a machine inside a product flow
type FlowEntry struct {
	MachineID string   `mapstructure:"machineId" json:"machineId"`
	Name      *string  `mapstructure:"name" json:"name,omitempty"`
	Duration  *float64 `mapstructure:"duration" json:"duration,omitempty"`
	When      string   `mapstructure:"when" json:"when,omitempty"` // expr condition, empty = always
}

// ProductFlowDefinition is a declarative production recipe
type ProductFlowDefinition struct {
	ProductID     string            `mapstructure:"productId" json:"productId"`
	ProductName   string            `mapstructure:"productName" json:"productName"`
	Description   string            `mapstructure:"description" json:"description,omitempty"`
	DefaultConfig map[string]string `mapstructure:"defaultConfig" json:"defaultConfig,omitempty"`
	Flow          []FlowEntry       `mapstructure:"flow" json:"flow"`
}

// Validate checks the required fields of a flow definition
func (d ProductFlowDefinition) Validate() error {
	if strings.TrimSpace(d.ProductID) == "" {
		return fmt.Errorf("%w: product missing productId", ErrInvalidEntry)
	}
	for i, entry := range d.Flow {
		if strings.TrimSpace(entry.MachineID) == "" {
			return fmt.Errorf("%w: product %q flow[%d] missing machineId", ErrInvalidEntry, d.ProductID, i)
		}
		if entry.Duration != nil && *entry.Duration <= 0 {
			return fmt.Errorf("%w: product %q flow[%d] duration must be positive", ErrInvalidEntry, d.ProductID, i)
		}
	}
	return nil
}

// ValidateModels validates every entry, failing on the first invalid one
func ValidateModels(entries []ModelCatalogEntry) error {
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("models[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateFlows validates every flow definition, failing on the first invalid one
func ValidateFlows(defs []ProductFlowDefinition) error {
	for i, d := range defs {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("products[%d]: %w", i, err)
		}
	}
	return nil
}

// LoadModelCatalog reads a YAML or JSON file with a top-level "models" list
func LoadModelCatalog(path string) ([]ModelCatalogEntry, error) {
	v, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var entries []ModelCatalogEntry
	if err := v.UnmarshalKey("models", &entries); err != nil {
		return nil, fmt.Errorf("failed to decode model catalog %s: %w", path, err)
	}
	if err := ValidateModels(entries); err != nil {
		return nil, fmt.Errorf("model catalog %s: %w", path, err)
	}
	return entries, nil
}

// LoadFlowCatalog reads a YAML or JSON file with a top-level "products" list
func LoadFlowCatalog(path string) ([]ProductFlowDefinition, error) {
	v, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var defs []ProductFlowDefinition
	if err := v.UnmarshalKey("products", &defs); err != nil {
		return nil, fmt.Errorf("failed to decode flow catalog %s: %w", path, err)
	}
	if err := ValidateFlows(defs); err != nil {
		return nil, fmt.Errorf("flow catalog %s: %w", path, err)
	}
	return defs, nil
}

// FileFlowSource loads product flows from a local catalog file. The file is
// re-read on every call so edits show up on the next product selection.
type FileFlowSource struct {
	Path string
}

func (s FileFlowSource) LoadFlows(ctx context.Context) ([]ProductFlowDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadFlowCatalog(s.Path)
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

// FindFlow returns the definition with the given product id
func FindFlow(defs []ProductFlowDefinition, productID string) (ProductFlowDefinition, bool) {
	for _, d := range defs {
		if d.ProductID == productID {
			return d, true
		}
	}
	return ProductFlowDefinition{}, false
}
