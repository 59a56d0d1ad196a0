// Package config loads inversion tuning parameters from JSON files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/inversion.defaults.json"

// InversionTuning represents the tuning parameters for the DC→IP
// inversion workflow. Fields are pointers so a partial JSON file only
// overrides what it names; the Get* accessors supply compiled-in defaults
// for the rest.
type InversionTuning struct {
	// DC (resistivity) stage
	Lambda        *float64 `json:"lambda,omitempty"`
	ZWeight       *float64 `json:"z_weight,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
	Chi2Tolerance *float64 `json:"chi2_tolerance,omitempty"`

	// IP (chargeability) stage
	IPLambda        *float64 `json:"ip_lambda,omitempty"`
	IPRelErrorFloor *float64 `json:"ip_rel_error_floor,omitempty"`
	IPAbsErrorFloor *float64 `json:"ip_abs_error_floor,omitempty"`

	// Reciprocity processing
	ReciprocityMerge  *bool `json:"reciprocity_merge,omitempty"`
	ReciprocityRemove *bool `json:"reciprocity_remove,omitempty"`
}

// EmptyInversionTuning returns an InversionTuning with all fields unset.
// Use LoadInversionTuning to load actual values from a file.
func EmptyInversionTuning() *InversionTuning {
	return &InversionTuning{}
}

// LoadInversionTuning loads tuning parameters from a JSON file. The file
// must have a .json extension and stay under the size cap. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadInversionTuning(path string) (*InversionTuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyInversionTuning()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *InversionTuning) Validate() error {
	if c.Lambda != nil && *c.Lambda < 0 {
		return fmt.Errorf("lambda must be non-negative, got %f", *c.Lambda)
	}
	if c.IPLambda != nil && *c.IPLambda < 0 {
		return fmt.Errorf("ip_lambda must be non-negative, got %f", *c.IPLambda)
	}
	if c.ZWeight != nil && (*c.ZWeight <= 0 || *c.ZWeight > 1) {
		return fmt.Errorf("z_weight must be in (0, 1], got %f", *c.ZWeight)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", *c.MaxIterations)
	}
	if c.Chi2Tolerance != nil && *c.Chi2Tolerance <= 0 {
		return fmt.Errorf("chi2_tolerance must be positive, got %f", *c.Chi2Tolerance)
	}
	if c.IPRelErrorFloor != nil && *c.IPRelErrorFloor < 0 {
		return fmt.Errorf("ip_rel_error_floor must be non-negative, got %f", *c.IPRelErrorFloor)
	}
	if c.IPAbsErrorFloor != nil && *c.IPAbsErrorFloor < 0 {
		return fmt.Errorf("ip_abs_error_floor must be non-negative, got %f", *c.IPAbsErrorFloor)
	}
	return nil
}

// GetLambda returns the DC regularization weight or the default.
func (c *InversionTuning) GetLambda() float64 {
	if c.Lambda == nil {
		return 20.0 // default
	}
	return *c.Lambda
}

// GetZWeight returns the depth weighting factor or the default.
func (c *InversionTuning) GetZWeight() float64 {
	if c.ZWeight == nil {
		return 1.0 // default: uniform smoothness
	}
	return *c.ZWeight
}

// GetMaxIterations returns the Gauss-Newton iteration cap or the default.
func (c *InversionTuning) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 20 // default
	}
	return *c.MaxIterations
}

// GetChi2Tolerance returns the convergence tolerance or the default.
func (c *InversionTuning) GetChi2Tolerance() float64 {
	if c.Chi2Tolerance == nil {
		return 0.01 // default
	}
	return *c.Chi2Tolerance
}

// GetIPLambda returns the IP-stage regularization weight or the default.
func (c *InversionTuning) GetIPLambda() float64 {
	if c.IPLambda == nil {
		return 100.0 // default
	}
	return *c.IPLambda
}

// GetIPRelErrorFloor returns the relative IP error floor or the default.
func (c *InversionTuning) GetIPRelErrorFloor() float64 {
	if c.IPRelErrorFloor == nil {
		return 0.03 // default: 3%
	}
	return *c.IPRelErrorFloor
}

// GetIPAbsErrorFloor returns the absolute IP error floor or the default.
func (c *InversionTuning) GetIPAbsErrorFloor() float64 {
	if c.IPAbsErrorFloor == nil {
		return 0.001 // default: 1 mV/V
	}
	return *c.IPAbsErrorFloor
}

// GetReciprocityMerge returns whether reciprocal pairs are merged.
func (c *InversionTuning) GetReciprocityMerge() bool {
	if c.ReciprocityMerge == nil {
		return true // default
	}
	return *c.ReciprocityMerge
}

// GetReciprocityRemove returns whether matched backward rows are dropped.
func (c *InversionTuning) GetReciprocityRemove() bool {
	if c.ReciprocityRemove == nil {
		return true // default
	}
	return *c.ReciprocityRemove
}
