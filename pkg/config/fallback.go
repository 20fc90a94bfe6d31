package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BenchmarkFallback is the cohort value table served when the analytics
// schema is not provisioned.
type BenchmarkFallback struct {
	Cohort string             `yaml:"cohort" json:"cohort"`
	Values map[string]float64 `yaml:"values" json:"values"`
}

// DefaultBenchmarkFallback returns the built-in fallback values.
func DefaultBenchmarkFallback() *BenchmarkFallback {
	return &BenchmarkFallback{
		Cohort: "global-mid-market",
		Values: map[string]float64{
			"control_freshness":    72,
			"time_to_ack_hours":    36,
			"stale_controls_ratio": 0.18,
		},
	}
}

// LoadBenchmarkFallback reads a fallback table from YAML. Metrics missing
// from the file keep their built-in values. An empty path returns the defaults.
func LoadBenchmarkFallback(path string) (*BenchmarkFallback, error) {
	fb := DefaultBenchmarkFallback()
	if path == "" {
		return fb, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load benchmark fallback %q: %w", path, err)
	}

	var file BenchmarkFallback
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse benchmark fallback %q: %w", path, err)
	}

	if file.Cohort != "" {
		fb.Cohort = file.Cohort
	}
	for k, v := range file.Values {
		fb.Values[k] = v
	}
	return fb, nil
}
