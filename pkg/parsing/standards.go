package parsing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Standards is the catalog of reporting codes a detected standard is checked
// against. Unknown values fall back to Default.
type Standards struct {
	Known   []string `yaml:"standards" json:"standards"`
	Default string   `yaml:"default" json:"default"`
}

func DefaultStandards() Standards {
	return Standards{
		Known: []string{
			"JORC_2012",
			"NI_43_101",
			"PERC",
			"SAMREC",
			"CRIRSCO",
			"CBRR",
			"SEC_SK_1300",
		},
		Default: "JORC_2012",
	}
}

// LoadStandards reads a YAML catalog. An empty path selects the built-in one.
func LoadStandards(path string) (Standards, error) {
	if path == "" {
		return DefaultStandards(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultStandards(), fmt.Errorf("reading standards file: %w", err)
	}

	var cfg Standards
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Standards{}, fmt.Errorf("parsing standards file: %w", err)
	}
	if len(cfg.Known) == 0 {
		return Standards{}, errors.New("no reporting standards configured")
	}
	if cfg.Default == "" {
		cfg.Default = cfg.Known[0]
	}
	if !cfg.contains(cfg.Default) {
		return Standards{}, fmt.Errorf("default standard %q is not in the catalog", cfg.Default)
	}
	return cfg, nil
}

func (s Standards) contains(code string) bool {
	for _, known := range s.Known {
		if known == code {
			return true
		}
	}
	return false
}

// Resolve returns code when it is in the catalog and the default otherwise.
func (s Standards) Resolve(code string) string {
	if s.contains(code) {
		return code
	}
	return s.Default
}
