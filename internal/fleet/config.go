// Package fleet loads the desired-state configuration: which organizations
// exist, how their sectors depend on each other, and who inherits version
// data from whom. The configuration is re-read every cycle; organizations are
// never persisted.
package fleet

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/fleetgate-sh/scheduler/internal/model"
)

type sectorConfig struct {
	Name                string   `yaml:"name"`
	DependsOn           []string `yaml:"dependsOn"`
	MaxParallelUpgrades int      `yaml:"maxParallelUpgrades"`
}

type organizationConfig struct {
	ID                 string         `yaml:"id"`
	Name               string         `yaml:"name"`
	Environment        string         `yaml:"environment"`
	ClusterSelector    string         `yaml:"clusterSelector"`
	BlockedVersions    []string       `yaml:"blockedVersions"`
	InheritVersionData []string       `yaml:"inheritVersionData"`
	PublishVersionData []string       `yaml:"publishVersionData"`
	Sectors            []sectorConfig `yaml:"sectors"`
}

// Config is the parsed fleet configuration document.
type Config struct {
	Organizations []organizationConfig `yaml:"organizations"`
}

// Load reads and validates the fleet configuration file. Unknown fields are
// rejected so typos surface as errors instead of silently ignored settings.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet configuration: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a fleet configuration document.
func Parse(raw []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode fleet configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	byID := map[string]organizationConfig{}

	for _, org := range c.Organizations {
		if org.ID == "" {
			return fmt.Errorf("organization with empty id")
		}
		if org.Environment == "" {
			return fmt.Errorf("organization %s: environment is required", org.ID)
		}
		if _, dup := byID[org.ID]; dup {
			return fmt.Errorf("duplicate organization id %s", org.ID)
		}
		byID[org.ID] = org

		if org.ClusterSelector != "" {
			if _, err := labels.Parse(org.ClusterSelector); err != nil {
				return fmt.Errorf("organization %s: invalid cluster selector: %w", org.ID, err)
			}
		}
		for _, pattern := range org.BlockedVersions {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("organization %s: invalid blocked version pattern %q: %w", org.ID, pattern, err)
			}
		}
	}

	// Inheritance must be reciprocal: the publishing organization has to
	// explicitly allow the inheriting one.
	for _, org := range c.Organizations {
		for _, from := range org.InheritVersionData {
			publisher, ok := byID[from]
			if !ok {
				return fmt.Errorf("organization %s inherits version data from unknown organization %s", org.ID, from)
			}
			if publisher.Environment != org.Environment {
				return fmt.Errorf("organization %s inherits version data from %s in a different environment", org.ID, from)
			}
			if !contains(publisher.PublishVersionData, org.ID) {
				return fmt.Errorf("organization %s inherits version data from %s, but %s does not publish to it", org.ID, from, from)
			}
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Resolved returns the organizations as engine model values.
func (c *Config) Resolved() []model.Organization {
	orgs := make([]model.Organization, 0, len(c.Organizations))
	for _, org := range c.Organizations {
		sectors := make([]model.SectorConfig, 0, len(org.Sectors))
		for _, s := range org.Sectors {
			sectors = append(sectors, model.SectorConfig{
				Name:                s.Name,
				DependsOn:           s.DependsOn,
				MaxParallelUpgrades: s.MaxParallelUpgrades,
			})
		}
		orgs = append(orgs, model.Organization{
			ID:                 org.ID,
			Name:               org.Name,
			Environment:        org.Environment,
			ClusterSelector:    org.ClusterSelector,
			BlockedVersions:    org.BlockedVersions,
			InheritVersionData: org.InheritVersionData,
			PublishVersionData: org.PublishVersionData,
			Sectors:            sectors,
		})
	}
	return orgs
}
