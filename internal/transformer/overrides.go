package transformer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fieldOverride is one YAML-configurable row: operators can widen a
// canonical metric's vendor aliases without a rebuild, the way
// infrastructure/config/services.go lets operators retune per-service
// settings from config/services.yaml instead of compiled defaults.
type fieldOverride struct {
	Canonical string   `yaml:"canonical"`
	Aliases   []string `yaml:"aliases"`
}

type overrideFile struct {
	Broker        []fieldOverride `yaml:"broker"`
	Topic         []fieldOverride `yaml:"topic"`
	ConsumerGroup []fieldOverride `yaml:"consumerGroup"`
}

// LoadFieldMappingOverrides reads a YAML file of additional vendor aliases
// per canonical metric and merges them into the package's field-mapping
// tables in place. A missing canonical name in the base table is ignored
// rather than rejected, since an override file may be shared across agent
// versions with slightly different tables.
func LoadFieldMappingOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read field mapping overrides: %w", err)
	}

	var overrides overrideFile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse field mapping overrides: %w", err)
	}

	mergeAliases(brokerFields, overrides.Broker)
	mergeAliases(topicFields, overrides.Topic)
	mergeAliases(consumerGroupFields, overrides.ConsumerGroup)
	return nil
}

func mergeAliases(table []FieldMapping, overrides []fieldOverride) {
	for _, o := range overrides {
		for i := range table {
			if table[i].Canonical == o.Canonical {
				table[i].Aliases = append(table[i].Aliases, o.Aliases...)
				break
			}
		}
	}
}
