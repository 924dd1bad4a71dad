package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// keyFile is the layout of IMPORT_KEY_FILE:
//
//	keys:
//	  RL_PROCEDIMENTO_CID: [CO_PROCEDIMENTO, CO_CID]
//	  TB_DESCRICAO: [CO_PROCEDIMENTO]
type keyFile struct {
	Keys map[string][]string `yaml:"keys"`
}

// LoadKeyOverrides reads primary-key overrides from a YAML file. Table and
// column names are upper-cased.
func LoadKeyOverrides(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}

	out := make(map[string][]string, len(kf.Keys))
	for table, cols := range kf.Keys {
		name := strings.ToUpper(strings.TrimSpace(table))
		var keys []string
		for _, c := range cols {
			if c = strings.TrimSpace(c); c != "" {
				keys = append(keys, strings.ToUpper(c))
			}
		}
		if name == "" || len(keys) == 0 {
			return nil, fmt.Errorf("key file %s: table %q needs at least one column", path, table)
		}
		out[name] = keys
	}
	return out, nil
}
