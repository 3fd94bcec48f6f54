package rights

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads an entity rights table from a YAML file of the form
//
//	event:
//	  editable: true
//	  counts:
//	    owner: 1
//	category:
//	  public: true
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rights: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("rights: parse config %s: %w", path, err)
	}
	if len(cfg) == 0 {
		return nil, fmt.Errorf("rights: config %s declares no entity types", path)
	}
	for name, ec := range cfg {
		for right, n := range ec.Counts {
			if n < 0 {
				return nil, fmt.Errorf("rights: config %s: negative count for %s.%s", path, name, right)
			}
		}
	}
	return cfg, nil
}
