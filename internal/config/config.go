// Package config loads the YAML rule file.
//
//	source: build/android-all.jar
//	sourceURL: https://repo1.maven.org/.../android-all-4.1.2_r1-robolectric-0.jar
//	out: build/unmocked-android.jar
//	work: build/unmock_work
//	keep:
//	  - -android.os.AsyncTask
//	  - android.os.Looper
//	keepStartingWith:
//	  - android.util.
//	keepAndRename:
//	  java.nio.charset.Charsets: xjava.nio.charset.Charsets
//	delegateClass:
//	  - android.os.AsyncTask
//
// Keep rules are evaluated with keep entries first, then keepStartingWith
// entries, each in file order.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrConfig reports an unreadable or malformed rule file.
var ErrConfig = errors.New("config: invalid rule file")

// Config mirrors the rule file.
type Config struct {
	Source           string   `yaml:"source"`
	SourceURL        string   `yaml:"sourceURL"`
	Out              string   `yaml:"out"`
	Work             string   `yaml:"work"`
	Keep             []string `yaml:"keep"`
	KeepStartingWith []string `yaml:"keepStartingWith"`
	KeepAndRename    Renames  `yaml:"keepAndRename"`
	DelegateClass    []string `yaml:"delegateClass"`
}

// Renames holds "from=to" directives in file order. In YAML it is either a
// mapping of from to to, or a sequence of "from=to" strings.
type Renames []string

// UnmarshalYAML keeps mapping order, which a Go map would lose.
func (r *Renames) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		out := make(Renames, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k, v := value.Content[i], value.Content[i+1]
			if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: keepAndRename entries must be scalars", k.Line)
			}
			out = append(out, k.Value+"="+v.Value)
		}
		*r = out
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*r = list
		return nil
	}
	return fmt.Errorf("line %d: keepAndRename must be a mapping or a list", value.Line)
}

// Load reads a rule file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "%s: %v", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Parse decodes rule file content.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(ErrConfig, "%v", err)
	}
	return c, nil
}

// KeepRules returns every keep rule in evaluation order.
func (c *Config) KeepRules() []string {
	out := make([]string, 0, len(c.Keep)+len(c.KeepStartingWith))
	out = append(out, c.Keep...)
	return append(out, c.KeepStartingWith...)
}
