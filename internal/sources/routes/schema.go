package routes

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a routes file.
type File struct {
	GlobalOptions map[string]string `yaml:"globalOptions,omitempty"`
	Routes        []RouteSpec       `yaml:"routes"`
}

// RouteSpec is one route as written in the file.
type RouteSpec struct {
	ID           string `yaml:"id"`
	Description  string `yaml:"description,omitempty"`
	From         string `yaml:"from"`
	To           Steps  `yaml:"to,omitempty"`
	StartupOrder int    `yaml:"startupOrder,omitempty"`
	AutoStartup  *bool  `yaml:"autoStartup,omitempty"`
	DependsOn    Steps  `yaml:"dependsOn,omitempty"`
}

// Steps accepts either a single scalar or a sequence of scalars.
type Steps []string

func (s *Steps) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*s = nil
			return nil
		}
		*s = Steps{node.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}
