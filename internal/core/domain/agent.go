package domain

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type RestartPolicy string

const (
	// RestartPolicyAny marks a long-running agent service.
	RestartPolicyAny RestartPolicy = "any"
	// RestartPolicyNone marks a run-once service that is expected to
	// execute and terminate.
	RestartPolicyNone RestartPolicy = "none"
)

// Arg is a named argument passed to an agent at startup.
type Arg struct {
	Name  string `yaml:"name" json:"name"`
	Type  string `yaml:"type" json:"type"`
	Value string `yaml:"value" json:"value"`
}

// AgentSettings lists the settings of a running instance of an agent. Key is
// the unique agent identifier and doubles as the image reference;
// ContainerImage must be resolved before the agent can start.
type AgentSettings struct {
	Key            string        `yaml:"key" json:"key"`
	Version        string        `yaml:"version" json:"version,omitempty"`
	Args           []Arg         `yaml:"args" json:"args,omitempty"`
	Replicas       int           `yaml:"replicas" json:"replicas"`
	ContainerImage string        `yaml:"-" json:"container_image,omitempty"`
	Mounts         []string      `yaml:"mounts" json:"mounts,omitempty"`
	RestartPolicy  RestartPolicy `yaml:"restart_policy" json:"restart_policy"`
}

// AgentGroupDefinition is the unordered set of agents a scan runs.
type AgentGroupDefinition struct {
	Agents []AgentSettings `yaml:"agents"`
}

// AgentGroupFromYAML parses an agent group definition document of the form:
//
//	agents:
//	  - key: agent/hivescan/nmap
//	    replicas: 2
func AgentGroupFromYAML(r io.Reader) (AgentGroupDefinition, error) {
	var group AgentGroupDefinition
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&group); err != nil {
		return AgentGroupDefinition{}, fmt.Errorf("parsing agent group definition: %w", err)
	}
	for i := range group.Agents {
		if group.Agents[i].Key == "" {
			return AgentGroupDefinition{}, fmt.Errorf("agent at index %d has no key", i)
		}
		if group.Agents[i].Replicas < 1 {
			group.Agents[i].Replicas = 1
		}
		if group.Agents[i].RestartPolicy == "" {
			group.Agents[i].RestartPolicy = RestartPolicyAny
		}
	}
	return group, nil
}
