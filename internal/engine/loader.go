package engine

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// jobDescription is one entry of the "jobs" mapping in a pipeline
// description.
type jobDescription struct {
	Type     string   `yaml:"type"`
	Stage    string   `yaml:"stage"`
	Args     Args     `yaml:"args"`
	Policies Policies `yaml:"policies"`
}

// stageDescription is one entry of the "stages" list when given in long form.
type stageDescription struct {
	Name     string   `yaml:"name"`
	Policies Policies `yaml:"policies"`
}

// Parse builds a pipeline from a declarative description. Descriptions are
// YAML documents, which covers plain JSON files as well. Jobs are assigned to
// stages in the order they are declared, so the description is decoded
// through yaml nodes rather than Go maps.
func Parse(description []byte, registry *Registry) (*Pipeline, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(description, &document); err != nil {
		return nil, fmt.Errorf("invalid pipeline description: %w", err)
	}
	root := &document
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil, fmt.Errorf("empty pipeline description")
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("pipeline description must be a mapping")
	}

	env := NewEnv()
	pipeline := NewPipeline(env)

	policiesNode := mappingValue(root, "policies")
	if policiesNode != nil {
		policies := Policies{}
		if err := policiesNode.Decode(&policies); err != nil {
			return nil, fmt.Errorf("invalid pipeline policies: %w", err)
		}
		pipeline.InitPolicies(policies)
	}

	stagesNode := mappingValue(root, "stages")
	if stagesNode == nil {
		return nil, fmt.Errorf("pipeline description has no stages")
	}
	if stagesNode.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("pipeline stages must be a list")
	}

	type stageBucket struct {
		policies Policies
		jobs     []Job
	}
	order := make([]string, 0, len(stagesNode.Content))
	buckets := make(map[string]*stageBucket, len(stagesNode.Content))
	for _, entry := range stagesNode.Content {
		var name string
		policies := Policies{}
		switch entry.Kind {
		case yaml.ScalarNode:
			if err := entry.Decode(&name); err != nil {
				return nil, fmt.Errorf("invalid stage name: %w", err)
			}
		case yaml.MappingNode:
			var described stageDescription
			if err := entry.Decode(&described); err != nil {
				return nil, fmt.Errorf("invalid stage entry: %w", err)
			}
			name = described.Name
			if described.Policies != nil {
				policies = described.Policies
			}
		default:
			return nil, fmt.Errorf("unknown stage entry on line %d", entry.Line)
		}
		if name == "" {
			return nil, fmt.Errorf("stage entry has no name")
		}
		if _, exists := buckets[name]; !exists {
			order = append(order, name)
		}
		buckets[name] = &stageBucket{policies: policies}
	}

	jobsNode := mappingValue(root, "jobs")
	if jobsNode == nil {
		return nil, fmt.Errorf("pipeline description has no jobs")
	}
	if jobsNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("pipeline jobs must be a mapping")
	}
	for i := 0; i+1 < len(jobsNode.Content); i += 2 {
		var name string
		if err := jobsNode.Content[i].Decode(&name); err != nil {
			return nil, fmt.Errorf("invalid job name: %w", err)
		}
		var described jobDescription
		if err := jobsNode.Content[i+1].Decode(&described); err != nil {
			return nil, fmt.Errorf("invalid job %q: %w", name, err)
		}
		if described.Type == "" {
			return nil, fmt.Errorf("job %q has no type", name)
		}
		bucket, ok := buckets[described.Stage]
		if !ok {
			return nil, fmt.Errorf("missing stage: %s", described.Stage)
		}
		job := registry.Create(described.Type, name, env, described.Args)
		if described.Policies == nil {
			described.Policies = Policies{}
		}
		job.InitPolicies(described.Policies)
		bucket.jobs = append(bucket.jobs, job)
	}

	for _, name := range order {
		bucket := buckets[name]
		stage := NewStage(name, env, bucket.jobs...)
		stage.InitPolicies(bucket.policies)
		pipeline.stages = append(pipeline.stages, stage)
	}
	return pipeline, nil
}

// mappingValue returns the value node for key, or nil when absent.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
