package config

import (
	"fmt"
)

// BackendKind is the observability backend port a registry entry
// implements — matches the three ports in §6: MetricBackend, LogBackend,
// TraceBackend.
type BackendKind string

const (
	BackendKindMetric BackendKind = "metric"
	BackendKindLog    BackendKind = "log"
	BackendKindTrace  BackendKind = "trace"
)

// BackendRegistryFile is the top-level structure of the backend
// registry file: the set of observability backend instances the
// Observation Coordinator's workers may query.
//
// Example YAML:
//
//	schema_version: v1
//	instances:
//	  - name: prometheus-prod
//	    kind: metric
//	    type: prometheus
//	    enabled: true
//	    config:
//	      url: "http://prometheus:9090"
//	  - name: loki-prod
//	    kind: log
//	    type: loki
//	    enabled: true
//	    config:
//	      url: "http://loki:3100"
type BackendRegistryFile struct {
	SchemaVersion string            `yaml:"schema_version"`
	Instances     []BackendInstance `yaml:"instances"`
}

// BackendInstance is a single observability backend instance.
type BackendInstance struct {
	// Name is the unique instance name (e.g. "prometheus-prod").
	Name string `yaml:"name"`

	// Kind is the port this instance implements.
	Kind BackendKind `yaml:"kind"`

	// Type is the concrete client implementation (e.g. "prometheus",
	// "loki", "tempo"). Multiple instances may share a Type.
	Type string `yaml:"type"`

	// Enabled indicates whether this instance should be wired up.
	// Disabled instances are skipped.
	Enabled bool `yaml:"enabled"`

	// Config holds instance-specific configuration, interpreted by the
	// named Type's client constructor (e.g. {"url": "http://..."}).
	Config map[string]interface{} `yaml:"config"`
}

// Validate checks that the BackendRegistryFile is well-formed.
func (f *BackendRegistryFile) Validate() error {
	if f.SchemaVersion != "v1" {
		return NewConfigError(fmt.Sprintf(
			"unsupported schema_version: %q (expected \"v1\")", f.SchemaVersion))
	}

	seenNames := make(map[string]bool)
	for i, instance := range f.Instances {
		if instance.Name == "" {
			return NewConfigError(fmt.Sprintf("instance[%d]: name is required", i))
		}
		if instance.Type == "" {
			return NewConfigError(fmt.Sprintf("instance[%d] (%s): type is required", i, instance.Name))
		}
		switch instance.Kind {
		case BackendKindMetric, BackendKindLog, BackendKindTrace:
		default:
			return NewConfigError(fmt.Sprintf("instance[%d] (%s): unknown kind %q", i, instance.Name, instance.Kind))
		}
		if seenNames[instance.Name] {
			return NewConfigError(fmt.Sprintf("instance[%d]: duplicate instance name %q", i, instance.Name))
		}
		seenNames[instance.Name] = true
	}
	return nil
}

// EnabledByKind returns the subset of instances with Enabled set whose
// Kind equals kind.
func (f *BackendRegistryFile) EnabledByKind(kind BackendKind) []BackendInstance {
	var out []BackendInstance
	for _, inst := range f.Instances {
		if inst.Enabled && inst.Kind == kind {
			out = append(out, inst)
		}
	}
	return out
}
