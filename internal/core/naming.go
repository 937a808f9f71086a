package core

import "fmt"

// InstanceNames returns the per-student instance names for a class, in
// ordinal order: "{class}-alumno1" through "{class}-alumnoN". A non-positive
// n yields an empty slice; there is no other failure mode.
func InstanceNames(class string, n int) []string {
	if n <= 0 {
		return nil
	}
	names := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		names = append(names, fmt.Sprintf("%s-alumno%d", class, i))
	}
	return names
}

// ServiceTarget returns the registry value for an instance: the in-cluster
// service address "{namespace}/{name}:{port}" that the ingress forwards an
// external port to. Teardown identifies a class's registry entries by exact
// match against these strings, so the format is load-bearing.
func ServiceTarget(namespace, name string, port int32) string {
	return fmt.Sprintf("%s/%s:%d", namespace, name, port)
}

// ValuesOverride builds the Helm values payload for a class deployment.
// The chart expects one entry per instance:
//
//	instances:
//	  - name: bd-2025-turno1-alumno1
//	  - name: bd-2025-turno1-alumno2
func ValuesOverride(names []string) map[string]any {
	instances := make([]any, 0, len(names))
	for _, n := range names {
		instances = append(instances, map[string]any{"name": n})
	}
	return map[string]any{"instances": instances}
}
