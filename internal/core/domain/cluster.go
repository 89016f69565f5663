package domain

// UniverseLabel tags every cluster resource created for a scan with the scan
// id. It is the sole join key between persisted records and live state, and
// the sole mechanism for bulk enumeration and teardown.
const UniverseLabel = "hivescan.universe"

// UniverseLabels returns the label set applied to every resource of a scan.
func UniverseLabels(scanID string) map[string]string {
	return map[string]string{UniverseLabel: scanID}
}

// ServiceSpec describes a cluster service to materialize.
type ServiceSpec struct {
	Name          string
	Image         string
	Labels        map[string]string
	Network       string
	Env           []string
	Mounts        []string
	RestartPolicy RestartPolicy
	Replicas      uint64
	Configs       []ConfigReference
}

// ConfigReference points at a created cluster config so a later service spec
// can mount it.
type ConfigReference struct {
	ID         string
	Name       string
	TargetPath string
}

// ServiceSummary is the manager's view of a live cluster service.
type ServiceSummary struct {
	ID       string
	Name     string
	Labels   map[string]string
	Replicas uint64
	// RunOnce services are expected to complete and exit; they are excluded
	// from running-task health aggregation.
	RunOnce bool
}

// TaskInfo is one task (container) of a service.
type TaskInfo struct {
	ID    string
	State string
}

// TaskStateRunning is the task state counted by the task-count health probe.
const TaskStateRunning = "running"

type NetworkSummary struct {
	ID     string
	Name   string
	Labels map[string]string
}

type ConfigSummary struct {
	ID     string
	Name   string
	Labels map[string]string
}
