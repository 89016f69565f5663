package swarm

import (
	"testing"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/swarm"

	"github.com/hivescan/hivescan/internal/core/domain"
)

func TestToSwarmSpec(t *testing.T) {
	spec, err := toSwarmSpec(domain.ServiceSpec{
		Name:          "agent_nmap_1",
		Image:         "agent_hivescan_nmap:v1.0.0",
		Labels:        domain.UniverseLabels("1"),
		Network:       "hivescan_network_1",
		Env:           []string{"HIVESCAN_UNIVERSE=1"},
		RestartPolicy: domain.RestartPolicyAny,
		Replicas:      2,
		Configs: []domain.ConfigReference{
			{ID: "cfg-1", Name: "asset_1", TargetPath: "/tmp/asset.binpb"},
		},
	})
	if err != nil {
		t.Fatalf("toSwarmSpec: %v", err)
	}

	if spec.Name != "agent_nmap_1" {
		t.Errorf("name = %q", spec.Name)
	}
	if spec.Labels[domain.UniverseLabel] != "1" {
		t.Errorf("universe label missing")
	}
	if spec.TaskTemplate.RestartPolicy.Condition != swarm.RestartPolicyConditionAny {
		t.Errorf("restart condition = %s", spec.TaskTemplate.RestartPolicy.Condition)
	}
	if got := *spec.Mode.Replicated.Replicas; got != 2 {
		t.Errorf("replicas = %d", got)
	}
	if len(spec.TaskTemplate.Networks) != 1 || spec.TaskTemplate.Networks[0].Target != "hivescan_network_1" {
		t.Errorf("network attachment = %+v", spec.TaskTemplate.Networks)
	}

	configs := spec.TaskTemplate.ContainerSpec.Configs
	if len(configs) != 1 {
		t.Fatalf("expected 1 config reference, got %d", len(configs))
	}
	if configs[0].ConfigID != "cfg-1" || configs[0].File.Name != "/tmp/asset.binpb" {
		t.Errorf("config reference = %+v", configs[0])
	}
	if configs[0].File.Mode != 0o444 {
		t.Errorf("config mode = %o", configs[0].File.Mode)
	}
}

func TestToSwarmSpecRunOnce(t *testing.T) {
	spec, err := toSwarmSpec(domain.ServiceSpec{
		Name:          "agent_inject_asset_1",
		Image:         "agent_hivescan_inject_asset:v1.0.0",
		RestartPolicy: domain.RestartPolicyNone,
	})
	if err != nil {
		t.Fatalf("toSwarmSpec: %v", err)
	}
	if spec.TaskTemplate.RestartPolicy.Condition != swarm.RestartPolicyConditionNone {
		t.Errorf("run-once service must never restart, got %s", spec.TaskTemplate.RestartPolicy.Condition)
	}
	if got := *spec.Mode.Replicated.Replicas; got != 1 {
		t.Errorf("replicas must default to 1, got %d", got)
	}
}

func TestParseMounts(t *testing.T) {
	mounts, err := parseMounts([]string{
		"/var/data:/data",
		"/etc/templates:/templates:ro",
	})
	if err != nil {
		t.Fatalf("parseMounts: %v", err)
	}
	if len(mounts) != 2 {
		t.Fatalf("expected 2 mounts, got %d", len(mounts))
	}
	if mounts[0].Type != mount.TypeBind || mounts[0].Source != "/var/data" || mounts[0].Target != "/data" {
		t.Errorf("mount[0] = %+v", mounts[0])
	}
	if mounts[0].ReadOnly {
		t.Errorf("mount[0] must be writable")
	}
	if !mounts[1].ReadOnly {
		t.Errorf("mount[1] must be read-only")
	}
}

func TestParseMountsInvalid(t *testing.T) {
	if _, err := parseMounts([]string{"/var/data"}); err == nil {
		t.Errorf("expected error for mount without target")
	}
}

func TestServiceSummary(t *testing.T) {
	replicas := uint64(3)
	service := swarm.Service{
		ID: "srv-1",
		Spec: swarm.ServiceSpec{
			Annotations: swarm.Annotations{
				Name:   "agent_nmap_1",
				Labels: domain.UniverseLabels("1"),
			},
			TaskTemplate: swarm.TaskSpec{
				RestartPolicy: &swarm.RestartPolicy{Condition: swarm.RestartPolicyConditionNone},
			},
			Mode: swarm.ServiceMode{
				Replicated: &swarm.ReplicatedService{Replicas: &replicas},
			},
		},
	}

	summary := serviceSummary(service)
	if summary.ID != "srv-1" || summary.Name != "agent_nmap_1" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Replicas != 3 {
		t.Errorf("replicas = %d", summary.Replicas)
	}
	if !summary.RunOnce {
		t.Errorf("restart condition none must map to RunOnce")
	}
	if summary.Labels[domain.UniverseLabel] != "1" {
		t.Errorf("labels not carried over")
	}
}

func TestServiceSummaryGlobalMode(t *testing.T) {
	summary := serviceSummary(swarm.Service{
		Spec: swarm.ServiceSpec{
			Annotations: swarm.Annotations{Name: "agent_nmap_1"},
			Mode:        swarm.ServiceMode{Global: &swarm.GlobalService{}},
		},
	})
	if summary.Replicas != 0 {
		t.Errorf("global services have no replica count, got %d", summary.Replicas)
	}
	if summary.RunOnce {
		t.Errorf("missing restart policy must not mean run-once")
	}
}
