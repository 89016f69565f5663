package swarm

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/hivescan/hivescan/internal/core/domain"
	"github.com/hivescan/hivescan/internal/core/logger"
)

// Manager is a thin facade over the Docker Swarm control plane implementing
// ports.ClusterManager and ports.LogStreamer. It is the only component
// holding a Docker client; every consumer receives it at construction.
type Manager struct {
	cli *client.Client
}

func NewManager() (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Manager{cli: cli}, nil
}

// Client exposes the underlying Docker client so collaborators constructed
// alongside the manager share one handle instead of acquiring their own.
func (m *Manager) Client() *client.Client {
	return m.cli
}

// CreateNetwork creates an attachable overlay network. An existing network
// with the same name is logged and kept, producing no duplicate and no
// error.
func (m *Manager) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	existing, err := m.cli.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return fmt.Errorf("listing networks: %w", err)
	}
	for _, candidate := range existing {
		if candidate.Name == name {
			logger.Warn("network already exists", "network", name)
			return nil
		}
	}

	logger.Debug("creating private network", "network", name)
	_, err = m.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:     "overlay",
		Attachable: true,
		Labels:     labels,
	})
	if err != nil {
		return fmt.Errorf("creating network %s: %w", name, err)
	}
	return nil
}

func (m *Manager) CreateService(ctx context.Context, spec domain.ServiceSpec) (*domain.ServiceSummary, error) {
	swarmSpec, err := toSwarmSpec(spec)
	if err != nil {
		return nil, err
	}
	resp, err := m.cli.ServiceCreate(ctx, swarmSpec, types.ServiceCreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating service %s: %w", spec.Name, err)
	}
	return &domain.ServiceSummary{
		ID:       resp.ID,
		Name:     spec.Name,
		Labels:   spec.Labels,
		Replicas: spec.Replicas,
		RunOnce:  spec.RestartPolicy == domain.RestartPolicyNone,
	}, nil
}

func (m *Manager) CreateConfig(ctx context.Context, name string, labels map[string]string, data []byte, targetPath string) (*domain.ConfigReference, error) {
	resp, err := m.cli.ConfigCreate(ctx, swarm.ConfigSpec{
		Annotations: swarm.Annotations{Name: name, Labels: labels},
		Data:        data,
	})
	if err != nil {
		return nil, fmt.Errorf("creating config %s: %w", name, err)
	}
	return &domain.ConfigReference{ID: resp.ID, Name: name, TargetPath: targetPath}, nil
}

func (m *Manager) ListNetworks(ctx context.Context, labels map[string]string) ([]domain.NetworkSummary, error) {
	list, err := m.cli.NetworkList(ctx, network.ListOptions{Filters: labelArgs(labels)})
	if err != nil {
		return nil, fmt.Errorf("listing networks: %w", err)
	}
	summaries := make([]domain.NetworkSummary, 0, len(list))
	for _, item := range list {
		summaries = append(summaries, domain.NetworkSummary{
			ID:     item.ID,
			Name:   item.Name,
			Labels: item.Labels,
		})
	}
	return summaries, nil
}

func (m *Manager) ListServices(ctx context.Context, labels map[string]string) ([]domain.ServiceSummary, error) {
	list, err := m.cli.ServiceList(ctx, types.ServiceListOptions{Filters: labelArgs(labels)})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	summaries := make([]domain.ServiceSummary, 0, len(list))
	for _, item := range list {
		summaries = append(summaries, serviceSummary(item))
	}
	return summaries, nil
}

func (m *Manager) ListConfigs(ctx context.Context, labels map[string]string) ([]domain.ConfigSummary, error) {
	list, err := m.cli.ConfigList(ctx, types.ConfigListOptions{Filters: labelArgs(labels)})
	if err != nil {
		return nil, fmt.Errorf("listing configs: %w", err)
	}
	summaries := make([]domain.ConfigSummary, 0, len(list))
	for _, item := range list {
		summaries = append(summaries, domain.ConfigSummary{
			ID:     item.ID,
			Name:   item.Spec.Name,
			Labels: item.Spec.Labels,
		})
	}
	return summaries, nil
}

func (m *Manager) RemoveNetwork(ctx context.Context, id string) error {
	return m.cli.NetworkRemove(ctx, id)
}

func (m *Manager) RemoveService(ctx context.Context, id string) error {
	return m.cli.ServiceRemove(ctx, id)
}

func (m *Manager) RemoveConfig(ctx context.Context, id string) error {
	return m.cli.ConfigRemove(ctx, id)
}

// ScaleService inspects the service for a fresh spec and version before
// updating the replica count; updating through a stale handle is rejected by
// the control plane.
func (m *Manager) ScaleService(ctx context.Context, serviceName string, replicas uint64) error {
	service, _, err := m.cli.ServiceInspectWithRaw(ctx, serviceName, types.ServiceInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("service %s: %w", serviceName, domain.ErrNotFound)
		}
		return fmt.Errorf("inspecting service %s: %w", serviceName, err)
	}
	if service.Spec.Mode.Replicated == nil {
		return fmt.Errorf("service %s is not replicated", serviceName)
	}
	spec := service.Spec
	spec.Mode.Replicated.Replicas = &replicas
	_, err = m.cli.ServiceUpdate(ctx, service.ID, service.Version, spec, types.ServiceUpdateOptions{})
	if err != nil {
		return fmt.Errorf("scaling service %s: %w", serviceName, err)
	}
	return nil
}

func (m *Manager) ServiceTasks(ctx context.Context, serviceName string) ([]domain.TaskInfo, error) {
	tasks, err := m.cli.TaskList(ctx, types.TaskListOptions{
		Filters: filters.NewArgs(filters.Arg("service", serviceName)),
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("service %s: %w", serviceName, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("listing tasks of %s: %w", serviceName, err)
	}
	infos := make([]domain.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, domain.TaskInfo{
			ID:    task.ID,
			State: string(task.Status.State),
		})
	}
	return infos, nil
}

// ResolveTaskAddresses resolves tasks.<service> through the cluster's
// embedded DNS. Resolution failure yields an empty set, not an error.
func (m *Manager) ResolveTaskAddresses(ctx context.Context, serviceName string) []string {
	addrs, err := net.DefaultResolver.LookupHost(ctx, "tasks."+serviceName)
	if err != nil {
		logger.Debug("task address resolution failed", "service", serviceName, "error", err)
		return nil
	}
	return addrs
}

func labelArgs(labels map[string]string) filters.Args {
	args := filters.NewArgs()
	for key, value := range labels {
		args.Add("label", key+"="+value)
	}
	return args
}

func serviceSummary(service swarm.Service) domain.ServiceSummary {
	summary := domain.ServiceSummary{
		ID:     service.ID,
		Name:   service.Spec.Name,
		Labels: service.Spec.Labels,
	}
	if service.Spec.Mode.Replicated != nil && service.Spec.Mode.Replicated.Replicas != nil {
		summary.Replicas = *service.Spec.Mode.Replicated.Replicas
	}
	if policy := service.Spec.TaskTemplate.RestartPolicy; policy != nil {
		summary.RunOnce = policy.Condition == swarm.RestartPolicyConditionNone
	}
	return summary
}

func toSwarmSpec(spec domain.ServiceSpec) (swarm.ServiceSpec, error) {
	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}

	condition := swarm.RestartPolicyConditionAny
	if spec.RestartPolicy == domain.RestartPolicyNone {
		condition = swarm.RestartPolicyConditionNone
	}

	mounts, err := parseMounts(spec.Mounts)
	if err != nil {
		return swarm.ServiceSpec{}, err
	}

	configs := make([]*swarm.ConfigReference, 0, len(spec.Configs))
	for _, ref := range spec.Configs {
		configs = append(configs, &swarm.ConfigReference{
			ConfigID:   ref.ID,
			ConfigName: ref.Name,
			File: &swarm.ConfigReferenceFileTarget{
				Name: ref.TargetPath,
				UID:  "0",
				GID:  "0",
				Mode: 0o444,
			},
		})
	}

	return swarm.ServiceSpec{
		Annotations: swarm.Annotations{
			Name:   spec.Name,
			Labels: spec.Labels,
		},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: &swarm.ContainerSpec{
				Image:   spec.Image,
				Env:     spec.Env,
				Mounts:  mounts,
				Configs: configs,
			},
			RestartPolicy: &swarm.RestartPolicy{Condition: condition},
			Networks:      []swarm.NetworkAttachmentConfig{{Target: spec.Network}},
		},
		Mode: swarm.ServiceMode{
			Replicated: &swarm.ReplicatedService{Replicas: &replicas},
		},
	}, nil
}

// parseMounts converts source:target[:ro] strings into bind mounts.
func parseMounts(specs []string) ([]mount.Mount, error) {
	mounts := make([]mount.Mount, 0, len(specs))
	for _, raw := range specs {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid mount %q, want source:target", raw)
		}
		m := mount.Mount{
			Type:   mount.TypeBind,
			Source: parts[0],
			Target: parts[1],
		}
		if len(parts) > 2 && parts[2] == "ro" {
			m.ReadOnly = true
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}
