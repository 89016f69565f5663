package ports

import (
	"context"

	"github.com/hivescan/hivescan/internal/core/domain"
)

// ClusterManager is the only surface touching the cluster control plane.
// Every other component depends on this interface so a fake cluster can be
// substituted in tests.
type ClusterManager interface {
	// CreateNetwork is idempotent: an existing network with the same name is
	// logged and left alone, not an error.
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
	CreateService(ctx context.Context, spec domain.ServiceSpec) (*domain.ServiceSummary, error)
	CreateConfig(ctx context.Context, name string, labels map[string]string, data []byte, targetPath string) (*domain.ConfigReference, error)
	ListNetworks(ctx context.Context, labels map[string]string) ([]domain.NetworkSummary, error)
	ListServices(ctx context.Context, labels map[string]string) ([]domain.ServiceSummary, error)
	ListConfigs(ctx context.Context, labels map[string]string) ([]domain.ConfigSummary, error)
	RemoveNetwork(ctx context.Context, id string) error
	RemoveService(ctx context.Context, id string) error
	RemoveConfig(ctx context.Context, id string) error
	ScaleService(ctx context.Context, serviceName string, replicas uint64) error
	// ServiceTasks returns domain.ErrNotFound when the service does not
	// exist; callers treat that as unhealthy, never as a fault.
	ServiceTasks(ctx context.Context, serviceName string) ([]domain.TaskInfo, error)
	// ResolveTaskAddresses returns an empty set, not an error, when DNS
	// resolution fails.
	ResolveTaskAddresses(ctx context.Context, serviceName string) []string
}

// ScanStore is the persistence collaborator. UpdateProgress commits per
// call; transition policy is owned by the orchestrator, not the store.
type ScanStore interface {
	Create(ctx context.Context, title, asset string) (*domain.Scan, error)
	GetByID(ctx context.Context, id string) (*domain.Scan, error)
	ListAll(ctx context.Context) ([]*domain.Scan, error)
	UpdateProgress(ctx context.Context, id string, progress domain.ScanProgress) error
}

// Broker is the per-scan message-exchange collaborator. Its wire protocol is
// out of scope; the runtime only starts it and judges its health.
type Broker interface {
	Start(ctx context.Context) error
	IsHealthy(ctx context.Context) bool
	ServiceName() string
	URL() string
	VHost() string
}

// BrokerFactory builds a broker bound to one scan universe and its network.
type BrokerFactory func(scanID, network string) Broker

// AgentInstaller acquires agent container images.
type AgentInstaller interface {
	Install(ctx context.Context, agentKey string) error
	// ResolveImage returns the best locally available image for the agent
	// key, or empty when none is installed.
	ResolveImage(ctx context.Context, agentKey string) (string, error)
}

// LogStreamer attaches to a started service for live output. Best-effort:
// failures never affect orchestration.
type LogStreamer interface {
	Stream(ctx context.Context, serviceID, serviceName string) error
}

// EventPublisher broadcasts scan stage transitions to observers.
type EventPublisher interface {
	PublishScanEvent(ctx context.Context, event domain.ScanEvent) error
	Subscribe(ctx context.Context) (<-chan domain.ScanEvent, error)
}

// Runtime is the capability set every scan runtime implements. Alternate
// runtimes are independent implementers selected by the caller.
type Runtime interface {
	Name() string
	Network() string
	CanRun(group domain.AgentGroupDefinition) bool
	Scan(ctx context.Context, title string, group domain.AgentGroupDefinition, asset domain.Asset) error
	Stop(ctx context.Context, scanID string) error
	List(ctx context.Context, page, pageSize int) ([]*domain.Scan, error)
	Install(ctx context.Context) error
}
