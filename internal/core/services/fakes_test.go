package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hivescan/hivescan/internal/core/domain"
	"github.com/hivescan/hivescan/internal/core/ports"
)

// fastPolicy keeps retry loops short in tests while preserving the attempt
// budget semantics.
func fastPolicy(attempts uint64) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

// fakeCluster is an in-memory ports.ClusterManager. With autoHealthy set,
// created and scaled services get matching running tasks.
type fakeCluster struct {
	mu          sync.Mutex
	networks    []domain.NetworkSummary
	services    []domain.ServiceSummary
	configs     []domain.ConfigSummary
	tasks       map[string][]domain.TaskInfo
	scaled      map[string]uint64
	taskAddrs   map[string][]string
	autoHealthy bool
	nextID      int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		tasks:     make(map[string][]domain.TaskInfo),
		scaled:    make(map[string]uint64),
		taskAddrs: make(map[string][]string),
	}
}

func (c *fakeCluster) id(prefix string) string {
	c.nextID++
	return prefix + "-" + strconv.Itoa(c.nextID)
}

func matchLabels(have, want map[string]string) bool {
	for key, value := range want {
		if have[key] != value {
			return false
		}
	}
	return true
}

func (c *fakeCluster) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, network := range c.networks {
		if network.Name == name {
			return nil
		}
	}
	c.networks = append(c.networks, domain.NetworkSummary{ID: c.id("net"), Name: name, Labels: labels})
	return nil
}

func (c *fakeCluster) CreateService(ctx context.Context, spec domain.ServiceSpec) (*domain.ServiceSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}
	summary := domain.ServiceSummary{
		ID:       c.id("srv"),
		Name:     spec.Name,
		Labels:   spec.Labels,
		Replicas: replicas,
		RunOnce:  spec.RestartPolicy == domain.RestartPolicyNone,
	}
	c.services = append(c.services, summary)
	if c.autoHealthy {
		c.setRunningTasks(spec.Name, replicas)
	} else {
		c.tasks[spec.Name] = nil
	}
	return &summary, nil
}

func (c *fakeCluster) setRunningTasks(serviceName string, count uint64) {
	tasks := make([]domain.TaskInfo, 0, count)
	for i := uint64(0); i < count; i++ {
		tasks = append(tasks, domain.TaskInfo{ID: fmt.Sprintf("%s-task-%d", serviceName, i), State: domain.TaskStateRunning})
	}
	c.tasks[serviceName] = tasks
}

func (c *fakeCluster) CreateConfig(ctx context.Context, name string, labels map[string]string, data []byte, targetPath string) (*domain.ConfigReference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.id("cfg")
	c.configs = append(c.configs, domain.ConfigSummary{ID: id, Name: name, Labels: labels})
	return &domain.ConfigReference{ID: id, Name: name, TargetPath: targetPath}, nil
}

func (c *fakeCluster) ListNetworks(ctx context.Context, labels map[string]string) ([]domain.NetworkSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.NetworkSummary
	for _, network := range c.networks {
		if matchLabels(network.Labels, labels) {
			out = append(out, network)
		}
	}
	return out, nil
}

func (c *fakeCluster) ListServices(ctx context.Context, labels map[string]string) ([]domain.ServiceSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.ServiceSummary
	for _, service := range c.services {
		if matchLabels(service.Labels, labels) {
			out = append(out, service)
		}
	}
	return out, nil
}

func (c *fakeCluster) ListConfigs(ctx context.Context, labels map[string]string) ([]domain.ConfigSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.ConfigSummary
	for _, config := range c.configs {
		if matchLabels(config.Labels, labels) {
			out = append(out, config)
		}
	}
	return out, nil
}

func (c *fakeCluster) RemoveNetwork(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, network := range c.networks {
		if network.ID == id {
			c.networks = append(c.networks[:i], c.networks[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *fakeCluster) RemoveService(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, service := range c.services {
		if service.ID == id {
			delete(c.tasks, service.Name)
			c.services = append(c.services[:i], c.services[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *fakeCluster) RemoveConfig(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, config := range c.configs {
		if config.ID == id {
			c.configs = append(c.configs[:i], c.configs[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *fakeCluster) ScaleService(ctx context.Context, serviceName string, replicas uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, service := range c.services {
		if service.Name == serviceName {
			c.services[i].Replicas = replicas
			c.scaled[serviceName] = replicas
			if c.autoHealthy {
				c.setRunningTasks(serviceName, replicas)
			}
			return nil
		}
	}
	return fmt.Errorf("service %s: %w", serviceName, domain.ErrNotFound)
}

func (c *fakeCluster) ServiceTasks(ctx context.Context, serviceName string) ([]domain.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks, ok := c.tasks[serviceName]
	if !ok {
		return nil, fmt.Errorf("service %s: %w", serviceName, domain.ErrNotFound)
	}
	return tasks, nil
}

func (c *fakeCluster) ResolveTaskAddresses(ctx context.Context, serviceName string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskAddrs[serviceName]
}

func (c *fakeCluster) serviceByName(name string) (domain.ServiceSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, service := range c.services {
		if service.Name == name {
			return service, true
		}
	}
	return domain.ServiceSummary{}, false
}

// fakeStore is an in-memory ports.ScanStore assigning sequential ids.
type fakeStore struct {
	mu    sync.Mutex
	scans []*domain.Scan
	next  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) Create(ctx context.Context, title, asset string) (*domain.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	scan := &domain.Scan{
		ID:        strconv.Itoa(s.next),
		Title:     title,
		Asset:     asset,
		Progress:  domain.ScanProgressCreated,
		CreatedAt: time.Now(),
	}
	s.scans = append(s.scans, scan)
	return scan, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*domain.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scan := range s.scans {
		if scan.ID == id {
			return scan, nil
		}
	}
	return nil, fmt.Errorf("scan %s: %w", id, domain.ErrNotFound)
}

func (s *fakeStore) ListAll(ctx context.Context) ([]*domain.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Scan(nil), s.scans...), nil
}

func (s *fakeStore) UpdateProgress(ctx context.Context, id string, progress domain.ScanProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scan := range s.scans {
		if scan.ID == id {
			scan.Progress = progress
			return nil
		}
	}
	return fmt.Errorf("scan %s: %w", id, domain.ErrNotFound)
}

// fakeBroker registers its service with the cluster on Start so teardown by
// label covers it, matching the real broker adapter.
type fakeBroker struct {
	cluster ports.ClusterManager
	scanID  string
	network string
	healthy bool
	started bool
}

func (b *fakeBroker) Start(ctx context.Context) error {
	b.started = true
	_, err := b.cluster.CreateService(ctx, domain.ServiceSpec{
		Name:          "mq_" + b.scanID,
		Labels:        domain.UniverseLabels(b.scanID),
		Network:       b.network,
		RestartPolicy: domain.RestartPolicyAny,
		Replicas:      1,
	})
	return err
}

func (b *fakeBroker) IsHealthy(ctx context.Context) bool { return b.healthy }
func (b *fakeBroker) ServiceName() string                { return "mq_" + b.scanID }
func (b *fakeBroker) URL() string                        { return "amqp://guest:guest@mq_" + b.scanID + ":5672/" }
func (b *fakeBroker) VHost() string                      { return "/" + b.scanID }

// fakeInstaller resolves images from a static map.
type fakeInstaller struct {
	mu        sync.Mutex
	images    map[string]string
	installed []string
	err       error
}

func newFakeInstaller(images map[string]string) *fakeInstaller {
	if images == nil {
		images = make(map[string]string)
	}
	return &fakeInstaller{images: images}
}

func (f *fakeInstaller) Install(ctx context.Context, agentKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.installed = append(f.installed, agentKey)
	return nil
}

func (f *fakeInstaller) ResolveImage(ctx context.Context, agentKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[agentKey], nil
}

type fakeStreamer struct {
	mu       sync.Mutex
	streamed []string
	err      error
}

func (f *fakeStreamer) Stream(ctx context.Context, serviceID, serviceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.streamed = append(f.streamed, serviceName)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.ScanEvent
}

func (f *fakeEvents) PublishScanEvent(ctx context.Context, event domain.ScanEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) Subscribe(ctx context.Context) (<-chan domain.ScanEvent, error) {
	ch := make(chan domain.ScanEvent)
	close(ch)
	return ch, nil
}

func (f *fakeEvents) stages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	stages := make([]string, 0, len(f.events))
	for _, event := range f.events {
		stages = append(stages, event.Stage)
	}
	return stages
}
