package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivescan/hivescan/internal/core/domain"
	"github.com/hivescan/hivescan/internal/core/logger"
	"github.com/hivescan/hivescan/internal/core/ports"
)

const networkPrefix = "hivescan_network"

// LocalRuntime orchestrates distributed scans on the local cluster: it
// stands up the scan infrastructure, starts and verifies agent tiers in
// order, injects the target asset, and tears universes down by label.
//
// Orchestration is single-threaded and strictly sequential. The runtime
// assumes single-writer semantics per scan id: no lock guards two instances
// acting on the same universe.
type LocalRuntime struct {
	store     ports.ScanStore
	cluster   ports.ClusterManager
	installer ports.AgentInstaller
	streamer  ports.LogStreamer
	events    ports.EventPublisher
	newBroker ports.BrokerFactory
	health    *HealthChecker

	// Follow lists agent keys whose log output is streamed live.
	Follow []string

	scan   *domain.Scan
	broker ports.Broker
}

func NewLocalRuntime(store ports.ScanStore, cluster ports.ClusterManager, installer ports.AgentInstaller,
	streamer ports.LogStreamer, events ports.EventPublisher, newBroker ports.BrokerFactory) *LocalRuntime {
	return &LocalRuntime{
		store:     store,
		cluster:   cluster,
		installer: installer,
		streamer:  streamer,
		events:    events,
		newBroker: newBroker,
		health:    NewHealthChecker(cluster),
	}
}

// Name returns the current scan id, or empty before a scan was created.
func (r *LocalRuntime) Name() string {
	if r.scan == nil {
		return ""
	}
	return r.scan.ID
}

// Network returns the scan's private network name, deterministically derived
// from the scan id.
func (r *LocalRuntime) Network() string {
	return networkPrefix + "_" + r.Name()
}

// CanRun reports whether the runtime can execute the group definition. The
// local runtime has no restrictions.
func (r *LocalRuntime) CanRun(group domain.AgentGroupDefinition) bool {
	return true
}

// Scan starts a scan on the asset using the provided agent group definition:
// record, network, broker, health verification, agent tiers in fixed order,
// then asset injection.
//
// Failure handling is deliberately asymmetric and must stay that way:
//   - broker never healthy: the error propagates, nothing is cleaned up and
//     the record stays CREATED;
//   - agent image missing: reported, resources already created are left
//     standing, no progress update;
//   - agent tier unhealthy (recoverable): Stop is invoked and progress is
//     set to ERROR.
func (r *LocalRuntime) Scan(ctx context.Context, title string, group domain.AgentGroupDefinition, asset domain.Asset) error {
	err := r.runScan(ctx, title, group, asset)
	if err == nil {
		logger.Info("scan created successfully", "scan_id", r.Name())
		return nil
	}

	switch {
	case IsRecoverable(err):
		logger.Error("agent not starting", "scan_id", r.Name(), "error", err)
		if stopErr := r.Stop(ctx, r.scan.ID); stopErr != nil {
			logger.Error("cleanup after unhealthy agent failed", "scan_id", r.scan.ID, "error", stopErr)
		}
		if updErr := r.store.UpdateProgress(ctx, r.scan.ID, domain.ScanProgressError); updErr != nil {
			logger.Error("updating scan progress failed", "scan_id", r.scan.ID, "error", updErr)
		}
		r.emit(ctx, "error", domain.ScanProgressError)
	case KindOf(err) == ErrKindAgentNotInstalled:
		logger.Error("agent not installed", "scan_id", r.Name(), "error", err)
	}
	return err
}

func (r *LocalRuntime) runScan(ctx context.Context, title string, group domain.AgentGroupDefinition, asset domain.Asset) error {
	logger.Info("creating scan entry", "title", title)
	scan, err := r.store.Create(ctx, title, asset.String())
	if err != nil {
		return fmt.Errorf("creating scan record: %w", err)
	}
	// The generated id derives the network name and the universe label of
	// every later resource; nothing may precede it.
	r.scan = scan
	r.emit(ctx, "scan_created", domain.ScanProgressCreated)

	logger.Info("creating network", "network", r.Network())
	if err := r.cluster.CreateNetwork(ctx, r.Network(), domain.UniverseLabels(scan.ID)); err != nil {
		return fmt.Errorf("creating network %s: %w", r.Network(), err)
	}

	logger.Info("starting services")
	r.broker = r.newBroker(scan.ID, r.Network())
	if err := r.broker.Start(ctx); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	r.emit(ctx, "broker_started", "")

	logger.Info("checking services are healthy")
	if !r.health.WaitInfraHealthy(ctx, r.broker.IsHealthy) {
		return errInfraUnhealthy("broker service " + r.broker.ServiceName() + " is unhealthy")
	}

	sequencer := NewAgentSequencer(r.cluster, r.installer, r.streamer, r.broker, scan.ID, r.Network(), r.Follow)

	logger.Info("starting pre-agents")
	if err := sequencer.StartPreAgents(ctx); err != nil {
		return err
	}
	logger.Info("checking pre-agents are healthy")
	if !r.health.WaitAgentsReady(ctx, scan.ID) {
		return errAgentNotHealthy("pre-agents")
	}
	r.emit(ctx, "pre_agents_ready", "")

	logger.Info("starting agents")
	if err := sequencer.StartMainAgents(ctx, group); err != nil {
		return err
	}
	logger.Info("checking agents are healthy")
	if !r.health.WaitAgentsReady(ctx, scan.ID) {
		return errAgentNotHealthy("agents")
	}
	r.emit(ctx, "agents_ready", "")

	logger.Info("starting post-agents")
	if err := sequencer.StartPostAgents(ctx); err != nil {
		return err
	}
	logger.Info("checking post-agents are healthy")
	if !r.health.WaitAgentsReady(ctx, scan.ID) {
		return errAgentNotHealthy("post-agents")
	}
	r.emit(ctx, "post_agents_ready", "")

	logger.Info("injecting asset", "asset", asset.String())
	if err := sequencer.InjectAsset(ctx, asset); err != nil {
		return err
	}

	logger.Info("updating scan status")
	if err := r.store.UpdateProgress(ctx, scan.ID, domain.ScanProgressInProgress); err != nil {
		return fmt.Errorf("updating scan progress: %w", err)
	}
	r.emit(ctx, "in_progress", domain.ScanProgressInProgress)
	return nil
}

// Stop removes every service, network and config labeled with the scan's
// universe. It is idempotent and independent of in-memory state: nothing
// matching is a no-op, and cleanup proceeds even without a persisted record.
func (r *LocalRuntime) Stop(ctx context.Context, scanID string) error {
	labels := domain.UniverseLabels(scanID)
	removed := 0

	services, err := r.cluster.ListServices(ctx, labels)
	if err != nil {
		return fmt.Errorf("listing scan services: %w", err)
	}
	for _, service := range services {
		logger.Debug("removing service", "service", service.Name)
		if err := r.cluster.RemoveService(ctx, service.ID); err != nil {
			return fmt.Errorf("removing service %s: %w", service.Name, err)
		}
		removed++
	}

	networks, err := r.cluster.ListNetworks(ctx, labels)
	if err != nil {
		return fmt.Errorf("listing scan networks: %w", err)
	}
	for _, network := range networks {
		logger.Debug("removing network", "network", network.Name)
		if err := r.cluster.RemoveNetwork(ctx, network.ID); err != nil {
			return fmt.Errorf("removing network %s: %w", network.Name, err)
		}
		removed++
	}

	configs, err := r.cluster.ListConfigs(ctx, labels)
	if err != nil {
		return fmt.Errorf("listing scan configs: %w", err)
	}
	for _, config := range configs {
		logger.Debug("removing config", "config", config.Name)
		if err := r.cluster.RemoveConfig(ctx, config.ID); err != nil {
			return fmt.Errorf("removing config %s: %w", config.Name, err)
		}
		removed++
	}

	if removed > 0 {
		logger.Info("all scan components stopped", "scan_id", scanID, "removed", removed)
	}

	scan, err := r.store.GetByID(ctx, scanID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Debug("no scan record for universe, cleanup only", "scan_id", scanID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching scan record: %w", err)
	}
	if err := r.store.UpdateProgress(ctx, scan.ID, domain.ScanProgressStopped); err != nil {
		return fmt.Errorf("updating scan progress: %w", err)
	}
	r.emit(ctx, "stopped", domain.ScanProgressStopped)
	logger.Info("scan stopped successfully", "scan_id", scanID)
	return nil
}

// List returns all persisted scans and warns about drift: live universes
// without a matching record. Pagination is accepted but ignored by the
// local runtime.
func (r *LocalRuntime) List(ctx context.Context, page, pageSize int) ([]*domain.Scan, error) {
	if page != 0 || pageSize != 0 {
		logger.Warn("local runtime ignores scan list pagination")
	}

	scans, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing scan records: %w", err)
	}
	known := make(map[string]struct{}, len(scans))
	for _, scan := range scans {
		known[scan.ID] = struct{}{}
	}

	services, err := r.cluster.ListServices(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing cluster services: %w", err)
	}
	seen := make(map[string]struct{})
	for _, service := range services {
		universeID, ok := service.Labels[domain.UniverseLabel]
		if !ok {
			continue
		}
		if _, dup := seen[universeID]; dup {
			continue
		}
		seen[universeID] = struct{}{}
		if _, ok := known[universeID]; !ok {
			logger.Warn("scan universe has no database record", "universe", universeID)
		}
	}

	return scans, nil
}

// Install acquires the default agent images.
func (r *LocalRuntime) Install(ctx context.Context) error {
	for _, agentKey := range DefaultAgentKeys {
		logger.Info("installing agent", "key", agentKey)
		if err := r.installer.Install(ctx, agentKey); err != nil {
			return fmt.Errorf("installing agent %s: %w", agentKey, err)
		}
	}
	return nil
}

// emit publishes a stage transition, best-effort.
func (r *LocalRuntime) emit(ctx context.Context, stage string, progress domain.ScanProgress) {
	if r.events == nil || r.scan == nil {
		return
	}
	event := domain.ScanEvent{
		ScanID:   r.scan.ID,
		Stage:    stage,
		Progress: progress,
		Time:     time.Now(),
	}
	if err := r.events.PublishScanEvent(ctx, event); err != nil {
		logger.Debug("publishing scan event failed", "stage", stage, "error", err)
	}
}
