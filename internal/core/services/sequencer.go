package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hivescan/hivescan/internal/core/domain"
	"github.com/hivescan/hivescan/internal/core/logger"
	"github.com/hivescan/hivescan/internal/core/ports"
)

// AgentServicePrefix distinguishes agent services from infrastructure
// services during listing and health checks.
const AgentServicePrefix = "agent_"

const (
	injectAssetAgentKey  = "agent/hivescan/inject_asset"
	trackerAgentKey      = "agent/hivescan/tracker"
	persistVulnzAgentKey = "agent/hivescan/local_persist_vulnz"
)

// DefaultAgentKeys are the agents every local scan depends on.
var DefaultAgentKeys = []string{
	injectAssetAgentKey,
	trackerAgentKey,
	persistVulnzAgentKey,
}

// AgentSequencer orders and starts the agent services of one scan universe:
// pre-agents (persistence), main agents, post-agents (tracker) and the
// run-once asset injector.
type AgentSequencer struct {
	cluster   ports.ClusterManager
	installer ports.AgentInstaller
	streamer  ports.LogStreamer
	broker    ports.Broker
	scanID    string
	network   string
	follow    map[string]struct{}
}

func NewAgentSequencer(cluster ports.ClusterManager, installer ports.AgentInstaller, streamer ports.LogStreamer,
	broker ports.Broker, scanID, network string, follow []string) *AgentSequencer {
	followSet := make(map[string]struct{}, len(follow))
	for _, key := range follow {
		followSet[key] = struct{}{}
	}
	return &AgentSequencer{
		cluster:   cluster,
		installer: installer,
		streamer:  streamer,
		broker:    broker,
		scanID:    scanID,
		network:   network,
		follow:    followSet,
	}
}

// StartAgent materializes a cluster service from the agent settings,
// optionally referencing one-shot resources created for this invocation.
func (s *AgentSequencer) StartAgent(ctx context.Context, agent domain.AgentSettings, extraConfigs []domain.ConfigReference) error {
	logger.Debug("starting agent", "key", agent.Key, "replicas", agent.Replicas)

	if agent.ContainerImage == "" {
		return errAgentNotInstalled(agent.Key)
	}

	spec, err := s.serviceSpec(agent, extraConfigs)
	if err != nil {
		return err
	}
	created, err := s.cluster.CreateService(ctx, spec)
	if err != nil {
		return fmt.Errorf("creating service for agent %s: %w", agent.Key, err)
	}

	if _, ok := s.follow[agent.Key]; ok && s.streamer != nil {
		if err := s.streamer.Stream(ctx, created.ID, created.Name); err != nil {
			logger.Warn("log stream attach failed", "service", created.Name, "error", err)
		}
	}

	if agent.Replicas > 1 {
		return s.scaleService(ctx, created.Name, uint64(agent.Replicas))
	}
	return nil
}

// scaleService re-fetches the service by name from the live list before
// issuing the scale call. Requesting multiple replicas directly at creation
// time races on the cluster platform, so services are created with a single
// replica and scaled afterwards against a fresh handle.
func (s *AgentSequencer) scaleService(ctx context.Context, serviceName string, replicas uint64) error {
	services, err := s.cluster.ListServices(ctx, nil)
	if err != nil {
		return fmt.Errorf("refreshing service %s before scale: %w", serviceName, err)
	}
	for _, service := range services {
		if service.Name == serviceName {
			return s.cluster.ScaleService(ctx, service.Name, replicas)
		}
	}
	return nil
}

func (s *AgentSequencer) serviceSpec(agent domain.AgentSettings, extraConfigs []domain.ConfigReference) (domain.ServiceSpec, error) {
	argsJSON, err := json.Marshal(agent.Args)
	if err != nil {
		return domain.ServiceSpec{}, fmt.Errorf("encoding args for agent %s: %w", agent.Key, err)
	}

	env := []string{
		"HIVESCAN_UNIVERSE=" + s.scanID,
		"HIVESCAN_AGENT_KEY=" + agent.Key,
		"HIVESCAN_AGENT_ARGS=" + string(argsJSON),
	}
	if s.broker != nil {
		env = append(env,
			"HIVESCAN_BUS_URL="+s.broker.URL(),
			"HIVESCAN_BUS_VHOST="+s.broker.VHost(),
		)
	}

	restart := agent.RestartPolicy
	if restart == "" {
		restart = domain.RestartPolicyAny
	}

	return domain.ServiceSpec{
		Name:          agentServiceName(agent.Key, s.scanID),
		Image:         agent.ContainerImage,
		Labels:        domain.UniverseLabels(s.scanID),
		Network:       s.network,
		Env:           env,
		Mounts:        agent.Mounts,
		RestartPolicy: restart,
		Replicas:      1, // scaled up after creation, see scaleService
		Configs:       extraConfigs,
	}, nil
}

// StartPreAgents starts the persistence agent. Producers must not start
// before the vulnerability sink is present.
func (s *AgentSequencer) StartPreAgents(ctx context.Context) error {
	return s.startDefaultAgent(ctx, persistVulnzAgentKey, domain.RestartPolicyAny, nil)
}

// StartMainAgents starts one service per distinct agent key in the group.
func (s *AgentSequencer) StartMainAgents(ctx context.Context, group domain.AgentGroupDefinition) error {
	for _, agent := range group.Agents {
		if err := s.StartAgent(ctx, agent, nil); err != nil {
			return err
		}
	}
	return nil
}

// StartPostAgents starts the tracker, which must observe already-running
// agents.
func (s *AgentSequencer) StartPostAgents(ctx context.Context) error {
	return s.startDefaultAgent(ctx, trackerAgentKey, domain.RestartPolicyAny, nil)
}

// InjectAsset creates the asset payload and selector configs, then starts
// the run-once injector agent referencing both.
func (s *AgentSequencer) InjectAsset(ctx context.Context, asset domain.Asset) error {
	payload, err := asset.Payload()
	if err != nil {
		return fmt.Errorf("serializing asset: %w", err)
	}
	labels := domain.UniverseLabels(s.scanID)

	assetRef, err := s.cluster.CreateConfig(ctx, "asset_"+s.scanID, labels, payload, "/tmp/asset.binpb")
	if err != nil {
		return fmt.Errorf("creating asset config: %w", err)
	}
	selectorRef, err := s.cluster.CreateConfig(ctx, "asset_selector_"+s.scanID, labels, []byte(asset.Selector()), "/tmp/asset_selector.txt")
	if err != nil {
		return fmt.Errorf("creating asset selector config: %w", err)
	}

	return s.startDefaultAgent(ctx, injectAssetAgentKey, domain.RestartPolicyNone,
		[]domain.ConfigReference{*assetRef, *selectorRef})
}

func (s *AgentSequencer) startDefaultAgent(ctx context.Context, key string, restart domain.RestartPolicy, configs []domain.ConfigReference) error {
	image, err := s.installer.ResolveImage(ctx, key)
	if err != nil {
		return fmt.Errorf("resolving image for agent %s: %w", key, err)
	}
	settings := domain.AgentSettings{
		Key:            key,
		ContainerImage: image,
		Replicas:       1,
		RestartPolicy:  restart,
	}
	return s.StartAgent(ctx, settings, configs)
}

// agentServiceName derives the service name from the agent key and the
// universe id, e.g. agent/hivescan/nmap -> agent_nmap_<id>.
func agentServiceName(agentKey, scanID string) string {
	parts := strings.Split(agentKey, "/")
	short := parts[len(parts)-1]
	if short == "" {
		short = strings.ReplaceAll(agentKey, "/", "_")
	}
	return AgentServicePrefix + short + "_" + scanID
}
