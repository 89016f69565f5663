package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hivescan/hivescan/internal/core/domain"
	"github.com/hivescan/hivescan/internal/core/logger"
	"github.com/hivescan/hivescan/internal/core/ports"
)

const maxProbeAttempts = 20

// RetryPolicy bounds a health verification loop: MaxAttempts probes with
// exponential backoff from InitialInterval capped at MaxInterval.
type RetryPolicy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var (
	// infraRetryPolicy verifies the singleton infra service (HTTP probe).
	infraRetryPolicy = RetryPolicy{MaxAttempts: maxProbeAttempts, InitialInterval: time.Second, MaxInterval: 12 * time.Second}
	// agentRetryPolicy verifies agent services (task-count probe).
	agentRetryPolicy = RetryPolicy{MaxAttempts: maxProbeAttempts, InitialInterval: time.Second, MaxInterval: 20 * time.Second}
)

var errNotYetHealthy = errors.New("not yet healthy")

// retryUntilTrue polls probe under policy until it returns true or the
// attempt budget is spent. It always yields the last observed verdict,
// never an error.
func retryUntilTrue(ctx context.Context, policy RetryPolicy, probe func(context.Context) bool) bool {
	healthy := false
	operation := func() error {
		healthy = probe(ctx)
		if !healthy {
			return errNotYetHealthy
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by attempts, not wall clock

	_ = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, policy.MaxAttempts-1), ctx))
	return healthy
}

// HealthChecker verifies infra and agent services with bounded retries.
type HealthChecker struct {
	cluster     ports.ClusterManager
	infraPolicy RetryPolicy
	agentPolicy RetryPolicy
}

func NewHealthChecker(cluster ports.ClusterManager) *HealthChecker {
	return &HealthChecker{
		cluster:     cluster,
		infraPolicy: infraRetryPolicy,
		agentPolicy: agentRetryPolicy,
	}
}

// WaitInfraHealthy wraps a single-shot infra probe in the infra retry
// policy.
func (c *HealthChecker) WaitInfraHealthy(ctx context.Context, probe func(context.Context) bool) bool {
	return retryUntilTrue(ctx, c.infraPolicy, probe)
}

// WaitAgentsReady polls the aggregate agent readiness of a universe under
// the task-count retry policy.
func (c *HealthChecker) WaitAgentsReady(ctx context.Context, universeID string) bool {
	return retryUntilTrue(ctx, c.agentPolicy, func(ctx context.Context) bool {
		return c.agentsReady(ctx, universeID, true)
	})
}

// agentsReady enumerates only long-running agent services of the universe.
// Run-once services are expected to complete and exit, so they are excluded.
// With failFast the first unhealthy service short-circuits the check.
func (c *HealthChecker) agentsReady(ctx context.Context, universeID string, failFast bool) bool {
	services, err := c.cluster.ListServices(ctx, domain.UniverseLabels(universeID))
	if err != nil {
		logger.Debug("listing agent services failed", "universe", universeID, "error", err)
		return false
	}
	ready := true
	for _, service := range services {
		if !strings.HasPrefix(service.Name, AgentServicePrefix) || service.RunOnce {
			continue
		}
		if c.serviceHealthy(ctx, service, 0) {
			logger.Debug("agent service is healthy", "service", service.Name)
		} else {
			logger.Debug("agent service is not healthy", "service", service.Name)
			if failFast {
				return false
			}
			ready = false
		}
	}
	return ready
}

// serviceHealthy compares the desired replica count (override or the
// service's configured count) against the tasks currently running. A missing
// service is unhealthy, never an error.
func (c *HealthChecker) serviceHealthy(ctx context.Context, service domain.ServiceSummary, replicasOverride uint64) bool {
	desired := service.Replicas
	if replicasOverride > 0 {
		desired = replicasOverride
	}
	tasks, err := c.cluster.ServiceTasks(ctx, service.Name)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Debug("listing service tasks failed", "service", service.Name, "error", err)
		}
		return false
	}
	running := uint64(0)
	for _, task := range tasks {
		if task.State == domain.TaskStateRunning {
			running++
		}
	}
	return running == desired
}
