// Package rabbitmq starts and probes the per-scan message broker. The
// broker's wire protocol is agent-internal; the runtime only materializes
// the service and judges its health.
package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hivescan/hivescan/internal/core/domain"
	"github.com/hivescan/hivescan/internal/core/logger"
	"github.com/hivescan/hivescan/internal/core/ports"
)

const (
	servicePrefix = "mq_"
	amqpPort      = 5672

	// Every scan service, the broker included, answers the runtime's health
	// convention: GET /status on port 5000 returning 200 "OK".
	healthCheckPort = 5000
	healthCheckPath = "/status"
)

// Broker is a per-scan RabbitMQ instance running as a labeled cluster
// service on the scan's private network.
type Broker struct {
	cluster ports.ClusterManager
	image   string
	scanID  string
	network string

	httpClient *http.Client
	healthPort int
}

// Factory returns a ports.BrokerFactory binding brokers to the given
// cluster manager and image.
func Factory(cluster ports.ClusterManager, image string) ports.BrokerFactory {
	return func(scanID, network string) ports.Broker {
		return New(cluster, image, scanID, network)
	}
}

func New(cluster ports.ClusterManager, image, scanID, network string) *Broker {
	return &Broker{
		cluster:    cluster,
		image:      image,
		scanID:     scanID,
		network:    network,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		healthPort: healthCheckPort,
	}
}

func (b *Broker) ServiceName() string {
	return servicePrefix + b.scanID
}

// URL is the AMQP endpoint agents connect to inside the scan network.
func (b *Broker) URL() string {
	return fmt.Sprintf("amqp://guest:guest@%s:%d/", b.ServiceName(), amqpPort)
}

// VHost isolates the scan's exchanges from any other broker user.
func (b *Broker) VHost() string {
	return "/" + b.scanID
}

// Start materializes the broker service, labeled with the scan universe.
func (b *Broker) Start(ctx context.Context) error {
	logger.Debug("starting broker service", "service", b.ServiceName())
	_, err := b.cluster.CreateService(ctx, domain.ServiceSpec{
		Name:          b.ServiceName(),
		Image:         b.image,
		Labels:        domain.UniverseLabels(b.scanID),
		Network:       b.network,
		Env:           []string{"RABBITMQ_DEFAULT_VHOST=" + b.VHost()},
		RestartPolicy: domain.RestartPolicyAny,
		Replicas:      1,
	})
	if err != nil {
		return fmt.Errorf("creating broker service: %w", err)
	}
	return nil
}

// IsHealthy is a single unretried probe: every resolved task address must
// answer the health convention. Retrying is the health checker's concern.
func (b *Broker) IsHealthy(ctx context.Context) bool {
	addrs := b.cluster.ResolveTaskAddresses(ctx, b.ServiceName())
	if len(addrs) == 0 {
		return false
	}
	for _, addr := range addrs {
		if !b.probe(ctx, addr) {
			return false
		}
	}
	return true
}

// probe treats any connection failure as "not yet healthy", not an error.
func (b *Broker) probe(ctx context.Context, addr string) bool {
	url := fmt.Sprintf("http://%s:%d%s", addr, b.healthPort, healthCheckPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		logger.Debug("unable to connect", "addr", addr, "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return false
	}
	return string(body) == "OK"
}
