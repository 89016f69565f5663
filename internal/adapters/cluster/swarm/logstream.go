package swarm

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"

	"github.com/hivescan/hivescan/internal/core/logger"
)

// Stream follows a service's log output in the background and writes each
// line through the structured logger. Implements ports.LogStreamer.
func (m *Manager) Stream(ctx context.Context, serviceID, serviceName string) error {
	rc, err := m.cli.ServiceLogs(ctx, serviceID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return fmt.Errorf("attaching to logs of %s: %w", serviceName, err)
	}

	go func() {
		defer rc.Close()
		err := demultiplexStream(rc, func(line string) {
			logger.Info(line, "service", serviceName)
		})
		if err != nil && ctx.Err() == nil {
			logger.Debug("log stream ended", "service", serviceName, "error", err)
		}
	}()
	return nil
}

// demultiplexStream reads Docker's multiplexed log format:
// [1 byte stream type][3 bytes padding][4 bytes big-endian size][payload].
func demultiplexStream(r io.Reader, lineCallback func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Split(func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if len(data) < 8 {
			return 0, nil, nil
		}
		size := binary.BigEndian.Uint32(data[4:8])
		totalSize := 8 + int(size)
		if len(data) < totalSize {
			return 0, nil, nil
		}
		return totalSize, data[8:totalSize], nil
	})

	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lineCallback(line)
		}
	}
	return scanner.Err()
}
