// Package installer acquires agent container images and resolves the image
// to run for an agent key. An agent key maps to an image name by replacing
// path separators, e.g. agent/hivescan/tracker -> agent_hivescan_tracker.
package installer

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/hivescan/hivescan/internal/core/circuitbreaker"
	"github.com/hivescan/hivescan/internal/core/logger"
)

type Registry struct {
	cli     *client.Client
	breaker *circuitbreaker.Breaker
}

// New builds a registry sharing the caller's Docker client.
func New(cli *client.Client) *Registry {
	return &Registry{
		cli:     cli,
		breaker: circuitbreaker.New("agent-registry"),
	}
}

// Install pulls the agent image. Registry calls go through a circuit
// breaker so a dead registry fails fast across a batch install.
func (r *Registry) Install(ctx context.Context, agentKey string) error {
	ref := imageName(agentKey) + ":latest"
	return r.breaker.Execute(ctx, func() error {
		reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pulling %s: %w", ref, err)
		}
		defer reader.Close()
		// Consume the stream so the pull completes.
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return fmt.Errorf("pulling %s: %w", ref, err)
		}
		logger.Info("agent image installed", "image", ref)
		return nil
	})
}

// ResolveImage returns the highest locally installed version tag for the
// agent key, or empty when the agent is not installed.
func (r *Registry) ResolveImage(ctx context.Context, agentKey string) (string, error) {
	images, err := r.cli.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("listing images: %w", err)
	}
	name := imageName(agentKey)
	var tags []string
	for _, summary := range images {
		tags = append(tags, summary.RepoTags...)
	}
	best := bestTag(name, tags)
	if best == "" {
		return "", nil
	}
	return name + ":" + best, nil
}

func imageName(agentKey string) string {
	return strings.ReplaceAll(agentKey, "/", "_")
}

// bestTag picks the highest vX.Y.Z tag of the named image from the tag list.
// The plain "latest" tag is used only when no version tag exists.
func bestTag(name string, repoTags []string) string {
	var best string
	var bestVersion [3]int
	hasLatest := false
	for _, repoTag := range repoTags {
		tagName, tag, ok := strings.Cut(repoTag, ":")
		if !ok || tagName != name {
			continue
		}
		if tag == "latest" {
			hasLatest = true
			continue
		}
		version, ok := parseVersion(tag)
		if !ok {
			logger.Debug("ignoring invalid version tag", "image", name, "tag", tag)
			continue
		}
		if best == "" || versionLess(bestVersion, version) {
			best = tag
			bestVersion = version
		}
	}
	if best == "" && hasLatest {
		return "latest"
	}
	return best
}

// parseVersion parses tags of the form vMAJOR.MINOR.PATCH.
func parseVersion(tag string) ([3]int, bool) {
	var version [3]int
	raw, ok := strings.CutPrefix(tag, "v")
	if !ok {
		return version, false
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return version, false
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return version, false
		}
		version[i] = n
	}
	return version, true
}

func versionLess(a, b [3]int) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
