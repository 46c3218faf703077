package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// ErrImageNotFound marks a container-mode sandbox requested without its
// isolation image being available.
var ErrImageNotFound = errors.New("sandbox image not found")

// ContainerClient wraps the Docker SDK client with sandbox-specific operations.
type ContainerClient struct {
	client *client.Client
}

// NewContainerClient creates a Docker client and verifies the daemon is
// accessible immediately, to fail fast.
func NewContainerClient() (*ContainerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible (is Docker running?): %w", err)
	}

	return &ContainerClient{client: cli}, nil
}

// Close closes the Docker client.
func (c *ContainerClient) Close() error {
	return c.client.Close()
}

// ImageExists checks if an image is present locally.
func (c *ContainerClient) ImageExists(ctx context.Context, imageName string) (bool, error) {
	images, err := c.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return false, fmt.Errorf("listing images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == imageName {
				return true, nil
			}
		}
	}
	return false, nil
}

// PullImage pulls an image and waits for completion.
func (c *ContainerClient) PullImage(ctx context.Context, imageName string) error {
	reader, err := c.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull response: %w", err)
	}
	return nil
}

// EnsureImage verifies the isolation image exists, pulling when allowed.
// A missing image with auto-pull disabled is ErrImageNotFound: container
// sandboxes require a pre-built image.
func (c *ContainerClient) EnsureImage(ctx context.Context, imageName string, autoPull bool) error {
	exists, err := c.ImageExists(ctx, imageName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if !autoPull {
		return fmt.Errorf("%w: %s", ErrImageNotFound, imageName)
	}
	if err := c.PullImage(ctx, imageName); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageNotFound, imageName, err)
	}
	return nil
}

// SandboxContainerConfig holds settings for one trial's isolation container.
type SandboxContainerConfig struct {
	Image        string
	Name         string
	WorkspaceDir string // mounted read-only at /workspace
	ResultsDir   string // mounted read-write at /results
	CPULimit     float64
	MemoryMB     int64
}

// CreateContainer creates and starts a network-isolated, read-only-root,
// resource-capped container with the sandbox mounts in place.
func (c *ContainerClient) CreateContainer(ctx context.Context, cfg SandboxContainerConfig) (string, error) {
	containerCfg := &container.Config{
		Image: cfg.Image,
		Cmd:   []string{"sleep", "infinity"},
		Tty:   false,
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   cfg.WorkspaceDir,
				Target:   "/workspace",
				ReadOnly: true,
			},
			{
				Type:   mount.TypeBind,
				Source: cfg.ResultsDir,
				Target: "/results",
			},
		},
		Tmpfs: map[string]string{"/tmp": "rw,size=256m"},
	}
	if cfg.CPULimit > 0 {
		hostCfg.Resources.NanoCPUs = int64(cfg.CPULimit * 1e9)
	}
	if cfg.MemoryMB > 0 {
		hostCfg.Resources.Memory = cfg.MemoryMB * 1024 * 1024
	}

	resp, err := c.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = c.RemoveContainer(context.Background(), resp.ID, true)
		return "", fmt.Errorf("starting container: %w", err)
	}

	return resp.ID, nil
}

// RemoveContainer removes a container.
func (c *ContainerClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if err := c.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}
	return nil
}

// startContainer provisions the isolation container for a container-mode
// sandbox, dialing the Docker client on first use.
func (m *Manager) startContainer(ctx context.Context, sb *Sandbox) error {
	if m.docker == nil {
		docker, err := NewContainerClient()
		if err != nil {
			return err
		}
		m.docker = docker
	}

	if err := m.docker.EnsureImage(ctx, m.dockerCfg.Image, m.dockerCfg.AutoPull); err != nil {
		return err
	}

	resultsDir := sb.Tmp
	id, err := m.docker.CreateContainer(ctx, SandboxContainerConfig{
		Image:        m.dockerCfg.Image,
		Name:         fmt.Sprintf("skillharness-%s", sb.TrialID),
		WorkspaceDir: sb.Workspace,
		ResultsDir:   resultsDir,
		CPULimit:     m.dockerCfg.CPULimit,
		MemoryMB:     m.dockerCfg.MemoryMB,
	})
	if err != nil {
		return err
	}
	sb.ContainerID = id
	return nil
}

// Close releases the Docker client if one was dialed.
func (m *Manager) Close() error {
	if m.docker != nil {
		return m.docker.Close()
	}
	return nil
}
