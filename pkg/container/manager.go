// Package container provisions per-user browser containers through the
// Docker API. Each container exposes the debugging port plus VNC/noVNC
// for human takeover.
package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// managedLabel marks containers owned by this service so listing and
// cleanup never touch unrelated containers.
const managedLabel = "webpilot.browser"

// Exposed container ports.
const (
	portVNC   = "5900/tcp"
	portNoVNC = "6080/tcp"
	portCDP   = "9222/tcp"
)

// BrowserContainer describes one provisioned browser.
type BrowserContainer struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	State     string `json:"state"`
	CDPPort   int    `json:"cdp_port"`
	VNCPort   int    `json:"vnc_port"`
	NoVNCPort int    `json:"novnc_port"`
}

// CDPURL returns the container's debugging origin on the host.
func (b *BrowserContainer) CDPURL() string {
	return fmt.Sprintf("http://localhost:%d", b.CDPPort)
}

// Manager creates and tears down browser containers.
type Manager struct {
	cli   *client.Client
	image string
}

// NewManager connects to the local Docker daemon.
func NewManager(browserImage string) (*Manager, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("container: create docker client: %w", err)
	}
	return &Manager{cli: cli, image: browserImage}, nil
}

// Close releases the Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// Create provisions and starts a browser container for the user, pulling
// the image if needed. Host ports are assigned by the daemon. A user with
// a running container gets that container back.
func (m *Manager) Create(ctx context.Context, userID string) (*BrowserContainer, error) {
	if existing, err := m.ForUser(ctx, userID); err == nil && existing != nil {
		return existing, nil
	}

	if err := m.ensureImage(ctx); err != nil {
		return nil, err
	}

	exposed := nat.PortSet{
		nat.Port(portVNC):   struct{}{},
		nat.Port(portNoVNC): struct{}{},
		nat.Port(portCDP):   struct{}{},
	}
	bindings := nat.PortMap{
		nat.Port(portVNC):   []nat.PortBinding{{HostIP: "127.0.0.1"}},
		nat.Port(portNoVNC): []nat.PortBinding{{HostIP: "127.0.0.1"}},
		nat.Port(portCDP):   []nat.PortBinding{{HostIP: "127.0.0.1"}},
	}

	resp, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        m.image,
			ExposedPorts: exposed,
			Labels: map[string]string{
				managedLabel: userID,
			},
		},
		&container.HostConfig{
			PortBindings: bindings,
			AutoRemove:   true,
			ShmSize:      2 << 30,
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("container: create: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("container: start %s: %w", resp.ID, err)
	}
	slog.Info("Browser container started", "container_id", resp.ID, "user_id", userID)

	return m.inspect(ctx, resp.ID)
}

// ForUser returns the user's running browser container, or nil when none
// exists.
func (m *Manager) ForUser(ctx context.Context, userID string) (*BrowserContainer, error) {
	f := filters.NewArgs(
		filters.Arg("label", managedLabel+"="+userID),
		filters.Arg("status", "running"),
	)
	list, err := m.cli.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return nil, fmt.Errorf("container: list: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return m.inspect(ctx, list[0].ID)
}

// Get returns the managed browser container with the given id, or nil
// when it does not exist or is not one of ours.
func (m *Manager) Get(ctx context.Context, containerID string) (*BrowserContainer, error) {
	bc, err := m.inspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if bc.UserID == "" {
		return nil, nil
	}
	return bc, nil
}

// Remove stops and removes a managed browser container by id. A missing
// or unmanaged container is not an error.
func (m *Manager) Remove(ctx context.Context, containerID string) error {
	bc, err := m.Get(ctx, containerID)
	if err != nil {
		return err
	}
	if bc == nil {
		return nil
	}
	if err := m.cli.ContainerRemove(ctx, bc.ID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container: remove %s: %w", bc.ID, err)
	}
	slog.Info("Browser container removed", "container_id", bc.ID, "user_id", bc.UserID)
	return nil
}

func (m *Manager) ensureImage(ctx context.Context) error {
	_, err := m.cli.ImageInspect(ctx, m.image)
	if err == nil {
		return nil
	}

	slog.Info("Pulling browser image", "image", m.image)
	reader, err := m.cli.ImagePull(ctx, m.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("container: pull %s: %w", m.image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("container: read pull output: %w", err)
	}
	return nil
}

// inspect resolves a container id to a BrowserContainer. The owning user
// comes from the managed label; unmanaged containers yield an empty
// UserID.
func (m *Manager) inspect(ctx context.Context, containerID string) (*BrowserContainer, error) {
	info, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("container: inspect %s: %w", containerID, err)
	}

	bc := &BrowserContainer{
		ID:    info.ID,
		State: info.State.Status,
	}
	if info.Config != nil {
		bc.UserID = info.Config.Labels[managedLabel]
	}
	if info.NetworkSettings != nil {
		bc.VNCPort = hostPort(info.NetworkSettings.Ports, portVNC)
		bc.NoVNCPort = hostPort(info.NetworkSettings.Ports, portNoVNC)
		bc.CDPPort = hostPort(info.NetworkSettings.Ports, portCDP)
	}
	return bc, nil
}

func hostPort(ports nat.PortMap, containerPort string) int {
	bindings := ports[nat.Port(containerPort)]
	if len(bindings) == 0 {
		return 0
	}
	p, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0
	}
	return p
}
