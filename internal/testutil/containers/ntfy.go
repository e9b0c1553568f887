//go:build integration

package containers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NtfyContainer wraps an ntfy push server with anonymous publish access.
type NtfyContainer struct {
	container testcontainers.Container
	host      string
	port      int
}

// NtfyMessage is one cached message on a topic.
type NtfyMessage struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// NewNtfyContainer starts ntfy with an in-memory message cache. An empty
// imageTag means "latest".
func NewNtfyContainer(ctx context.Context, imageTag string) (*NtfyContainer, error) {
	if imageTag == "" {
		imageTag = "latest"
	}

	req := testcontainers.ContainerRequest{
		Image:        "binwiederhier/ntfy:" + imageTag,
		ExposedPorts: []string{"80/tcp"},
		Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
		Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
		WaitingFor: wait.ForHTTP("/v1/health").
			WithPort("80/tcp").
			WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "80")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	return &NtfyContainer{container: container, host: host, port: port.Int()}, nil
}

// Host returns host:port of the server.
func (c *NtfyContainer) Host() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// ShoutrrrURL returns a shoutrrr ntfy URL that publishes to topic over HTTP.
func (c *NtfyContainer) ShoutrrrURL(topic string) string {
	return fmt.Sprintf("ntfy://%s/%s?scheme=http", c.Host(), topic)
}

// PollMessages returns every cached message on topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	url := fmt.Sprintf("http://%s/%s/json?poll=1", c.Host(), topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll request failed with status %d: %s", resp.StatusCode, string(body))
	}

	// One JSON object per line.
	var messages []NtfyMessage
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg NtfyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("failed to parse message JSON: %w", err)
		}
		if msg.Event != "" && msg.Event != "message" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}

// Terminate removes the container.
func (c *NtfyContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
