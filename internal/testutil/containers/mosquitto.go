//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoAnonymousConfig = `listener 1883
allow_anonymous true
`

// MosquittoContainer wraps a testcontainers Eclipse Mosquitto broker that
// accepts anonymous clients.
type MosquittoContainer struct {
	container  testcontainers.Container
	brokerURL  string
	configFile string
}

// NewMosquittoContainer starts the broker and checks that a client can
// connect. An empty imageTag means "2.0".
func NewMosquittoContainer(ctx context.Context, imageTag string) (*MosquittoContainer, error) {
	if imageTag == "" {
		imageTag = "2.0"
	}

	configFile, err := writeTempConfig(mosquittoAnonymousConfig)
	if err != nil {
		return nil, err
	}

	req := testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:" + imageTag,
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		Files: []testcontainers.ContainerFile{{
			HostFilePath:      configFile,
			ContainerFilePath: "/mosquitto-no-auth.conf",
			FileMode:          0o644,
		}},
		WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		_ = os.Remove(configFile)
		return nil, fmt.Errorf("failed to start Mosquitto container: %w", err)
	}

	mc := &MosquittoContainer{container: container, configFile: configFile}
	host, err := container.Host(ctx)
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "1883")
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	mc.brokerURL = "tcp://" + net.JoinHostPort(host, strconv.Itoa(port.Int()))

	client, err := mc.NewClient("healthcheck")
	if err != nil {
		_ = mc.Terminate(context.Background())
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	client.Disconnect(250)
	return mc, nil
}

// BrokerURL returns the tcp:// URL of the broker.
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// NewClient connects a raw paho client. The caller disconnects it.
func (c *MosquittoContainer) NewClient(clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.brokerURL)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect timeout for client %s", clientID)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect client %s: %w", clientID, err)
	}
	return client, nil
}

// Publish sends payload to topic at QoS 1 through a short-lived client.
func (c *MosquittoContainer) Publish(topic string, payload []byte) error {
	client, err := c.NewClient("publisher-" + strconv.FormatInt(time.Now().UnixNano(), 36))
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	return token.Error()
}

// Terminate removes the container and its temporary config file.
func (c *MosquittoContainer) Terminate(ctx context.Context) error {
	var err error
	if c.container != nil {
		if terr := c.container.Terminate(ctx); terr != nil {
			err = fmt.Errorf("failed to terminate container: %w", terr)
		}
	}
	if c.configFile != "" {
		_ = os.Remove(c.configFile)
	}
	return err
}

func writeTempConfig(content string) (string, error) {
	f, err := os.CreateTemp("", "mosquitto-*.conf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp config: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close temp config: %w", err)
	}
	return f.Name(), nil
}
