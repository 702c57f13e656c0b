package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// GatewayClient talks to a gateway's own HTTP API. The console only
// interprets success/failure and the response body text; what the
// gateway does with a call is its business.
type GatewayClient struct {
	httpClient *resty.Client
	port       int
	logger     *zap.Logger
}

// NewGatewayClient 创建 gateway API 客户端
// configure_node pulls adapter images on the gateway, which can take
// minutes — hence the caller-supplied timeout rather than a default.
func NewGatewayClient(port int, timeout time.Duration, logger *zap.Logger) *GatewayClient {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &GatewayClient{
		httpClient: client,
		port:       port,
		logger:     logger,
	}
}

// SetBaseURLForTest points the client at a test server instead of
// deriving URLs from gateway IPs.
func (c *GatewayClient) SetBaseURLForTest(baseURL string) {
	c.httpClient.SetBaseURL(baseURL)
	c.port = 0
}

func (c *GatewayClient) url(ip, path string) string {
	if c.port == 0 {
		return path
	}
	return fmt.Sprintf("http://%s:%d%s", ip, c.port, path)
}

// NodeGatewayConfig is what configure_node ships to the gateway.
type NodeGatewayConfig struct {
	GroupID     string   `json:"group_id"`
	NodeID      string   `json:"node_id"`
	BrokerIP    string   `json:"broker_ip"`
	AppServices []string `json:"app_services"`
}

func (c *GatewayClient) ConfigureNode(ctx context.Context, ip string, cfg NodeGatewayConfig) error {
	return c.post(ctx, ip, "/api/configure_node/configure_node", cfg)
}

func (c *GatewayClient) ConfigureMQTTBridge(ctx context.Context, ip, brokerIP string) error {
	return c.post(ctx, ip, "/api/configure_node/MQTT", map[string]string{"broker_ip": brokerIP})
}

func (c *GatewayClient) AddDevice(ctx context.Context, ip, protocol string, config any) error {
	return c.post(ctx, ip, "/api/add_devices/add_device",
		map[string]any{"protocol": protocol, "config": config})
}

func (c *GatewayClient) DeleteDeviceService(ctx context.Context, ip, deviceID string) error {
	return c.post(ctx, ip, "/api/add_devices/delete_device_service",
		map[string]string{"device_id": deviceID})
}

func (c *GatewayClient) DeleteNode(ctx context.Context, ip string) error {
	return c.post(ctx, ip, "/api/configure_node/delete_node", nil)
}

// GetContainerLogs fetches the adapter container's log tail for a
// device so the node page can show it.
func (c *GatewayClient) GetContainerLogs(ctx context.Context, ip, deviceID string) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"device_id": deviceID}).
		Post(c.url(ip, "/api/add_devices/get_container_logs"))
	if err != nil {
		return "", fmt.Errorf("gateway logs request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("gateway returned %s: %s", resp.Status(), resp.String())
	}
	return resp.String(), nil
}

func (c *GatewayClient) post(ctx context.Context, ip, path string, body any) error {
	req := c.httpClient.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(c.url(ip, path))
	if err != nil {
		return fmt.Errorf("gateway request %s failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway returned %s for %s: %s", resp.Status(), path, resp.String())
	}
	c.logger.Debug("gateway call ok",
		zap.String("ip", ip), zap.String("path", path), zap.Int("status", resp.StatusCode()))
	return nil
}
