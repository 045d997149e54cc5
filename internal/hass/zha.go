package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trv-manager/internal/transport"
)

// ZHA implements transport.Transport through Home Assistant's ZHA
// integration: writes go via the set_zigbee_cluster_attribute service, reads
// via the cluster attribute value command. Both are synchronous round trips
// over the mesh, so a sleeping device surfaces as a timeout here.
type ZHA struct {
	client  *Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewZHA creates the transport. timeout caps each mesh round trip; zero
// means 15 seconds.
func NewZHA(client *Client, timeout time.Duration, logger *slog.Logger) *ZHA {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ZHA{
		client:  client,
		logger:  logger.With("component", "zha"),
		timeout: timeout,
	}
}

func (z *ZHA) ReadAttribute(ctx context.Context, req transport.Request) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, z.timeout)
	defer cancel()

	payload := map[string]any{
		"type":         "zha/devices/clusters/attributes/value",
		"ieee":         req.IEEE,
		"endpoint_id":  int(req.Endpoint),
		"cluster_id":   int(req.Cluster),
		"cluster_type": "in",
		"attribute":    int(req.Attribute),
	}
	if req.Manufacturer != 0 {
		payload["manufacturer"] = int(req.Manufacturer)
	}

	raw, err := z.client.Call(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("read attribute 0x%04X/0x%04X from %s: %w",
			req.Cluster, req.Attribute, req.IEEE, err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode attribute value: %w", err)
	}
	return value, nil
}

func (z *ZHA) WriteAttribute(ctx context.Context, req transport.Request, value any) transport.WriteResult {
	ctx, cancel := context.WithTimeout(ctx, z.timeout)
	defer cancel()

	data := map[string]any{
		"ieee":         req.IEEE,
		"endpoint_id":  int(req.Endpoint),
		"cluster_id":   int(req.Cluster),
		"cluster_type": "in",
		"attribute":    int(req.Attribute),
		"value":        value,
	}
	if req.Manufacturer != 0 {
		data["manufacturer"] = int(req.Manufacturer)
	}

	_, err := z.client.Call(ctx, map[string]any{
		"type":         "call_service",
		"domain":       "zha",
		"service":      "set_zigbee_cluster_attribute",
		"service_data": data,
	})
	return classifyWrite(err)
}

// classifyWrite maps transport-level errors onto the tagged write statuses.
func classifyWrite(err error) transport.WriteResult {
	switch {
	case err == nil:
		return transport.WriteResult{Status: transport.StatusSuccess}
	case errors.Is(err, context.DeadlineExceeded):
		return transport.WriteResult{Status: transport.StatusTimeout, Err: err}
	default:
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return transport.WriteResult{Status: transport.StatusProtocolError, Err: err}
		}
		return transport.WriteResult{Status: transport.StatusFailure, Err: err}
	}
}
