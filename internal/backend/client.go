package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog/log"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/config"
	"github.com/sebastiankruger/factory-twin/internal/core"
	"github.com/sebastiankruger/factory-twin/internal/sensor"
)

const (
	// maxEventSize bounds a single sensor stream event
	maxEventSize = 64 * 1024
	// defaultRetryDelay is the reconnect delay when none is configured
	defaultRetryDelay = 5 * time.Second
)

// Client handles communication with the production backend
type Client struct {
	cfg          *config.Config
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new backend client
func NewClient(cfg *config.Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// The sensor stream is long-lived; only ctx ends it.
		streamClient: &http.Client{},
	}
}

// FetchRecords returns the current production records. The backend may
// answer with a single object or an array.
func (c *Client) FetchRecords(ctx context.Context) ([]core.ProductionRecord, error) {
	body, err := c.get(ctx, c.cfg.RecordPath)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []core.ProductionRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to decode production records: %w", err)
		}
		return records, nil
	}

	var record core.ProductionRecord
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("failed to decode production record: %w", err)
	}
	return []core.ProductionRecord{record}, nil
}

// FetchResult returns the result record of a finished scripted run
func (c *Client) FetchResult(ctx context.Context) (core.ProductionRecord, error) {
	var record core.ProductionRecord

	body, err := c.get(ctx, c.cfg.ResultPath)
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(body, &record); err != nil {
		return record, fmt.Errorf("failed to decode run result: %w", err)
	}
	return record, nil
}

// LoadFlows returns the product flow catalog
func (c *Client) LoadFlows(ctx context.Context) ([]catalog.ProductFlowDefinition, error) {
	body, err := c.get(ctx, c.cfg.FlowPath)
	if err != nil {
		return nil, err
	}

	var defs []catalog.ProductFlowDefinition
	if err := json.Unmarshal(body, &defs); err != nil {
		return nil, fmt.Errorf("failed to decode product flows: %w", err)
	}
	if err := catalog.ValidateFlows(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Submit sends a confirmed result to the persistence endpoint
func (c *Client) Submit(ctx context.Context, sub core.Submission) error {
	url := c.cfg.BackendEndpoint + c.cfg.SubmissionPath

	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend rejected submission: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	log.Debug().Str("lot", sub.LotNumber).Msg("Result submitted to backend")
	return nil
}

// StreamSensors subscribes to the server-sent sensor stream and calls fn for
// every decodable event. Failed connections are retried every
// SensorRetryDelay until ctx is cancelled. It returns nil when the backend
// ends the stream.
func (c *Client) StreamSensors(ctx context.Context, fn func(sensor.Event)) error {
	url := c.cfg.BackendEndpoint + c.cfg.SensorStreamPath

	retry := c.cfg.SensorRetryDelay
	if retry <= 0 {
		retry = defaultRetryDelay
	}

	stream := sse.NewClient(url, sse.ClientMaxBufferSize(maxEventSize))
	stream.Connection = c.streamClient
	stream.ReconnectStrategy = backoff.WithContext(backoff.NewConstantBackOff(retry), ctx)
	stream.ReconnectNotify = func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retryIn", next).Msg("Sensor stream connection failed")
	}
	stream.OnConnect(func(*sse.Client) {
		log.Info().Str("url", url).Msg("Sensor stream connected")
	})

	err := stream.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		var ev sensor.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Debug().Err(err).Msg("Skipping undecodable sensor event")
			return
		}
		fn(ev)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("sensor stream failed: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	url := c.cfg.BackendEndpoint + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return body, nil
}
