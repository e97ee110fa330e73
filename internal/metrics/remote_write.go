package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/snappy"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// StartRemoteWrite periodically pushes tenant-labelled series to a
// Prometheus remote-write endpoint, one request per tenant.
func (c *Collector) StartRemoteWrite(ctx context.Context, logger *zap.Logger) {
	if c.config.RemoteWriteURL == "" {
		return
	}

	client := &http.Client{Timeout: 30 * time.Second}
	ticker := time.NewTicker(c.flushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeRemote(ctx, client); err != nil {
				logger.Warn("Remote write failed", zap.Error(err))
			}
		}
	}
}

func (c *Collector) flushInterval() time.Duration {
	if c.config.FlushInterval <= 0 {
		return 15 * time.Second
	}
	return c.config.FlushInterval
}

func (c *Collector) writeRemote(ctx context.Context, client *http.Client) error {
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	byTenant := groupByTenant(metricsToSamples(mfs, time.Now()))

	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for tenantID, series := range byTenant {
		for i := 0; i < len(series); i += batchSize {
			end := min(i+batchSize, len(series))
			if err := c.sendBatch(ctx, client, tenantID, series[i:end]); err != nil {
				return fmt.Errorf("failed to send batch for tenant %s: %w", tenantID, err)
			}
		}
	}

	return nil
}

// metricsToSamples converts families to remote-write series, keeping only
// series that carry a non-empty tenant_id label.
func metricsToSamples(mfs []*dto.MetricFamily, now time.Time) []prompb.TimeSeries {
	var samples []prompb.TimeSeries
	ts := now.UnixMilli()

	for _, mf := range mfs {
		for _, m := range mf.Metric {
			var tenantID string
			labels := make([]prompb.Label, 0, len(m.Label)+1)
			labels = append(labels, prompb.Label{Name: "__name__", Value: mf.GetName()})

			for _, l := range m.Label {
				if l.GetName() == "tenant_id" {
					tenantID = l.GetValue()
				}
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}

			if tenantID == "" {
				continue
			}

			var value float64
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = m.Counter.GetValue()
			case dto.MetricType_GAUGE:
				value = m.Gauge.GetValue()
			default:
				continue
			}

			samples = append(samples, prompb.TimeSeries{
				Labels:  labels,
				Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
			})
		}
	}

	return samples
}

func groupByTenant(series []prompb.TimeSeries) map[string][]prompb.TimeSeries {
	byTenant := make(map[string][]prompb.TimeSeries)
	for _, ts := range series {
		for _, label := range ts.Labels {
			if label.Name == "tenant_id" {
				byTenant[label.Value] = append(byTenant[label.Value], ts)
				break
			}
		}
	}
	return byTenant
}

func (c *Collector) sendBatch(ctx context.Context, client *http.Client, tenantID string, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}

	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RemoteWriteURL, bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	httpReq.Header.Set(c.config.TenantHeader, tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("remote write failed with status %d", resp.StatusCode)
	}

	return nil
}
