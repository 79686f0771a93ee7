package output

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"mythicwp/config"
	"mythicwp/logger"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

const reportEventName = "mythicwp.report"

// Exporter ships finished reports as OpenTelemetry log records over
// OTLP/HTTP.
type Exporter struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   exportPolicy
}

type exportPolicy struct {
	includeHashes bool
}

// NewExporter returns nil without error when no endpoint is configured.
func NewExporter(cfg *config.Config) (*Exporter, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.OtelServiceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &Exporter{
		provider: provider,
		logger:   provider.Logger("mythicwp"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy:   exportPolicy{includeHashes: cfg.OtelExportHashes},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (e *Exporter) Endpoint() string {
	if e == nil {
		return ""
	}
	return e.endpoint
}

// ExportReport emits one log record for a complete report.
func (e *Exporter) ExportReport(lines []Line) {
	if e == nil || e.logger == nil {
		return
	}
	body, attrs := reportRecord(lines, e.policy)

	var record otelLog.Record
	now := time.Now()
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName(reportEventName)
	record.AddAttributes(attrs...)
	record.SetBody(otelLog.MapValue(toLogKeyValues(body)...))

	e.logger.Emit(context.Background(), record)
}

func (e *Exporter) Shutdown() {
	if e == nil || e.provider == nil {
		return
	}
	timeout := e.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

// reportRecord turns report lines into a record body keyed by label plus
// the attributes describing it. Hash maps are replaced by their entry count
// unless the policy allows them.
func reportRecord(lines []Line, policy exportPolicy) (map[string]interface{}, []otelLog.KeyValue) {
	body := make(map[string]interface{}, len(lines))
	var kvs []otelLog.KeyValue
	fields := 0

	for _, line := range lines {
		switch line.Label {
		case "BEGIN_REPORT":
			parts := strings.Split(line.Value, "\t")
			kvs = appendStringAttr(kvs, "mythicwp.report.tool", parts[0])
			if len(parts) > 1 {
				kvs = appendStringAttr(kvs, "mythicwp.report.schema_version", parts[1])
			}
			continue
		case "END_REPORT":
			continue
		case "INSTANCE_ID":
			kvs = appendStringAttr(kvs, string(semconv.ServiceInstanceIDKey), line.Value)
		case "HASHES":
			kvs = append(kvs, otelLog.Bool("mythicwp.report.deep_hash", false))
		}
		fields++

		if !line.JSON {
			body[line.Label] = line.Value
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(line.Value), &decoded); err != nil {
			body[line.Label] = line.Value
			continue
		}
		if isHashLabel(line.Label) {
			if count, ok := valueCount(decoded); ok {
				kvs = append(kvs, otelLog.Int64(fmt.Sprintf("mythicwp.report.%s_count", strings.ToLower(line.Label)), int64(count)))
			}
			if !policy.includeHashes {
				continue
			}
		}
		body[line.Label] = decoded
	}

	kvs = append(kvs, otelLog.Int64("mythicwp.report.field_count", int64(fields)))
	return body, kvs
}

func isHashLabel(label string) bool {
	return strings.HasSuffix(label, "_HASH")
}

func valueCount(value interface{}) (int, bool) {
	switch v := value.(type) {
	case []interface{}:
		return len(v), true
	case map[string]interface{}:
		return len(v), true
	default:
		return 0, false
	}
}

// toLogValue converts a decoded report value. JSON decoding only yields
// nil, bool, float64, string, slices and string-keyed maps; plain text
// fields arrive as strings.
func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return otelLog.Int64Value(int64(v))
		}
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case []interface{}:
		values := make([]otelLog.Value, len(v))
		for i, item := range v {
			values[i] = toLogValue(item)
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.StringValue(fmt.Sprint(v))
	}
}

// toLogKeyValues emits keys in sorted order so identical reports produce
// identical records.
func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	keys := slices.Sorted(maps.Keys(values))
	kvs := make([]otelLog.KeyValue, len(keys))
	for i, key := range keys {
		kvs[i] = otelLog.KeyValue{Key: key, Value: toLogValue(values[key])}
	}
	return kvs
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
