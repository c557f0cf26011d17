// =============================================================================
// ProvisionFlow OpenTelemetry 初始化
// =============================================================================
// 重试执行、工作流步骤和 HTTP 请求都通过全局 TracerProvider 开启 span。
// 未启用时全局 provider 保持 noop，不连接任何外部服务。
// =============================================================================

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/provisionflow/config"
)

// Providers 持有已安装的 SDK provider；未启用时两者均为 nil
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Option 配置 Init
type Option func(*options)

type options struct {
	spans   sdktrace.SpanExporter
	metrics sdkmetric.Reader
}

// WithSpanExporter 替换默认的 OTLP gRPC span 导出器
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spans = exp }
}

// WithMetricReader 替换默认的 OTLP gRPC 周期性指标读取器
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.metrics = r }
}

// Init 按配置安装全局 TracerProvider / MeterProvider 与 W3C 传播器。
// version 为空时取构建信息中的模块版本。
func Init(ctx context.Context, cfg config.TelemetryConfig, version string, logger *zap.Logger, opts ...Option) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telemetry"))
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop providers")
		return &Providers{}, nil
	}
	if version == "" {
		version = buildVersion()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	if err := o.fillDefaults(ctx, cfg.OTLPEndpoint); err != nil {
		return nil, err
	}

	// 子 span 跟随父 span 的采样决定，根 span 按比例采样
	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(o.spans),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		),
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(o.metrics),
			sdkmetric.WithResource(res),
		),
	}
	p.install()

	logger.Info("telemetry initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.String("service_version", version),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

// fillDefaults 为未注入的导出器创建 OTLP gRPC 实现
func (o *options) fillDefaults(ctx context.Context, endpoint string) error {
	if o.spans == nil {
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		o.spans = exp
	}
	if o.metrics == nil {
		exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			_ = o.spans.Shutdown(ctx)
			return fmt.Errorf("metric exporter: %w", err)
		}
		o.metrics = sdkmetric.NewPeriodicReader(exp)
	}
	return nil
}

func (p *Providers) install() {
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Enabled 是否安装了真实导出器
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Tracer 未启用时退回全局 tracer
func (p *Providers) Tracer(name string) trace.Tracer {
	if p.Enabled() {
		return p.tp.Tracer(name)
	}
	return otel.Tracer(name)
}

// Meter 未启用时退回全局 meter
func (p *Providers) Meter(name string) metric.Meter {
	if p.Enabled() {
		return p.mp.Meter(name)
	}
	return otel.Meter(name)
}

// Shutdown 刷新并关闭导出器；nil 或 noop Providers 上调用是安全的
func (p *Providers) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	var errs []error
	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer provider: %w", err))
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider: %w", err))
	}
	return errors.Join(errs...)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
