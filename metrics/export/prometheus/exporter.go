package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source is what the exporter reads on every scrape. *authcore.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditStats() authcore.AuditStats
}

// PrometheusExporter renders engine metrics in the Prometheus text
// exposition format. It keeps no registry; every scrape reads a fresh
// snapshot.
type PrometheusExporter struct {
	source Source
}

func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any Source.
func NewPrometheusExporterFromSource(source Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render on GET and HEAD.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body := p.Render()
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(body))
	})
}

// Render returns the exposition text. It is empty while metrics are
// disabled and the audit dispatcher is idle.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	stats := p.source.AuditStats()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && internaldefs.AuditIdle(stats) {
		return ""
	}

	var w expositionWriter
	w.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		w.family(def.Name, def.Help, "counter")
		w.sample(def.Name, "", snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		w.family(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			w.sample(def.Name+"_bucket", le, buckets[i])
		}
		w.sample(def.Name+"_count", "", buckets[internaldefs.BucketCount-1])
		// Only bucket counts are recorded, so the sum is unknown.
		w.sample(def.Name+"_sum", "", 0)
	}

	for _, def := range internaldefs.AuditDefs {
		kind := "counter"
		if def.Gauge {
			kind = "gauge"
		}
		w.family(def.Name, def.Help, kind)
		w.sample(def.Name, "", def.Value(stats))
	}

	return w.String()
}

type expositionWriter struct {
	strings.Builder
}

func (w *expositionWriter) family(name, help, kind string) {
	w.WriteString("# HELP ")
	w.WriteString(name)
	w.WriteByte(' ')
	w.WriteString(helpEscaper.Replace(help))
	w.WriteString("\n# TYPE ")
	w.WriteString(name)
	w.WriteByte(' ')
	w.WriteString(kind)
	w.WriteByte('\n')
}

// sample writes one line; a non-empty le adds the bucket label.
func (w *expositionWriter) sample(name, le string, value uint64) {
	w.WriteString(name)
	if le != "" {
		w.WriteString(`{le="`)
		w.WriteString(le)
		w.WriteString(`"}`)
	}
	w.WriteByte(' ')
	w.WriteString(strconv.FormatUint(value, 10))
	w.WriteByte('\n')
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
