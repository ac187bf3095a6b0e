// Package opmon tracks per-operation call counts, total and max
// duration, dumping a sorted summary on a timer the way the reference
// monitor does, plus a periodic host resource sample and an OpenTelemetry
// span per tracked operation for anything downstream that wants
// distributed traces instead of (or alongside) the local dump.
package opmon

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/riftkeep/gamecore/corelog"
)

var tracer = otel.Tracer("github.com/riftkeep/gamecore/opmon")

type opInfo struct {
	count         uint64
	totalDuration time.Duration
	maxDuration   time.Duration
}

// Monitor accumulates per-operation timing until Dump clears it.
type Monitor struct {
	mu      sync.Mutex
	opInfos map[string]*opInfo
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{opInfos: map[string]*opInfo{}}
}

// DumpForever calls Dump on interval until ctx is cancelled, and logs a
// gopsutil host resource line alongside each dump — the periodic-goroutine shape of the reference monitor's own
// init-time ticker, run explicitly instead of from an init func so a
// node controls its own lifecycle.
func (m *Monitor) DumpForever(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Dump()
			logHostStats()
		}
	}
}

func (m *Monitor) record(opname string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.opInfos[opname]
	if info == nil {
		info = &opInfo{}
		m.opInfos[opname] = info
	}
	info.count++
	info.totalDuration += duration
	if duration > info.maxDuration {
		info.maxDuration = duration
	}
}

// Dump writes a sorted summary to stderr and clears the accumulated
// counters.
func (m *Monitor) Dump() {
	m.mu.Lock()
	opInfos := m.opInfos
	m.opInfos = map[string]*opInfo{}
	m.mu.Unlock()

	type row struct {
		name string
		info *opInfo
	}
	rows := make([]row, 0, len(opInfos))
	for name, info := range opInfos {
		rows = append(rows, row{name, info})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	fmt.Fprint(os.Stderr, "=====================================================================================\n")
	for _, r := range rows {
		avg := r.info.totalDuration / time.Duration(r.info.count)
		fmt.Fprintf(os.Stderr, "%-30sx%-10d AVG %-10s MAX %-10s\n", r.name, r.info.count, avg, r.info.maxDuration)
	}
}

// Operation is one in-flight tracked call. StartOperation opens both the
// local timing record and an otel span sharing the operation's name.
type Operation struct {
	monitor   *Monitor
	name      string
	startTime time.Time
	span      trace.Span
}

// StartOperation begins tracking operationName. requestID, if non-empty,
// is attached to the span as a correlation id — dispatch passes the
// per-request uuid it already generates.
func (m *Monitor) StartOperation(ctx context.Context, operationName, requestID string) (*Operation, context.Context) {
	spanCtx, span := tracer.Start(ctx, operationName)
	if requestID != "" {
		span.SetAttributes(attribute.String("request.id", requestID))
	}
	return &Operation{monitor: m, name: operationName, startTime: time.Now(), span: span}, spanCtx
}

// Finish records the operation's duration and ends its span. warnThreshold
// triggers a warning log line.
func (op *Operation) Finish(warnThreshold time.Duration) {
	took := time.Since(op.startTime)
	op.monitor.record(op.name, took)
	op.span.End()
	if took >= warnThreshold {
		corelog.Warnf("opmon: operation %s took %s > %s", op.name, took, warnThreshold)
	}
}

func logHostStats() {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	corelog.Infof("opmon: host cpu=%.1f%% mem=%s/%s", percents[0], humanize.Bytes(vm.Used), humanize.Bytes(vm.Total))
}
