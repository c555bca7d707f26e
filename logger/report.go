package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map // component -> *int64
	streams     sync.Map // stream name -> *streamStat
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warnCounts, component) }
func recordError(component string) { bump(&errorCounts, component) }

// RecordStreamMessage counts one inbound frame for a named stream.
func RecordStreamMessage(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	st := v.(*streamStat)
	atomic.AddInt64(&st.messages, 1)
	atomic.AddInt64(&st.bytes, int64(size))
}

// ReportSink receives every runtime report, e.g. to forward it to a
// metrics backend.
type ReportSink func(ctx context.Context, fields Fields)

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration, sink ReportSink) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fields := Snapshot(ctx)
				log.WithComponent("report").WithFields(fields).Info("runtime report")
				if sink != nil {
					sink(ctx, fields)
				}
			}
		}
	}()
}

// Snapshot collects host and per-stream statistics.
func Snapshot(ctx context.Context) Fields {
	cpuPct := 0.0
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsedMB int64
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memUsedMB = int64(vm.Used) / 1024 / 1024
	}
	var sent, recv uint64
	if io, err := gnet.IOCountersWithContext(ctx, false); err == nil && len(io) > 0 {
		sent, recv = io[0].BytesSent, io[0].BytesRecv
	}

	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		st := v.(*streamStat)
		streamData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&st.messages),
			"bytes":    atomic.LoadInt64(&st.bytes),
		}
		return true
	})

	return Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      memUsedMB,
		"net_bytes_sent": int64(sent),
		"net_bytes_recv": int64(recv),
		"streams":        streamData,
		"warns":          loadCounts(&warnCounts),
		"errors":         loadCounts(&errorCounts),
	}
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}
