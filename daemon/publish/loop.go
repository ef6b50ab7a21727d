// Package publish drives the tick loop that evaluates every metric
// definition and fans the resulting document out to whichever transports
// the configuration enabled.
package publish

import (
	"context"
	"time"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
	"github.com/vhostmd/vhostmd-go/daemon/domain"
	"github.com/vhostmd/vhostmd-go/daemon/domainsource"
	"github.com/vhostmd/vhostmd-go/daemon/logger"
	"github.com/vhostmd/vhostmd-go/daemon/metric"
	"github.com/vhostmd/vhostmd-go/daemon/transport/disk"
	"github.com/vhostmd/vhostmd-go/daemon/transport/kv"
	"github.com/vhostmd/vhostmd-go/daemon/transport/virtio"
)

const (
	docBufCap  = 65536
	partBufCap = 4096
)

// Loop owns every piece a single tick touches: the engine, the domain
// source, the metric definitions split by context, and the enabled
// transports. Transport fields are nil when their globals/transport entry
// is absent, and Tick skips a nil transport entirely.
type Loop struct {
	ctx    *domain.Context
	engine *metric.Engine
	source domainsource.Source

	hostDefs []*metric.Definition
	vmDefs   []*metric.Definition

	disk   *disk.Disk
	virtio *virtio.Server
	kv     kv.Store

	doc     *buffer.Buffer
	hostBuf *buffer.Buffer
	vmBuf   *buffer.Buffer
}

// New builds a Loop from a runtime context, splitting its configuration's
// metric definitions by context once up front. disk, virtioSrv, and
// kvStore may be nil when the corresponding transport was not requested.
func New(rctx *domain.Context, engine *metric.Engine, source domainsource.Source, diskDev *disk.Disk, virtioSrv *virtio.Server, kvStore kv.Store) *Loop {
	l := &Loop{
		ctx:     rctx,
		engine:  engine,
		source:  source,
		disk:    diskDev,
		virtio:  virtioSrv,
		kv:      kvStore,
		doc:     buffer.New(docBufCap),
		hostBuf: buffer.New(partBufCap),
		vmBuf:   buffer.New(partBufCap),
	}
	for _, def := range rctx.Metrics {
		if def.Context == metric.ContextHost {
			l.hostDefs = append(l.hostDefs, def)
		} else {
			l.vmDefs = append(l.vmDefs, def)
		}
	}
	return l
}

// Run ticks every Global.UpdatePeriod until ctx is canceled, logging (but
// never panicking on) errors from individual ticks.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ctx.Global.UpdatePeriod)
	defer ticker.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick evaluates every metric definition exactly once, assembles the full
// document, and publishes it to every enabled transport. It never returns
// an error: individual failures are logged and reflected in the
// TickCompleted event so the admin server can surface them, but one bad
// metric or transport never stops the others.
func (l *Loop) Tick(ctx context.Context) {
	start := time.Now()
	var errs []string

	l.doc.Erase()
	l.doc.AddString("<metrics>\n")

	l.hostBuf.Erase()
	for _, def := range l.hostDefs {
		if err := l.engine.Evaluate(def, nil); err != nil {
			errs = append(errs, err.Error())
			logger.Warning("publish: %v", err)
			continue
		}
		l.engine.Emit(def, nil, l.hostBuf)
	}
	l.doc.AddString(l.hostBuf.String())
	hostFragment := l.hostBuf.String()

	if l.virtio != nil {
		if err := l.virtio.UpdateMetrics(0, "", l.hostBuf.Bytes()); err != nil {
			errs = append(errs, err.Error())
			logger.Warning("publish: %v", err)
		}
	}

	vms, err := l.source.ListRunning(ctx)
	if err != nil {
		errs = append(errs, err.Error())
		logger.Warning("publish: listing running domains: %v", err)
		vms = nil
	}

	vmFragmentsByUUID := make(map[string]string, len(vms))
	for i := range vms {
		vm := vms[i]
		l.vmBuf.Erase()
		for _, def := range l.vmDefs {
			if err := l.engine.Evaluate(def, &vm); err != nil {
				errs = append(errs, err.Error())
				logger.Warning("publish: %v", err)
				continue
			}
			l.engine.Emit(def, &vm, l.vmBuf)
		}
		fragment := l.vmBuf.String()
		l.doc.AddString(fragment)
		vmFragmentsByUUID[vm.UUID] = fragment

		if l.virtio != nil {
			if err := l.virtio.UpdateMetrics(vm.ID, vm.Name, l.vmBuf.Bytes()); err != nil {
				errs = append(errs, err.Error())
				logger.Warning("publish: %v", err)
			}
		}
	}

	l.doc.AddString("</metrics>\n")

	if l.disk != nil {
		if err := l.disk.Publish(l.doc); err != nil {
			errs = append(errs, err.Error())
			logger.Warning("publish: disk transport: %v", err)
		}
	}

	if l.kv != nil {
		if err := kv.Publish(ctx, l.kv, vms, hostFragment, vmFragmentsByUUID); err != nil {
			errs = append(errs, err.Error())
			logger.Warning("publish: kv transport: %v", err)
		}
	}

	domain.Publish(l.ctx.Bus, domain.TickTopic, domain.TickCompleted{
		At:          start,
		Duration:    time.Since(start),
		VMCount:     len(vms),
		MetricCount: len(l.hostDefs) + len(l.vmDefs)*len(vms),
		Errors:      errs,
	})
}
