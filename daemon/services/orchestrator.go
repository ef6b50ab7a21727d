// Package services wires the daemon's subsystems together: configuration,
// the three metrics transports, the publication loop, the operational
// metrics observer, and the admin HTTP server, then drives their startup
// and graceful shutdown.
package services

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vhostmd/vhostmd-go/daemon/adminserver"
	"github.com/vhostmd/vhostmd-go/daemon/config"
	"github.com/vhostmd/vhostmd-go/daemon/domain"
	"github.com/vhostmd/vhostmd-go/daemon/domainsource"
	"github.com/vhostmd/vhostmd-go/daemon/logger"
	"github.com/vhostmd/vhostmd-go/daemon/metric"
	"github.com/vhostmd/vhostmd-go/daemon/metricsobs"
	"github.com/vhostmd/vhostmd-go/daemon/publish"
	"github.com/vhostmd/vhostmd-go/daemon/transport/disk"
	"github.com/vhostmd/vhostmd-go/daemon/transport/kv"
	"github.com/vhostmd/vhostmd-go/daemon/transport/virtio"
)

// defaultKVRoot is used when globals/path is absent or not a redis:// URL:
// a plain filesystem tree standing in for the xenstore domain-path layout.
const defaultKVRoot = "/var/lib/vhostmd/kv"

// newKVStore picks the KV backend from the domain_path scheme in
// globals/path: a "redis://host:port/" URL selects RedisStore, anything
// else (including an empty path) selects a FileStore rooted at the given
// path or defaultKVRoot.
func newKVStore(pathOverride string) (kv.Store, error) {
	if strings.HasPrefix(pathOverride, "redis://") {
		opts, err := redis.ParseURL(pathOverride)
		if err != nil {
			return nil, fmt.Errorf("parsing globals/path redis URL: %w", err)
		}
		// go-redis consumes the URL path as the DB index, so there is no
		// room in the URL itself for a key prefix; entries are keyed as
		// plain "<domain>/vm" and "<domain>/metrics".
		return kv.NewRedisStore(redis.NewClient(opts), ""), nil
	}

	root := pathOverride
	if root == "" {
		root = defaultKVRoot
	}
	return kv.NewFileStore(root), nil
}

// Virtio defaults not carried in the configuration document: the DTD has
// no element for them, so they come from the Options the command layer
// builds, falling back to the original daemon's literals
// (vhostmd/virtio.c's channel_path/channel_name) when left unset.
const (
	DefaultVirtioDiscoveryDir = "/var/lib/libvirt/qemu/channel/target"
	DefaultVirtioChannelName  = "org.github.vhostmd.1"
	DefaultVirtioChannelMax   = 64
	DefaultVirtioTTL          = 30 * time.Second
	DefaultAdminAddr          = ":8080"
)

// Options configures an Orchestrator. ConnectURI, PIDFile, User, and
// AdminAddr come directly from the host daemon's CLI flags; the Virtio*
// fields have no DTD-level configuration element and use the package
// defaults when left at their zero value.
type Options struct {
	Config     *config.Config
	ConnectURI string
	PIDFile    string
	User       string
	AdminAddr  string

	VirtioDiscoveryDir string
	VirtioChannelName  string
	VirtioChannelMax   int
	VirtioTTL          time.Duration
}

func (o *Options) setDefaults() {
	if o.AdminAddr == "" {
		o.AdminAddr = DefaultAdminAddr
	}
	if o.VirtioDiscoveryDir == "" {
		o.VirtioDiscoveryDir = DefaultVirtioDiscoveryDir
	}
	if o.VirtioChannelName == "" {
		o.VirtioChannelName = DefaultVirtioChannelName
	}
	if o.VirtioChannelMax == 0 {
		o.VirtioChannelMax = DefaultVirtioChannelMax
	}
	if o.VirtioTTL == 0 {
		o.VirtioTTL = DefaultVirtioTTL
	}
}

// Orchestrator owns every long-running subsystem and the order in which
// they start and stop.
type Orchestrator struct {
	opts Options
	rctx *domain.Context

	diskDev *disk.Disk
	virtio  *virtio.Server
	kvStore kv.Store

	loop     *publish.Loop
	observer *metricsobs.Observer
	admin    *adminserver.Server

	wg sync.WaitGroup
}

// NewOrchestrator builds every subsystem the configured transports need,
// but starts none of them; call Run to drive the daemon's lifetime.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	opts.setDefaults()

	rctx := domain.NewContext(opts.Config)

	o := &Orchestrator{opts: opts, rctx: rctx}

	if rctx.Global.HasTransport(config.TransportDisk) {
		d, err := disk.Create(rctx.Global.DiskPath, rctx.Global.DiskSize)
		if err != nil {
			return nil, fmt.Errorf("creating metrics disk: %w", err)
		}
		o.diskDev = d
	}

	if rctx.Global.HasTransport(config.TransportVirtio) {
		v, err := virtio.NewServer(opts.VirtioChannelMax, opts.VirtioDiscoveryDir, opts.VirtioChannelName, opts.VirtioTTL)
		if err != nil {
			o.closePrivileged()
			return nil, fmt.Errorf("starting virtio server: %w", err)
		}
		o.virtio = v
	}

	if rctx.Global.HasTransport(config.TransportXenstore) {
		store, err := newKVStore(rctx.Global.PathOverride)
		if err != nil {
			o.closePrivileged()
			return nil, err
		}
		o.kvStore = store
	}

	engine := metric.NewEngine(opts.ConnectURI, rctx.Global.PathOverride)
	source := domainsource.NewLibvirtSource(opts.ConnectURI)

	o.loop = publish.New(rctx, engine, source, o.diskDev, o.virtio, o.kvStore)
	o.observer = metricsobs.NewObserver(rctx.Bus, o.virtio)
	o.admin = adminserver.NewServer(rctx, o.virtio, opts.AdminAddr)

	return o, nil
}

func (o *Orchestrator) closePrivileged() {
	if o.diskDev != nil {
		o.diskDev.Close()
	}
}

// Run writes the pid file (the metrics disk and the virtio epoll instance
// were already opened by NewOrchestrator), drops privileges to opts.User
// if set, then starts every subsystem and blocks until SIGINT, SIGTERM, or
// SIGQUIT, shutting everything down in reverse dependency order before
// returning.
func (o *Orchestrator) Run() error {
	if err := WritePIDFile(o.opts.PIDFile); err != nil {
		return err
	}
	defer RemovePIDFile(o.opts.PIDFile)

	if err := DropPrivileges(o.opts.User); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if o.virtio != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.virtio.Run(ctx)
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.observer.Run(ctx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.admin.WatchTicks(ctx)
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.admin.ListenAndServe(); err != nil {
			logger.Error("admin server: %v", err)
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.loop.Run(ctx)
	}()

	logger.Info("vhostmd running (update_period=%s, transports=%v)", o.rctx.Global.UpdatePeriod, o.rctx.Global.Transports)

	<-ctx.Done()
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.admin.Shutdown(shutdownCtx); err != nil {
		logger.Warning("admin server shutdown: %v", err)
	}

	if o.virtio != nil {
		o.virtio.Stop()
	}

	o.wg.Wait()

	if o.diskDev != nil {
		if err := o.diskDev.Close(); err != nil {
			logger.Warning("closing metrics disk: %v", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}
