// Command vhostmd is the host-side metrics publisher: it samples host and
// per-VM metrics on a fixed period and publishes them over the disk,
// virtio, and KV transports configured in its XML configuration document.
package main

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vhostmd/vhostmd-go/daemon/config"
	"github.com/vhostmd/vhostmd-go/daemon/logger"
	"github.com/vhostmd/vhostmd-go/daemon/services"
)

// Version is the application version, set at build time via ldflags.
var Version = "dev"

var cli struct {
	Config       string `short:"f" name:"config" default:"/etc/vhostmd/vhostmd.conf" help:"path to the vhostmd configuration document"`
	PIDFile      string `short:"p" name:"pid-file" default:"" help:"write the daemon's pid to this file and remove it on exit"`
	User         string `short:"u" name:"user" default:"" help:"drop privileges to this user after opening the metrics disk"`
	Connect      string `short:"c" name:"connect" default:"" help:"libvirt connection URI (empty selects the default)"`
	NoDaemonize  bool   `short:"d" name:"no-daemonize" default:"false" help:"run in the foreground with logging to stdout (this port never self-daemonizes; the flag only controls the logging destination)"`
	Verbose      bool   `short:"v" name:"verbose" default:"false" help:"enable debug logging"`
	AdminAddr    string `name:"admin-addr" default:":8080" help:"admin HTTP listener address (/healthz, /metrics, /debug/channels, /debug/tick)"`
	LogDir       string `name:"log-dir" default:"/var/log/vhostmd" help:"directory for rotated log files"`
}

func cleanupOldLogs(logDir, baseName string) {
	pattern := filepath.Join(logDir, baseName+"-*.log")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, f := range files {
		_ = os.Remove(f)
	}
}

func main() {
	kong.Parse(&cli,
		kong.Name("vhostmd"),
		kong.Description("Publishes host and VM metrics over the disk, virtio, and KV transports."),
	)

	if cli.Verbose {
		logger.SetLevel(logger.LevelDebug)
	} else {
		logger.SetLevel(logger.LevelInfo)
	}

	if cli.NoDaemonize {
		log.SetOutput(os.Stdout)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		cleanupOldLogs(cli.LogDir, "vhostmd")
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogDir, "vhostmd.log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stdout))
	}

	log.Printf("starting vhostmd v%s", Version)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		logger.Error("loading configuration %s: %v", cli.Config, err)
		os.Exit(1)
	}

	orch, err := services.NewOrchestrator(services.Options{
		Config:     cfg,
		ConnectURI: cli.Connect,
		PIDFile:    cli.PIDFile,
		User:       cli.User,
		AdminAddr:  cli.AdminAddr,
	})
	if err != nil {
		logger.Error("starting vhostmd: %v", err)
		os.Exit(1)
	}

	if err := orch.Run(); err != nil {
		logger.Error("vhostmd: %v", err)
		os.Exit(1)
	}
}
