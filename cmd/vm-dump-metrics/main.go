// Command vm-dump-metrics is the guest-side CLI: it reads the metrics
// document published by vhostmd through whichever transport is reachable
// from inside the VM and writes it to a file or standard output.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vhostmd/vhostmd-go/daemon/guest"
	"github.com/vhostmd/vhostmd-go/daemon/logger"
	"github.com/vhostmd/vhostmd-go/daemon/transport/kv"
)

var cli struct {
	Dest      string `short:"d" name:"dest" default:"" help:"write the metrics document here instead of standard output"`
	VBD       bool   `short:"b" name:"vbd" default:"false" help:"read from the metrics disk only"`
	Virtio    bool   `short:"i" name:"virtio" default:"false" help:"read from the virtio channel only"`
	Xenstore  bool   `short:"x" name:"xenstore" default:"false" help:"read from the KV store only"`
	KVDomain  string `name:"kv-domain" default:"" help:"KV store domain key (defaults to the local hostname)"`
	VirtioDev string `name:"virtio-dev" default:"" help:"virtio channel device path (defaults to /dev/virtio-ports/org.github.vhostmd.1)"`
	KVRoot    string `name:"kv-root" default:"/var/lib/vhostmd/kv" help:"filesystem root for the local KV store stand-in"`
	Verbose   bool   `short:"v" name:"verbose" default:"false" help:"enable debug logging"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("vm-dump-metrics"),
		kong.Description("Reads the vhostmd metrics document from disk, virtio, or KV."),
	)

	if cli.Verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	store := kv.NewFileStore(cli.KVRoot)

	src := guest.SourceAuto
	switch {
	case cli.VBD:
		src = guest.SourceDisk
	case cli.Virtio:
		src = guest.SourceVirtio
	case cli.Xenstore:
		src = guest.SourceKV
	}

	payload, err := guest.Dump(context.Background(), src, cli.VirtioDev, store, cli.KVDomain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vm-dump-metrics: %v\n", err)
		os.Exit(1)
	}

	out := os.Stdout
	if cli.Dest != "" {
		f, err := os.Create(cli.Dest)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vm-dump-metrics: creating %s: %v\n", cli.Dest, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	if _, err := out.Write(payload); err != nil {
		fmt.Fprintf(os.Stderr, "vm-dump-metrics: writing output: %v\n", err)
		os.Exit(1)
	}
}
