// Package domainsource enumerates the running guest domains that the
// publication loop needs VM descriptors for, adapted from the collector
// that walked libvirt for host VM inventory.
package domainsource

import (
	"context"
	"fmt"
	"net/url"

	"github.com/digitalocean/go-libvirt"

	"github.com/vhostmd/vhostmd-go/daemon/metric"
)

// Source lists the domains currently running on the host, in the shape the
// metric engine needs: a small integer VMID, a name, and a UUID.
type Source interface {
	ListRunning(ctx context.Context) ([]metric.VM, error)
}

// LibvirtSource enumerates active domains through the libvirt RPC protocol.
// It dials fresh for every call rather than holding a long-lived
// connection, so a restarted libvirtd never wedges the publication loop.
type LibvirtSource struct {
	// ConnectURI is the libvirt connection URI, e.g. "qemu:///system". An
	// empty string defaults to the local QEMU system connection.
	ConnectURI string
}

// NewLibvirtSource builds a LibvirtSource for the given connect URI.
func NewLibvirtSource(connectURI string) *LibvirtSource {
	return &LibvirtSource{ConnectURI: connectURI}
}

// ListRunning connects to libvirt, lists active domains, and returns their
// VM descriptors. A connection failure is returned to the caller, who is
// expected to treat it as "no VMs this tick" rather than fatal, matching
// "host may have no hypervisor running at all".
func (s *LibvirtSource) ListRunning(ctx context.Context) ([]metric.VM, error) {
	raw := s.ConnectURI
	if raw == "" {
		raw = string(libvirt.QEMUSystem)
	}
	uri, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing connect uri %q: %w", raw, err)
	}

	l, err := libvirt.ConnectToURI(uri)
	if err != nil {
		return nil, fmt.Errorf("connecting to libvirt at %q: %w", raw, err)
	}
	defer l.Disconnect()

	domains, _, err := l.ConnectListAllDomains(1, libvirt.ConnectListDomainsActive)
	if err != nil {
		return nil, fmt.Errorf("listing active domains: %w", err)
	}

	vms := make([]metric.VM, 0, len(domains))
	for _, d := range domains {
		vms = append(vms, metric.VM{
			ID:   int(d.ID),
			Name: d.Name,
			UUID: formatUUID(d.UUID),
		})
	}
	return vms, nil
}

// formatUUID renders a libvirt domain UUID in canonical dashed form.
func formatUUID(raw libvirt.UUID) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", raw[0:4], raw[4:6], raw[6:8], raw[8:10], raw[10:16])
}
