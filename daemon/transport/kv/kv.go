// Package kv implements the key/value store transport: a filtered,
// per-domain metrics document written to "<domain_path>/metrics" after
// resolving the domain's uuid from "<domain_path>/vm".
package kv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vhostmd/vhostmd-go/daemon/logger"
	"github.com/vhostmd/vhostmd-go/daemon/metric"
)

// Store is the external key/value store client's interface, narrowed to
// the operations the KV transport and the guest reader need. "domain" is the domain's
// path/key segment (its stringified libvirt id).
type Store interface {
	// ReadVMUUID returns the uuid recorded at "<domain_path>/vm" for domain.
	ReadVMUUID(ctx context.Context, domain string) (string, error)
	// WriteMetrics writes xml to "<domain_path>/metrics" for domain.
	WriteMetrics(ctx context.Context, domain string, xml []byte) error
	// ReadMetrics reads back "<domain_path>/metrics" for domain, the guest
	// side of the same entry WriteMetrics produces.
	ReadMetrics(ctx context.Context, domain string) ([]byte, error)
}

// Publish writes one filtered metrics document per VM in vms: the host
// metrics fragments plus only the vm-context fragments whose uuid matches
// that VM's uuid (as resolved through the store, not the in-process VM
// descriptor, since the store is the domain_path's authority on uuid per
// §4.6). A VM whose uuid cannot be resolved is logged and skipped; the
// publish continues for the remaining VMs.
func Publish(ctx context.Context, store Store, vms []metric.VM, hostFragment string, vmFragmentsByUUID map[string]string) error {
	var firstErr error

	for _, vm := range vms {
		domain := strconv.Itoa(vm.ID)

		uuid, err := store.ReadVMUUID(ctx, domain)
		if err != nil {
			logger.Warning("kv: resolving uuid for domain %s: %v", domain, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		var doc strings.Builder
		doc.WriteString("<metrics>\n")
		doc.WriteString(hostFragment)
		doc.WriteString(vmFragmentsByUUID[uuid])
		doc.WriteString("</metrics>\n")

		if err := store.WriteMetrics(ctx, domain, []byte(doc.String())); err != nil {
			logger.Warning("kv: writing metrics for domain %s: %v", domain, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("kv: one or more domains failed to publish: %w", firstErr)
	}
	return nil
}
