package publish

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vhostmd/vhostmd-go/daemon/config"
	"github.com/vhostmd/vhostmd-go/daemon/domain"
	"github.com/vhostmd/vhostmd-go/daemon/metric"
)

type fakeSource struct {
	vms []metric.VM
	err error
}

func (f *fakeSource) ListRunning(ctx context.Context) ([]metric.VM, error) {
	return f.vms, f.err
}

type fakeKVStore struct {
	mu      sync.Mutex
	uuids   map[string]string
	written map[string]string
}

func newFakeKVStore(uuids map[string]string) *fakeKVStore {
	return &fakeKVStore{uuids: uuids, written: map[string]string{}}
}

func (f *fakeKVStore) ReadVMUUID(ctx context.Context, domain string) (string, error) {
	return f.uuids[domain], nil
}

func (f *fakeKVStore) WriteMetrics(ctx context.Context, domain string, xml []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[domain] = string(xml)
	return nil
}

func (f *fakeKVStore) ReadMetrics(ctx context.Context, domain string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte(f.written[domain]), nil
}

func newDef(name string, ctx metric.Context, action string) *metric.Definition {
	def := metric.NewDefinition(name, ctx, metric.TypeUint64, "uint64", action, "", nil)
	def.Template = metric.NewActionTemplate(action)
	return def
}

func TestTickAssemblesHostAndVMMetrics(t *testing.T) {
	rctx := domain.NewContext(&config.Config{
		Global: config.Global{UpdatePeriod: time.Hour},
		Metrics: []*metric.Definition{
			newDef("TotalMem", metric.ContextHost, "echo -n 1000"),
			newDef("VCPUTime", metric.ContextVM, "echo -n VMID"),
		},
	})

	source := &fakeSource{vms: []metric.VM{{ID: 1, Name: "guest0", UUID: "uuid-a"}}}
	store := newFakeKVStore(map[string]string{"1": "uuid-a"})

	l := New(rctx, metric.NewEngine("", ""), source, nil, nil, store)

	done := make(chan domain.TickCompleted, 1)
	sub := rctx.Bus.SubTopics(domain.TickTopic)
	go func() {
		for msg := range sub {
			if evt, ok := msg.(domain.TickCompleted); ok {
				done <- evt
				return
			}
		}
	}()

	l.Tick(context.Background())

	select {
	case evt := <-done:
		if evt.VMCount != 1 {
			t.Errorf("VMCount = %d, want 1", evt.VMCount)
		}
		if len(evt.Errors) != 0 {
			t.Errorf("unexpected tick errors: %v", evt.Errors)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TickCompleted event")
	}

	doc := l.doc.String()
	if !strings.HasPrefix(doc, "<metrics>\n") || !strings.HasSuffix(doc, "</metrics>\n") {
		t.Fatalf("document is not well-formed: %q", doc)
	}
	if !strings.Contains(doc, "<name>TotalMem</name>") {
		t.Errorf("document missing host metric: %q", doc)
	}
	if !strings.Contains(doc, "<value>1</value>") {
		t.Errorf("document missing vm metric rendered with its vmid: %q", doc)
	}

	written := store.written["1"]
	if !strings.Contains(written, "TotalMem") {
		t.Errorf("kv document for domain 1 missing host fragment: %q", written)
	}
	if !strings.Contains(written, "VCPUTime") {
		t.Errorf("kv document for domain 1 missing its own vm fragment: %q", written)
	}
}

func TestTickContinuesAfterSourceError(t *testing.T) {
	rctx := domain.NewContext(&config.Config{
		Global:  config.Global{UpdatePeriod: time.Hour},
		Metrics: []*metric.Definition{newDef("TotalMem", metric.ContextHost, "echo -n 1000")},
	})

	source := &fakeSource{err: context.DeadlineExceeded}
	l := New(rctx, metric.NewEngine("", ""), source, nil, nil, nil)

	sub := rctx.Bus.SubTopics(domain.TickTopic)
	go func() {
		l.Tick(context.Background())
	}()

	select {
	case msg := <-sub:
		evt := msg.(domain.TickCompleted)
		if len(evt.Errors) == 0 {
			t.Error("expected the source error to surface in TickCompleted.Errors")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TickCompleted event")
	}
}
