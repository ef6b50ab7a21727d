package kv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vhostmd/vhostmd-go/daemon/metric"
)

type fakeStore struct {
	uuids   map[string]string
	written map[string]string
}

func newFakeStore(uuids map[string]string) *fakeStore {
	return &fakeStore{uuids: uuids, written: map[string]string{}}
}

func (f *fakeStore) ReadVMUUID(ctx context.Context, domain string) (string, error) {
	uuid, ok := f.uuids[domain]
	if !ok {
		return "", errors.New("no such domain")
	}
	return uuid, nil
}

func (f *fakeStore) WriteMetrics(ctx context.Context, domain string, xml []byte) error {
	f.written[domain] = string(xml)
	return nil
}

func (f *fakeStore) ReadMetrics(ctx context.Context, domain string) ([]byte, error) {
	xml, ok := f.written[domain]
	if !ok {
		return nil, errors.New("no such domain")
	}
	return []byte(xml), nil
}

func TestPublishFiltersVMFragmentsByResolvedUUID(t *testing.T) {
	store := newFakeStore(map[string]string{"1": "uuid-a", "2": "uuid-b"})
	vms := []metric.VM{{ID: 1, Name: "guest0", UUID: "uuid-a"}, {ID: 2, Name: "guest1", UUID: "uuid-b"}}
	fragments := map[string]string{
		"uuid-a": "<metric context='vm' uuid='uuid-a'>1</metric>\n",
		"uuid-b": "<metric context='vm' uuid='uuid-b'>2</metric>\n",
	}

	if err := Publish(context.Background(), store, vms, "<metric context='host'>3</metric>\n", fragments); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	doc1 := store.written["1"]
	if !strings.Contains(doc1, "uuid-a") || strings.Contains(doc1, "uuid-b") {
		t.Errorf("domain 1 document = %q, expected only uuid-a vm fragment", doc1)
	}
	if !strings.Contains(doc1, "context='host'") {
		t.Errorf("domain 1 document missing host fragment: %q", doc1)
	}

	doc2 := store.written["2"]
	if !strings.Contains(doc2, "uuid-b") || strings.Contains(doc2, "uuid-a") {
		t.Errorf("domain 2 document = %q, expected only uuid-b vm fragment", doc2)
	}
}

func TestPublishSkipsDomainWithUnresolvedUUID(t *testing.T) {
	store := newFakeStore(map[string]string{"1": "uuid-a"})
	vms := []metric.VM{{ID: 1, Name: "guest0", UUID: "uuid-a"}, {ID: 2, Name: "guest1", UUID: "uuid-b"}}

	err := Publish(context.Background(), store, vms, "", map[string]string{})
	if err == nil {
		t.Fatal("expected an error because domain 2's uuid could not be resolved")
	}
	if _, wrote := store.written["1"]; !wrote {
		t.Error("expected domain 1 to still be published despite domain 2 failing")
	}
	if _, wrote := store.written["2"]; wrote {
		t.Error("did not expect domain 2 to be published")
	}
}
