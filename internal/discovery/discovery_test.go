package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestPublisherPublishReplacesPreviousRegistration(t *testing.T) {
	var shutdowns int
	fakeServer := func() *zeroconf.Server { return &zeroconf.Server{} }

	calls := 0
	p := NewPublisher(func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		calls++
		if instance != "HostA" || service != ServiceType || port != 3333 {
			t.Fatalf("unexpected registration params: %s %s %d", instance, service, port)
		}
		return fakeServer(), nil
	})

	id := Identity{MachineName: "HostA", MachineID: "abc123", Port: 3333, Capabilities: []string{"tablet"}}
	if err := p.Publish(id); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(id); err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 registration calls, got %d", calls)
	}
	_ = shutdowns
}

func TestPublishRejectsMissingFields(t *testing.T) {
	p := NewPublisher(func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
		t.Fatal("registerFn should not be called for invalid identity")
		return nil, nil
	})
	if err := p.Publish(Identity{}); err == nil {
		t.Fatal("expected error for empty identity")
	}
}

func TestTxtToMapAndIdentityRecord(t *testing.T) {
	id := Identity{MachineName: "HostA", MachineID: "abc123", Port: 3333, Capabilities: []string{"tablet", "joystick"}}
	got := txtToMap(id.txtRecord())
	if got["name"] != "HostA" || got["id"] != "abc123" || got["capabilities"] != "tablet,joystick" {
		t.Fatalf("unexpected txt record: %+v", got)
	}
}

func TestScannerSkipsSelfAndDiffsSnapshots(t *testing.T) {
	entries := []*zeroconf.ServiceEntry{
		{
			ServiceRecord: zeroconf.ServiceRecord{Instance: "ConsumerA"},
			Text:          []string{"id=self", "name=Me"},
			AddrIPv4:      []net.IP{net.ParseIP("10.0.0.1")},
		},
		{
			ServiceRecord: zeroconf.ServiceRecord{Instance: "ConsumerB"},
			Text:          []string{"id=peer-1", "name=ConsumerB"},
			AddrIPv4:      []net.IP{net.ParseIP("10.0.0.2")},
			Port:          3333,
		},
	}

	browseFn := func(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
		go func() {
			for _, e := range entries {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}

	s, err := NewScanner("self", browseFn)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	s.scanTimeout = 50 * time.Millisecond
	s.scanInterval = time.Hour

	s.Start()
	defer s.Stop()

	var got Event
	select {
	case got = <-s.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery event")
	}

	if got.Type != EventConsumerUpserted {
		t.Fatalf("expected upsert event, got %v", got.Type)
	}
	if got.Consumer.Name != "ConsumerB" || got.Consumer.Address != "10.0.0.2" {
		t.Fatalf("unexpected consumer: %+v", got.Consumer)
	}

	list := s.ListConsumers()
	if len(list) != 1 || list[0].Name != "ConsumerB" {
		t.Fatalf("expected only ConsumerB in snapshot, got %+v", list)
	}
}
