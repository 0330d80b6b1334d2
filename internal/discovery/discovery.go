// Package discovery publishes and browses the transwacom mDNS service
// record (base spec §4.4) via grandcat/zeroconf. The publish/scan split and
// the function-typed registerFn/browseFn seams are adapted from
// X0RA-GoSend's discovery package (mdns.go, peer_scanner.go), retargeted
// from its device_id/key_fingerprint TXT schema to transwacom's
// version/name/capabilities/id schema.
package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"transwacom/internal/faults"
	"transwacom/internal/wire"
)

const (
	// ServiceType is the mDNS service type Consumers publish (base spec §4.4/§6).
	ServiceType = "_input-consumer._tcp"
	Domain      = "local."

	DefaultScanInterval = 10 * time.Second
	DefaultScanTimeout  = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Identity is the local machine's discovery-relevant identity, passed to
// each Publish call; publishing a new Identity replaces the old record.
type Identity struct {
	MachineName  string
	MachineID    string
	Port         int
	Capabilities []string // e.g. []string{"tablet", "joystick"}
}

func (id Identity) txtRecord() []string {
	return []string{
		"version=" + wire.ProtocolVersion,
		"name=" + id.MachineName,
		"capabilities=" + strings.Join(id.Capabilities, ","),
		"id=" + id.MachineID,
	}
}

// Publisher advertises this machine's Consumer service on the LAN.
type Publisher struct {
	mu         sync.Mutex
	registerFn registerFunc
	server     *zeroconf.Server
}

// NewPublisher creates a Publisher; registerFn defaults to zeroconf.Register
// when nil, letting tests supply a fake.
func NewPublisher(registerFn registerFunc) *Publisher {
	if registerFn == nil {
		registerFn = zeroconf.Register
	}
	return &Publisher{registerFn: registerFn}
}

// Publish registers (or re-registers) the service record for id. Calling
// it again — e.g. after a config change — registers the new record and,
// once that succeeds, shuts down the previous registration, satisfying "Consumers may republish after config
// changes" (base spec §4.4).
func (p *Publisher) Publish(id Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id.MachineName == "" || id.Port <= 0 {
		return faults.New(faults.Config, "discovery.Publish", errors.New("machine name and port are required"))
	}

	server, err := p.registerFn(id.MachineName, ServiceType, Domain, id.Port, id.txtRecord(), nil)
	if err != nil {
		return faults.New(faults.Resource, "discovery.Publish", err)
	}

	if p.server != nil {
		p.server.Shutdown()
	}
	p.server = server
	return nil
}

// Stop withdraws the published record, if any.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server != nil {
		p.server.Shutdown()
		p.server = nil
	}
}

// EventType identifies a browse-side change.
type EventType string

const (
	EventConsumerUpserted EventType = "consumer_upserted"
	EventConsumerRemoved  EventType = "consumer_removed"
)

// DiscoveredConsumer is a Consumer service seen on the LAN (base spec §4.4).
type DiscoveredConsumer struct {
	Name     string
	Address  string
	Port     int
	TXT      map[string]string
	LastSeen time.Time
}

// Event carries one browse-side change to the Supervisor.
type Event struct {
	Type     EventType
	Consumer DiscoveredConsumer
}

// Scanner periodically browses for _input-consumer._tcp records.
type Scanner struct {
	selfMachineID string
	scanInterval  time.Duration
	scanTimeout   time.Duration
	browse        browseFunc

	mu        sync.RWMutex
	consumers map[string]DiscoveredConsumer

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScanner creates a Scanner that ignores any record whose id TXT field
// equals selfMachineID (a machine never treats its own advertisement as a
// discovered peer). browseFn defaults to a fresh zeroconf.Resolver when nil.
func NewScanner(selfMachineID string, browseFn browseFunc) (*Scanner, error) {
	if browseFn == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, faults.New(faults.Resource, "discovery.NewScanner", err)
		}
		browseFn = resolver.Browse
	}
	return &Scanner{
		selfMachineID: selfMachineID,
		scanInterval:  DefaultScanInterval,
		scanTimeout:   DefaultScanTimeout,
		browse:        browseFn,
		consumers:     make(map[string]DiscoveredConsumer),
		events:        make(chan Event, 64),
	}, nil
}

// Start begins periodic background scanning.
func (s *Scanner) Start() {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.wg.Add(1)
		go s.loop()
	})
}

// Stop halts scanning and closes the event channel.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events yields consumer arrival/departure notifications.
func (s *Scanner) Events() <-chan Event { return s.events }

// ListConsumers returns a snapshot of currently known consumers, sorted by name.
func (s *Scanner) ListConsumers() []DiscoveredConsumer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DiscoveredConsumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scanner) loop() {
	defer s.wg.Done()

	s.runScan()
	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScan()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scanner) runScan() {
	scanCtx, cancel := context.WithTimeout(s.ctx, s.scanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]DiscoveredConsumer)
	var collectedMu sync.Mutex
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok || entry == nil {
					continue
				}
				consumer, id, ok := parseEntry(entry, s.selfMachineID)
				if !ok {
					continue
				}
				consumer.LastSeen = time.Now()
				collectedMu.Lock()
				collected[id] = consumer
				collectedMu.Unlock()
			}
		}
	}()

	if err := s.browse(scanCtx, ServiceType, Domain, entries); err != nil {
		<-scanCtx.Done()
		<-done
		return
	}

	<-scanCtx.Done()
	<-done

	collectedMu.Lock()
	next := collected
	collectedMu.Unlock()
	s.applySnapshot(next)
}

func (s *Scanner) applySnapshot(next map[string]DiscoveredConsumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.consumers
	s.consumers = next

	for id, c := range next {
		if old, ok := previous[id]; !ok || !consumersEqual(old, c) {
			s.emit(Event{Type: EventConsumerUpserted, Consumer: c})
		}
	}
	for id, c := range previous {
		if _, ok := next[id]; !ok {
			s.emit(Event{Type: EventConsumerRemoved, Consumer: c})
		}
	}
}

func (s *Scanner) emit(e Event) {
	select {
	case s.events <- e:
	default: // slow consumer; drop rather than block the scan loop
	}
}

func consumersEqual(a, b DiscoveredConsumer) bool {
	return a.Name == b.Name && a.Address == b.Address && a.Port == b.Port
}

func parseEntry(entry *zeroconf.ServiceEntry, selfMachineID string) (DiscoveredConsumer, string, bool) {
	txt := txtToMap(entry.Text)
	id := strings.TrimSpace(txt["id"])
	if id == "" || id == selfMachineID {
		return DiscoveredConsumer{}, "", false
	}

	name := strings.TrimSpace(txt["name"])
	if name == "" {
		name = strings.TrimSpace(entry.Instance)
	}

	addr := ""
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip != nil {
			addr = ip.String()
			break
		}
	}
	if addr == "" {
		return DiscoveredConsumer{}, "", false
	}

	return DiscoveredConsumer{
		Name:    name,
		Address: addr,
		Port:    entry.Port,
		TXT:     txt,
	}, id, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
