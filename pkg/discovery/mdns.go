package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one interface (empty = all).
	Interface string

	// TTL is the DNS record TTL.
	TTL time.Duration

	// Logger is the operational logger (nil = discard).
	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}

// Advertiser publishes the local node.
type Advertiser struct {
	config AdvertiserConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an Advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Advertiser{config: config, logger: logger}
}

// Advertise publishes info, replacing any previous advertisement. The
// advertisement is withdrawn when ctx is cancelled or Stop is called.
func (a *Advertiser) Advertise(ctx context.Context, info *Info) error {
	if !info.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidTXTRecord, info.Role)
	}
	if info.ID == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}
	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		InstanceName(info),
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeTXT(info)),
		interfaces(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", ServiceType, err)
	}
	a.server = server
	a.logger.Info("advertising", "instance", InstanceName(info), "role", info.Role, "port", port)

	go func() {
		<-ctx.Done()
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.server == server {
			a.shutdownLocked()
		}
	}()
	return nil
}

// Update replaces the TXT record of the running advertisement.
func (a *Advertiser) Update(info *Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotFound
	}
	a.server.SetText(TXTRecordsToStrings(EncodeTXT(info)))
	return nil
}

// Stop withdraws the advertisement. It is idempotent.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdownLocked()
}

func (a *Advertiser) shutdownLocked() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one interface (empty = all).
	Interface string

	// Logger is the operational logger (nil = discard).
	Logger *slog.Logger
}

// Browser finds sync nodes.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger
}

// NewBrowser creates a Browser.
func NewBrowser(config BrowserConfig) *Browser {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Browser{config: config, logger: logger}
}

// Browse emits every node of session (all sessions when empty) until ctx
// is cancelled. Each node is emitted once; later address updates are
// merged into the emitted Service.
func (b *Browser) Browse(ctx context.Context, session string) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := interfaces(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)
		agg := newAggregator(session)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, err := serviceFromRecord(entry.Instance, entry.HostName, entry.Port, entry.Text, entryIPs(entry))
				if err != nil {
					b.logger.Debug("ignoring service", "instance", entry.Instance, "error", err)
					continue
				}
				if !agg.add(svc) {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				agg.remove(entry.Instance, entryIPs(entry))

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...); err != nil {
			b.logger.Debug("browse failed", "error", err)
		}
	}()
	return out, nil
}

// Find returns the first node of session with the given role.
func (b *Browser) Find(ctx context.Context, session string, role Role) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx, session)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if svc.Role == role {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func interfaces(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func entryIPs(entry *zeroconf.ServiceEntry) []net.IP {
	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	return append(ips, entry.AddrIPv6...)
}

// serviceFromRecord builds a Service from the parts of a DNS-SD answer.
func serviceFromRecord(instance, host string, port int, text []string, ips []net.IP) (*Service, error) {
	info, err := DecodeTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	return &Service{
		Instance:     instance,
		Host:         host,
		ID:           info.ID,
		Role:         info.Role,
		Session:      info.Session,
		Addresses:    addrs,
		Port:         uint16(port),
		SchedulePort: info.SchedulePort,
	}, nil
}

// aggregator tracks services by instance, merging addresses reported by
// different interfaces.
type aggregator struct {
	session  string
	services map[string]*Service
}

func newAggregator(session string) *aggregator {
	return &aggregator{session: session, services: make(map[string]*Service)}
}

// add records svc and reports whether it is new. Services of other
// sessions are never new.
func (g *aggregator) add(svc *Service) bool {
	if g.session != "" && svc.Session != g.session {
		return false
	}
	existing, found := g.services[svc.Instance]
	if !found {
		g.services[svc.Instance] = svc
		return true
	}
	for _, addr := range svc.Addresses {
		if !slices.Contains(existing.Addresses, addr) {
			existing.Addresses = append(existing.Addresses, addr)
		}
	}
	return false
}

// remove drops the given addresses and forgets the service once none remain.
func (g *aggregator) remove(instance string, ips []net.IP) {
	existing, found := g.services[instance]
	if !found {
		return
	}
	gone := make(map[string]bool, len(ips))
	for _, ip := range ips {
		gone[ip.String()] = true
	}
	existing.Addresses = slices.DeleteFunc(existing.Addresses, func(a string) bool { return gone[a] })
	if len(existing.Addresses) == 0 {
		delete(g.services, instance)
	}
}
