// Package discovery announces and finds authorities on the local network
// over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	Service = "_tablesync._tcp"
	Domain  = "local."
)

var ErrNotFound = errors.New("no authority found")

// Authority is one announced server.
type Authority struct {
	Instance string
	Host     string
	Port     int
}

// URL is the websocket base URL for the authority.
func (a Authority) URL() string {
	return "ws://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Announce registers the authority until ctx is done.
func Announce(ctx context.Context, port int, logger *zap.Logger) error {
	host, _ := os.Hostname()
	name := "tablesync-" + host
	srv, err := zeroconf.Register(name, Service, Domain, port, []string{"proto=1"}, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	defer srv.Shutdown()
	logger.Info("mdns service registered", zap.String("instance", name), zap.Int("port", port))
	<-ctx.Done()
	return nil
}

// Browse collects authorities until ctx is done.
func Browse(ctx context.Context) ([]Authority, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	var out []Authority
	seen := map[string]bool{}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return out, nil
			}
			if a, ok := fromEntry(e); ok && !seen[a.Instance] {
				seen[a.Instance] = true
				out = append(out, a)
			}
		case <-ctx.Done():
			return out, nil
		}
	}
}

// First returns the first authority that answers before ctx is done.
func First(ctx context.Context) (Authority, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Authority{}, fmt.Errorf("mdns resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return Authority{}, fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return Authority{}, ErrNotFound
			}
			if a, ok := fromEntry(e); ok {
				return a, nil
			}
		case <-ctx.Done():
			return Authority{}, ErrNotFound
		}
	}
}

func fromEntry(e *zeroconf.ServiceEntry) (Authority, bool) {
	if e == nil || e.Port == 0 {
		return Authority{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	case e.HostName != "":
		host = e.HostName
	default:
		return Authority{}, false
	}
	return Authority{Instance: e.Instance, Host: host, Port: e.Port}, true
}
