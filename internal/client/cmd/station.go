package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wics-station/wics/internal/engine"
	"github.com/wics-station/wics/internal/metrics"
	"github.com/wics-station/wics/internal/store"
	"github.com/wics-station/wics/internal/transport"
	"gorm.io/gorm"
)

var errNoDevice = errors.New("no device answered")

// station bundles what a device command needs: the engine, the history
// database and an optional metrics endpoint.
type station struct {
	eng      *engine.Engine
	db       *gorm.DB
	devices  *store.DeviceStore
	upgrades *store.UpgradeStore
	metrics  *metrics.Server
}

func newStation() (*station, error) {
	db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	s := &station{
		db:       db,
		devices:  store.NewDeviceStore(db),
		upgrades: store.NewUpgradeStore(db),
	}

	var hook transport.Hook = transport.NopHook{}
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		hook = metrics.New(metrics.WithRegistry(registry))
		s.metrics, err = metrics.Listen(cfg.MetricsAddr, registry, log)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	s.eng, err = engine.New(
		engine.WithLogger(log),
		engine.WithPolicy(cfg.Policy()),
		engine.WithDevicePort(cfg.DevicePort),
		engine.WithPollInterval(cfg.PollInterval()),
		engine.WithCoalesce(cfg.Coalesce),
		engine.WithHook(hook),
	)
	if err != nil {
		s.close()
		return nil, err
	}

	if err := s.eng.OpenConnection(cfg.Port); err != nil {
		s.close()
		return nil, fmt.Errorf("open connection: %w", err)
	}
	return s, nil
}

func openDatabase() (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (s *station) close() {
	if s.eng != nil {
		s.eng.Shutdown()
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.metrics.Shutdown(ctx); err != nil {
			log.Warnf("Failed to stop metrics server: %v", err)
		}
	}
	if err := store.Close(s.db); err != nil {
		log.Warnf("Failed to close database: %v", err)
	}
}

// discover broadcasts DEVINFO_GET (or sends it to target when valid) and
// collects replies until the discovery timeout. The last device to answer
// is the bound one.
func (s *station) discover(ctx context.Context, target netip.Addr) ([]store.Device, error) {
	if !target.IsValid() {
		target = transport.BroadcastAddr()
	}
	log.Debugf("Discovering devices via %s", target)
	if err := s.eng.RequestDiscovery(target); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.eng.Policy().DiscoveryTimeout())
	defer cancel()

	var found []store.Device
	index := make(map[string]int)
	for {
		select {
		case ev, ok := <-s.eng.Events():
			if !ok {
				return found, engine.ErrStopped
			}
			switch ev := ev.(type) {
			case engine.DeviceInfoEvent:
				dev, created, err := s.devices.UpsertDevice(ctx, ev.Addr.Addr().String(), ev.Info)
				if err != nil {
					return found, fmt.Errorf("record device: %w", err)
				}
				if created {
					log.Infof("New device %s at %s", dev.Serial, dev.Address)
				}
				if i, seen := index[dev.Serial]; seen {
					found[i] = dev
					continue
				}
				index[dev.Serial] = len(found)
				found = append(found, dev)

			case engine.WifiConfig:
				bound, ok := s.eng.Target()
				if !ok {
					continue
				}
				for i := range found {
					if found[i].Address != bound.String() {
						continue
					}
					found[i].SSID = ev.SSID
					if err := s.devices.UpdateWifi(ctx, found[i].Serial, ev.SSID); err != nil {
						log.Warnf("Failed to record station of %s: %v", found[i].Serial, err)
					}
				}
			}

		case <-ctx.Done():
			if len(found) == 0 {
				return nil, errNoDevice
			}
			return found, nil
		}
	}
}

// connect discovers devices and returns the one the engine bound to.
func (s *station) connect(ctx context.Context, target netip.Addr) (store.Device, error) {
	found, err := s.discover(ctx, target)
	if err != nil {
		return store.Device{}, err
	}
	bound, ok := s.eng.Target()
	if !ok {
		return store.Device{}, errNoDevice
	}
	for _, dev := range found {
		if dev.Address == bound.String() {
			log.Infof("Using device %s at %s", dev.Serial, dev.Address)
			return dev, nil
		}
	}
	return found[len(found)-1], nil
}

// awaitWifi waits for a station report, optionally one that matches ssid.
func (s *station) awaitWifi(ctx context.Context, ssid string) (engine.WifiConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.eng.Policy().DiscoveryTimeout())
	defer cancel()

	for {
		select {
		case ev, ok := <-s.eng.Events():
			if !ok {
				return engine.WifiConfig{}, engine.ErrStopped
			}
			wifi, isWifi := ev.(engine.WifiConfig)
			if !isWifi || (ssid != "" && wifi.SSID != ssid) {
				continue
			}
			return wifi, nil
		case <-ctx.Done():
			return engine.WifiConfig{}, fmt.Errorf("no WiFi station report: %w", ctx.Err())
		}
	}
}

func parseTarget(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid target address %q: %w", s, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("target %s is not an IPv4 address", addr)
	}
	return addr, nil
}

func formatTime(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).Format(time.DateTime)
}
