// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/agubarev/bolt/internal/core"
	"github.com/agubarev/bolt/pkg/device"
	"github.com/agubarev/bolt/pkg/registry"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// monitorCmd follows devices coming, going and changing until interrupted
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch devices and print their changes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := currentCore()
		if err != nil {
			return err
		}

		r, err := m.Registry()
		if err != nil {
			return err
		}

		mon := newMonitor(m, r, cmd.OutOrStdout())
		defer mon.close()

		err = mon.run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// monitor keeps one bound proxy and its last seen snapshot per object path
type monitor struct {
	core      *core.Core
	registry  *registry.Registry
	out       io.Writer
	proxies   map[string]*device.Proxy
	snapshots map[string]device.Snapshot
	sync.Mutex
}

func newMonitor(m *core.Core, r *registry.Registry, out io.Writer) *monitor {
	return &monitor{
		core:      m,
		registry:  r,
		out:       out,
		proxies:   make(map[string]*device.Proxy),
		snapshots: make(map[string]device.Snapshot),
	}
}

func (mon *monitor) run(ctx context.Context) error {
	proxies, err := mon.registry.ListDevices(ctx, device.WithChangeHandler(mon.changed))
	if err != nil {
		return err
	}

	for _, p := range proxies {
		mon.track(ctx, p)
	}

	mon.printf("monitoring %d device(s)\n", len(proxies))

	return mon.registry.Watch(ctx, func(ev registry.Event) {
		switch ev.Kind {
		case registry.DeviceAdded:
			p, err := mon.registry.DeviceByPath(ctx, ev.Path, device.WithChangeHandler(mon.changed))
			if err != nil {
				mon.core.Logger().Warn("failed to bind added device", zap.String("path", ev.Path), zap.Error(err))
				return
			}

			mon.track(ctx, p)
			mon.printf("%s [%s] added (%s)\n", stamp(), p.UID(), p.Name())
		case registry.DeviceRemoved:
			mon.untrack(ev.Path)
			mon.printf("%s [%s] removed\n", stamp(), ev.UID)
		}
	})
}

func (mon *monitor) track(ctx context.Context, p *device.Proxy) {
	mon.Lock()
	if old, ok := mon.proxies[p.ObjectPath()]; ok {
		old.Unbind()
	}

	// the change handler may have recorded a baseline already
	mon.proxies[p.ObjectPath()] = p
	if _, ok := mon.snapshots[p.ObjectPath()]; !ok {
		mon.snapshots[p.ObjectPath()] = p.Snapshot()
	}
	mon.Unlock()

	if err := mon.core.Remember(ctx, p); err != nil {
		mon.core.Logger().Warn("failed to remember device", zap.String("uid", p.UID()), zap.Error(err))
	}
}

func (mon *monitor) untrack(path string) {
	mon.Lock()
	defer mon.Unlock()

	if p, ok := mon.proxies[path]; ok {
		p.Unbind()
	}

	delete(mon.proxies, path)
	delete(mon.snapshots, path)
}

// changed runs on the proxy's own notification goroutine
func (mon *monitor) changed(p *device.Proxy, attrs []device.Attribute) {
	if attrs == nil {
		return
	}

	after := p.Snapshot()

	mon.Lock()
	before, ok := mon.snapshots[p.ObjectPath()]
	mon.snapshots[p.ObjectPath()] = after
	mon.Unlock()

	// changed before it was tracked, there is nothing to compare with
	if !ok {
		for _, attr := range attrs {
			mon.printf("%s [%s] %s changed\n", stamp(), p.UID(), attr)
		}

		return
	}

	changes, err := device.Diff(before, after)
	if err != nil {
		mon.core.Logger().Warn("failed to compare snapshots", zap.String("uid", p.UID()), zap.Error(err))
		return
	}

	for _, ch := range changes {
		mon.printf("%s [%s] %s: %v -> %v\n", stamp(), p.UID(), ch.Attribute, ch.From, ch.To)
	}
}

func (mon *monitor) printf(format string, args ...interface{}) {
	mon.Lock()
	fmt.Fprintf(mon.out, format, args...)
	mon.Unlock()
}

func (mon *monitor) close() {
	mon.Lock()
	defer mon.Unlock()

	for path, p := range mon.proxies {
		p.Unbind()
		delete(mon.proxies, path)
	}
}

func stamp() string {
	return time.Now().Format("15:04:05")
}
