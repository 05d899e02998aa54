// Command gocyphald runs a standalone Cyphal/CAN node: it connects to a
// CAN or CAN-FD bus, applies a hot-reloadable subscription manifest, logs
// completed transfers, periodically sweeps timed-out sessions, and
// serves Prometheus metrics. It covers the receive side of a minimal
// node example's loop, wrapped in the ambient daemon scaffolding
// (config, metrics, scheduling) a long-running service needs; it
// transmits no transfers of its own.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cyphal-go/gocyphal/internal/metrics"
	"github.com/cyphal-go/gocyphal/pkg/can"
	_ "github.com/cyphal-go/gocyphal/pkg/can/socketcan"
	_ "github.com/cyphal-go/gocyphal/pkg/can/virtual"
	"github.com/cyphal-go/gocyphal/pkg/config"
	"github.com/cyphal-go/gocyphal/pkg/cyphal"
	"github.com/cyphal-go/gocyphal/pkg/node"
)

func main() {
	interfaceName := flag.String("interface", "virtual", "bus backend: socketcan or virtual")
	channel := flag.String("channel", "vcan0", "interface channel (e.g. vcan0, or host:port for virtual)")
	localNodeID := flag.Int("node-id", -1, "local node id, or -1 for anonymous")
	useFD := flag.Bool("fd", false, "use CAN-FD framing instead of classic CAN")
	subscriptionsPath := flag.String("subscriptions", "", "path to an INI subscription manifest")
	sweepCron := flag.String("sweep-cron", "@every 1s", "cron schedule for the session timeout sweep")
	metricsAddr := flag.String("metrics-addr", ":9469", "address to serve /metrics and /ready on")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger := logrus.NewEntry(logrus.StandardLogger())
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	bus, err := can.NewBus(*interfaceName, *channel)
	if err != nil {
		logger.WithError(err).Fatal("unsupported bus interface")
	}

	var local *cyphal.NodeID
	if *localNodeID >= 0 {
		id := cyphal.NodeID(*localNodeID)
		if !id.Valid() {
			logger.Fatal("node id out of range")
		}
		local = &id
	}

	var n *node.Node
	if *useFD {
		n = node.NewFDNode(bus, local, logger)
	} else {
		n = node.NewClassicNode(bus, local, logger)
	}

	n.OnTransfer(func(transfer cyphal.Transfer) {
		logger.WithFields(logrus.Fields{
			"port_id":     transfer.PortID,
			"transfer_id": transfer.TransferID,
			"kind":        transfer.Kind,
			"bytes":       len(transfer.Payload),
		}).Info("transfer received")
	})

	reloader := newSubscriptionReloader(n, logger)
	if *subscriptionsPath != "" {
		if err := reloader.apply(*subscriptionsPath); err != nil {
			logger.WithError(err).Fatal("failed to load subscription manifest")
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			logger.WithError(err).Fatal("failed to start subscription file watcher")
		}
		defer watcher.Close()
		if err := watcher.Add(*subscriptionsPath); err != nil {
			logger.WithError(err).Fatal("failed to watch subscription manifest")
		}
		go watchSubscriptions(watcher, reloader, *subscriptionsPath, logger)
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(*sweepCron, func() { n.UpdateSessions(time.Now()) }); err != nil {
		logger.WithError(err).Fatal("invalid sweep-cron expression")
	}
	sweeper.Start()
	defer sweeper.Stop()

	metrics.SetReadinessFunc(func() bool { return true })
	metricsServer := metrics.StartHTTP(*metricsAddr)
	defer metricsServer.Close()

	if err := n.Connect(); err != nil {
		logger.WithError(err).Fatal("failed to connect to bus")
	}
	defer n.Disconnect()

	logger.WithFields(logrus.Fields{"interface": *interfaceName, "channel": *channel}).Info("gocyphald running")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}

// subscriptionReloader tracks the currently applied subscriptions so a
// manifest change on disk can be turned into a minimal
// Subscribe/EditSubscription/Unsubscribe diff against the running node.
type subscriptionReloader struct {
	node    *node.Node
	logger  *logrus.Entry
	current []cyphal.Subscription
}

func newSubscriptionReloader(n *node.Node, logger *logrus.Entry) *subscriptionReloader {
	return &subscriptionReloader{node: n, logger: logger}
}

func (r *subscriptionReloader) apply(path string) error {
	next, err := config.Load(path)
	if err != nil {
		return err
	}

	for _, want := range next {
		found := false
		for _, have := range r.current {
			if have.Matches(want.Kind, want.PortID) {
				found = true
				if have != want {
					if err := r.node.EditSubscription(want); err != nil {
						r.logger.WithError(err).Warn("failed to edit subscription")
					}
				}
				break
			}
		}
		if !found {
			if err := r.node.Subscribe(want); err != nil {
				r.logger.WithError(err).Warn("failed to add subscription")
			}
		}
	}

	for _, have := range r.current {
		stillWanted := false
		for _, want := range next {
			if want.Matches(have.Kind, have.PortID) {
				stillWanted = true
				break
			}
		}
		if !stillWanted {
			if err := r.node.Unsubscribe(have); err != nil {
				r.logger.WithError(err).Warn("failed to remove subscription")
			}
		}
	}

	r.current = next
	return nil
}

func watchSubscriptions(watcher *fsnotify.Watcher, reloader *subscriptionReloader, path string, logger *logrus.Entry) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := reloader.apply(path); err != nil {
				logger.WithError(err).Warn("failed to reload subscription manifest")
				continue
			}
			logger.Info("subscription manifest reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("subscription watcher error")
		}
	}
}
