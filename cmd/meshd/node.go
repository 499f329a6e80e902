package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mistnet/core"
)

var (
	node      *meshNode
	nodeMu    sync.RWMutex
	startTime time.Time
)

// meshNode bundles one node's live components: the link socket and peer
// table backing a single endpoint, the router fanning frames to it, and
// the hub + responder dispatching RPC envelopes on top.
type meshNode struct {
	table     *core.PeerTable
	socket    *core.Socket
	endpoint  *core.Endpoint
	router    *core.Router
	hub       *core.Hub
	responder *core.Responder
	cancel    context.CancelFunc
}

func nodeInit(cmd *cobra.Command, _ []string) error {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node != nil {
		return nil
	}

	lv, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(lv)

	cfg := core.DefaultConfig()
	if v := viper.GetString("listen_addr"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.DataDir = viper.GetString("data_dir")
	cfg.PeerListPath = viper.GetString("peer_list")

	table := core.NewPeerTable(core.ModeDynamic)
	if cfg.PeerListPath != "" {
		dsts, err := core.LoadPeerList(cfg.PeerListPath)
		if err != nil {
			return err
		}
		if err := table.Load(dsts); err != nil {
			logrus.WithError(err).Warn("peer list contained duplicates")
		}
	}

	socket := core.NewSocket(table, cfg.ListenAddr)
	endpoint := core.NewEndpoint(socket, table, 0)
	router := core.NewRouter()

	var store *core.Store
	if cfg.DataDir != "" {
		store, err = core.OpenStore(cfg.DataDir)
		if err != nil {
			return err
		}
	} else {
		store = core.NewStore()
	}
	hub := core.NewHub(store, router)
	responder := core.NewResponder(hub)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := router.AddEndpoint(ctx, endpoint); err != nil {
		cancel()
		return err
	}

	node = &meshNode{
		table: table, socket: socket, endpoint: endpoint,
		router: router, hub: hub, responder: responder, cancel: cancel,
	}
	return nil
}

func currentNode() (*meshNode, error) {
	nodeMu.RLock()
	defer nodeMu.RUnlock()
	if node == nil {
		return nil, fmt.Errorf("meshd: node not initialised")
	}
	return node, nil
}

func shutdownNode() {
	nodeMu.Lock()
	defer nodeMu.Unlock()
	if node == nil {
		return
	}
	node.cancel()
	node.router.Shutdown()
	if err := node.hub.Store().Close(); err != nil {
		logrus.WithError(err).Warn("error closing store")
	}
	node = nil
}
