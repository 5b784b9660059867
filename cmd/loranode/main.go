// Command loranode runs one protocol endpoint: the control loop talking to
// its peer over the radio link, and the HTTP diagnostics gateway.
//
// Without real transceiver hardware attached, -simulate runs the configured
// node and its peer in-process over a shared memory link, which exercises
// the full protocol including retries and acknowledgments.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/meshcommons/loralink/internal/config"
	"github.com/meshcommons/loralink/internal/gateway"
	"github.com/meshcommons/loralink/internal/node"
	"github.com/meshcommons/loralink/internal/radio"
	"github.com/meshcommons/loralink/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		simulate   = flag.Bool("simulate", false, "run the peer in-process over a memory link")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	log := newLogger(*debug)
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *simulate, log); err != nil && ctx.Err() == nil {
		log.Fatal("node exited", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, simulate bool, log *zap.Logger) error {
	var (
		adapter *radio.Memory
		peer    *node.Node
	)
	if simulate {
		var peerRadio *radio.Memory
		adapter, peerRadio = radio.NewPair(cfg.Node.ID, cfg.Node.Peer)

		peerCfg := *cfg
		peerCfg.Node.ID = cfg.Node.Peer
		peerCfg.Node.Peer = cfg.Node.ID
		peer = node.New(&peerCfg, peerRadio, log)
		log.Info("simulating peer in-process", zap.String("peer", peerCfg.Node.ID))
	} else {
		adapter = radio.NewLoopback(cfg.Node.ID)
		log.Warn("no transceiver attached, frames go nowhere (use -simulate)")
	}

	var opts []node.Option
	var db *store.DB
	if cfg.Store.Path != "" {
		var err error
		db, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			return err
		}
		opts = append(opts, node.WithStore(db))
	}

	n := node.New(cfg, adapter, log, opts...)

	errc := make(chan error, 3)
	go func() { errc <- n.Run(ctx) }()
	if peer != nil {
		go func() { errc <- peer.Run(ctx) }()
	}
	if cfg.Gateway.ListenAddr != "" {
		srv := gateway.NewServer(cfg.Gateway.ListenAddr, n, db, n.Bus(), log)
		go func() { errc <- srv.Start(ctx) }()
	}

	err := <-errc
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func newLogger(debug bool) *zap.Logger {
	zc := zap.NewProductionConfig()
	if debug {
		zc = zap.NewDevelopmentConfig()
	}
	log, err := zc.Build()
	if err != nil {
		panic(err)
	}
	return log
}
