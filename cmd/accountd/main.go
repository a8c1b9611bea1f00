package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"walletsnap/go-backend/internal/composition/daemonserver"
	"walletsnap/go-backend/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "JSON-RPC listen address (overrides config)")
	configPath := flag.String("config", "", "Path to accountd.yaml (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Accountd-Token (optional)")
	transport := flag.String("transport", "", "Chain transport override: rpc | mock")
	flag.Parse()
	if *showVersion {
		fmt.Printf("accountd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("ACCOUNTD_RPC_TOKEN", *rpcToken)
	}
	if *transport != "" {
		_ = os.Setenv("ACCOUNTD_CHAIN_TRANSPORT", *transport)
	}
	if *rpcAddr != "" {
		_ = os.Setenv("ACCOUNTD_RPC_ADDR", *rpcAddr)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("accountd config: %v", err)
	}
	logger, err := daemonserver.NewLogger(cfg, os.Stderr)
	if err != nil {
		log.Fatalf("accountd logger: %v", err)
	}

	d, err := daemonserver.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("accountd failed to initialize: %v", err)
	}

	logger.Info("accountd starting", "version", version, "rpc_addr", d.Server.Addr())
	if err := d.Server.Run(ctx); err != nil {
		log.Fatalf("accountd failed: %v", err)
	}
	logger.Info("accountd stopped")
}
