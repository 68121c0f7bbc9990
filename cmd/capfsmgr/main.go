// Command capfsmgr runs the CAPFS metadata manager: the recipe store,
// callback registry/dispatcher and metadata op engine, served over the
// client<->manager RPCs of spec.md §6.
//
// Its command tree follows the teacher's cobra registration idiom
// (backend/torrent/cmd/backend.go, backend/raid3/commands.go): a root
// command plus one subcommand per operational action, flags bound with
// cobra.Command.Flags().
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mnv104/capfs-sub000/internal/config"
	"github.com/mnv104/capfs-sub000/internal/layout"
	"github.com/mnv104/capfs-sub000/internal/logx"
	"github.com/mnv104/capfs-sub000/internal/metrics"
	"github.com/mnv104/capfs-sub000/internal/wire"
	"github.com/mnv104/capfs-sub000/pkg/manager/callback"
	"github.com/mnv104/capfs-sub000/pkg/manager/inodetable"
	"github.com/mnv104/capfs-sub000/pkg/manager/ops"
	"github.com/mnv104/capfs-sub000/pkg/manager/recipestore"
)

var (
	configPath  string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "capfsmgr",
	Short: "Run the CAPFS metadata manager",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start serving the manager RPCs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var initCmd = &cobra.Command{
	Use:   "init DIR",
	Short: "Initialize a new manager metadata root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9101", "address to serve Prometheus /metrics on")
	rootCmd.AddCommand(serveCmd, initCmd)
}

func runInit(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := layout.WriteSentinel(dir, layout.CapfsdirName); err != nil {
		return err
	}
	return layout.WriteIodtab(dir, nil)
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logx.Configure(os.Stderr, cfg.LogLevel)

	recipes := recipestore.New(cfg.DataDir)
	inodes, err := inodetable.Open(cfg.DataDir + "/.inodes.db")
	if err != nil {
		return err
	}
	defer inodes.Close()

	registry := callback.New()
	channels := callback.NewChannels()
	dispatch := callback.NewDispatcher(channels, wire.CallbackTransport{Timeout: cfg.RPCTimeout})

	reg := prometheus.NewRegistry()
	mtr := metrics.NewManager(reg)
	dispatch.SetMetrics(mtr)

	engine := ops.NewEngine(cfg, recipes, registry, dispatch, inodes)
	engine.SetMetrics(mtr)
	svc := &wire.ManagerService{Engine: engine, Channels: channels}

	addr := fmt.Sprintf(":%d", cfg.Port)
	l, err := wire.Serve(addr, "Manager", svc)
	if err != nil {
		return err
	}
	metricsSrv := metrics.Serve(metricsAddr, reg)
	defer metricsSrv.Close()
	logx.Infof("capfsmgr", "serving on %s, metrics on %s", addr, metricsAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logx.Infof("capfsmgr", "shutting down")
	time.Sleep(50 * time.Millisecond) // let in-flight RPCs drain briefly
	return l.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
