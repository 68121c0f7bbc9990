// Command capfsiod runs a CAPFS data server: a content-addressable chunk
// store (pkg/casstore) served over the client<->data-server RPCs of
// spec.md §6.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mnv104/capfs-sub000/internal/logx"
	"github.com/mnv104/capfs-sub000/internal/metrics"
	"github.com/mnv104/capfs-sub000/internal/wire"
	"github.com/mnv104/capfs-sub000/pkg/casstore"
)

var (
	dataDir     string
	addr        string
	workers     int
	logLvl      string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "capfsiod",
	Short: "Run a CAPFS data server",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return casstore.Init(dataDir)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start serving PUT/GET/STATFS/REMOVEALL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "/var/lib/capfs/iod", "root of this server's chunk store")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", ":7789", "listen address")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 8, "worker pool size for PUT/GET fan-out")
	rootCmd.PersistentFlags().StringVar(&logLvl, "log-level", "info", "debug|info|error")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9102", "address to serve Prometheus /metrics on")
	rootCmd.AddCommand(initCmd, serveCmd)
}

func runServe() error {
	logx.Configure(os.Stderr, logLvl)
	if err := casstore.Init(dataDir); err != nil {
		return err
	}
	store := casstore.Open(dataDir, workers)
	reg := prometheus.NewRegistry()
	store.SetMetrics(metrics.NewDataServer(reg))
	svc := &wire.DataServerService{Store: store}

	l, err := wire.Serve(addr, "DataServer", svc)
	if err != nil {
		return err
	}
	metricsSrv := metrics.Serve(metricsAddr, reg)
	defer metricsSrv.Close()
	logx.Infof("capfsiod", "serving %s on %s, metrics on %s", dataDir, addr, metricsAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logx.Infof("capfsiod", "shutting down")
	return l.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
