// Command sniffer passively observes Modbus RTU traffic carried over
// UDP or TCP, reconstructs frames, correlates FC03 request/response
// pairs, and serves the resulting register state over REST and
// WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/commatea/modbus-sniffer/pkg/anomaly"
	"github.com/commatea/modbus-sniffer/pkg/api/rest"
	"github.com/commatea/modbus-sniffer/pkg/api/ws"
	"github.com/commatea/modbus-sniffer/pkg/config"
	"github.com/commatea/modbus-sniffer/pkg/eventbus"
	"github.com/commatea/modbus-sniffer/pkg/history"
	"github.com/commatea/modbus-sniffer/pkg/hub"
	"github.com/commatea/modbus-sniffer/pkg/logger"
	"github.com/commatea/modbus-sniffer/pkg/packetlog"
	"github.com/commatea/modbus-sniffer/pkg/register"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var (
	cfgFile   string
	verbose   bool
	jwtSecret string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "sniffer",
		Short:   "modbus-sniffer - passive Modbus RTU traffic observer",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&jwtSecret, "jwt-secret", "", "secret used to sign API login tokens")

	rootCmd.AddCommand(newStartCmd(), newHistoryCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start capturing on every configured hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

func runStart() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	lg := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	logger.SetGlobal(lg)

	store := register.New()
	bus := eventbus.New(cfg.EventBusReplaySize, 0)
	packetLog := packetlog.New(cfg.PacketLogPath)

	var ledger *anomaly.Ledger
	if cfg.AnomalyLedgerPath != "" {
		ledger, err = anomaly.Open(cfg.AnomalyLedgerPath)
		if err != nil {
			return fmt.Errorf("open anomaly ledger: %w", err)
		}
		defer ledger.Close()
	}

	hubs := make([]*hub.Hub, 0, len(cfg.Hubs))
	for _, hc := range cfg.Hubs {
		h, err := hub.New(hub.Config{
			Name:           hc.Name,
			Mode:           hub.Mode(hc.Mode),
			Address:        fmt.Sprintf("%s:%d", hc.Host, hc.Port),
			MulticastGroup: hc.MulticastGroup,
			Interface:      hc.Interface,
		}, store, bus, packetLog, ledger, lg)
		if err != nil {
			return fmt.Errorf("build hub %s: %w", hc.Name, err)
		}
		hubs = append(hubs, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, h := range hubs {
		go func(h *hub.Hub) {
			if err := h.Run(ctx); err != nil {
				lg.Error("hub stopped", "err", err)
			}
		}(h)
	}

	restServer := rest.NewServer(hubs, store, bus, ledger, cfg.PacketLogPath, cfg.API, jwtSecret, lg)
	if err := restServer.Start(); err != nil {
		return fmt.Errorf("start REST server: %w", err)
	}

	wsConfig := ws.DefaultServerConfig()
	wsConfig.Addr = cfg.API.WSAddr
	wsServer := ws.NewServer(bus, wsConfig, lg)
	if err := wsServer.Start(); err != nil {
		return fmt.Errorf("start WS server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lg.Info("modbus-sniffer running", "hubs", len(hubs))
	<-sigCh
	lg.Info("shutting down")

	cancel()
	for _, h := range hubs {
		h.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	if err := restServer.Stop(shutdownCtx); err != nil {
		lg.Error("stop REST server", "err", err)
	}
	if err := wsServer.Stop(shutdownCtx); err != nil {
		lg.Error("stop WS server", "err", err)
	}

	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query a packet log file recorded by a running sniffer",
	}

	var startAddr, endAddr, startTime, endTime string

	addFilterFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&startAddr, "start-addr", "", "inclusive start register address")
		c.Flags().StringVar(&endAddr, "end-addr", "", "inclusive end register address")
		c.Flags().StringVar(&startTime, "start-time", "", "inclusive start timestamp (YYYY-MM-DD HH:MM:SS)")
		c.Flags().StringVar(&endTime, "end-time", "", "inclusive end timestamp (YYYY-MM-DD HH:MM:SS)")
	}

	fc03 := &cobra.Command{
		Use:   "fc03 <packet-log>",
		Short: "Print FC03 read activity recorded in a packet log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, notes := history.ParseFilters(startAddr, endAddr, startTime, endTime)
			for _, n := range notes {
				fmt.Fprintln(os.Stderr, "notice:", n)
			}
			result, err := history.QueryReads(args[0], f)
			if err != nil {
				return err
			}
			printReads(result)
			return nil
		},
	}
	addFilterFlags(fc03)

	fc06 := &cobra.Command{
		Use:   "fc06 <packet-log>",
		Short: "Print FC06 write activity recorded in a packet log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, notes := history.ParseFilters(startAddr, endAddr, startTime, endTime)
			for _, n := range notes {
				fmt.Fprintln(os.Stderr, "notice:", n)
			}
			result, err := history.QueryWrites(args[0], f)
			if err != nil {
				return err
			}
			printWrites(result)
			return nil
		},
	}
	addFilterFlags(fc06)

	cmd.AddCommand(fc03, fc06)
	return cmd
}

func printReads(result history.ReadResult) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tADDRESS\tVALUE")
	for _, row := range result.Rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", row.Timestamp, row.Address, row.Value)
	}
	tw.Flush()
	if result.Dropped > 0 {
		fmt.Printf("%d rows truncated to %d, %d addresses\n", result.Dropped, len(result.Rows), len(result.Stats))
	} else {
		fmt.Printf("%d reads, %d addresses\n", len(result.Rows), len(result.Stats))
	}
}

func printWrites(result history.WriteResult) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tREGISTER\tVALUE\tDIRECTION")
	for _, row := range result.Rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", row.Timestamp, row.Register, row.Value, row.Direction)
	}
	tw.Flush()
	if result.Dropped > 0 {
		fmt.Printf("%d rows truncated to %d\n", result.Dropped, len(result.Rows))
	} else {
		fmt.Printf("%d writes\n", len(result.Rows))
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("modbus-sniffer %s (commit %s, built %s)\n", version, gitCommit, buildTime)
		},
	}
}
