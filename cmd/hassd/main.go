// Command hassd runs the home automation daemon: it assembles a
// pkg/hass.Facade (event bus, state store, registries, automation
// engine) and serves it until an interrupt or SIGTERM is received.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/hassd/internal/log"
	"github.com/cuemby/hassd/internal/metrics"
	"github.com/cuemby/hassd/pkg/hass"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hassd",
	Short:   "hassd - a home automation daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hassd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		automationsFile, _ := cmd.Flags().GetString("automations")

		facade := hass.New(hass.Config{ConfigDir: configDir})
		if automationsFile != "" {
			if err := facade.Automations.LoadYAMLFile(automationsFile); err != nil {
				return fmt.Errorf("load automations: %w", err)
			}
			fmt.Printf("✓ Automations loaded from %s\n", automationsFile)
		}
		facade.Start(context.Background())
		fmt.Println("✓ Automation engine started")

		collector := hass.NewCollector(facade)
		collector.Start()
		fmt.Println("✓ Metrics collector started")

		go func() {
			http.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		fmt.Println("hassd is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		collector.Stop()
		facade.Stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("config-dir", "./config", "Directory holding the .storage/ tree")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve Prometheus metrics on")
	runCmd.Flags().String("automations", "", "Path to an automations.yaml file to load at startup")
}
