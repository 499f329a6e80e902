package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startCmd = &cobra.Command{
	Use:               "start",
	Short:             "Start the overlay node and block until shutdown",
	Args:              cobra.NoArgs,
	PersistentPreRunE: nodeInit,
	RunE:              runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running node in this process (no-op for a separate process)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		shutdownNode()
		fmt.Fprintln(cmd.OutOrStdout(), "stopped")
		return nil
	},
}

var peersCmd = &cobra.Command{
	Use:               "peers",
	Short:             "List known peers",
	Args:              cobra.NoArgs,
	PersistentPreRunE: nodeInit,
	RunE:              runPeers,
}

func runStart(cmd *cobra.Command, _ []string) error {
	n, err := currentNode()
	if err != nil {
		return err
	}
	startTime = time.Now()

	if addr := viper.GetString("ops_addr"); addr != "" {
		go func() {
			if err := serveOps(addr, n); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "ops server:", err)
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "node listening, %d known peers\n", len(n.table.AllKnown()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	shutdownNode()
	return nil
}

func runPeers(cmd *cobra.Command, _ []string) error {
	n, err := currentNode()
	if err != nil {
		return err
	}
	for _, p := range n.table.AllKnown() {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%v\n", p.ID, p.Dst, p.Verified)
	}
	return nil
}
