package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/k1networth/cb-testclient/internal/relayclient"
	"github.com/k1networth/cb-testclient/internal/shared/env"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globals struct {
	addr     string
	clientID string
}

func (g *globals) client() *relayclient.Client {
	c := relayclient.New(g.addr)
	c.ClientID = g.clientID
	return c
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Send test callbacks to the webhook relay and inspect its state",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", env.String("RELAY_ADDR", "http://localhost:8080"), "relay base URL")
	root.PersistentFlags().StringVar(&g.clientID, "client-id", env.String("RELAY_CLIENT_ID", ""), "client id sent with callbacks and used to filter waits")

	root.AddCommand(
		sendCmd(g),
		getCmd(g),
		peekCmd(g),
		listCmd(g),
		waitCmd(g),
		streamCmd(g),
		statsCmd(g),
		adminCmd(g),
		logsCmd(g),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
