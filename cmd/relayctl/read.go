package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/k1networth/cb-testclient/internal/broadcast"
	"github.com/k1networth/cb-testclient/internal/relayclient"
)

func getCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get [code]",
		Short: "Claim the callback for a transaction code (consumes it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().Claim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func peekCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "peek [code]",
		Short: "Show the callback for a transaction code without consuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().Peek(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func listCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every live record, consumed ones included",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().Records(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func waitCmd(g *globals) *cobra.Command {
	var (
		q      relayclient.WaitQuery
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Long-poll for a callback by code or after a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if q.Code != "" && q.Since != "" {
				return errors.New("use either --code or --since")
			}
			if follow && q.Code != "" {
				return errors.New("--follow works with --since only")
			}

			c := g.client()
			for {
				res, err := c.Wait(cmd.Context(), q)
				if err != nil {
					if follow && cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if !follow || len(res.Records) > 0 {
					if err := printJSON(cmd.OutOrStdout(), res); err != nil {
						return err
					}
				}
				if !follow {
					return nil
				}
				q.Since = res.Cursor
			}
		},
	}

	cmd.Flags().StringVarP(&q.Code, "code", "c", "", "transaction code to wait for")
	cmd.Flags().StringVar(&q.Since, "since", "", "cursor from a previous wait (unix nanoseconds)")
	cmd.Flags().DurationVar(&q.Timeout, "timeout", 30*time.Second, "how long the relay holds the request")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling with the returned cursor")
	return cmd
}

func streamCmd(g *globals) *cobra.Command {
	var pings bool

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Print broadcast events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := g.client().Stream(cmd.Context(), func(ev broadcast.Event) error {
				if ev.Type == broadcast.EventPing && !pings {
					return nil
				}
				return printJSON(cmd.OutOrStdout(), ev)
			})
			if cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&pings, "pings", false, "also print keep-alive pings")
	return cmd
}
