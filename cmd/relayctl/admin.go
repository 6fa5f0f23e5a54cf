package main

import (
	"github.com/spf13/cobra"
)

func statsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store, waiter and stream counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func adminCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative actions on the correlation store",
	}

	run := func(action string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			code := ""
			if len(args) > 0 {
				code = args[0]
			}
			res, err := g.client().Admin(cmd.Context(), action, code)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "cleanup",
			Short: "Evict expired records now",
			Args:  cobra.NoArgs,
			RunE:  run("cleanup"),
		},
		&cobra.Command{
			Use:   "clear [code]",
			Short: "Remove one record, or all records when no code is given",
			Args:  cobra.MaximumNArgs(1),
			RunE:  run("clear"),
		},
		&cobra.Command{
			Use:   "mark-consumed [code]",
			Short: "Mark a record consumed without reading it",
			Args:  cobra.ExactArgs(1),
			RunE:  run("mark-consumed"),
		},
	)
	return cmd
}

func logsCmd(g *globals) *cobra.Command {
	var (
		code      string
		clearLogs bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent ingestion attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := g.client()
			if clearLogs {
				return c.ClearLogs(cmd.Context())
			}
			logs, err := c.Logs(cmd.Context(), code)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), logs)
		},
	}
	cmd.Flags().StringVarP(&code, "code", "c", "", "only entries for this transaction code")
	cmd.Flags().BoolVar(&clearLogs, "clear", false, "clear the journal instead of printing it")
	return cmd
}
