package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type sendOptions struct {
	code     string
	typ      string
	status   string
	amount   string
	currency string
	file     string
}

func sendCmd(g *globals) *cobra.Command {
	o := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post a callback to /webhook",
		Long: `Post a gateway-style callback. Either build one from flags:

  relayctl send --code TX1 --type CONFIRM --status COMPLETED --amount 12.50 --currency EUR

or send a raw body with --file (use - for stdin). Files ending in .yaml or
.yml are converted to JSON first, which keeps callback fixtures readable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := o.body(cmd.InOrStdin())
			if err != nil {
				return err
			}
			ack, err := g.client().Send(cmd.Context(), body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ack)
		},
	}

	cmd.Flags().StringVarP(&o.code, "code", "c", "", "transaction code")
	cmd.Flags().StringVarP(&o.typ, "type", "t", "PREVIEW", "callback type (PREVIEW, CONFIRM, REFUND)")
	cmd.Flags().StringVarP(&o.status, "status", "s", "READY_TO_CONFIRM", "callback status")
	cmd.Flags().StringVar(&o.amount, "amount", "", "decimal amount, e.g. 12.50")
	cmd.Flags().StringVar(&o.currency, "currency", "", "ISO currency code")
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "raw JSON body to send instead of flags (- for stdin)")

	return cmd
}

func (o *sendOptions) body(stdin io.Reader) ([]byte, error) {
	if o.file != "" {
		if o.file == "-" {
			return io.ReadAll(stdin)
		}
		raw, err := os.ReadFile(o.file)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(filepath.Ext(o.file)) {
		case ".yaml", ".yml":
			return yamlToJSON(raw)
		}
		return raw, nil
	}

	code := strings.TrimSpace(o.code)
	if code == "" {
		return nil, errors.New("--code is required unless --file is given")
	}

	body := map[string]any{
		"transactionCode": code,
		"type":            strings.ToUpper(o.typ),
		"status":          strings.ToUpper(o.status),
	}
	if o.amount != "" {
		amt, err := decimal.NewFromString(o.amount)
		if err != nil {
			return nil, fmt.Errorf("--amount: %w", err)
		}
		body["amount"] = amt
	}
	if o.currency != "" {
		body["currency"] = strings.ToUpper(o.currency)
	}
	return json.Marshal(body)
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return nil, errors.New("yaml fixture is empty")
	}
	return json.Marshal(doc)
}
