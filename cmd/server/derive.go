package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/promptpot/promptpot/internal/chain"
	"github.com/promptpot/promptpot/internal/session"
	"github.com/spf13/cobra"
)

type deriveOptions struct {
	snapshot string
	agent    string
	unit     string
}

func deriveCmd() *cobra.Command {
	var opts deriveOptions
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Project a snapshot file into a session view",
		Long: `Reads a JSON or YAML chain snapshot and prints the session view the
server would serve for it. Useful for checking Chain Reader output offline.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDerive(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.snapshot, "snapshot", "s", "", "path to a .json, .yaml or .yml snapshot")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "agent address used when the snapshot has none")
	cmd.Flags().StringVar(&opts.unit, "timestamp-unit", string(session.Milliseconds), "chain timestamp unit (ms or s)")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runDerive(w io.Writer, opts deriveOptions) error {
	unit := session.TimestampUnit(opts.unit)
	if unit != session.Milliseconds && unit != session.Seconds {
		return fmt.Errorf("timestamp unit must be ms or s, got %q", opts.unit)
	}

	f, err := os.Open(opts.snapshot)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := chain.Decode(f, chain.FormatFromPath(opts.snapshot))
	if err != nil {
		return err
	}

	if snap.AgentAddress == nil && opts.agent != "" {
		if !common.IsHexAddress(opts.agent) {
			return fmt.Errorf("agent is not a hex address: %q", opts.agent)
		}
		addr := common.HexToAddress(opts.agent)
		snap.AgentAddress = &addr
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(session.Derive(snap, session.Options{TimestampUnit: unit}))
}
