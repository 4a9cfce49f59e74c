package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/store"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	Database string
	SelfID   string
	Role     string
	Peer     string
}

// LedgerEvent is one nonce audit row in the output.
type LedgerEvent struct {
	Seq   int64  `json:"seq"`
	Flow  string `json:"flow"` // "sent" or "received"
	Nonce string `json:"nonce"`
	At    string `json:"at"`
}

// LedgerResult holds the complete ledger output for one conversation.
type LedgerResult struct {
	Role     string        `json:"role"`
	Peer     string        `json:"peer"`
	Events   []LedgerEvent `json:"events"`
	Sent     int           `json:"sent"`
	Received int           `json:"received"`
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show the nonce audit ledger for a conversation",
		Long: `Show the append-only nonce ledger for one (role, peer) conversation.

Every offered and accepted challenge is recorded in logical-clock order
until the handshake finalizes, which purges the rows. A populated ledger
therefore always describes the round currently in flight.

Examples:
  parley ledger --db ./parley.db --self node-a --role initiator --peer node-b
  parley ledger --db ./parley.db --self node-a --role responder --peer node-b --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.SelfID, "self", "", "node identity the database is scoped to (required)")
	_ = cmd.MarkFlagRequired("self")
	cmd.Flags().StringVar(&opts.Role, "role", "", "conversation role (initiator|responder) (required)")
	_ = cmd.MarkFlagRequired("role")
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "peer identity (required)")
	_ = cmd.MarkFlagRequired("peer")

	return cmd
}

func runLedger(opts *LedgerOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	role := session.Role(opts.Role)
	if !role.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid role %q", opts.Role))
	}

	st, err := store.Open(opts.Database, opts.SelfID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	events, err := st.ReadNonces(ctx, role, opts.Peer)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read ledger", err)
	}

	result := LedgerResult{
		Role:   opts.Role,
		Peer:   opts.Peer,
		Events: make([]LedgerEvent, 0, len(events)),
	}
	for _, ev := range events {
		result.Events = append(result.Events, LedgerEvent{
			Seq:   ev.Seq,
			Flow:  string(ev.Flow),
			Nonce: ev.Nonce,
			At:    ev.At.UTC().Format(time.RFC3339Nano),
		})
		switch ev.Flow {
		case session.FlowSent:
			result.Sent++
		case session.FlowReceived:
			result.Received++
		}
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Ledger for %s/%s\n\n", result.Role, result.Peer)
	if len(result.Events) == 0 {
		fmt.Fprintln(w, "  (empty: no round in flight)")
		return nil
	}
	for _, ev := range result.Events {
		fmt.Fprintf(w, "  [%d] %-8s %s\n", ev.Seq, ev.Flow, ev.Nonce)
	}
	fmt.Fprintf(w, "\n%d sent, %d received\n", result.Sent, result.Received)
	return nil
}
