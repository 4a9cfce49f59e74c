package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parley-proto/parley/internal/session"
	"github.com/parley-proto/parley/internal/store"
)

// PeersOptions holds flags for the peers command.
type PeersOptions struct {
	*RootOptions
	Database string
	SelfID   string
	Role     string // optional - filter to one role
}

// PeerRow is the output record for one conversation.
type PeerRow struct {
	Role            string `json:"role"`
	Peer            string `json:"peer"`
	Phase           string `json:"phase"`
	LocalRef        string `json:"local_ref,omitempty"`
	PeerRef         string `json:"peer_ref,omitempty"`
	ExchangeCount   int    `json:"exchange_count"`
	FinalizeRetries int    `json:"finalize_retries"`
	LastAddr        string `json:"last_addr,omitempty"`
}

// NewPeersCommand creates the peers command.
func NewPeersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List handshake conversations",
		Long: `List every conversation in the database: one row per (role, peer),
with the current phase, retry counters, and held references.

Examples:
  parley peers --db ./parley.db --self node-a
  parley peers --db ./parley.db --self node-a --role responder
  parley peers --db ./parley.db --self node-a --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeers(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.SelfID, "self", "", "node identity the database is scoped to (required)")
	_ = cmd.MarkFlagRequired("self")
	cmd.Flags().StringVar(&opts.Role, "role", "", "filter to one role (initiator|responder)")

	return cmd
}

func runPeers(opts *PeersOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	if opts.Role != "" && !session.Role(opts.Role).Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid role %q", opts.Role))
	}

	st, err := store.Open(opts.Database, opts.SelfID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var convs []session.Conversation
	if opts.Role != "" {
		convs, err = st.List(ctx, session.Role(opts.Role))
	} else {
		convs, err = st.ListAll(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list conversations", err)
	}

	rows := make([]PeerRow, 0, len(convs))
	for _, conv := range convs {
		rows = append(rows, PeerRow{
			Role:            string(conv.Role),
			Peer:            conv.PeerID,
			Phase:           string(conv.Phase),
			LocalRef:        conv.LocalRef,
			PeerRef:         conv.PeerRef,
			ExchangeCount:   conv.ExchangeCount,
			FinalizeRetries: conv.FinalizeRetries,
			LastAddr:        conv.LastAddr,
		})
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(rows)
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tPEER\tPHASE\tEXCHANGES\tFINALIZE\tLOCAL REF\tPEER REF\tADDR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.Role, r.Peer, r.Phase, r.ExchangeCount, r.FinalizeRetries,
			dash(r.LocalRef), dash(r.PeerRef), dash(r.LastAddr))
	}
	return tw.Flush()
}

// dash substitutes "-" for empty values in text tables.
func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
