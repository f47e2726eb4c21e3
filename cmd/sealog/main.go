package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sealog-io/sealog/internal/hashchain"
	"github.com/sealog-io/sealog/pkg/client"
	"github.com/sealog-io/sealog/pkg/merkle"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden at release time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	authToken string
)

func apiClient() *client.Client {
	opts := []client.Option{}
	if authToken != "" {
		opts = append(opts, client.WithBearerToken(authToken))
	}
	return client.New(serverURL, opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sealog",
	Short: "sealog ledger CLI",
	Long: `sealog is the command-line companion to sealogd.

It submits records, inspects ledger state over the HTTP API, verifies
inclusion proofs offline, and audits a hash-chain file directly.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "sealogd base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token for write endpoints")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── submit ───────────────────────────────────────────────────────────────────

var submitCmd = &cobra.Command{
	Use:   "submit <json-record>",
	Short: "Submit a JSON record to the ledger",
	Long: `Submit posts one JSON record to the running sealogd and prints the
content hash assigned to it:

  sealog submit '{"actor":"alice","action":"login"}'

Pass "-" to read the record from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	payload := args[0]
	if payload == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = string(raw)
	}

	res, err := apiClient().Submit(context.Background(), json.RawMessage(payload))
	if err != nil {
		return err
	}
	fmt.Println(res.ContentHash)
	return nil
}

// ── stats ────────────────────────────────────────────────────────────────────

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "text", "Output format: text or json")
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient().Stats(context.Background())
	if err != nil {
		return err
	}

	if statsFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "state\t%s\n", stats.State)
	fmt.Fprintf(w, "entries\t%d\n", stats.Entries)
	fmt.Fprintf(w, "batches committed\t%d\n", stats.BatchesCommitted)
	fmt.Fprintf(w, "open batch size\t%d/%d\n", stats.OpenBatchSize, stats.BatchSize)
	fmt.Fprintf(w, "queue depth\t%d\n", stats.QueueDepth)
	fmt.Fprintf(w, "current root\t%s\n", stats.CurrentRoot)
	fmt.Fprintf(w, "anchors succeeded\t%d\n", stats.Anchoring.Succeeded)
	fmt.Fprintf(w, "anchors failed\t%d\n", stats.Anchoring.Failed)
	fmt.Fprintf(w, "anchors pending\t%d\n", stats.Anchoring.Pending)
	fmt.Fprintf(w, "unanchored batches\t%d\n", stats.Anchoring.Unanchored)
	return w.Flush()
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyProofFile string
	verifyRoot      string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <json-record>",
	Short: "Verify an inclusion proof offline",
	Long: `Verify checks a record against a Merkle inclusion proof without
contacting the server. The proof file is the JSON proof array returned by
GET /api/v1/ledger/entries/{hash}:

  sealog verify --proof proof.json --root 3a7bd3... '{"actor":"alice"}'

The record is canonicalized before hashing, so key order and whitespace
do not matter.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyProofFile, "proof", "", "Path to the JSON proof file (required)")
	verifyCmd.Flags().StringVar(&verifyRoot, "root", "", "Expected Merkle root hash (required)")
	verifyCmd.MarkFlagRequired("proof") //nolint:errcheck
	verifyCmd.MarkFlagRequired("root")  //nolint:errcheck
}

func runVerify(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(verifyProofFile)
	if err != nil {
		return fmt.Errorf("read proof: %w", err)
	}
	var proof []merkle.ProofStep
	if err := json.Unmarshal(raw, &proof); err != nil {
		return fmt.Errorf("parse proof: %w", err)
	}

	ok, err := client.VerifyEntryOffline(json.RawMessage(args[0]), proof, verifyRoot)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("INVALID")
		os.Exit(1)
	}
	fmt.Println("OK")
	return nil
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainPath string

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Audit a hash-chain file",
	Long: `Chain loads a chain file from disk, re-verifies every block link and
hash, and prints the result. This works directly on the file and does not
require a running sealogd:

  sealog chain --path data/chain.json`,
	RunE: runChain,
}

func init() {
	chainCmd.Flags().StringVar(&chainPath, "path", "data/chain.json", "Path to the chain file")
}

func runChain(cmd *cobra.Command, args []string) error {
	store, err := hashchain.NewFileStore(chainPath)
	if err != nil {
		return fmt.Errorf("open chain file: %w", err)
	}
	chain, err := hashchain.New(store, false, zap.NewNop())
	if err != nil {
		return fmt.Errorf("load chain: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tTIMESTAMP\tROOT\tHASH")
	for _, b := range chain.Blocks() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			b.Index, b.Timestamp.Format(time.RFC3339), truncate(b.RootHash, 16), truncate(b.Hash, 16))
	}
	w.Flush() //nolint:errcheck

	if err := chain.Verify(); err != nil {
		fmt.Printf("chain INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("chain OK (%d blocks)\n", chain.Len())
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sealog version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("sealog", version)
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
