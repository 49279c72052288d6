// Command splitctl runs the bill tools offline: parse a chat command
// against a saved bill, scan a receipt image, or print a bill summary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/splitchat/internal/ai"
	"github.com/mmynk/splitchat/internal/command"
	"github.com/mmynk/splitchat/internal/config"
	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/models"
	"github.com/mmynk/splitchat/pkg/logging"
)

var debug bool

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "splitctl",
		Short:         "Offline tools for SPLIT bills",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newSummaryCmd())
	return rootCmd
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return logging.New(cmd.ErrOrStderr(), level)
}

func newParseCmd() *cobra.Command {
	var billPath string
	var apply bool

	cmd := &cobra.Command{
		Use:   "parse [flags] <message>",
		Short: "Parse a chat command against a saved bill",
		Long: "Runs the rule-based parser on the message and prints the intent as JSON.\n" +
			"With --apply, the intent is carried out and the acknowledgment and summary are printed instead.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := loadLedger(billPath)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")

			intent := command.Parse(text, command.BillView{
				Items:       l.Items(),
				Users:       l.Users(),
				PrimaryName: l.Primary().Name,
			})
			newLogger(cmd).Debug("parsed message", "action", intent.Action, "assignments", len(intent.Assignments))

			if !apply {
				return writeJSON(cmd.OutOrStdout(), intent)
			}
			res := command.Apply(l, intent)
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), l.SummaryText())
			return nil
		},
	}
	cmd.Flags().StringVar(&billPath, "bill", "", "Saved bill JSON file (required)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply the intent and print the result")
	_ = cmd.MarkFlagRequired("bill")
	return cmd
}

func newScanCmd() *cobra.Command {
	var imagePath, mimeType string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "scan --image <file>",
		Short: "Extract items from a receipt image with Gemini",
		Long:  "Reads SPLITCHAT_GEMINI_API_KEY and the model settings from the environment.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if cfg.GeminiAPIKey == "" {
				return ai.ErrNoAPIKey
			}

			image, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(imagePath))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			gen, err := ai.NewGenAIGenerator(ctx, cfg.GeminiAPIKey)
			if err != nil {
				return err
			}
			client := ai.NewClient(gen, cfg.AI(), newLogger(cmd))

			receipt, err := client.ExtractReceipt(ctx, image, mimeType)
			if err != nil {
				return fmt.Errorf("%s: %w", ai.Reason(err), err)
			}
			return writeJSON(cmd.OutOrStdout(), receipt)
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Receipt image (required)")
	cmd.Flags().StringVar(&mimeType, "mime", "", "Image MIME type (default: from the file extension)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long, retries included")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	var billPath string

	cmd := &cobra.Command{
		Use:   "summary --bill <file>",
		Short: "Print the shareable summary of a saved bill",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := loadLedger(billPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), l.SummaryText())
			return nil
		},
	}
	cmd.Flags().StringVar(&billPath, "bill", "", "Saved bill JSON file (required)")
	_ = cmd.MarkFlagRequired("bill")
	return cmd
}

// loadLedger restores a saved bill. Rates, currency and the default
// primary name come from the SPLITCHAT_* environment.
func loadLedger(path string) (*ledger.Ledger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bill: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode bill %s: %w", path, err)
	}

	l := ledger.New(
		ledger.WithIDGenerator(ledger.UUIDIDs{}),
		ledger.WithRates(cfg.TaxRate, cfg.TipRate),
		ledger.WithCurrency(cfg.Currency),
		ledger.WithPrimaryName(cfg.PrimaryUser),
	)
	l.Restore(snap)
	return l, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
