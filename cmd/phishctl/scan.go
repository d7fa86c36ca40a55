package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/emersion/go-mbox"
	"github.com/mikey/phish-gateway/internal/config"
	"github.com/mikey/phish-gateway/internal/core"
	"github.com/mikey/phish-gateway/internal/parser"
	"github.com/mikey/phish-gateway/internal/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scanMbox      bool
	scanSender    string
	scanRecipient []string
)

var scanCmd = &cobra.Command{
	Use:   "scan [email-file]",
	Short: "Analyze a message or an mbox file",
	Long: `Run messages through the analysis pipeline and print the verdict of each.
Reads a single RFC 5322 message from the file (or stdin when no file is given),
or every message of an mbox file with --mbox.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open input file: %w", err)
			}
			defer f.Close()
			in = f
		}

		return invoke(func(cfg *config.Config, logger *zap.Logger, repo core.Repository, orchestrator *pipeline.Orchestrator) error {
			defer repo.Close()
			s := &scanner{
				parser:       parser.New(logger, parser.WithTrustedAuthservIDs(cfg.GetParser().TrustedAuthservIDs)),
				repo:         repo,
				orchestrator: orchestrator,
				out:          cmd.OutOrStdout(),
			}
			if scanMbox {
				return s.scanMbox(cmd.Context(), in)
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}
			return s.scan(cmd.Context(), raw)
		})
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanMbox, "mbox", false, "Treat the input as an mbox file")
	scanCmd.Flags().StringVar(&scanSender, "sender", "", "Envelope sender (defaults to the From header)")
	scanCmd.Flags().StringSliceVar(&scanRecipient, "rcpt", nil, "Envelope recipients (defaults to the To header)")
}

type scanner struct {
	parser       *parser.Parser
	repo         core.Repository
	orchestrator *pipeline.Orchestrator
	out          io.Writer
}

func (s *scanner) scanMbox(ctx context.Context, in io.Reader) error {
	reader := mbox.NewReader(in)
	count := 0
	for {
		msg, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read message %d: %w", count+1, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return fmt.Errorf("failed to read message %d: %w", count+1, err)
		}
		count++
		if err := s.scan(ctx, raw); err != nil {
			fmt.Fprintf(s.out, "message %d: %v\n", count, err)
		}
	}
	fmt.Fprintf(s.out, "Scanned %d messages\n", count)
	return nil
}

func (s *scanner) scan(ctx context.Context, raw []byte) error {
	email := s.parser.Parse(raw, scanSender, scanRecipient)

	stored, _, err := s.repo.SaveEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to persist email: %w", err)
	}

	result, err := s.orchestrator.Analyze(ctx, stored.ID)
	if err != nil {
		return fmt.Errorf("failed to analyze email: %w", err)
	}

	fmt.Fprintf(s.out, "Case #%d (%s)\n", result.CaseNumber, result.CaseID)
	fmt.Fprintf(s.out, "  From:     %s\n", stored.From)
	fmt.Fprintf(s.out, "  Subject:  %s\n", stored.Subject)
	fmt.Fprintf(s.out, "  Score:    %.4f (heuristic %.4f)\n", result.Score, result.HeuristicScore)
	fmt.Fprintf(s.out, "  Verdict:  %s\n", result.Verdict)
	fmt.Fprintf(s.out, "  Risk:     %s\n", result.RiskLevel)
	fmt.Fprintf(s.out, "  Category: %s\n", result.Category)
	if result.Bypassed {
		fmt.Fprintf(s.out, "  Bypassed: trusted sender\n")
	}
	fmt.Fprintf(s.out, "  Time:     %s\n", result.Duration)
	return nil
}
