package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/feedback"
	"github.com/kestrel-commerce/sourcing-cli/internal/policy"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record operator signals and strategy pivots",
	Long: `Feedback records operator judgement as policy events. UP and DOWN bias
the next evaluations of the target categories; repeat signals inside the
throttle window are dropped silently.

Examples:
  feedback up --category FA-1010 --operator kim
  feedback down --keyword "phone case" --reason "margin collapsed"
  feedback pivot FA-1010 --reason "moving to private label"`,
}

var feedbackUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Boost a category or keyword",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runFeedbackSignal(cmd, "UP")
	},
}

var feedbackDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Suppress a category or keyword",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runFeedbackSignal(cmd, "DOWN")
	},
}

var feedbackPivotCmd = &cobra.Command{
	Use:   "pivot <category-code>",
	Short: "Record an approved strategy pivot",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedbackPivot,
}

func init() {
	for _, c := range []*cobra.Command{feedbackUpCmd, feedbackDownCmd} {
		f := c.Flags()
		f.String("category", "", "target category code")
		f.String("keyword", "", "target keyword (fans out to matching categories)")
		f.String("reason", "", "reason recorded with the event")
		f.String("operator", "", "operator name recorded with the event")
	}
	feedbackPivotCmd.Flags().String("reason", "", "reason recorded with the event")

	feedbackCmd.AddCommand(feedbackUpCmd, feedbackDownCmd, feedbackPivotCmd)
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedbackSignal(cmd *cobra.Command, direction string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("feedback"); err != nil {
		return err
	}

	category, _ := cmd.Flags().GetString("category")
	keyword, _ := cmd.Flags().GetString("keyword")
	reason, _ := cmd.Flags().GetString("reason")
	operator, _ := cmd.Flags().GetString("operator")

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	intake := feedback.NewIntake(policy.NewEventLog(st, cfg.Policy), st, cfg.Policy)

	receipts, err := intake.Submit(ctx, feedback.Signal{
		Direction:    direction,
		CategoryCode: category,
		Keyword:      keyword,
		Reason:       reason,
		Operator:     operator,
	})
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("command", "feedback"))
	for _, r := range receipts {
		if r.Recorded {
			log.Info("signal recorded",
				zap.String("category", r.CategoryCode),
				zap.String("event", string(r.EventType)),
				zap.Float64("multiplier", r.Multiplier),
			)
		} else {
			log.Warn("signal throttled", zap.String("category", r.CategoryCode))
		}
	}
	return nil
}

func runFeedbackPivot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("feedback"); err != nil {
		return err
	}

	reason, _ := cmd.Flags().GetString("reason")

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	intake := feedback.NewIntake(policy.NewEventLog(st, cfg.Policy), st, cfg.Policy)

	receipt, err := intake.ApprovePivot(ctx, args[0], reason)
	if err != nil {
		return err
	}

	zap.L().Info("pivot recorded",
		zap.String("category", receipt.CategoryCode),
		zap.Bool("recorded", receipt.Recorded),
	)
	return nil
}
