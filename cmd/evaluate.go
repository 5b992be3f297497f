package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [category-code...]",
	Short: "Grade categories or a keyword against the sourcing policy",
	Long: `Evaluate runs the full scoring pipeline for each named category: windowed
approval statistics, staleness decay, recent-performance hysteresis, drift
detection, operator bias, profitability, and the hard gates. A keyword is
resolved to its matching categories first and graded pessimistically.

Examples:
  # Grade two categories
  evaluate FA-1010 EL-2230

  # Grade whatever categories a keyword resolves to
  evaluate --keyword "wireless earbuds"

  # Grade every category with trials in the base window
  evaluate --all

  # Show the action the current mode would take
  evaluate FA-1010 --decide

  # Machine-readable output
  evaluate FA-1010 --json`,
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.String("keyword", "", "evaluate by keyword instead of category codes")
	f.Bool("all", false, "evaluate every category with trials in the base window")
	f.Bool("decide", false, "include the mapped action decision")
	f.Bool("json", false, "emit JSON instead of a table")

	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("evaluate"); err != nil {
		return err
	}

	keyword, _ := cmd.Flags().GetString("keyword")
	all, _ := cmd.Flags().GetBool("all")
	decide, _ := cmd.Flags().GetBool("decide")
	asJSON, _ := cmd.Flags().GetBool("json")

	if keyword == "" && !all && len(args) == 0 {
		return eris.New("evaluate: pass category codes, --keyword, or --all")
	}
	if keyword != "" && (all || len(args) > 0) {
		return eris.New("evaluate: --keyword is mutually exclusive with category codes and --all")
	}
	if all && len(args) > 0 {
		return eris.New("evaluate: category codes and --all are mutually exclusive")
	}

	log := zap.L().With(zap.String("command", "evaluate"))

	env, err := initPolicyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	codes := args
	if all {
		windows, err := env.stats.AllWindows(ctx, cfg.Policy.BaseWindowDays, 0)
		if err != nil {
			return err
		}
		codes = make([]string, 0, len(windows))
		for _, w := range windows {
			codes = append(codes, w.CategoryCode)
		}
	}

	var evals []*model.PolicyEvaluation
	if keyword != "" {
		ev, err := env.evaluator.EvaluateKeyword(ctx, keyword)
		if err != nil {
			return err
		}
		evals = append(evals, ev)
	} else {
		for _, code := range codes {
			ev, err := env.evaluator.Evaluate(ctx, code)
			if err != nil {
				return err
			}
			evals = append(evals, ev)
		}
	}

	type row struct {
		*model.PolicyEvaluation
		Decision *model.ActionDecision `json:"decision,omitempty"`
	}
	rows := make([]row, 0, len(evals))
	for _, ev := range evals {
		r := row{PolicyEvaluation: ev}
		if decide {
			d := env.mapper.Decide(ev, actionMode())
			r.Decision = &d
		}
		rows = append(rows, r)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(rows), "evaluate: encode output")
	}

	fmt.Printf("%-16s %-9s %7s  %s\n", "CATEGORY", "GRADE", "SCORE", "REASON")
	for _, r := range rows {
		fmt.Printf("%-16s %-9s %7.2f  %s\n", r.CategoryCode, r.Grade, r.Score, r.Reason)
		if r.Decision != nil {
			fmt.Printf("%-16s -> %s (max %d items, markets %v)\n",
				"", r.Decision.Action, r.Decision.MaxItems, r.Decision.AllowedMarkets)
		}
	}

	log.Info("evaluation complete", zap.Int("categories", len(rows)))
	return nil
}
