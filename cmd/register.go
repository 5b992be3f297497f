package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrel-commerce/sourcing-cli/internal/model"
	"github.com/kestrel-commerce/sourcing-cli/internal/registry"
)

var registerCmd = &cobra.Command{
	Use:   "register <category-code>",
	Short: "Evaluate a category and register a product batch",
	Long: `Register grades the category, maps the grade to an action for the
configured mode, and submits the allowed products to the marketplace
listing API. Every attempt is recorded as a trial; transient failures
land in the retry queue.

Examples:
  register FA-1010 --products batch.csv
  register FA-1010 --products batch.csv --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

func init() {
	f := registerCmd.Flags()
	f.String("products", "", "CSV of products to register (required)")
	f.Int("concurrency", 4, "parallel listing submissions")
	_ = registerCmd.MarkFlagRequired("products")

	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate("evaluate"); err != nil {
		return err
	}
	if cfg.Marketplace.BaseURL == "" {
		return eris.New("register: marketplace base URL is required (SOURCING_MARKETPLACE_BASE_URL)")
	}

	log := zap.L().With(zap.String("command", "register"))

	productsPath, _ := cmd.Flags().GetString("products")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	table, err := readCSV(productsPath)
	if err != nil {
		return err
	}
	if err := table.require("title"); err != nil {
		return err
	}

	categoryCode := args[0]
	products := make([]model.Product, 0, len(table.rows))
	for _, row := range table.rows {
		id := table.get(row, "id")
		if id == "" {
			id = uuid.NewString()
		}
		products = append(products, model.Product{
			ID:           id,
			CategoryCode: categoryCode,
			Title:        table.get(row, "title"),
			CreatedAt:    time.Now().UTC(),
		})
	}

	env, err := initPolicyEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	client := registry.NewClient(registry.ClientConfig{
		BaseURL:           cfg.Marketplace.BaseURL,
		APIKey:            cfg.Marketplace.APIKey,
		RequestsPerSecond: cfg.Marketplace.RequestsPerSecond,
		Burst:             cfg.Marketplace.Burst,
		Timeout:           time.Duration(cfg.Marketplace.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Marketplace.MaxRetries,
	})

	registrar := registry.NewRegistrar(env.evaluator, env.mapper, client, env.store, actionMode(), concurrency)

	result, err := registrar.RegisterBatch(ctx, categoryCode, products)
	if err != nil {
		return err
	}

	log.Info("batch complete",
		zap.String("category", categoryCode),
		zap.String("action", result.Decision.Action),
		zap.Int("attempted", result.Attempted),
		zap.Int("approved", result.Approved),
		zap.Int("rejected", result.Rejected),
		zap.Int("skipped", result.Skipped),
		zap.Int("retryable", len(result.Retryable)),
	)

	for _, entry := range result.Retryable {
		log.Warn("queued for retry",
			zap.String("product", entry.Product.ID),
			zap.String("market", entry.Market),
			zap.String("error", entry.Error),
			zap.Time("next_retry", entry.NextRetryAt),
		)
	}
	return nil
}
