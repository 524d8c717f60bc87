package admin

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voceria/kbpipeline/internal/config"
	"github.com/voceria/kbpipeline/internal/database"
	"github.com/voceria/kbpipeline/internal/repository"
	"github.com/voceria/kbpipeline/internal/service"
)

// EnqueueCmd returns the enqueue command
func EnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <item-id>",
		Short: "Enqueue a pipeline job for an item",
		Long:  "Submit an ingestion or keyword extraction job for an existing item",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnqueue,
	}

	cmd.Flags().Bool("keywords", false, "Enqueue keyword extraction instead of ingestion")

	return cmd
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	itemID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	svc := service.NewEnqueueService(
		repository.NewItemRepository(pool),
		repository.NewJobRepository(pool),
	)

	keywords, _ := cmd.Flags().GetBool("keywords")
	if keywords {
		job, err := svc.EnqueueExtractKeywords(ctx, itemID)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued keyword job %s for item %s\n", job.ID, itemID)
		return nil
	}

	job, err := svc.EnqueueProcessItem(ctx, itemID)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued ingest job %s for item %s\n", job.ID, itemID)
	return nil
}
