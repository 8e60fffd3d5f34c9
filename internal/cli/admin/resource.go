package admin

import (
	"fmt"
	"time"

	"github.com/cloo-solutions/taisearch/internal/backend"
	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/spf13/cobra"
)

func ResourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage class resources",
		Long:  "Create, inspect and delete indexed class resources",
	}

	cmd.AddCommand(ResourceCreateCmd())
	cmd.AddCommand(ResourceGetCmd())
	cmd.AddCommand(ResourceDeleteCmd())
	cmd.AddCommand(ResourceFrequentCmd())

	return cmd
}

func ResourceCreateCmd() *cobra.Command {
	var (
		req      backend.CreateRequest
		strategy string
		async    bool
	)

	cmd := &cobra.Command{
		Use:   "create <url>",
		Short: "Ingest and index a resource",
		Long: "Fetch the resource at url, register it as PENDING and index it. With --async the " +
			"indexing is handed to the Redis queue instead of running in this process.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			req.URL = args[0]
			req.Strategy = domain.IngestStrategy(strategy)

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			if async && !a.cfg.HasRedis() {
				return fmt.Errorf("--async requires REDIS_ADDR")
			}
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			task, err := a.backend.Create(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create resource: %w", err)
			}

			if async {
				task.Release()
				if err := a.queue.Enqueue(ctx, task.ResourceID()); err != nil {
					return err
				}
			} else {
				task.Run(ctx)
			}

			resources, err := a.backend.Get(ctx, []string{task.ResourceID()}, task.ClassID())
			if err != nil {
				return err
			}
			return writeResources(cmd.OutOrStdout(), format, resources)
		},
	}

	cmd.Flags().StringVar(&req.ClassID, "class", "", "Class the resource belongs to")
	cmd.Flags().StringVar(&req.ID, "id", "", "Resource id, a UUID (generated when empty)")
	cmd.Flags().StringVar(&req.Title, "title", "", "Resource title")
	cmd.Flags().StringVar(&req.Description, "description", "", "Resource description")
	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Ingest strategy: s3_file_download, url_download or raw_url (detected when empty)")
	cmd.Flags().BoolVar(&async, "async", false, "Enqueue indexing instead of running it")
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("class")

	return cmd
}

func ResourceGetCmd() *cobra.Command {
	var classID string

	cmd := &cobra.Command{
		Use:   "get [id...]",
		Short: "Show resources by id, or every resource of a class",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			if len(args) == 0 && classID == "" {
				return fmt.Errorf("pass resource ids or --class")
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			var resources []*domain.Resource
			if len(args) == 0 {
				resources, err = a.backend.GetByClass(ctx, classID)
			} else {
				resources, err = a.backend.Get(ctx, args, classID)
			}
			if err != nil {
				return fmt.Errorf("failed to get resources: %w", err)
			}
			return writeResources(cmd.OutOrStdout(), format, resources)
		},
	}

	cmd.Flags().StringVar(&classID, "class", "", "Only return resources of this class")
	addOutputFlag(cmd)

	return cmd
}

func ResourceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete resources with their children, chunks and vectors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			if err := a.backend.Delete(ctx, args); err != nil {
				return fmt.Errorf("failed to delete resources: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d resource(s)\n", len(args))
			return nil
		},
	}
}

func ResourceFrequentCmd() *cobra.Command {
	var (
		classID  string
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "frequent",
		Short: "List the most accessed resources of a class",
		Long:  "Rank resources of a class by search hits between --from and --to (RFC 3339). The window defaults to the last seven days.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			fromTime, err := parseTimeFlag("from", from)
			if err != nil {
				return err
			}
			toTime, err := parseTimeFlag("to", to)
			if err != nil {
				return err
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			usage, err := a.backend.MostFrequentlyAccessed(ctx, classID, fromTime, toTime)
			if err != nil {
				return fmt.Errorf("failed to rank resources: %w", err)
			}
			return writeUsage(cmd.OutOrStdout(), format, usage)
		},
	}

	cmd.Flags().StringVar(&classID, "class", "", "Class to rank")
	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC 3339)")
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("class")

	return cmd
}

// parseTimeFlag returns the zero time for an empty value.
func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t.UTC(), nil
}
