package admin

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/cloo-solutions/taisearch/internal/indexer"
	"github.com/spf13/cobra"
)

func SearchCmd() *cobra.Command {
	var (
		req          indexer.SearchRequest
		resourceType string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search over a class",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			req.Query = strings.Join(args, " ")
			req.ResourceType = domain.ResourceType(resourceType)

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			result, err := a.backend.Search(ctx, req)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return writeSearch(cmd.OutOrStdout(), format, result)
		},
	}

	cmd.Flags().StringVar(&req.ClassID, "class", "", "Class to search")
	cmd.Flags().BoolVar(&req.ForTutor, "for-tutor", false, "Return chunks without their resources")
	cmd.Flags().StringVar(&resourceType, "type", "", "Restrict hits to a resource type (pdf, web_page, video, text)")
	addOutputFlag(cmd)
	_ = cmd.MarkFlagRequired("class")

	return cmd
}
