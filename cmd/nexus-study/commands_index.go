package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-study/internal/multimodal"
)

func buildIndexCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index and search multimodal pages (text-embedding path)",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(buildIndexTextCmd(&configPath))
	cmd.AddCommand(buildIndexSearchCmd(&configPath))
	cmd.AddCommand(buildIndexStatsCmd(&configPath))
	return cmd
}

func buildIndexTextCmd(configPath *string) *cobra.Command {
	var pageID, sourceType, sourceID, subLibraryID, textPath string
	var pageIndex int

	cmd := &cobra.Command{
		Use:   "text",
		Short: "Embed a page's text summary and upsert it into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Embedding == nil {
				return fmt.Errorf("index: no text embedder configured (set llm.openai_api_key)")
			}

			text, err := os.ReadFile(textPath)
			if err != nil {
				return err
			}

			vecs, err := app.Embedding.EmbedViaSummary(cmd.Context(), []multimodal.PageInput{
				{PageID: pageID, ExistingSummary: string(text)},
			})
			if err != nil {
				return err
			}

			page := &multimodal.Page{
				PageID:     pageID,
				SourceType: sourceType,
				SourceID:   sourceID,
				PageIndex:  pageIndex,
				Embedding:  vecs[0],
			}
			if subLibraryID != "" {
				page.SubLibraryID.String, page.SubLibraryID.Valid = subLibraryID, true
			}
			page.TextSummary.String, page.TextSummary.Valid = string(text), true

			if err := app.MultimodalStore.Upsert(cmd.Context(), multimodal.KindText, page); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed page %s (%d dims)\n", pageID, len(vecs[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&pageID, "page-id", "", "Unique page id")
	cmd.Flags().StringVar(&sourceType, "source-type", "", "Source type (e.g. resource, note)")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "Owning source id")
	cmd.Flags().StringVar(&subLibraryID, "sub-library", "", "Sub-library id to scope search with")
	cmd.Flags().IntVar(&pageIndex, "page-index", 0, "Page index within the source")
	cmd.Flags().StringVar(&textPath, "text", "", "Path to the page's text content")
	_ = cmd.MarkFlagRequired("page-id")
	_ = cmd.MarkFlagRequired("source-type")
	_ = cmd.MarkFlagRequired("source-id")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func buildIndexSearchCmd(configPath *string) *cobra.Command {
	var query string
	var topK int
	var subLibraryIDs []string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Embed a query and retrieve the closest indexed pages",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Embedding == nil || app.Retriever == nil {
				return fmt.Errorf("index: no text embedder configured (set llm.openai_api_key)")
			}

			vecs, err := app.Embedding.EmbedViaSummary(cmd.Context(), []multimodal.PageInput{
				{PageID: "query", ExistingSummary: query},
			})
			if err != nil {
				return err
			}

			qv := &multimodal.QueryVector{
				Kind:      multimodal.KindText,
				Dimension: app.Config.MultiModal.Dimension,
				Vector:    vecs[0],
			}
			results, err := app.Retriever.Retrieve(cmd.Context(), query, qv, nil, multimodal.SearchOptions{
				SubLibraryIDs: subLibraryIDs,
				TopK:          topK,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "Query text")
	cmd.Flags().IntVar(&topK, "top-k", 10, "Number of results to return")
	cmd.Flags().StringSliceVar(&subLibraryIDs, "sub-library", nil, "Restrict to these sub-library ids")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func buildIndexStatsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report row counts per embedding table",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.MultimodalStore.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
	return cmd
}
