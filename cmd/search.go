package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/tokysnatcher/internal/catalog"
	"github.com/tanq16/tokysnatcher/internal/output"
	"github.com/tanq16/tokysnatcher/internal/utils"
)

func newSearchCmd() *cobra.Command {
	var page int
	var pick int

	cmd := &cobra.Command{
		Use:   "search QUERY [--page N] [--pick K]",
		Short: "Search the catalog and optionally download a result",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error loading config: %v", err))
				os.Exit(1)
			}
			client := catalog.NewClient(utils.NewSnatchHTTPClient(cfg.HTTPClientConfig()), catalogConfig(cfg))
			searcher := catalog.NewSearcher(client, strings.Join(args, " "))
			results, err := searcher.Goto(cmd.Context(), page)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error searching: %v", err))
				os.Exit(1)
			}
			if len(results.Results) == 0 {
				output.PrintWarning("No results found")
				return
			}
			output.PrintHeader(fmt.Sprintf("Results for %q (page %d)", searcher.Query(), results.Page))
			for i, r := range results.Results {
				fmt.Printf("  %s %s %s\n", output.FInfo(fmt.Sprintf("%2d.", i+1)), r.Title, output.FDebug(r.URL))
			}
			if results.HasPrevious || results.HasMore {
				var nav []string
				if results.HasPrevious {
					nav = append(nav, fmt.Sprintf("--page %d for previous", results.Page-1))
				}
				if results.HasMore {
					nav = append(nav, fmt.Sprintf("--page %d for more", results.Page+1))
				}
				output.PrintDebug("  " + strings.Join(nav, ", "))
			}
			if pick == 0 {
				return
			}
			if pick < 0 || pick > len(results.Results) {
				output.PrintError(fmt.Sprintf("--pick must be between 1 and %d", len(results.Results)))
				os.Exit(1)
			}
			book, err := client.Book(cmd.Context(), results.Results[pick-1].URL)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error resolving chapters: %v", err))
				os.Exit(1)
			}
			if err := downloadBook(cmd.Context(), cfg, book); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Result page to show")
	cmd.Flags().IntVar(&pick, "pick", 0, "Download the K-th result of the page")
	addDownloadFlags(cmd)
	return cmd
}
