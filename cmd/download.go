package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/tokysnatcher/internal/catalog"
	"github.com/tanq16/tokysnatcher/internal/chapter"
	"github.com/tanq16/tokysnatcher/internal/config"
	"github.com/tanq16/tokysnatcher/internal/mirror"
	"github.com/tanq16/tokysnatcher/internal/output"
	"github.com/tanq16/tokysnatcher/internal/scheduler"
	"github.com/tanq16/tokysnatcher/internal/utils"
	"gopkg.in/yaml.v3"
)

// addDownloadFlags registers flags for every command that can start a download.
// Values are read back through the config layer, not through variables.
func addDownloadFlags(cmd *cobra.Command) {
	cmd.Flags().String("extension", "mp3", "Extension of the chapter files")
	cmd.Flags().Int("retries", 2, "Retries per segment for transient failures")
	cmd.Flags().Float64("rate", 0, "Maximum segment requests per second across the run (0 = unlimited)")
	cmd.Flags().Bool("skip-existing", true, "Keep chapters already present in the destination folder")
	cmd.Flags().String("mirror", "", "Also upload finished chapters to s3://bucket/prefix")
	cmd.Flags().String("aws-profile", "", "AWS profile used by --mirror")
}

func newDownloadCmd() *cobra.Command {
	var chaptersFile string
	var title string

	cmd := &cobra.Command{
		Use:   "download [BOOK_URL] [--chapters FILE]",
		Short: "Download every chapter of a book",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 && chaptersFile == "" {
				output.PrintError("No book URL or chapter list provided")
				os.Exit(1)
			}
			if len(args) > 0 && chaptersFile != "" {
				output.PrintError("Cannot specify book URL and --chapters together, choose one")
				os.Exit(1)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error loading config: %v", err))
				os.Exit(1)
			}
			var book *utils.BookEntry
			if chaptersFile != "" {
				book, err = readChapterList(chaptersFile)
			} else {
				client := catalog.NewClient(utils.NewSnatchHTTPClient(cfg.HTTPClientConfig()), catalogConfig(cfg))
				book, err = client.Book(cmd.Context(), args[0])
			}
			if err != nil {
				output.PrintError(fmt.Sprintf("Error resolving chapters: %v", err))
				os.Exit(1)
			}
			if title != "" {
				book.Title = title
			}
			if err := downloadBook(cmd.Context(), cfg, book); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&chaptersFile, "chapters", "", "YAML file with a title, optional headers and a list of chapters (name, src)")
	cmd.Flags().StringVar(&title, "title", "", "Override the book title used for the folder and file names")
	addDownloadFlags(cmd)
	return cmd
}

func catalogConfig(cfg *config.Config) catalog.Config {
	return catalog.Config{
		BaseURL:          cfg.Catalog.BaseURL,
		MediaURL:         cfg.Catalog.MediaURL,
		FallbackMediaURL: cfg.Catalog.FallbackMediaURL,
		PageSize:         cfg.Catalog.PageSize,
		SkipSources:      cfg.Catalog.SkipSources,
	}
}

func readChapterList(path string) (*utils.BookEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading chapter list: %w", err)
	}
	var book utils.BookEntry
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("error parsing chapter list: %w", err)
	}
	var chapters []utils.ChapterSpec
	for _, c := range book.Chapters {
		if strings.TrimSpace(c.SourceURI) == "" {
			log.Warn().Str("op", "cmd/download").Msgf("Skipping chapter %q without src", c.Name)
			continue
		}
		c.Index = len(chapters)
		if c.Name == "" {
			c.Name = fmt.Sprintf("Chapter %d", c.Index+1)
		}
		c.Name = utils.FlattenName(c.Name)
		chapters = append(chapters, c)
	}
	if len(chapters) == 0 {
		return nil, utils.ErrNoChapters
	}
	book.Chapters = chapters
	if book.Title == "" {
		book.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &book, nil
}

// downloadBook runs the engine for one book with the terminal display attached.
// It returns an error when any chapter failed.
func downloadBook(ctx context.Context, cfg *config.Config, book *utils.BookEntry) error {
	bookFolder := filepath.Join(cfg.Download.Folder, chapter.NormalizeTitle(book.Title))
	if err := os.MkdirAll(bookFolder, 0755); err != nil {
		return fmt.Errorf("error creating %s: %w", bookFolder, err)
	}
	logFile, err := os.OpenFile(filepath.Join(bookFolder, cfg.Log.File), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		utils.SetLogOutput(logFile, cfg.Log.Debug)
		defer func() {
			utils.InitLogger(cfg.Log.Debug)
			logFile.Close()
		}()
	}

	opts := scheduler.DefaultOptions()
	opts.Folder = bookFolder
	opts.Title = book.Title
	opts.Extension = cfg.Download.Extension
	opts.ChapterWorkers = cfg.Download.ChapterWorkers
	opts.SegmentWorkers = cfg.Download.SegmentWorkers
	opts.MinFileSize = cfg.Download.MinFileSize
	opts.SkipExisting = cfg.Download.SkipExisting
	opts.Headers = book.Headers
	opts.HTTPClientConfig = cfg.HTTPClientConfig()
	opts.PathHeader = cfg.Download.PathHeader
	opts.MediaFallback = catalog.MediaFallback(catalogConfig(cfg))
	opts.RequestsPerSecond = cfg.Download.RequestsPerSecond
	opts.Retries = cfg.Download.Retries

	if cfg.Mirror.S3URL != "" {
		m, err := mirror.New(ctx, cfg.Mirror.S3URL, cfg.Mirror.Profile)
		if err != nil {
			return fmt.Errorf("error setting up mirror: %w", err)
		}
		opts.AfterChapter = m.Upload
	}

	names := make([]string, len(book.Chapters))
	for i, c := range book.Chapters {
		names[i] = c.Name
	}
	mgr := output.NewManager(book.Title)
	view := output.NewChapterView(mgr, names)
	opts.OnEvent = view.Handle
	run := scheduler.NewRun(book.Chapters, opts)
	view.SetOverallSource(run.OverallPercent)

	mgr.StartDisplay()
	results, err := run.Execute(ctx)
	mgr.StopDisplay()
	if err != nil {
		return fmt.Errorf("error starting download: %w", err)
	}
	summary := scheduler.Summarize(results)
	if summary.Cancelled > 0 {
		output.PrintWarning(fmt.Sprintf("Download cancelled, %d chapters left; run again to resume", summary.Cancelled))
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d chapters failed", summary.Failed, summary.Total)
	}
	return nil
}
