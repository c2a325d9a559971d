package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photo-compressor-go/internal/codec"
	"photo-compressor-go/internal/compressor"
	"photo-compressor-go/internal/config"
	"photo-compressor-go/internal/export"
	"photo-compressor-go/internal/extractor"
	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/handle"
	"photo-compressor-go/internal/logger"
	"photo-compressor-go/internal/model"
	"photo-compressor-go/internal/registry"
	"photo-compressor-go/internal/source"
	"photo-compressor-go/internal/statistics"
	"photo-compressor-go/internal/tui"
	"photo-compressor-go/internal/web"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gabriel-vasile/mimetype"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	port    int

	outFormat   string
	quality     int
	maxWidth    int
	maxHeight   int
	keepAspect  bool
	outDir      string
	zipOutput   bool
	recursive   bool
	concurrency int
	progress    bool
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "photo-compressor",
	Short: "Compress images in batches",
	Long: `PhotoCompressor compresses images to JPEG, PNG or WebP, optionally resizing
them to a maximum dimension. Images are processed a few at a time and the
results are saved individually or bundled into one ZIP archive.

Features:
- Keeps the original format or converts to JPEG/PNG
- Quality and maximum dimension controls
- Bounded parallel compression
- EXIF-aware orientation
- Local web interface with live progress`,
	SilenceUsage: true,
}

// compressCmd runs one batch over files on disk.
var compressCmd = &cobra.Command{
	Use:   "compress <file|directory>...",
	Short: "Compress images from disk and save the results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args)
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a local web interface for PhotoCompressor. Images are uploaded
from the browser, compressed in this process and downloaded again.
Nothing is kept after the server stops.

Access the interface at http://localhost:<port> (default: 8080)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// inspectCmd shows how a single file would be handled.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show detected type, EXIF metadata and output name of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	compressCmd.Flags().StringVar(&outFormat, "format", "", "output format: original, jpeg, png, webp")
	compressCmd.Flags().IntVar(&quality, "quality", 0, "quality from 10 to 100")
	compressCmd.Flags().IntVar(&maxWidth, "max-width", 0, "maximum output width")
	compressCmd.Flags().IntVar(&maxHeight, "max-height", 0, "maximum output height")
	compressCmd.Flags().BoolVar(&keepAspect, "keep-aspect", true, "fit within the maximum dimension keeping the aspect ratio")
	compressCmd.Flags().StringVar(&outDir, "out", "", "directory for compressed files")
	compressCmd.Flags().BoolVar(&zipOutput, "zip", false, "always bundle results into a ZIP archive")
	compressCmd.Flags().BoolVar(&recursive, "recursive", false, "descend into subdirectories")
	compressCmd.Flags().BoolVar(&progress, "progress", true, "show live progress when writing to a terminal")
	compressCmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent jobs (clamped to 2-4, 0 derives from CPU count)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
}

// session wires the components that share one registry.
type session struct {
	log       *logrus.Logger
	exif      *extractor.EXIFExtractor
	handles   *handle.Manager
	registry  *registry.Registry
	scheduler *compressor.Scheduler
}

func newSession(cfg *config.Config, log *logrus.Logger) (*session, error) {
	settings, err := cfg.ToSettings()
	if err != nil {
		return nil, err
	}

	handles := handle.NewManager()
	exif := extractor.NewEXIFExtractor(log)
	reg := registry.New(handles, log,
		registry.WithSettings(settings),
		registry.WithExtractor(exif),
	)

	opts := []compressor.SchedulerOption{compressor.WithLegacyBatchFormat(cfg.Compression.LegacyBatchFormat)}
	if cfg.Compression.MaxConcurrency > 0 {
		opts = append(opts, compressor.WithConcurrency(compressor.ClampConcurrency(cfg.Compression.MaxConcurrency)))
	}
	runner := compressor.NewRunner(codec.NewImagingCodec(), log)

	return &session{
		log:       log,
		exif:      exif,
		handles:   handles,
		registry:  reg,
		scheduler: compressor.NewScheduler(reg, runner, log, opts...),
	}, nil
}

// runCompress admits files from disk, runs one batch and saves the results.
func runCompress(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyCompressFlags(cmd, cfg); err != nil {
		return err
	}

	log := setupLogger(cfg)
	sess, err := newSession(cfg, log)
	if err != nil {
		return err
	}
	defer sess.handles.ReleaseAll()

	uploads, err := source.Collect(args, source.Options{Recursive: recursive}, log)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	ids := sess.registry.Admit(uploads)
	if cs := sess.exif.Stats(); cs.Hits > 0 {
		log.Debugf("Read EXIF of %d payload(s), %d duplicate(s) served from memory", cs.Entries, cs.Hits)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no images found in %d input file(s)", len(uploads))
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "Compressing %d image(s) with %d concurrent job(s)\n", len(ids), sess.scheduler.Concurrency())
	}
	if verbose {
		fmt.Fprintln(os.Stderr, settingsSummary(sess.registry.Settings()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stats *statistics.Statistics
	var runErr error
	if progress && !quiet && !verbose && isatty.IsTerminal(os.Stdout.Fd()) {
		stats, runErr = runWithProgress(ctx, stop, sess, len(ids))
	} else {
		stats, runErr = sess.scheduler.Run(ctx)
	}
	if runErr != nil {
		log.Warnf("Batch stopped early: %v", runErr)
	}

	build := export.Build
	if cfg.Output.Bundle {
		build = export.BuildArchive
	}
	d, err := build(sess.registry.Completed(), cfg.Output.ArchiveName)
	if errors.Is(err, export.ErrNothingToDownload) {
		printSummary(stats)
		return fmt.Errorf("no image was compressed")
	}
	if err != nil {
		return fmt.Errorf("failed to prepare output: %w", err)
	}

	path, err := export.NewWriter(cfg.Output.Directory, cfg.Output.DuplicateHandling, log).Write(d)
	if err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}

	printSummary(stats)
	if !quiet {
		fmt.Printf("%s Saved to %s\n", d.Message(), path)
	}
	return runErr
}

// runWithProgress runs the batch while a terminal view follows the registry.
func runWithProgress(ctx context.Context, cancel func(), sess *session, total int) (*statistics.Statistics, error) {
	updates := make(chan tui.Update, 64)
	unsubscribe := tui.Feed(sess.registry, updates)

	view := tui.NewModel(updates, total)
	view.OnInterrupt = cancel
	program := tea.NewProgram(view)

	uiDone := make(chan struct{})
	go func() {
		if _, err := program.Run(); err != nil {
			sess.log.Warnf("Progress view failed: %v", err)
		}
		// keep workers unblocked if the view exited early
		for range updates {
		}
		close(uiDone)
	}()

	stats, err := sess.scheduler.Run(ctx)

	// every job has finished, so no listener is still sending
	unsubscribe()
	close(updates)
	<-uiDone
	return stats, err
}

// applyCompressFlags overrides config values with flags the user set.
func applyCompressFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Compression.Format = outFormat
	}
	if flags.Changed("quality") {
		cfg.Compression.Quality = quality
	}
	if flags.Changed("max-width") {
		cfg.Compression.MaxWidth = maxWidth
	}
	if flags.Changed("max-height") {
		cfg.Compression.MaxHeight = maxHeight
	}
	if flags.Changed("keep-aspect") {
		cfg.Compression.MaintainAspectRatio = keepAspect
	}
	if flags.Changed("out") {
		cfg.Output.Directory = outDir
	}
	if flags.Changed("zip") {
		cfg.Output.Bundle = zipOutput
	}
	if flags.Changed("concurrency") {
		cfg.Compression.MaxConcurrency = concurrency
	}
	return cfg.Validate()
}

func printSummary(stats *statistics.Statistics) {
	if quiet || stats == nil {
		return
	}
	fmt.Println(tui.RenderSummary(tui.BatchRows(stats)))
	if stats.Failed() > 0 {
		fmt.Println(stats.GetErrorSummary())
	}
}

// runInspect prints what the compressor would see for one file.
func runInspect(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	settings, err := cfg.ToSettings()
	if err != nil {
		return err
	}

	mimeType := mimetype.Detect(data).String()
	detected := format.FromMIMEType(mimeType)

	fmt.Printf("File:          %s\n", path)
	fmt.Printf("Size:          %s\n", statistics.FormatBytes(int64(len(data))))
	fmt.Printf("Content type:  %s\n", mimeType)
	if !format.IsImageMIMEType(mimeType) {
		fmt.Println("Not an image, it would be skipped.")
		return nil
	}
	fmt.Printf("Format:        %s\n", detected)
	fmt.Printf("Target:        %s\n", format.Resolve(settings.Format, detected))
	fmt.Printf("Output name:   %s\n", format.OutputFilename(path, settings.Format, detected))

	ext := extractor.NewEXIFExtractor(logrus.New())
	if !ext.Supports(mimeType) {
		return nil
	}
	md, err := ext.Extract(data)
	if err != nil {
		fmt.Printf("EXIF:          %v\n", err)
		return nil
	}
	if md.TakenAt != nil {
		fmt.Printf("Taken at:      %s\n", md.TakenAt.Format("2006-01-02 15:04:05"))
	}
	if md.CameraMake != "" || md.CameraModel != "" {
		fmt.Printf("Camera:        %s %s\n", md.CameraMake, md.CameraModel)
	}
	if md.Orientation != 0 {
		fmt.Printf("Orientation:   %d\n", md.Orientation)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	sess, err := newSession(cfg, log)
	if err != nil {
		return err
	}
	server := web.NewServer(cfg, log, sess.registry, sess.scheduler, sess.handles)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("PhotoCompressor web interface started at http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.Config{
		Level:   cfg.Logging.Level,
		Console: verbose,
		File: logger.FileConfig{
			Path:       cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		},
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.New(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// settingsSummary is printed by compress in verbose mode.
func settingsSummary(s model.Settings) string {
	return fmt.Sprintf("format=%s quality=%d max=%dx%d keep-aspect=%v",
		s.Format, s.Quality, s.MaxWidth, s.MaxHeight, s.MaintainAspectRatio)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
