package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/pkg/ingest"
	"github.com/xhad/docrag/pkg/query"
	"github.com/xhad/docrag/server"
)

var (
	streaming bool
	topK      int
	debounce  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query, ingest and websocket API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <bucket> <key>...",
	Short: "Index documents that are already in storage",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runIngest,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <bucket> <file> [key]",
	Short: "Store a local file in a bucket and index it",
	Long: `Store a local file in a bucket and index it. The key defaults to the
configured upload prefix followed by the file name.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runUpload,
}

var watchCmd = &cobra.Command{
	Use:   "watch <bucket>",
	Short: "Index existing uploads, then every new upload as it arrives",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question, or chat interactively without one",
	Args:  cobra.ArbitraryArgs,
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&streaming, "stream", true, "Enable streaming responses")
	askCmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages to retrieve (default from config)")
	watchCmd.Flags().DurationVar(&debounce, "debounce", ingest.DefaultDebounce, "Quiet period before a changed file is indexed")

	rootCmd.AddCommand(serveCmd, ingestCmd, uploadCmd, watchCmd, askCmd)
}

func getLogger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	logger := log.New(os.Stderr, "", log.LstdFlags)
	a, err := newApp(ctx, config, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	s := server.New(server.Config{Streaming: config.Server.Streaming}, a.responder, a.ingestor, a.chat, logger)
	httpServer := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting server on %s", config.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, config, getLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	bucket := args[0]
	notifications := make([]models.Notification, 0, len(args)-1)
	for _, key := range args[1:] {
		notifications = append(notifications, models.Notification{Bucket: bucket, Key: key})
	}

	color.Blue("\nIngesting %d documents from %s\n", len(notifications), bucket)
	bar := getProgressBar(len(notifications), "🔄 Ingesting documents...")
	a.ingestor.OnProgress = func(ingest.Result) { bar.Add(1) }

	results, err := a.ingestor.HandleNotifications(ctx, notifications)
	bar.Finish()
	fmt.Println()
	for _, res := range results {
		printResult(res)
	}
	if err != nil {
		color.Red("✗ %v\n", err)
		return err
	}
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	bucket, file := args[0], args[1]
	key := path.Join(config.Ingest.KeyPrefix, filepath.Base(file))
	if len(args) == 3 {
		key = args[2]
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	a, err := newApp(ctx, config, getLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.objects.Put(ctx, bucket, key, data); err != nil {
		return err
	}
	color.Green("✓ Stored %s as %s/%s (%d bytes)\n", file, bucket, key, len(data))

	spinner := getSpinner("🔄 Indexing...")
	res, err := a.ingestor.Ingest(ctx, models.Notification{Bucket: bucket, Key: key, Size: int64(len(data))})
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		color.Red("✗ %v\n", err)
		return err
	}
	printResult(res)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, config, getLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	bucket := args[0]

	// Catch up on anything uploaded while nobody was watching.
	keys, err := a.objects.List(ctx, bucket, config.Ingest.KeyPrefix)
	if err != nil {
		return err
	}
	var pending []string
	for _, key := range keys {
		if a.ingestor.Eligible(key) {
			pending = append(pending, key)
		}
	}
	if len(pending) > 0 {
		bar := getProgressBar(len(pending), "🔄 Ingesting existing uploads...")
		for _, key := range pending {
			res, err := a.ingestor.Ingest(ctx, models.Notification{Bucket: bucket, Key: key})
			bar.Add(1)
			if err != nil {
				color.Red("\n✗ %s: %v\n", key, err)
				continue
			}
			if res.CleanupErr != nil {
				color.Yellow("\n! %s: %v\n", key, res.CleanupErr)
			}
		}
		bar.Finish()
		fmt.Println()
	}

	color.Cyan("Watching %s/%s for new uploads (Ctrl+C to stop)\n", bucket, config.Ingest.KeyPrefix)
	w := ingest.NewWatcher(a.objects.Root, bucket, debounce, func(ctx context.Context, n models.Notification) error {
		if !a.ingestor.Eligible(n.Key) {
			return nil
		}
		res, err := a.ingestor.Ingest(ctx, n)
		if err != nil {
			color.Red("✗ %s: %v\n", n.Key, err)
			return err
		}
		printResult(res)
		return nil
	}, a.logger)

	return w.Run(ctx)
}

func printResult(res ingest.Result) {
	switch {
	case res.State == ingest.StateFailed:
		color.Red("✗ %s/%s failed\n", res.Bucket, res.Key)
	case res.NoOp:
		color.Yellow("- %s/%s skipped (%s)\n", res.Bucket, res.Key, res.State)
	case res.CleanupErr != nil:
		color.Yellow("! %s/%s indexed %d chunks, source not deleted: %v\n", res.Bucket, res.Key, res.Written, res.CleanupErr)
	default:
		color.Green("✓ %s/%s indexed %d chunks\n", res.Bucket, res.Key, res.Written)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, config, getLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) > 0 {
		return ask(ctx, a, strings.Join(args, " "))
	}

	// Interactive chat loop with colored output
	color.Cyan("\nChat with your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			break
		}
		if question == "" {
			continue
		}

		if err := ask(ctx, a, question); err != nil {
			color.Red("Error: %v\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func ask(ctx context.Context, a *app, question string) error {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	// Show spinner while querying
	querySpinner := getSpinner("🔍 Searching documents...")
	prompt, err := a.responder.Prepare(ctx, query.Request{Query: question, TopK: topK})
	querySpinner.Finish()
	fmt.Print("\r") // Clear spinner line
	if err != nil {
		return err
	}

	var resp *query.Response
	if streaming {
		fmt.Print("\n")
		assistantPrompt("Assistant: ")
		for chunk := range a.chat.CompleteStream(ctx, prompt.System, prompt.User) {
			if strings.HasPrefix(chunk, "Error:") {
				return errors.New(strings.TrimSpace(strings.TrimPrefix(chunk, "Error:")))
			}
			assistantPrompt("%s", chunk)
		}
		fmt.Println()
		resp = &query.Response{Matches: prompt.Matches}
	} else {
		responseSpinner := getSpinner("🤖 Generating response...")
		resp, err = a.responder.Complete(ctx, prompt)
		responseSpinner.Finish()
		fmt.Print("\r")
		if err != nil {
			return err
		}
		assistantPrompt("\nAssistant: %s\n", resp.Answer)
	}

	if sources := resp.Sources(); len(sources) > 0 {
		color.New(color.Faint).Printf("\nSources:\n%s\n", strings.Join(sources, "\n"))
	}
	return nil
}
