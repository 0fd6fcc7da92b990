// Command analyze estimates the calories in a food photo from the command
// line and optionally saves the result to history.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"calorielog/internal/app"
	"calorielog/internal/bootstrap"
	"calorielog/internal/config"
	"calorielog/internal/domain"
	"calorielog/internal/logger"
)

func main() {
	os.Exit(realMain())
}

// realMain returns the exit code so deferred flushes run before os.Exit.
func realMain() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}
	// Logs go to stderr and stay quiet unless something goes wrong.
	if cfg.Env == "production" {
		_ = logger.Init(cfg.Env)
	} else if lg, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel)); err == nil {
		logger.Set(lg)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	save := fs.Bool("save", false, "save the analysis to history")
	asJSON := fs.Bool("json", false, "print the analysis as JSON")
	userID := fs.Int64("user", 1, "history owner for -save")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: analyze [-save] [-json] [-user id] <image-file>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	if *save && cfg.HistoryBackend == config.BackendMemory {
		fmt.Fprintln(stderr, "-save needs a durable history: set HISTORY_BACKEND to sqlite, redis or postgres")
		return 2
	}

	provider, err := bootstrap.NewProvider(ctx, cfg)
	if err != nil {
		fmt.Fprintln(stderr, "analysis provider:", err)
		return 1
	}

	orch := app.NewOrchestrator(provider, stderrNotifier{w: stderr})
	a, err := orch.Run(ctx, fileSource(fs.Arg(0)), nil)
	if err != nil {
		return 1
	}

	if *save {
		stores, err := bootstrap.OpenStores(ctx, cfg)
		if err != nil {
			fmt.Fprintln(stderr, "open history:", err)
			return 1
		}
		defer func() { _ = stores.Close() }()

		entry, err := app.NewHistoryService(stores.History).Save(ctx, *userID, *a)
		if err != nil {
			fmt.Fprintln(stderr, "Failed to save analysis:", err)
			return 1
		}
		fmt.Fprintf(stderr, "saved %s\n", entry.ID)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(a); err != nil {
			return 1
		}
		return 0
	}
	printTable(stdout, *a)
	return 0
}

// fileSource reads an image from disk.
type fileSource string

func (f fileSource) Acquire(context.Context) (*app.Capture, error) {
	path, err := filepath.Abs(string(f))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %s", app.ErrPermissionDenied, path)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", app.ErrNoImageData, path)
	case err != nil:
		return nil, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &app.Capture{
		URI:         "file://" + filepath.ToSlash(path),
		Base64:      base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	}, nil
}

type stderrNotifier struct {
	w io.Writer
}

func (n stderrNotifier) Notify(_ context.Context, title, message string) {
	fmt.Fprintf(n.w, "%s: %s\n", title, message)
}

func printTable(w io.Writer, a domain.FoodAnalysis) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FOOD\tKCAL\tPROTEIN\tCARBS\tFAT")
	for _, it := range a.Items {
		fmt.Fprintf(tw, "%s\t%.0f\t%s\t%s\t%s\n", it.Name, it.Calories, grams(it.Protein), grams(it.Carbs), grams(it.Fat))
	}
	fmt.Fprintf(tw, "TOTAL\t%.0f\t\t\t\n", a.TotalCalories)
	_ = tw.Flush()
}

func grams(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fg", *v)
}
