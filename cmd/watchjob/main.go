// watchjob follows one report job until it finishes, printing a line per
// progress change. It submits the job first when -url is given.
//
// Exit codes: 0 complete, 1 failed, 2 usage or submission error, 130 interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/seantiz/reportwatch/internal/config"
	"github.com/seantiz/reportwatch/internal/model"
	"github.com/seantiz/reportwatch/internal/poller"
	"github.com/seantiz/reportwatch/internal/transport"
)

const (
	exitComplete    = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	_, _ = maxprocs.Set()
	_ = config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	api          string
	kind         model.ReportKind
	job          string
	url          string
	businessType string
	city         string
	region       string
	country      string
	competitors  []string
	interval     time.Duration
	retries      int
	verbose      bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	cfg := config.Load()

	fs := flag.NewFlagSet("watchjob", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts        options
		kind        string
		competitors string
	)
	fs.StringVar(&opts.api, "api", cfg.APIBaseURL, "report API base URL")
	fs.StringVar(&kind, "kind", string(model.KindGovernance), "report kind: governance or seo")
	fs.StringVar(&opts.job, "job", "", "job id to follow")
	fs.StringVar(&opts.url, "url", "", "website to submit a new report for")
	fs.StringVar(&opts.businessType, "business-type", model.BusinessOther, "business type for -url")
	fs.StringVar(&opts.city, "city", "", "city for -url")
	fs.StringVar(&opts.region, "region", "", "region for -url")
	fs.StringVar(&opts.country, "country", "", "country for -url")
	fs.StringVar(&competitors, "competitors", "", "comma-separated competitor URLs for an SEO -url")
	fs.DurationVar(&opts.interval, "interval", cfg.PollInterval, "polling interval")
	fs.IntVar(&opts.retries, "retries", 0, "times to retry a failed job")
	fs.BoolVar(&opts.verbose, "v", false, "log requests to stderr")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	k, err := model.ParseReportKind(kind)
	if err != nil {
		return options{}, err
	}
	opts.kind = k

	if (opts.job == "") == (opts.url == "") {
		return options{}, errors.New("exactly one of -job or -url is required")
	}
	for c := range strings.SplitSeq(competitors, ",") {
		if c = strings.TrimSpace(c); c != "" {
			opts.competitors = append(opts.competitors, c)
		}
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "watchjob: %v\n", err)
		}
		return exitUsage
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := config.NewLogger(stderr, level)
	client := transport.NewClient(opts.api, transport.WithLogger(logger))

	job := opts.job
	if job == "" {
		job, err = submit(ctx, client, opts)
		if err != nil {
			fmt.Fprintf(stderr, "watchjob: submit: %v\n", err)
			return exitUsage
		}
		fmt.Fprintf(stdout, "submitted %s job %s\n", opts.kind, job)
	}

	return follow(ctx, client, job, opts, logger, stdout)
}

func submit(ctx context.Context, client *transport.Client, opts options) (string, error) {
	loc := model.Location{City: opts.city, Region: opts.region, Country: opts.country}

	var (
		resp model.JobCreateResponse
		err  error
	)
	switch opts.kind {
	case model.KindSEO:
		resp, err = client.SubmitSEO(ctx, model.SEOReportRequest{
			WebsiteURL:   opts.url,
			Location:     loc,
			BusinessType: opts.businessType,
			Intent:       model.IntentSEO,
			Competitors:  opts.competitors,
		})
	default:
		resp, err = client.SubmitGovernance(ctx, model.GovernanceReportRequest{
			WebsiteURL:   opts.url,
			Location:     loc,
			BusinessType: opts.businessType,
			Intent:       model.IntentGovernance,
		})
	}
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

// follow polls job until it reaches a terminal phase, retrying failures up
// to opts.retries times.
func follow(ctx context.Context, t poller.Transport, job string, opts options, logger *slog.Logger, stdout io.Writer) int {
	changes := make(chan model.Snapshot, 64)
	engine := poller.New(t, opts.kind,
		poller.WithInterval(opts.interval),
		poller.WithLogger(logger),
		poller.WithObserver(func(_, next model.Snapshot) {
			select {
			case changes <- next:
			default:
			}
		}),
	)
	defer func() {
		engine.Detach()
		engine.Wait()
	}()

	if err := engine.Attach(job); err != nil {
		fmt.Fprintf(stdout, "watchjob: %v\n", err)
		return exitUsage
	}

	retries := opts.retries
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout, "interrupted")
			return exitInterrupted
		case s := <-changes:
			if s.Generation != engine.Generation() {
				continue
			}
			fmt.Fprintln(stdout, formatSnapshot(s))
			switch s.Phase {
			case model.PhaseComplete:
				return exitComplete
			case model.PhaseFailed:
				if retries == 0 {
					return exitFailed
				}
				retries--
				fmt.Fprintf(stdout, "retrying (%d left)\n", retries)
				if err := engine.Retry(); err != nil {
					return exitFailed
				}
			}
		}
	}
}

func formatSnapshot(s model.Snapshot) string {
	line := fmt.Sprintf("%-10s %3.0f%%", s.Phase, s.Progress*100)
	if s.CurrentStep != "" {
		line += "  " + s.CurrentStep
	}
	if s.Phase == model.PhaseComplete && len(s.Result) > 0 {
		line += fmt.Sprintf("  (%d byte report)", len(s.Result))
	}
	if s.ErrorMessage != "" {
		line += "  error: " + s.ErrorMessage
	}
	return line
}
