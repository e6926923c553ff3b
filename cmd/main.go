package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"meetprep/internal/config"
	"meetprep/internal/google"
	"meetprep/internal/icloud"
	"meetprep/internal/imap"
	"meetprep/internal/models"
	"meetprep/internal/narrative"
	"meetprep/internal/output"
	"meetprep/internal/prep"
	"meetprep/internal/retriever"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "meetprep",
		Usage: "Prepare briefs for upcoming meetings from calendar and mailbox history.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", EnvVars: []string{"MEETPREP_CONFIG"}, Usage: "Path to a YAML config file."},
			&cli.StringFlag{Name: "log-level", EnvVars: []string{"LOG_LEVEL"}, Value: "info", Usage: "debug, info, warn or error."},
			&cli.StringFlag{Name: "log-format", EnvVars: []string{"LOG_FORMAT"}, Value: "text", Usage: "text or json."},
		},
		Commands: []*cli.Command{
			authCommand(),
			prepCommand(),
			checkConfigCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"), c.String("log-format"))
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			tokenFile := google.TokenFile(strings.TrimSpace(accountName))

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func checkConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-config",
		Usage: "Validate the configuration and print the resolved values.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.Settings())
		},
	}
}

func prepCommand() *cli.Command {
	return &cli.Command{
		Name:  "prep",
		Usage: "Prepare briefs for the meetings in the look-ahead window.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run a single prep cycle and exit (default). Cannot be combined with --watch."},
			&cli.IntFlag{Name: "watch", Value: 3600, Usage: "Run a prep cycle every N seconds."},
			&cli.StringFlag{Name: "format", Value: "text", Usage: "Output format: text or json."},
			&cli.StringSliceFlag{Name: "calendar", Value: cli.NewStringSlice("google"), Usage: "Event sources: google, icloud."},
			&cli.StringFlag{Name: "mail", Value: "gmail", Usage: "Message source: gmail or imap."},
			&cli.StringFlag{Name: "account", Usage: "Google account to read mail from. Defaults to the first authenticated account."},
			&cli.BoolFlag{Name: "narrate", Usage: "Add a Gemini-written brief to every record."},
			&cli.BoolFlag{Name: "deliver", Usage: "Email every brief through the configured SMTP relay."},
			&cli.BoolFlag{Name: "publish-icloud", Usage: "Publish every brief as an event on an iCloud calendar."},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"), c.String("log-format"))

			format := c.String("format")
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown output format %q", format)
			}
			interval, err := watchInterval(c.Bool("once"), c.IsSet("watch"), c.Int("watch"))
			if err != nil {
				return err
			}

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, cleanup, err := wire(ctx, logger, cfg, c)
			if err != nil {
				cleanup()
				return err
			}
			defer cleanup()

			cycle := func() error {
				return w.cycle(ctx, c.App.Writer, format)
			}

			if interval > 0 {
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if err := cycle(); err != nil {
						logger.Error("Prep cycle failed", "error", err)
					}
					select {
					case <-ctx.Done():
						logger.Info("Watcher stopped.")
						return nil
					case <-ticker.C:
					}
				}
			}

			logger.Info("Running a single prep cycle.")
			if err := cycle(); err != nil {
				return fmt.Errorf("prep cycle failed: %w", err)
			}
			return nil
		},
	}
}

// watchInterval returns how often to repeat the prep cycle, or zero for a single run.
func watchInterval(once, watchSet bool, seconds int) (time.Duration, error) {
	if !watchSet {
		return 0, nil
	}
	if once {
		return 0, errors.New("--once and --watch cannot be combined")
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("--watch must be a positive number of seconds, got %d", seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// prepper holds everything one prep cycle needs.
type prepper struct {
	logger    *slog.Logger
	cfg       *config.Config
	runner    *prep.Runner
	narrator  narrative.Generator
	mailer    *output.Mailer
	publisher *icloud.CalDAVClient
}

func (p *prepper) cycle(ctx context.Context, out io.Writer, format string) error {
	start, end := p.cfg.Window.Range(time.Now())
	run, err := p.runner.Run(ctx, models.TimeRange{Start: start, End: end})
	if err != nil {
		return err
	}

	if p.narrator != nil {
		run.Records = narrative.Annotate(ctx, p.logger, p.narrator, run.Records)
	}

	switch format {
	case "json":
		err = output.WriteJSON(out, run, time.Now())
	default:
		err = output.WriteText(out, run)
	}
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	for _, rec := range run.Records {
		if p.mailer != nil {
			if err := p.mailer.Deliver(rec); err != nil {
				p.logger.Error("Failed to deliver prep brief", "eventTitle", rec.Event.Title, "error", err)
			}
		}
		if p.publisher != nil {
			if err := p.publisher.PublishPrep(ctx, rec, output.FormatText(rec)); err != nil {
				p.logger.Error("Failed to publish prep note", "eventTitle", rec.Event.Title, "error", err)
			}
		}
	}
	return nil
}

// wire builds the sources and sinks selected by the flags. The returned cleanup
// closes any open connections.
func wire(ctx context.Context, logger *slog.Logger, cfg *config.Config, c *cli.Context) (*prepper, func(), error) {
	cleanup := func() {}

	var sources []prep.EventSource
	for _, name := range c.StringSlice("calendar") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "google":
			accounts, err := googleAccounts()
			if err != nil {
				return nil, cleanup, err
			}
			for _, acc := range accounts {
				httpClient, err := google.NewHTTPClient(ctx, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), acc)
				if err != nil {
					return nil, cleanup, fmt.Errorf("failed to create google client for account %s: %w", acc, err)
				}
				calendarClient, err := google.NewCalendarClient(ctx, logger.With("account", acc), httpClient, cfg.CalendarIDs)
				if err != nil {
					return nil, cleanup, err
				}
				sources = append(sources, calendarClient)
			}
			logger.Info("Initialized Google calendars for all accounts.", "count", len(accounts))
		case "icloud":
			iClient, err := icloud.NewClient(ctx, logger, os.Getenv("ICLOUD_USERNAME"), os.Getenv("ICLOUD_APP_SPECIFIC_PASSWORD"), os.Getenv("ICLOUD_CALENDAR_NAME"))
			if err != nil {
				return nil, cleanup, fmt.Errorf("failed to create icloud client: %w", err)
			}
			sources = append(sources, iClient)
		default:
			return nil, cleanup, fmt.Errorf("unknown calendar source %q", name)
		}
	}

	var messages retriever.MessageSource
	switch c.String("mail") {
	case "gmail":
		account := c.String("account")
		if account == "" {
			accounts, err := googleAccounts()
			if err != nil {
				return nil, cleanup, err
			}
			account = accounts[0]
		}
		httpClient, err := google.NewHTTPClient(ctx, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), account)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create google client for account %s: %w", account, err)
		}
		gmailClient, err := google.NewGmailClient(ctx, logger, httpClient)
		if err != nil {
			return nil, cleanup, err
		}
		messages = gmailClient
	case "imap":
		src, err := imap.Dial(imap.Config{
			Server:   os.Getenv("IMAP_SERVER"),
			Username: os.Getenv("IMAP_USERNAME"),
			Password: os.Getenv("IMAP_PASSWORD"),
			Mailbox:  cfg.Mailbox,
			UseTLS:   os.Getenv("IMAP_INSECURE") != "true",
		}, logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to IMAP: %w", err)
		}
		cleanup = func() { _ = src.Close() }
		messages = src
	default:
		return nil, cleanup, fmt.Errorf("unknown mail source %q", c.String("mail"))
	}

	p := &prepper{
		logger: logger,
		cfg:    cfg,
		runner: prep.NewRunner(logger, cfg, sources, messages),
	}

	if c.Bool("narrate") {
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, cleanup, errors.New("GEMINI_API_KEY environment variable not set")
		}
		gen, err := narrative.NewGemini(ctx, logger, apiKey, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			return nil, cleanup, err
		}
		p.narrator = gen
	}

	if c.Bool("deliver") {
		mcfg := output.MailerConfig{
			Addr:     os.Getenv("SMTP_ADDR"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			To:       os.Getenv("SMTP_TO"),
		}
		if mcfg.Addr == "" || mcfg.From == "" || mcfg.To == "" {
			return nil, cleanup, errors.New("SMTP_ADDR, SMTP_FROM and SMTP_TO must be set to deliver briefs")
		}
		p.mailer = output.NewMailer(mcfg, logger)
	}

	if c.Bool("publish-icloud") {
		calendarName := os.Getenv("ICLOUD_PREP_CALENDAR_NAME")
		if calendarName == "" {
			calendarName = "Meeting Prep"
		}
		publisher, err := icloud.NewClient(ctx, logger, os.Getenv("ICLOUD_USERNAME"), os.Getenv("ICLOUD_APP_SPECIFIC_PASSWORD"), calendarName)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to create icloud publisher: %w", err)
		}
		p.publisher = publisher
	}

	return p, cleanup, nil
}

func googleAccounts() ([]string, error) {
	accounts, err := google.GetTokenAccounts(".")
	if err != nil {
		return nil, fmt.Errorf("could not find any google accounts, did you run auth command? %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no google accounts found. Run the 'auth' command first")
	}
	return accounts, nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
