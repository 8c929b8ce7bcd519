package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedimerge/activitypub"
	"github.com/deemkeen/fedimerge/db"
	"github.com/deemkeen/fedimerge/domain"
	"github.com/deemkeen/fedimerge/ui"
	"github.com/deemkeen/fedimerge/util"
	"github.com/deemkeen/fedimerge/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const maxLineSize = 4 * 1024 * 1024

type rootFlags struct {
	database string
	logLevel string
}

// app is everything a command needs, built from the config.
type app struct {
	conf     *util.AppConfig
	log      *log.Logger
	store    *db.DB
	engine   *activitypub.Engine
	accounts []domain.Actor
	registry *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          util.Name,
		Short:        "Merge activities from federated servers into one local store",
		Version:      util.GetVersion(),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.database, "database", "", "database file (overrides the config)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	root.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newIngestCmd(flags),
		newStatsCmd(flags),
		newFetchesCmd(flags),
		newPruneCmd(flags),
	)
	return root
}

func openApp(ctx context.Context, flags *rootFlags) (*app, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, err
	}
	if flags.database != "" {
		conf.Conf.Database = flags.database
	}
	if flags.logLevel != "" {
		conf.Conf.LogLevel = flags.logLevel
	}
	logger := util.NewLogger(conf.Conf.LogLevel)

	path := util.ResolveFilePath(conf.Conf.Database)
	store, err := db.Open(path, db.Options{
		Retries:    conf.Conf.StorageRetries,
		RetryDelay: conf.StorageRetryDelay(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("App: database opened", "path", path)
	a, err := newApp(ctx, conf, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// newApp registers the configured origins and accounts of record against store.
func newApp(ctx context.Context, conf *util.AppConfig, store *db.DB, logger *log.Logger) (*app, error) {
	origins := make(map[string]domain.Origin)
	for _, oc := range conf.Conf.Origins {
		origin, err := store.EnsureOrigin(ctx, domain.Origin{Name: oc.Name, Type: domain.ParseOriginType(oc.Type), Host: oc.Host})
		if err != nil {
			return nil, fmt.Errorf("origin %s: %w", oc.Name, err)
		}
		origins[strings.ToLower(oc.Name)] = origin
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engine := activitypub.NewEngine(store, activitypub.EngineConfig{
		LongAgo: conf.LongAgo(),
		Fetcher: activitypub.NewQueueFetcher(store, logger),
		Metrics: activitypub.NewMetrics(registry),
		Logger:  logger,
	})

	a := &app{conf: conf, log: logger, store: store, engine: engine, registry: registry}
	for _, ac := range conf.Conf.Accounts {
		origin, ok := origins[strings.ToLower(ac.Origin)]
		if !ok {
			return nil, fmt.Errorf("account %s: unknown origin %q", ac.WebFingerId, ac.Origin)
		}
		account, err := engine.AddAccount(ctx, domain.Actor{
			Origin:      origin,
			Oid:         ac.Oid,
			WebFingerId: domain.NormalizeWebFingerId(ac.WebFingerId),
		})
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", ac.WebFingerId, err)
		}
		a.accounts = append(a.accounts, account)
	}
	logger.Debug("App: ready", "origins", len(origins), "accounts", len(a.accounts))
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("App: closing database failed", "err", err)
	}
}

// pickAccount finds an account of record by address; empty means the first one.
func (a *app) pickAccount(webFingerId string) (domain.Actor, error) {
	if len(a.accounts) == 0 {
		return domain.Actor{}, errors.New("no accounts configured")
	}
	if webFingerId == "" {
		return a.accounts[0], nil
	}
	wanted := domain.NormalizeWebFingerId(webFingerId)
	for _, account := range a.accounts {
		if strings.EqualFold(account.WebFingerId, wanted) {
			return account, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("unknown account %q", webFingerId)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the notification API, RSS feed and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			a.log.Info("Starting " + util.GetNameAndVersion())
			a.log.Debug("Configuration: " + util.PrettyPrint(a.conf))
			server := web.NewServer(a.conf, a.store, a.engine, a.accounts, a.registry, a.log)
			return server.Run(ctx)
		},
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()
			version, dirty, err := a.store.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %v)\n", version, dirty)
			return nil
		},
	}
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	var account string
	var pageSize int
	cmd := &cobra.Command{
		Use:   "ingest <file.jsonl>",
		Short: "Replay normalized wire activities, one JSON object per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()
			me, err := a.pickAccount(account)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			progress, rejected, err := a.ingestLines(ctx, f, me, pageSize)
			ui.PrintSection(cmd.OutOrStdout(), "Ingest", ui.Table(
				[]string{"Inserted", "Updated", "No-op", "Failed", "Rejected", "Abandoned"},
				[][]string{{
					strconv.Itoa(progress.Inserted), strconv.Itoa(progress.Updated), strconv.Itoa(progress.NoOp),
					strconv.Itoa(progress.Failed), strconv.Itoa(rejected), strconv.Itoa(progress.Abandoned),
				}},
			))
			if err != nil {
				return err
			}
			return progress.Err
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account of record (defaults to the first configured)")
	cmd.Flags().IntVar(&pageSize, "page", 100, "activities per page")
	return cmd
}

// ingestLines feeds r to the engine page by page. Lines that do not map onto an activity
// are counted as rejected and skipped.
func (a *app) ingestLines(ctx context.Context, r io.Reader, account domain.Actor, pageSize int) (activitypub.Progress, int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var total activitypub.Progress
	rejected := 0
	page := make([]domain.Activity, 0, pageSize)
	flush := func() {
		p := a.engine.IngestPage(ctx, page)
		total.Inserted += p.Inserted
		total.Updated += p.Updated
		total.NoOp += p.NoOp
		total.Failed += p.Failed
		total.Abandoned += p.Abandoned
		total.Err = errors.Join(total.Err, p.Err)
		page = page[:0]
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		activity, err := toActivity([]byte(raw), account)
		if err != nil {
			a.log.Warn("Ingest: line rejected", "line", line, "err", err)
			rejected++
			continue
		}
		page = append(page, activity)
		if len(page) == pageSize {
			flush()
			if ctx.Err() != nil {
				return total, rejected, nil
			}
		}
	}
	if len(page) > 0 {
		flush()
	}
	return total, rejected, scanner.Err()
}

func toActivity(raw []byte, account domain.Actor) (domain.Activity, error) {
	wire, err := activitypub.ParseWireActivity(raw)
	if err != nil {
		return domain.Activity{}, err
	}
	return wire.ToActivity(account.Origin, account)
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()
			rows, err := a.stats(cmd.Context())
			if err != nil {
				return err
			}
			ui.PrintSection(cmd.OutOrStdout(), util.GetNameAndVersion(), ui.Table([]string{"Table", "Rows"}, rows))
			return nil
		},
	}
}

func (a *app) stats(ctx context.Context) ([][]string, error) {
	counters := []struct {
		name  string
		count func(context.Context) (int64, error)
	}{
		{"actors", a.store.CountActors},
		{"notes", a.store.CountNotes},
		{"activities", a.store.CountActivities},
		{"group members", a.store.CountGroupMembers},
		{"pending fetches", a.store.CountFetches},
	}
	var rows [][]string
	for _, c := range counters {
		n, err := c.count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c.name, err)
		}
		rows = append(rows, []string{c.name, strconv.FormatInt(n, 10)})
	}
	unseen, err := a.store.ReadNotifications(ctx, true, 100000)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	rows = append(rows, []string{"unseen notifications", strconv.Itoa(len(unseen))})
	return rows, nil
}

func newFetchesCmd(flags *rootFlags) *cobra.Command {
	var notesFile string
	cmd := &cobra.Command{
		Use:   "fetches",
		Short: "List pending fetch requests, or satisfy them from a file of downloaded notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			a, err := openApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if notesFile == "" {
				return a.printFetches(ctx, cmd.OutOrStdout())
			}
			f, err := os.Open(notesFile)
			if err != nil {
				return err
			}
			defer f.Close()
			downloaded, err := readNotes(f)
			if err != nil {
				return err
			}
			worker := activitypub.NewFetchWorker(a.store, downloaded, a.engine, a.accounts, a.log)
			merged, err := worker.ProcessOnce(ctx)
			if err != nil {
				return err
			}
			ui.Hint(cmd.OutOrStdout(), "%d of %d notes merged", merged, len(downloaded))
			return nil
		},
	}
	cmd.Flags().StringVar(&notesFile, "notes", "", "JSON lines of downloaded notes to merge")
	return cmd
}

func (a *app) printFetches(ctx context.Context, w io.Writer) error {
	pending, err := a.store.ReadPendingFetches(ctx, 1000)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		ui.Hint(w, "no pending fetches")
		return nil
	}
	rows := make([][]string, 0, len(pending))
	for _, p := range pending {
		rows = append(rows, []string{
			strconv.FormatInt(p.Id, 10), p.Oid, p.ObjectType.String(), strconv.Itoa(p.Attempts),
			p.CreatedAt.Local().Format(util.DateTimeFormat()),
		})
	}
	ui.PrintSection(w, "Pending fetches", ui.Table([]string{"Id", "Oid", "Type", "Attempts", "Queued"}, rows))
	return nil
}

// noteFile serves downloads from notes read ahead of time.
type noteFile map[string]activitypub.WireNote

func readNotes(r io.Reader) (noteFile, error) {
	notes := make(noteFile)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		note, err := activitypub.ParseWireNote([]byte(raw))
		if err != nil {
			return nil, err
		}
		if note.ID != "" {
			notes[note.ID] = note
		}
	}
	return notes, scanner.Err()
}

func (f noteFile) DownloadNote(_ context.Context, origin domain.Origin, oid string) (activitypub.WireNote, error) {
	note, ok := f[oid]
	if !ok {
		return note, fmt.Errorf("note %s of %s was not downloaded", oid, origin.Name)
	}
	return note, nil
}

func newPruneCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune <actorId>",
		Short: "Delete an actor nothing refers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("actor id: %w", err)
			}
			a, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.store.PruneActor(cmd.Context(), id); err != nil {
				return err
			}
			ui.Hint(cmd.OutOrStdout(), "actor %d pruned", id)
			return nil
		},
	}
}
