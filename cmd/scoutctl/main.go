// Command scoutctl is the operator CLI for the scout engine. It works
// against the same state directory as the scoutd daemon: scouts and feeds
// are edited in the shared store, review verbs drive the draft state
// machine directly, and schedule changes nudge a running daemon over
// SIGHUP.
//
// Commands:
//
//	create/list/show/edit/delete   scout CRUD
//	run                            ad-hoc scout run
//	feeds                          feed subscriptions for rss scouts
//	review                         list drafts, approve/reject/refine, watch
//	feedback                       journal a verdict on a fetched item
//	calibrate                      rewrite an instruction from a critique
//	optimize                       rewrite a search query from feedback
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/scoutline/scoutd/engine/agent"
	"github.com/scoutline/scoutd/engine/config"
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/feedback"
	"github.com/scoutline/scoutd/engine/memory"
	"github.com/scoutline/scoutd/engine/review"
	"github.com/scoutline/scoutd/engine/schedule"
	"github.com/scoutline/scoutd/engine/scout"
	"github.com/scoutline/scoutd/engine/source"
	"github.com/scoutline/scoutd/engine/store"
	"github.com/scoutline/scoutd/pkg/natsutil"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "scoutctl:", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: logger}
	defer a.close()

	switch cmd {
	case "create":
		err = a.create(ctx, os.Args[2:])
	case "list":
		err = a.list(ctx)
	case "show":
		err = a.show(ctx, os.Args[2:])
	case "edit":
		err = a.edit(ctx, os.Args[2:])
	case "delete":
		err = a.delete(ctx, os.Args[2:])
	case "run":
		err = a.runScout(ctx, os.Args[2:])
	case "feeds":
		err = a.feeds(ctx, os.Args[2:])
	case "review":
		err = a.review(ctx, os.Args[2:])
	case "feedback":
		err = a.feedback(ctx, os.Args[2:])
	case "calibrate":
		err = a.calibrate(ctx, os.Args[2:])
	case "optimize":
		err = a.optimize(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "scoutctl: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "scoutctl:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("scoutctl - operate the scout engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  scoutctl <command> [flags] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  create [flags] <name>      create a scout (--kind required)")
	fmt.Println("  list                       list scouts")
	fmt.Println("  show <name>                print one scout as JSON")
	fmt.Println("  edit [flags] <name>        change instruction, cron, query or config")
	fmt.Println("  delete <name>              remove a scout and its journal")
	fmt.Println("  run [flags] <name>         run a scout now and print the result")
	fmt.Println("  feeds subscribe|list|reset manage rss subscriptions")
	fmt.Println("  review list|show|approve|reject|refine|watch")
	fmt.Println("                             drive drafts through review")
	fmt.Println("  feedback [flags] <name>    journal approved/rejected on an item url")
	fmt.Println("  calibrate [flags]          rewrite an instruction from a draft critique")
	fmt.Println("  optimize <name>            rewrite the search query from feedback")
	fmt.Println()
	fmt.Println("Flags go before positional arguments:")
	fmt.Println("  scoutctl create --kind reddit --query golang --cron \"0 9 * * *\" go-news")
	fmt.Println("  scoutctl run --limit 5 go-news")
	fmt.Println("  scoutctl review approve --draft 12")
	fmt.Println()
	fmt.Println("State lives under $SCOUTD_HOME (default ~/.scoutd); provider keys")
	fmt.Println("come from the environment or $SCOUTD_HOME/.env.")
}

// app wires engine pieces lazily, so store-only commands never touch the
// model providers or the dedup backends.
type app struct {
	cfg config.Config
	log *slog.Logger

	st     *store.Store
	rt     *agent.Runtime
	mem    *memory.Index
	images scout.ImageGenerator

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) store() (*store.Store, error) {
	if a.st == nil {
		st, err := store.Open(a.cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.st = st
		a.closers = append(a.closers, func() { st.Close() })
	}
	return a.st, nil
}

func (a *app) runtime(ctx context.Context) (*agent.Runtime, error) {
	if a.rt == nil {
		rt := agent.New(a.log, agent.DefaultOptions())
		if a.cfg.GeminiKey != "" {
			gp, err := agent.NewGeminiProvider(ctx, a.cfg.GeminiKey, "")
			if err != nil {
				return nil, fmt.Errorf("gemini provider: %w", err)
			}
			a.closers = append(a.closers, func() { gp.Close() })
			rt.Register(gp)
			a.images = gp
		}
		if a.cfg.AnthropicKey != "" {
			ap, err := agent.NewAnthropicProvider(a.cfg.AnthropicKey, "")
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			rt.Register(ap)
		}
		a.rt = rt
	}
	return a.rt, nil
}

func (a *app) memoryIndex(ctx context.Context) (*memory.Index, error) {
	if a.mem == nil {
		st, err := a.store()
		if err != nil {
			return nil, err
		}
		var embed func() (memory.Embedder, error)
		if a.cfg.SemanticDedup {
			cfg := a.cfg
			switch cfg.EmbedBackend {
			case "genai":
				embed = func() (memory.Embedder, error) {
					return memory.NewGenAIEmbedder(ctx, cfg.GeminiKey, "")
				}
			default:
				embed = func() (memory.Embedder, error) {
					return memory.NewOllamaEmbedder(cfg.OllamaAddr, ""), nil
				}
			}
		}
		var ann memory.VectorIndex
		if a.cfg.QdrantAddr != "" {
			qd, err := memory.NewQdrantIndex(a.cfg.QdrantAddr, "scout_fingerprints")
			if err != nil {
				return nil, fmt.Errorf("qdrant connect: %w", err)
			}
			a.closers = append(a.closers, func() { qd.Close() })
			ann = qd
		}
		a.mem = memory.New(st, embed, ann, a.log)
		if ann != nil {
			if err := a.mem.Sync(ctx); err != nil {
				a.log.Warn("vector index sync failed, hash dedup still covers history", "error", err)
			}
		}
	}
	return a.mem, nil
}

func (a *app) executor(ctx context.Context) (*scout.Executor, error) {
	st, err := a.store()
	if err != nil {
		return nil, err
	}
	mem, err := a.memoryIndex(ctx)
	if err != nil {
		return nil, err
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return nil, err
	}

	rss := source.NewRSS(st, a.log)
	web := source.NewWebpage(a.log)
	sources := source.NewRegistry()
	sources.Register("rss", rss)
	sources.Register("reddit", source.NewReddit(a.log))
	sources.Register("google_search", source.NewSearch(a.cfg.SearchKey, a.cfg.SearchCX, a.log))
	sources.Register("arxiv", source.NewArXiv(a.log))
	sources.Register("http_request", web)

	return scout.New(st, mem, rt, scout.Toolbox{
		Registry: sources,
		RSS:      rss,
		Webpage:  web,
		Images:   a.images,
	}, scout.Options{
		LogDir:   a.cfg.LogDir(),
		ImageDir: filepath.Join(a.cfg.Home, "images"),
	}, a.log), nil
}

func (a *app) bus(ctx context.Context) (*review.Bus, error) {
	st, err := a.store()
	if err != nil {
		return nil, err
	}
	mem, err := a.memoryIndex(ctx)
	if err != nil {
		return nil, err
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return nil, err
	}
	pubs := review.NewPublishers()
	if a.cfg.XAPIKey != "" {
		pubs.Register("x", review.NewXPublisher(review.XCredentials{
			APIKey:            a.cfg.XAPIKey,
			APISecret:         a.cfg.XAPISecret,
			AccessToken:       a.cfg.XAccessToken,
			AccessTokenSecret: a.cfg.XAccessTokenSecret,
		}))
	}
	return review.New(st, rt, mem, review.Options{Publishers: pubs}, a.log), nil
}

func (a *app) feedbackService(ctx context.Context) (*feedback.Service, error) {
	st, err := a.store()
	if err != nil {
		return nil, err
	}
	rt, err := a.runtime(ctx)
	if err != nil {
		return nil, err
	}
	return feedback.New(st, rt, a.log), nil
}

// nudgeDaemon sends SIGHUP to a running scoutd so schedule edits apply
// without a restart. Does nothing when no daemon is up.
func (a *app) nudgeDaemon() {
	raw, err := os.ReadFile(a.cfg.PIDPath())
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err == nil {
		a.log.Debug("daemon nudged to reload schedules", "pid", pid)
	}
}

// --- Scout CRUD ---

func (a *app) create(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	kind := fs.String("kind", "", "scout kind: rss|reddit|search|arxiv|http|meta")
	intent := fs.String("intent", "scouting", "scouting or generation")
	instruction := fs.String("instruction", "", "system instruction for the scout")
	cronExpr := fs.String("cron", "", "five-field cron cadence; empty = manual runs only")
	platforms := fs.String("platforms", "", "comma-separated target platforms (generation)")
	query := fs.String("query", "", "shortcut for the query config key")
	feeds := fs.String("feeds", "", "comma-separated feed urls (rss)")
	tools := fs.String("tools", "", "comma-separated extra tool tags to bind")
	configJSON := fs.String("config", "", "raw config JSON, merged over the shortcut flags")
	fs.Parse(args)

	name := fs.Arg(0)
	if name == "" {
		return errors.New("create: scout name required")
	}
	if err := schedule.ValidateCron(*cronExpr); err != nil {
		return err
	}

	cfgMap := domain.Config{}
	if *query != "" {
		cfgMap["query"] = *query
	}
	if *feeds != "" {
		cfgMap["feeds"] = splitList(*feeds)
	}
	if *tools != "" {
		cfgMap["tools"] = splitList(*tools)
	}
	if *configJSON != "" {
		var raw domain.Config
		if err := json.Unmarshal([]byte(*configJSON), &raw); err != nil {
			return fmt.Errorf("create: parse --config: %w", err)
		}
		cfgMap = cfgMap.Merge(raw)
	}

	st, err := a.store()
	if err != nil {
		return err
	}
	created, err := st.CreateScout(ctx, domain.Scout{
		Name:           name,
		Kind:           domain.Kind(*kind),
		Config:         cfgMap,
		Intent:         domain.Intent(*intent),
		Instruction:    *instruction,
		Platforms:      splitList(*platforms),
		ReviewRequired: true,
		Cron:           *cronExpr,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created scout %q (id %d)\n", created.Name, created.ID)
	if created.Cron != "" {
		a.nudgeDaemon()
	}
	return nil
}

func (a *app) list(ctx context.Context) error {
	st, err := a.store()
	if err != nil {
		return err
	}
	scouts, err := st.ListScouts(ctx)
	if err != nil {
		return err
	}
	if len(scouts) == 0 {
		fmt.Println("no scouts configured")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tINTENT\tCRON\tLAST FIRED")
	for _, sc := range scouts {
		cron := sc.Cron
		if cron == "" {
			cron = "manual"
		}
		last := "never"
		if !sc.LastFired.IsZero() {
			last = sc.LastFired.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", sc.ID, sc.Name, sc.Kind, sc.Intent, cron, last)
	}
	return tw.Flush()
}

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("show: scout name required")
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	sc, err := st.GetScoutByName(ctx, args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func (a *app) edit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	instruction := fs.String("instruction", "", "replace the instruction")
	cronExpr := fs.String("cron", "", "replace the cron cadence; empty unschedules")
	platforms := fs.String("platforms", "", "replace the target platforms")
	query := fs.String("query", "", "replace the query config key")
	configJSON := fs.String("config", "", "config JSON merged over the current config")
	fs.Parse(args)

	name := fs.Arg(0)
	if name == "" {
		return errors.New("edit: scout name required")
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if len(set) == 0 {
		return errors.New("edit: nothing to change")
	}

	st, err := a.store()
	if err != nil {
		return err
	}
	sc, err := st.GetScoutByName(ctx, name)
	if err != nil {
		return err
	}

	if set["instruction"] {
		sc.Instruction = *instruction
	}
	if set["cron"] {
		if err := schedule.ValidateCron(*cronExpr); err != nil {
			return err
		}
		sc.Cron = *cronExpr
	}
	if set["platforms"] {
		sc.Platforms = splitList(*platforms)
	}
	if sc.Config == nil {
		sc.Config = domain.Config{}
	}
	if set["query"] {
		sc.Config["query"] = *query
	}
	if set["config"] {
		var raw domain.Config
		if err := json.Unmarshal([]byte(*configJSON), &raw); err != nil {
			return fmt.Errorf("edit: parse --config: %w", err)
		}
		sc.Config = sc.Config.Merge(raw)
	}

	if err := st.UpdateScout(ctx, sc); err != nil {
		return err
	}
	fmt.Printf("updated scout %q\n", sc.Name)
	if set["cron"] {
		a.nudgeDaemon()
	}
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("delete: scout name required")
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	sc, err := st.GetScoutByName(ctx, args[0])
	if err != nil {
		return err
	}
	if err := st.DeleteScout(ctx, sc.ID); err != nil {
		return err
	}
	fmt.Printf("deleted scout %q\n", sc.Name)
	if sc.Cron != "" {
		a.nudgeDaemon()
	}
	return nil
}

// --- Ad-hoc runs ---

func (a *app) runScout(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	limit := fs.Int("limit", 0, "cap items this run")
	query := fs.String("query", "", "override the configured query")
	fs.Parse(args)

	name := fs.Arg(0)
	if name == "" {
		return errors.New("run: scout name required")
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	sc, err := st.GetScoutByName(ctx, name)
	if err != nil {
		return err
	}
	exec, err := a.executor(ctx)
	if err != nil {
		return err
	}

	res, err := exec.Run(ctx, sc, scout.RunOpts{Limit: *limit, Query: *query})
	if err != nil {
		return err
	}

	fmt.Printf("run finished: %d new item(s) in %d attempt(s)\n", len(res.Items), res.Attempts)
	for _, it := range res.Items {
		fmt.Printf("  - %s\n    %s\n", it.Title, it.URL)
	}
	if res.Draft != nil {
		fmt.Printf("\ndraft %d parked for review (platform %s):\n\n%s\n",
			res.Draft.ID, res.Draft.Platform, res.Draft.Content)
	} else {
		fmt.Println("no draft produced")
	}
	return nil
}

// --- Feeds ---

func (a *app) feeds(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("feeds: subcommand required: subscribe|list|reset")
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	rss := source.NewRSS(st, a.log)

	switch sub := args[0]; sub {
	case "subscribe":
		fs := flag.NewFlagSet("feeds subscribe", flag.ExitOnError)
		scoutName := fs.String("scout", "", "owning scout name")
		fs.Parse(args[1:])
		if *scoutName == "" || fs.NArg() == 0 {
			return errors.New("feeds subscribe: --scout and at least one url required")
		}
		sc, err := st.GetScoutByName(ctx, *scoutName)
		if err != nil {
			return err
		}
		subscribed, err := rss.Subscribe(ctx, sc.ID, fs.Args(), nil)
		if err != nil {
			return err
		}
		for _, f := range subscribed {
			title := f.Title
			if title == "" {
				title = f.URL
			}
			fmt.Printf("subscribed feed %d: %s\n", f.ID, title)
		}
		return nil

	case "list":
		fs := flag.NewFlagSet("feeds list", flag.ExitOnError)
		scoutName := fs.String("scout", "", "owning scout name")
		fs.Parse(args[1:])
		if *scoutName == "" {
			return errors.New("feeds list: --scout required")
		}
		sc, err := st.GetScoutByName(ctx, *scoutName)
		if err != nil {
			return err
		}
		feeds, err := rss.Feeds(ctx, sc.ID)
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			fmt.Println("no feeds subscribed")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tURL\tTITLE\tLAST POLLED")
		for _, f := range feeds {
			last := "never"
			if !f.LastPolled.IsZero() {
				last = f.LastPolled.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.ID, f.URL, f.Title, last)
		}
		return tw.Flush()

	case "reset":
		fs := flag.NewFlagSet("feeds reset", flag.ExitOnError)
		feedID := fs.Int64("feed", 0, "feed id to mark all entries unprocessed")
		fs.Parse(args[1:])
		if *feedID == 0 {
			return errors.New("feeds reset: --feed required")
		}
		if err := rss.ResetProcessed(ctx, *feedID); err != nil {
			return err
		}
		fmt.Printf("feed %d reset: all entries unprocessed\n", *feedID)
		return nil

	default:
		return fmt.Errorf("feeds: unknown subcommand %q", sub)
	}
}

// --- Review ---

func (a *app) review(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("review: subcommand required: list|show|approve|reject|refine|watch")
	}

	switch sub := args[0]; sub {
	case "list":
		fs := flag.NewFlagSet("review list", flag.ExitOnError)
		status := fs.String("status", string(domain.StatusReviewing), "draft status to list")
		fs.Parse(args[1:])
		st, err := a.store()
		if err != nil {
			return err
		}
		drafts, err := st.ListDraftsByStatus(ctx, domain.DraftStatus(*status))
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			fmt.Printf("no drafts with status %s\n", *status)
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSCOUT\tPLATFORM\tCREATED\tCONTENT")
		for _, d := range drafts {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n",
				d.ID, d.ScoutID, d.Platform, d.CreatedAt.UTC().Format(time.RFC3339), preview(d.Content, 60))
		}
		return tw.Flush()

	case "show":
		fs := flag.NewFlagSet("review show", flag.ExitOnError)
		draftID := fs.Int64("draft", 0, "draft id")
		fs.Parse(args[1:])
		if *draftID == 0 {
			return errors.New("review show: --draft required")
		}
		st, err := a.store()
		if err != nil {
			return err
		}
		d, err := st.GetDraft(ctx, *draftID)
		if err != nil {
			return err
		}
		fmt.Printf("draft %d  scout %d  platform %s  status %s\n\n%s\n",
			d.ID, d.ScoutID, d.Platform, d.Status, d.Content)
		return nil

	case "approve":
		fs := flag.NewFlagSet("review approve", flag.ExitOnError)
		draftID := fs.Int64("draft", 0, "draft id")
		fs.Parse(args[1:])
		if *draftID == 0 {
			return errors.New("review approve: --draft required")
		}
		bus, err := a.bus(ctx)
		if err != nil {
			return err
		}
		d, err := bus.Approve(ctx, *draftID)
		if err != nil {
			return err
		}
		if d.ExternalID != "" {
			fmt.Printf("draft %d posted to %s (id %s)\n", d.ID, d.Platform, d.ExternalID)
		} else {
			fmt.Printf("draft %d approved (notify-only)\n", d.ID)
		}
		return nil

	case "reject":
		fs := flag.NewFlagSet("review reject", flag.ExitOnError)
		draftID := fs.Int64("draft", 0, "draft id")
		reason := fs.String("reason", "", "why the draft was rejected")
		fs.Parse(args[1:])
		if *draftID == 0 {
			return errors.New("review reject: --draft required")
		}
		bus, err := a.bus(ctx)
		if err != nil {
			return err
		}
		if err := bus.Reject(ctx, *draftID, *reason); err != nil {
			return err
		}
		fmt.Printf("draft %d rejected\n", *draftID)
		return nil

	case "refine":
		fs := flag.NewFlagSet("review refine", flag.ExitOnError)
		draftID := fs.Int64("draft", 0, "draft id")
		fb := fs.String("feedback", "", "how the draft should change")
		fs.Parse(args[1:])
		if *draftID == 0 || *fb == "" {
			return errors.New("review refine: --draft and --feedback required")
		}
		bus, err := a.bus(ctx)
		if err != nil {
			return err
		}
		d, err := bus.Refine(ctx, *draftID, *fb)
		if err != nil {
			return err
		}
		fmt.Printf("draft %d rewritten, still in review:\n\n%s\n", d.ID, d.Content)
		return nil

	case "watch":
		return a.watchReview(ctx)

	default:
		return fmt.Errorf("review: unknown subcommand %q", sub)
	}
}

// watchReview tails the pending-review channel until interrupted. It needs
// a running daemon configured with SCOUTD_NATS_URL on the same broker.
func (a *app) watchReview(ctx context.Context) error {
	if a.cfg.NATSURL == "" {
		return errors.New("review watch: SCOUTD_NATS_URL not set")
	}
	nc, err := nats.Connect(a.cfg.NATSURL, nats.Name("scoutctl"))
	if err != nil {
		return fmt.Errorf("review watch: connect: %w", err)
	}
	defer nc.Close()

	sub, err := natsutil.Subscribe(nc, review.SubjectPending, func(_ context.Context, ev review.PendingEvent) {
		fmt.Printf("[%s] draft %d from %s (%s)\n%s\n\n",
			ev.CreatedAt.UTC().Format(time.RFC3339), ev.DraftID, ev.Scout, ev.Platform, ev.Content)
	})
	if err != nil {
		return fmt.Errorf("review watch: subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	fmt.Printf("watching %s (ctrl-c to stop)\n", review.SubjectPending)
	<-ctx.Done()
	return nil
}

// --- Feedback, calibration, optimization ---

func (a *app) feedback(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("feedback", flag.ExitOnError)
	itemURL := fs.String("url", "", "item url the verdict is about")
	action := fs.String("action", "", "approved or rejected")
	comment := fs.String("comment", "", "optional reason")
	fs.Parse(args)

	name := fs.Arg(0)
	if name == "" {
		return errors.New("feedback: scout name required")
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	sc, err := st.GetScoutByName(ctx, name)
	if err != nil {
		return err
	}
	svc, err := a.feedbackService(ctx)
	if err != nil {
		return err
	}
	if err := svc.Record(ctx, sc.ID, *itemURL, domain.FeedbackAction(*action), *comment); err != nil {
		return err
	}
	fmt.Printf("recorded %s for %q\n", *action, sc.Name)
	return nil
}

func (a *app) calibrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	draftID := fs.Int64("draft", 0, "draft the critique is about")
	critique := fs.String("critique", "", "what was wrong with the draft")
	sourceURL := fs.String("url", "", "optional source url for the journal")
	fs.Parse(args)

	if *draftID == 0 || *critique == "" {
		return errors.New("calibrate: --draft and --critique required")
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	d, err := st.GetDraft(ctx, *draftID)
	if err != nil {
		return err
	}
	sc, err := st.GetScout(ctx, d.ScoutID)
	if err != nil {
		return err
	}
	svc, err := a.feedbackService(ctx)
	if err != nil {
		return err
	}

	instruction, changed, err := svc.Calibrate(ctx, sc, *sourceURL, d.Content, *critique)
	if err != nil {
		return err
	}
	if changed {
		fmt.Printf("instruction rewritten:\n\n%s\n", instruction)
	} else {
		fmt.Println("critique recorded; instruction unchanged")
	}
	return nil
}

func (a *app) optimize(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("optimize: scout name required")
	}
	st, err := a.store()
	if err != nil {
		return err
	}
	sc, err := st.GetScoutByName(ctx, args[0])
	if err != nil {
		return err
	}
	svc, err := a.feedbackService(ctx)
	if err != nil {
		return err
	}

	query, changed, err := svc.Optimize(ctx, sc)
	if err != nil {
		return err
	}
	if changed {
		fmt.Printf("query rewritten: %q\n", query)
		return nil
	}
	n, cerr := st.CountCalibrations(ctx, sc.ID)
	if cerr == nil && n < feedback.CalibrationFloor {
		fmt.Printf("query unchanged: %d of %d calibrations recorded\n", n, feedback.CalibrationFloor)
	} else {
		fmt.Println("query unchanged")
	}
	return nil
}

// --- Helpers ---

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
