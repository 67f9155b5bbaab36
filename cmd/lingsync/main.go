// Command lingsync is the offline-first CLI client and sync agent.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/avkdev/lingsync/internal/api"
	"github.com/avkdev/lingsync/internal/bus"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/journal"
	"github.com/avkdev/lingsync/internal/model"
	"github.com/avkdev/lingsync/internal/session"
	"github.com/avkdev/lingsync/internal/store"
	"github.com/avkdev/lingsync/internal/syncclient"
	"github.com/avkdev/lingsync/internal/transport"
)

// ---- config ----

type config struct {
	server   string
	dataDir  string
	interval time.Duration
}

func loadConfig() config {
	_ = godotenv.Load()

	cfg := config{
		server:   "http://localhost:8080",
		dataDir:  defaultDataDir(),
		interval: syncclient.DefaultInterval,
	}
	if v := os.Getenv("LINGSYNC_SERVER"); v != "" {
		cfg.server = v
	}
	if v := os.Getenv("LINGSYNC_DATA_DIR"); v != "" {
		cfg.dataDir = v
	}
	if v := os.Getenv("LINGSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.interval = d
		}
	}
	return cfg
}

func defaultDataDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "lingsync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lingsync")
}

func userIDPath(dir string) string { return filepath.Join(dir, "user_id") }

func saveUserID(dir, uid string) error {
	_ = os.MkdirAll(dir, 0o700)
	return os.WriteFile(userIDPath(dir), []byte(strings.TrimSpace(uid)), 0o600)
}

// ---- app wiring ----

type app struct {
	cfg    config
	log    *zap.Logger
	store  *store.Store
	secure *session.FileStore
	sess   *session.Manager
	server *transport.Client
	events *bus.Bus
	sync   *syncclient.Client
}

func newApp(cfg config, log *zap.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.dataDir, 0o700); err != nil {
		return nil, err
	}
	st, err := store.Open(filepath.Join(cfg.dataDir, "state.db"), log)
	if err != nil {
		return nil, err
	}

	server := transport.New(cfg.server, log)
	events := bus.New()
	secure := session.NewFileStore(cfg.dataDir)
	sess := session.NewManager(server, secure, events, log)
	sc := syncclient.New(st, journal.New(), sess, server, events, log, cfg.interval)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		secure: secure,
		sess:   sess,
		server: server,
		events: events,
		sync:   sc,
	}, nil
}

func (a *app) close() { _ = a.store.Close() }

// flushNow attempts one flush; offline or deferred-auth outcomes are fine,
// the journal keeps the work for the next run.
func (a *app) flushNow(ctx context.Context) {
	if err := a.sync.Flush(ctx); err != nil {
		if errors.Is(err, errs.ErrUnavailable) {
			fmt.Fprintln(os.Stderr, "server unreachable, changes kept locally")
			return
		}
		if errors.Is(err, errs.ErrSessionExpired) {
			fmt.Fprintln(os.Stderr, "session expired, run `lingsync login`")
			return
		}
		fmt.Fprintln(os.Stderr, "sync:", err)
	}
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `lingsync CLI
Usage:
  lingsync <cmd> [args]

Environment (or .env): LINGSYNC_SERVER, LINGSYNC_DATA_DIR, LINGSYNC_SYNC_INTERVAL

Commands:
  version
  register -u <username> -p <password>
  login    -u <username> -p <password>        (saves tokens)
  logout
  lang     -native <id> -learning <id> -level <N|A1|A2|B1|B2|C1|C2>
  add      -word <id> -lang <language-id> [-level <0..6>]
  review   -word <id> -level <0..6>
  rm       -word <id>
  energy   -set <n>
  coins    -add <n>
  status
  run                                         (foreground sync agent)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	cfg := loadConfig()
	logger, _ := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("lingsync %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(args)
		if *u == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}
		server := transport.New(cfg.server, logger)
		uid, err := server.Register(ctx, *u, *p)
		if err != nil {
			fail(err)
		}
		fmt.Println(uid)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(args)
		if *u == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()

		tok, uid, err := a.server.Login(ctx, *u, *p)
		if err != nil {
			fail(err)
		}
		if err := a.sess.SetTokens(tok); err != nil {
			fail(err)
		}
		if err := saveUserID(cfg.dataDir, uid); err != nil {
			fail(err)
		}
		// drain anything staged while logged out
		a.sync.Hydrate()
		a.flushNow(ctx)
		fmt.Println("logged in as", *u)

	case "logout":
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()

		if rt, err := a.secure.LoadRefreshToken(); err == nil && rt != "" {
			if err := a.server.Logout(ctx, rt); err != nil {
				fmt.Fprintln(os.Stderr, "server logout:", err)
			}
		}
		a.sess.Logout()
		_ = os.Remove(userIDPath(cfg.dataDir))
		fmt.Println("logged out")

	case "lang":
		fs := flag.NewFlagSet("lang", flag.ExitOnError)
		native := fs.Int("native", 0, "native language id")
		learning := fs.Int("learning", 0, "learning language id")
		level := fs.String("level", model.LevelNovice, "proficiency level")
		_ = fs.Parse(args)
		if *native <= 0 || *learning <= 0 {
			fmt.Fprintln(os.Stderr, "need -native and -learning")
			os.Exit(1)
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()
		a.sync.Hydrate()

		var id int64
		err = a.sess.Authorize(ctx, func(token string) error {
			var aerr error
			id, aerr = a.server.CreateLanguage(ctx, token, api.LanguageRequest{
				NativeLanguageID:   *native,
				LearningLanguageID: *learning,
				ProficiencyLevel:   *level,
			})
			return aerr
		})
		if err != nil {
			fail(err)
		}

		langs := a.sync.Progress().Languages
		for i := range langs {
			langs[i].IsCurrentLanguage = false
		}
		langs = append(langs, model.LanguageProgress{
			ID:                 id,
			NativeLanguageID:   *native,
			LearningLanguageID: *learning,
			ProficiencyLevel:   *level,
			IsCurrentLanguage:  true,
			CreatedAt:          time.Now(),
		})
		if err := a.sync.SetLanguages(langs); err != nil {
			fail(err)
		}
		fmt.Println("course", id, "created and set current")

	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		word := fs.String("word", "", "word id")
		lang := fs.Int("lang", 0, "language id")
		level := fs.Int("level", 0, "initial mastery level")
		_ = fs.Parse(args)
		if *word == "" || *lang <= 0 {
			fmt.Fprintln(os.Stderr, "need -word and -lang")
			os.Exit(1)
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()
		a.sync.Hydrate()

		err = a.sync.AddWord(*word, model.VocabularyEntry{
			LanguageID:   *lang,
			MasteryLevel: *level,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			if errors.Is(err, errs.ErrValidation) {
				fmt.Fprintln(os.Stderr, "no language course enrolled yet, run `lingsync lang` first")
				os.Exit(1)
			}
			fail(err)
		}
		a.flushNow(ctx)

	case "review":
		fs := flag.NewFlagSet("review", flag.ExitOnError)
		word := fs.String("word", "", "word id")
		level := fs.Int("level", -1, "new mastery level")
		_ = fs.Parse(args)
		if *word == "" || *level < 0 {
			fmt.Fprintln(os.Stderr, "need -word and -level")
			os.Exit(1)
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()
		a.sync.Hydrate()

		now := time.Now()
		err = a.sync.ReviewWord(*word, model.VocabularyPatch{
			MasteryLevel:  level,
			LastReview:    &now,
			LastReviewSet: true,
		})
		if err != nil {
			fail(err)
		}
		a.flushNow(ctx)

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		word := fs.String("word", "", "word id")
		_ = fs.Parse(args)
		if *word == "" {
			fmt.Fprintln(os.Stderr, "need -word")
			os.Exit(1)
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()
		a.sync.Hydrate()

		if err := a.sync.RemoveWord(*word); err != nil {
			fail(err)
		}
		a.flushNow(ctx)

	case "energy":
		fs := flag.NewFlagSet("energy", flag.ExitOnError)
		set := fs.Int("set", -1, "new energy value")
		_ = fs.Parse(args)
		if *set < 0 {
			fmt.Fprintln(os.Stderr, "need -set")
			os.Exit(1)
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()
		a.sync.Hydrate()

		if err := a.sync.SetEnergy(*set); err != nil {
			fail(err)
		}
		a.flushNow(ctx)

	case "coins":
		fs := flag.NewFlagSet("coins", flag.ExitOnError)
		add := fs.Int("add", 0, "coin delta (may be negative)")
		_ = fs.Parse(args)
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()
		a.sync.Hydrate()

		if err := a.sync.AddCoins(*add); err != nil {
			fail(err)
		}
		a.flushNow(ctx)

	case "status":
		a, err := newApp(cfg, logger)
		if err != nil {
			fail(err)
		}
		defer a.close()
		a.sync.Hydrate()

		type status struct {
			Progress   model.Progress `json:"progress"`
			Words      int            `json:"words"`
			Dirty      bool           `json:"dirty"`
			LastSync   string         `json:"last_sync,omitempty"`
			Session    string         `json:"session"`
			ServerBase string         `json:"server"`
		}
		st := status{
			Progress:   a.sync.Progress(),
			Words:      len(a.sync.Vocabulary()),
			Dirty:      a.sync.Dirty(),
			Session:    a.sess.State().String(),
			ServerBase: cfg.server,
		}
		if ts := a.sync.LastSyncTime(); !ts.IsZero() {
			st.LastSync = ts.Format(time.RFC3339)
		}
		printJSON(st)

	case "run":
		runAgent(cfg, logger)

	default:
		usage()
	}
}

// runAgent keeps the sync client alive in the foreground: periodic flushes,
// a connectivity probe, and a final flush on SIGTERM standing in for the
// background lifecycle transition.
func runAgent(cfg config, logger *zap.Logger) {
	a, err := newApp(cfg, logger)
	if err != nil {
		fail(err)
	}
	defer a.close()

	a.events.Subscribe(bus.SessionExpired, func() {
		fmt.Fprintln(os.Stderr, "session expired, run `lingsync login`")
	})
	a.events.Subscribe(bus.SyncUnavailable, func() {
		fmt.Fprintln(os.Stderr, "server unreachable, retrying in background")
	})
	a.events.Subscribe(bus.SyncCompleted, func() {
		fmt.Fprintln(os.Stderr, "synced", time.Now().Format(time.RFC3339))
	})

	a.sync.Hydrate()
	a.sync.Start()
	defer a.sync.Stop()
	a.sync.OnLifecycle(syncclient.Foreground)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// connectivity probe drives the offline-to-online flush trigger
	probe := time.NewTicker(15 * time.Second)
	defer probe.Stop()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	a.sync.OnConnectivityChange(a.server.Ping(probeCtx))
	cancel()

	fmt.Fprintln(os.Stderr, "sync agent running, Ctrl-C to stop")
	for {
		select {
		case <-probe.C:
			pc, pcancel := context.WithTimeout(ctx, 5*time.Second)
			a.sync.OnConnectivityChange(a.server.Ping(pc))
			pcancel()
		case <-ctx.Done():
			// one last synchronous flush so pending work survives the shutdown
			fc, fcancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.sync.Flush(fc); err != nil && !errors.Is(err, errs.ErrUnavailable) {
				fmt.Fprintln(os.Stderr, "final flush:", err)
			}
			fcancel()
			return
		}
	}
}
