package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/surajssc1232/royalai/app/history"
	"github.com/surajssc1232/royalai/app/persona"
	"github.com/surajssc1232/royalai/app/provider"
	"github.com/surajssc1232/royalai/app/runner"
	"github.com/surajssc1232/royalai/app/store"
	"github.com/surajssc1232/royalai/app/web"
)

var opts struct {
	Listen        string        `short:"l" long:"listen" env:"ROYAL_LISTEN" default:":8080" description:"listen address"`
	AdminPassword string        `long:"admin-password" env:"ADMIN_PASSWORD" description:"password for the court gate"`
	Secret        string        `long:"secret" env:"SECRET_KEY" description:"session signing secret, random if not set"`
	LoginTTL      time.Duration `long:"login-ttl" env:"ROYAL_LOGIN_TTL" default:"24h" description:"session lifetime"`
	HistoryDB     string        `long:"history-db" env:"ROYAL_HISTORY_DB" default:"royalai.db" description:"chat history sqlite file, empty to disable"`
	HistoryMax    int           `long:"history-max-rows" env:"ROYAL_HISTORY_MAX_ROWS" default:"1000" description:"max exchanges kept in history, 0 for unlimited"`

	Provider struct {
		APIKey      string        `long:"api-key" env:"XAI_API_KEY" description:"completion API key"`
		BaseURL     string        `long:"base-url" env:"ROYAL_PROVIDER_URL" default:"https://api.x.ai/v1" description:"completion API base URL"`
		Model       string        `long:"model" env:"ROYAL_PROVIDER_MODEL" default:"grok-beta" description:"model name"`
		MaxTokens   int           `long:"max-tokens" env:"ROYAL_PROVIDER_MAX_TOKENS" default:"1024" description:"max tokens per completion"`
		Temperature float64       `long:"temperature" env:"ROYAL_PROVIDER_TEMPERATURE" default:"0.7" description:"sampling temperature"`
		Timeout     time.Duration `long:"timeout" env:"ROYAL_PROVIDER_TIMEOUT" default:"60s" description:"per-request timeout"`
		Attempts    int           `long:"attempts" env:"ROYAL_PROVIDER_ATTEMPTS" default:"2" description:"attempts for transient provider failures"`
	} `group:"provider" namespace:"provider"`

	Jobs struct {
		Workers int           `long:"workers" env:"ROYAL_WORKERS" default:"4" description:"concurrent completion calls"`
		Grace   time.Duration `long:"grace" env:"ROYAL_JOBS_GRACE" default:"0" description:"keep delivered results readable for this long, 0 to consume on first poll"`
	} `group:"jobs" namespace:"jobs"`

	Cache struct {
		Size int           `long:"size" env:"ROYAL_CACHE_SIZE" default:"100" description:"duplicate-prompt cache capacity, 0 to disable"`
		TTL  time.Duration `long:"ttl" env:"ROYAL_CACHE_TTL" default:"10m" description:"duplicate-prompt cache TTL"`
	} `group:"cache" namespace:"cache"`

	Limit struct {
		Login   float64 `long:"login" env:"ROYAL_LIMIT_LOGIN" default:"1" description:"login attempts per second per IP"`
		Message float64 `long:"message" env:"ROYAL_LIMIT_MESSAGE" default:"1" description:"messages per second per IP"`
	} `group:"limit" namespace:"limit"`

	Log struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable log to file"`
		Filename   string `long:"file" env:"FILE" default:"royalai.log" description:"log file name"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max size of log file in MB"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge     int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days"`
		Compress   bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"ROYAL_LOG"`

	Dbg bool `long:"dbg" env:"ROYAL_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("royalai %s\n", revision)

	if err := godotenv.Load(); err != nil {
		// .env is optional, the environment may be set directly
		log.Printf("[DEBUG] no .env file loaded: %v", err)
	}
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	if opts.Provider.APIKey == "" {
		log.Printf("[ERROR] API key not found, set XAI_API_KEY in the environment")
		os.Exit(1)
	}
	if opts.AdminPassword == "" {
		log.Printf("[ERROR] admin password not found, set ADMIN_PASSWORD in the environment")
		os.Exit(1)
	}
	secret := opts.Secret
	if secret == "" {
		secret = makeSecret()
		log.Printf("[WARN] SECRET_KEY not set, using a random secret, sessions will not survive a restart")
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx, secret); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, secret string) error {
	registry, err := persona.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to build persona registry: %w", err)
	}

	client := provider.New(provider.Options{
		APIKey:      opts.Provider.APIKey,
		BaseURL:     opts.Provider.BaseURL,
		Model:       opts.Provider.Model,
		MaxTokens:   opts.Provider.MaxTokens,
		Temperature: opts.Provider.Temperature,
		Timeout:     opts.Provider.Timeout,
		Attempts:    opts.Provider.Attempts,
	})

	jobStore := store.New(opts.Jobs.Grace)

	var hist *history.Store
	var recorder runner.Recorder
	if opts.HistoryDB != "" {
		if hist, err = history.NewStore(opts.HistoryDB, opts.HistoryMax); err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer func() {
			if closeErr := hist.Close(); closeErr != nil {
				log.Printf("[WARN] failed to close history store: %v", closeErr)
			}
		}()
		recorder = hist
	}

	jobRunner := runner.New(ctx, runner.Params{
		Store:     jobStore,
		Completer: client,
		Recorder:  recorder,
		Workers:   opts.Jobs.Workers,
		Timeout:   opts.Provider.Timeout,
		CacheSize: opts.Cache.Size,
		CacheTTL:  opts.Cache.TTL,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	cfg := web.Config{
		Personas:     registry,
		Submitter:    jobRunner,
		Poller:       jobStore,
		PasswordHash: string(hash),
		Secret:       secret,
		LoginTTL:     opts.LoginTTL,
		Version:      revision,
		LoginLimit:   opts.Limit.Login,
		MessageLimit: opts.Limit.Message,
	}
	if hist != nil {
		cfg.History = hist
	}
	srv, err := web.New(cfg)
	if err != nil {
		return err
	}

	if err := srv.Run(ctx, opts.Listen); err != nil {
		return err
	}
	jobRunner.Wait() // let in-flight completions resolve before closing stores
	return nil
}

// setupLogs configures lgr, returns the destination writer for tests
func setupLogs() io.Writer {
	var out io.Writer = os.Stdout
	if opts.Log.Enabled && opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.Compress,
		}
	}

	logOpts := []log.Option{log.Out(out), log.Err(out), log.Msec, log.LevelBraces}
	if opts.Dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFile, log.CallerFunc)
	}
	log.Setup(logOpts...)
	return out
}

func makeSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Printf("[ERROR] failed to generate secret: %v", err)
		os.Exit(1)
	}
	return hex.EncodeToString(buf)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM)
}
