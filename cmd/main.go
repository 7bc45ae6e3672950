package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chat-widget/handler"
	"chat-widget/internal/config"
	"chat-widget/internal/cookie"
	"chat-widget/internal/integrations/assistant"
	"chat-widget/internal/integrations/paramstore"
	"chat-widget/internal/repository"
	"chat-widget/internal/retry"
	"chat-widget/internal/session"
	"chat-widget/internal/widget"
)

type options struct {
	verbose       bool
	pageURL       string
	configParam   string
	paramPrefix   string
	cookieBackend string
	cookieTable   string
	redisAddr     string
	redisPrefix   string
	acceptCookies bool
	contextVars   []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "chatwidget",
		Short: "Chat with an assistant from the terminal",
		Long: `chatwidget embeds the chat widget in a terminal.

The session is resumed from --page-url's session_id parameter, then from the
session cookie, and is otherwise created by the first message you send.
Configuration comes from WIDGET_* environment variables (a .env file is read
when present) and an optional JSON overlay in AWS Parameter Store.

The default memory cookie backend lasts for one run. To continue a session in a
later run, pick --cookie-backend dynamodb or redis and allow cookies with
--accept-cookies (or WIDGET_ASK_FOR_COOKIES=false).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	f.StringVar(&opts.pageURL, "page-url", "", "URL of the hosting page; its session_id parameter resumes a shared session")
	f.StringVar(&opts.configParam, "config-param", "", "Parameter Store name of a JSON widget config overlay")
	f.StringVar(&opts.paramPrefix, "param-prefix", "", "prefix joined onto relative --config-param names")
	f.StringVar(&opts.cookieBackend, "cookie-backend", "memory", "where cookies live: memory, dynamodb or redis")
	f.StringVar(&opts.cookieTable, "cookie-table", "", "DynamoDB table for the dynamodb cookie backend")
	f.StringVar(&opts.redisAddr, "redis-addr", "localhost:6379", "address for the redis cookie backend")
	f.StringVar(&opts.redisPrefix, "redis-prefix", "", "key prefix for the redis cookie backend")
	f.BoolVar(&opts.acceptCookies, "accept-cookies", false, "consent to cookies when WIDGET_ASK_FOR_COOKIES is on; without it the session is not stored")
	f.StringArrayVar(&opts.contextVars, "context", nil, "context variable key=value or key=value|description (repeatable)")
	return cmd
}

func run(ctx context.Context, opts options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Logging ----
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// ---- Configuration ----
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", zap.Error(err))
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	// ---- AWS SDK config ----
	var awsCfg aws.Config
	if opts.configParam != "" || opts.cookieBackend == "dynamodb" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
	}
	if opts.configParam != "" {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg),
			paramstore.WithPrefix(opts.paramPrefix),
			paramstore.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		if err := config.ApplyParameter(ctx, params, opts.configParam, &cfg); err != nil {
			return err
		}
	}
	vars, err := parseContextVars(opts.contextVars)
	if err != nil {
		return err
	}
	cfg.ContextVariables = append(cfg.ContextVariables, vars...)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger = logger.With(zap.String("widget_id", cfg.InstanceID), zap.String("assistant_id", cfg.AssistantID))

	// ---- Clients ----
	retryCfg := retry.Config{Attempts: cfg.RetryAttempts, InitialDelay: cfg.RetryInitialDelay, Logger: logger}
	client, err := assistant.NewClient(cfg.ServerURL, cfg.AssistantID,
		assistant.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		assistant.WithRetry(retryCfg),
		assistant.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	backend, closeBackend, err := newCookieBackend(opts, awsCfg)
	if err != nil {
		return err
	}
	defer closeBackend()
	cookies, err := cookie.NewStore(backend, cookie.WithLogger(logger))
	if err != nil {
		return err
	}
	store, err := session.NewStore(cookies, session.Options{
		InstanceID:    cfg.InstanceID,
		AssistantID:   cfg.AssistantID,
		SessionExpiry: cfg.SessionExpiry,
		CookieExpiry:  cfg.CookieExpiry,
		AutoSave:      cfg.AutoSaveSession,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// ---- Widget ----
	term, err := handler.NewTerminal(os.Stdout, cfg.Phrases(),
		handler.WithPageURL(opts.pageURL),
		handler.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	accept := opts.acceptCookies
	ctrl, err := widget.New(cfg, client, store, term,
		widget.WithLogger(logger),
		widget.WithConsent(widget.ConsentFunc(func(context.Context) (bool, error) {
			return accept, nil
		})),
	)
	if err != nil {
		return err
	}
	defer ctrl.Stop()
	term.Attach(ctrl)

	if err := ctrl.Init(ctx, opts.pageURL); err != nil {
		return err
	}
	return term.Run(ctx, os.Stdin)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func newCookieBackend(opts options, awsCfg aws.Config) (cookie.Backend, func(), error) {
	switch opts.cookieBackend {
	case "", "memory":
		return cookie.NewMemory(nil), func() {}, nil
	case "dynamodb":
		if opts.cookieTable == "" {
			return nil, nil, errors.New("--cookie-table is required for the dynamodb cookie backend")
		}
		b, err := repository.NewDynamoCookies(awsdynamodb.NewFromConfig(awsCfg), opts.cookieTable)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		b, err := repository.NewRedisCookies(rdb, opts.redisPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return b, func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cookie backend %q", opts.cookieBackend)
	}
}

// parseContextVars reads key=value or key=value|description.
func parseContextVars(raw []string) ([]config.ContextVariable, error) {
	out := make([]config.ContextVariable, 0, len(raw))
	for _, r := range raw {
		key, rest, ok := strings.Cut(r, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --context %q, want key=value", r)
		}
		value, desc, _ := strings.Cut(rest, "|")
		out = append(out, config.ContextVariable{Key: key, Value: value, Description: desc})
	}
	return out, nil
}
