package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	moodmash "github.com/moodmash/client-go"
	"github.com/moodmash/client-go/internal/config"
	"github.com/moodmash/client-go/internal/keystore"
)

// app is the state shared by every command of one invocation.
type app struct {
	io      *Config
	secrets *secretReader

	configPath string
	verbose    bool
	noColor    bool

	conf   *config.Config
	logger zerolog.Logger
	client *moodmash.Client
	stores []*keystore.SQLite
}

// newRootCommand builds the command tree. The returned func releases the
// client and stores opened while running it.
func newRootCommand(cfg *Config) (*cobra.Command, func() error) {
	a := &app{io: cfg, secrets: &secretReader{cfg: cfg}}

	root := &cobra.Command{
		Use:   "moodmash",
		Short: "End-to-end encrypted MoodMash messaging from the terminal",
		Long: `moodmash manages your MoodMash encryption keys, reads and sends encrypted
messages and edits your encrypted preferences.

Configuration is read from the file named by --config or MOODMASH_CONFIG,
then .env, then the environment (MOODMASH_URL, MOODMASH_USER, MOODMASH_TOKEN,
MOODMASH_KEYSTORE, MOODMASH_SESSION_STORE, MOODMASH_LOG_LEVEL).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to the YAML config file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&a.secrets.useStdin, "password-stdin", false, "read passwords from stdin, one per line")

	root.AddCommand(
		newKeysCommand(a),
		newMessagesCommand(a),
		newPrefsCommand(a),
		newPeersCommand(a),
	)
	return root, a.close
}

func (a *app) setup() error {
	if a.noColor {
		color.NoColor = true
	}

	conf, err := config.Load(config.Options{
		Path:      a.configPath,
		LookupEnv: a.io.lookupEnv,
	})
	if err != nil {
		return err
	}
	a.conf = conf

	level, err := zerolog.ParseLevel(strings.ToLower(conf.LogLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", conf.LogLevel, err)
	}
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: a.io.Stderr, NoColor: color.NoColor}).
		Level(level).
		With().Timestamp().Logger()
	return nil
}

// openClient opens the key stores and signs in the configured user.
func (a *app) openClient() (*moodmash.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.conf.UserID == "" {
		return nil, fmt.Errorf("no user configured: set %s or user_id", config.EnvUserID)
	}

	durable, err := keystore.OpenSQLite(a.conf.KeyStorePath)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	a.stores = append(a.stores, durable)
	session, err := keystore.OpenSQLite(a.conf.SessionStorePath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.stores = append(a.stores, session)

	opts := []moodmash.Option{
		moodmash.WithBaseURL(a.conf.BaseURL),
		moodmash.WithLogger(a.logger),
		moodmash.WithKeyStore(durable),
		moodmash.WithSessionStore(session),
		moodmash.WithPollingInitialInterval(a.conf.Polling.InitialInterval),
		moodmash.WithPollingMaxBackoff(a.conf.Polling.MaxBackoff),
	}
	if a.conf.Timeout > 0 {
		opts = append(opts, moodmash.WithTimeout(a.conf.Timeout))
	}
	if a.conf.Retries >= 0 {
		opts = append(opts, moodmash.WithRetries(a.conf.Retries))
	}

	c, err := moodmash.New(a.conf.UserID, a.conf.Token, opts...)
	if err != nil {
		return nil, err
	}
	a.client = c
	a.logger.Debug().
		Str("user_id", a.conf.UserID).
		Str("key_store", durable.Path()).
		Str("state", c.KeyManager().State().String()).
		Msg("client ready")
	return c, nil
}

func (a *app) close() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	for _, s := range a.stores {
		errs = append(errs, s.Close())
	}
	a.stores = nil
	return errors.Join(errs...)
}

func (a *app) password(prompt string) (string, error) {
	return a.secrets.read(prompt, EnvPassword)
}

func (a *app) out() io.Writer { return a.io.Stdout }

func (a *app) success(format string, args ...any) {
	fmt.Fprintf(a.out(), okMark("✓")+" "+format+"\n", args...)
}
