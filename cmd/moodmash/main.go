// Command moodmash is a terminal client for MoodMash end-to-end encrypted
// messaging and preferences.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// EnvPassword supplies the account password without a prompt.
const EnvPassword = "MOODMASH_PASSWORD"

// EnvExportPassphrase supplies the key export passphrase without a prompt.
const EnvExportPassphrase = "MOODMASH_EXPORT_PASSPHRASE"

// Config holds the process I/O so commands can run against buffers in tests.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// LookupEnv reads the environment. Nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// ReadPassword reads a secret from the terminal without echo. Nil
	// means no terminal is available.
	ReadPassword func(prompt string) (string, error)
}

// DefaultConfig returns a Config wired to the process.
func DefaultConfig() *Config {
	return &Config{
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		LookupEnv:    os.LookupEnv,
		ReadPassword: readTerminalPassword,
	}
}

func (c *Config) lookupEnv(key string) (string, bool) {
	if c.LookupEnv == nil {
		return os.LookupEnv(key)
	}
	return c.LookupEnv(key)
}

// run executes the command line in args, where args[0] is the program name.
func run(args []string, cfg *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, cleanup := newRootCommand(cfg)
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	root.SetIn(cfg.Stdin)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, cleanup())
}

func readTerminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("cannot read password: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// secretReader resolves secrets from stdin, the environment or a prompt, in
// that order. Stdin lines are consumed one secret at a time.
type secretReader struct {
	cfg      *Config
	useStdin bool
	stdin    *bufio.Reader
}

func (s *secretReader) read(prompt, envKey string) (string, error) {
	if s.useStdin {
		if s.stdin == nil {
			s.stdin = bufio.NewReader(s.cfg.Stdin)
		}
		line, err := s.stdin.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return line, nil
	}
	if v, ok := s.cfg.lookupEnv(envKey); ok && v != "" {
		return v, nil
	}
	if s.cfg.ReadPassword == nil {
		return "", fmt.Errorf("no terminal: pass --password-stdin or set %s", envKey)
	}
	return s.cfg.ReadPassword(prompt)
}

// Output styles.
var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	errMark  = color.New(color.FgRed).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	value    = color.New(color.FgCyan).SprintFunc()
	muted    = color.New(color.Faint).SprintFunc()
)

func fatal(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, errMark("✗")+" "+format+"\n", args...)
	os.Exit(1)
}
