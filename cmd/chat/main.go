// Command chat is a terminal client for the portfolio assistant. It keeps
// the same local message count the site widget keeps in browser storage.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/chatclient"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/llm"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

// CLI is the root command.
type CLI struct {
	Ask       AskCmd       `cmd:"" help:"Send one prompt and print the reply."`
	Chat      ChatCmd      `cmd:"" help:"Start an interactive session."`
	Remaining RemainingCmd `cmd:"" help:"Show how many messages are left in the current window."`
	Version   VersionCmd   `cmd:"" help:"Show version information."`

	URL      string        `help:"Portfolio server base URL." default:"http://localhost:8080" env:"PORTFOLIO_CHAT_URL"`
	State    string        `help:"Path of the local message count file." type:"path" env:"PORTFOLIO_CHAT_STATE"`
	Max      int           `help:"Messages allowed per window, mirrored from the server." default:"10"`
	Window   time.Duration `help:"Length of the message window." default:"24h"`
	LogLevel string        `help:"Log level for diagnostics (debug, info, warn, error)." default:"warn"`
	Timeout  time.Duration `help:"Per-message timeout." default:"90s"`
}

// session carries what every command needs beyond its flags
type session struct {
	ctx       context.Context
	newClient func() (*chatclient.Client, error)
}

type AskCmd struct {
	Prompt []string `arg:"" help:"Prompt text."`
}

func (c *AskCmd) Run(cli *CLI, s *session) error {
	client, err := s.newClient()
	if err != nil {
		return err
	}
	return ask(s.ctx, cli, client, os.Stdout, strings.Join(c.Prompt, " "))
}

type ChatCmd struct{}

func (c *ChatCmd) Run(cli *CLI, s *session) error {
	client, err := s.newClient()
	if err != nil {
		return err
	}
	return converse(s.ctx, cli, client, os.Stdin, os.Stdout, os.Stderr)
}

// converse runs the interactive loop until input ends, the user quits or the
// message limit is hit. Hitting the limit is returned so the exit code shows it.
func converse(ctx context.Context, cli *CLI, client *chatclient.Client, r io.Reader, w, errw io.Writer) error {
	fmt.Fprintln(w, llm.PublicGreeting)
	in := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "> ")
		if !in.Scan() {
			fmt.Fprintln(w)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}
		if err := ask(ctx, cli, client, w, line); err != nil {
			var le *chatclient.LimitError
			if errors.As(err, &le) {
				return err
			}
			fmt.Fprintln(errw, "error:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type RemainingCmd struct{}

func (c *RemainingCmd) Run(cli *CLI, s *session) error {
	client, err := s.newClient()
	if err != nil {
		return err
	}
	left, reset := client.Remaining()
	fmt.Printf("%d of %d messages left, window resets %s\n", left, cli.Max, reset.Local().Format(time.RFC1123))
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI, s *session) error {
	fmt.Println(version.Get().String())
	return nil
}

// ask sends one prompt and prints the reply or the limit notice
func ask(ctx context.Context, cli *CLI, client *chatclient.Client, w io.Writer, prompt string) error {
	ctx, cancel := context.WithTimeout(ctx, cli.Timeout)
	defer cancel()

	reply, err := client.Send(ctx, prompt)
	var le *chatclient.LimitError
	switch {
	case errors.As(err, &le):
		fmt.Fprintln(w, le.Message)
		return err
	case err != nil:
		return err
	}
	fmt.Fprintln(w, reply.Text)
	fmt.Fprintf(w, "(%d messages left)\n", reply.Remaining)
	return nil
}

// defaultStatePath is where the message count lives when --state is not given
func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, version.AppName, "chat-state.json")
}

func main() {
	// a missing .env is fine
	_ = cfg.LoadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("chat"),
		kong.Description("Talk to the portfolio assistant from a terminal."),
		kong.UsageOnError(),
	)

	lvl, err := log.ParseLevel(cli.LogLevel)
	if err != nil {
		lvl = slog.LevelWarn
	}
	vi := version.Get()
	L, err := log.New(log.Options{
		App:     "chat",
		Version: vi.Version,
		Commit:  vi.Commit,
		Level:   lvl,
		Writer:  os.Stderr,
	})
	if err != nil {
		kctx.FatalIfErrorf(err)
	}

	s := &session{ctx: ctx}
	s.newClient = func() (*chatclient.Client, error) {
		path := cli.State
		if path == "" {
			path = defaultStatePath()
		}
		L.Debug(ctx, "using chat state file", "path", path)
		lim := ratelimit.NewAdvisory(ratelimit.NewFileKV(path), ratelimit.AdvisoryOptions{
			Max:    cli.Max,
			Window: cli.Window,
			OnCorrupt: func(err error) {
				L.Warn(ctx, "discarding unreadable chat state", "path", path, "err", err)
			},
		})
		c := chatclient.New(cli.URL, lim)
		c.MaxRequests = cli.Max
		return c, nil
	}

	err = kctx.Run(&cli, s)
	var le *chatclient.LimitError
	if errors.As(err, &le) {
		// already printed
		os.Exit(2)
	}
	kctx.FatalIfErrorf(err)
}
