// Command agenthub is a terminal shell over the AgentHub client core: it
// authenticates, renders agent forms from their schemas, runs executions,
// and browses thread-grouped history.
package main

import (
	"context"
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

	"github.com/agenthub-ai/agenthub"
)

// version is set at build time via -ldflags.
var version = "dev"

var errUsage = errors.New("usage")

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("AGENTHUB_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			return 2
		}
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: agenthub <command> [flags]

commands:
  login    -email -password            authenticate with email and password
  signup   -email -password            register and confirm a new account
  logout                               clear the stored session
  credits                              show the remaining token balance
  agent    -agent <id>                 show an agent's input schema and history
  run      -agent <id> [-set k=v]... [-attach field=path]... [-thread id]
                                       execute an agent and print the result
  show     -agent <id> -execution <id> load a past execution
  share    -uuid <id>                  resolve a public share link
`)
}

// shell routes the core's navigation and notification sinks to the terminal.
type shell struct{}

func (shell) Navigate(url string)  { fmt.Fprintf(os.Stderr, "-> %s\n", url) }
func (shell) Info(message string)  { fmt.Fprintln(os.Stderr, message) }
func (shell) Error(message string) { fmt.Fprintln(os.Stderr, "error: "+message) }

// stringList collects repeated flag values.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func run(ctx context.Context, logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	sh := shell{}
	app, err := agenthub.New(
		agenthub.WithLogger(logger),
		agenthub.WithVersion(version),
		agenthub.WithNavigator(sh),
		agenthub.WithNotifier(sh),
	)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return cmdLogin(ctx, app, rest)
	case "signup":
		return cmdSignup(ctx, app, rest)
	case "logout":
		return app.SignOut(ctx)
	case "credits":
		return cmdCredits(ctx, app)
	case "agent":
		return cmdAgent(ctx, app, rest)
	case "run":
		return cmdRun(ctx, app, rest)
	case "show":
		return cmdShow(ctx, app, rest)
	case "share":
		return cmdShare(ctx, app, rest)
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func cmdLogin(ctx context.Context, app *agenthub.App, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("login needs -email and -password: %w", errUsage)
	}
	if err := app.Login(ctx, *email, *password); err != nil {
		return fmt.Errorf("login: %s", app.AuthError())
	}
	fmt.Printf("signed in as %s\n", *email)
	return nil
}

func cmdSignup(ctx context.Context, app *agenthub.App, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("signup needs -email and -password: %w", errUsage)
	}
	if err := app.SignUp(ctx, *email, *password); err != nil {
		return fmt.Errorf("signup: %s", app.AuthError())
	}
	if msg := app.AuthInfo(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}

	fmt.Fprint(os.Stderr, "confirmation code: ")
	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return fmt.Errorf("read confirmation code: %w", err)
	}
	if err := app.ConfirmSignUp(ctx, code); err != nil {
		return fmt.Errorf("confirm: %s", app.AuthError())
	}
	if msg := app.AuthInfo(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	return nil
}

func cmdCredits(ctx context.Context, app *agenthub.App) error {
	bal, err := app.Credits(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("remaining tokens: %d\n", bal.RemainingTokens)
	return nil
}

func cmdAgent(ctx context.Context, app *agenthub.App, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	agentID := fs.String("agent", "", "agent id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return fmt.Errorf("agent needs -agent: %w", errUsage)
	}

	page, err := app.AgentPage(ctx, *agentID)
	if err != nil {
		return err
	}
	defer page.Close()

	agent := page.Agent()
	fmt.Printf("%s (%s)\n", agent.Name, agent.ID)
	if agent.Description != "" {
		fmt.Println(agent.Description)
	}
	fmt.Println("\nfields:")
	for _, f := range agent.Fields {
		req := ""
		if f.Required {
			req = " (required)"
		}
		fmt.Printf("  %-24s %s%s  %s\n", f.Variable, f.Datatype, req, f.Description)
	}

	threads := page.Threads()
	if len(threads) == 0 {
		return nil
	}
	fmt.Println("\nhistory:")
	for _, t := range threads {
		latest := t.Entries[0]
		fmt.Printf("  %s  %s  %s\n", latest.Timestamp.Format("2006-01-02 15:04"), latest.ExecutionID, latest.Summary)
		for _, v := range t.Entries[1:] {
			fmt.Printf("    version %s  %s\n", v.Timestamp.Format("2006-01-02 15:04"), v.ExecutionID)
		}
	}
	return nil
}

func cmdRun(ctx context.Context, app *agenthub.App, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	agentID := fs.String("agent", "", "agent id")
	threadID := fs.String("thread", "", "continue an existing thread")
	var sets, attaches stringList
	fs.Var(&sets, "set", "field value as variable=value (repeatable)")
	fs.Var(&attaches, "attach", "file field as variable=path (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return fmt.Errorf("run needs -agent: %w", errUsage)
	}

	page, err := app.AgentPage(ctx, *agentID)
	if err != nil {
		return err
	}
	defer page.Close()

	if *threadID != "" {
		// Rehydrate the thread's latest execution so the run continues it.
		for _, t := range page.Threads() {
			if t.ID == *threadID {
				page.SelectExecution(ctx, t.Entries[0].ExecutionID)
				break
			}
		}
	}

	datatypes := make(map[string]string)
	for _, f := range page.Agent().Fields {
		datatypes[f.Variable] = f.Datatype
	}
	for _, kv := range sets {
		variable, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("-set wants variable=value, got %q: %w", kv, errUsage)
		}
		page.SetField(variable, coerceFlag(datatypes[variable], raw))
	}
	for _, kv := range attaches {
		variable, path, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("-attach wants variable=path, got %q: %w", kv, errUsage)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		page.AttachFile(variable, filepath.Base(path), data)
	}

	res, err := page.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "execution %s (thread %s)\n\n", res.ExecutionID, res.ThreadID)
	fmt.Println(res.Output)
	return nil
}

// coerceFlag converts a flag string by the field's declared datatype; the
// engine re-coerces and validates, so a miss here only costs an error later.
func coerceFlag(datatype, raw string) any {
	switch datatype {
	case "int":
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	case "bool":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

func cmdShow(ctx context.Context, app *agenthub.App, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	agentID := fs.String("agent", "", "agent id")
	executionID := fs.String("execution", "", "execution id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" || *executionID == "" {
		return fmt.Errorf("show needs -agent and -execution: %w", errUsage)
	}

	page, err := app.AgentPage(ctx, *agentID)
	if err != nil {
		return err
	}
	defer page.Close()

	if err := page.LoadExecution(ctx, *executionID); err != nil {
		return err
	}
	fmt.Println(page.Output())
	return nil
}

func cmdShare(ctx context.Context, app *agenthub.App, args []string) error {
	fs := flag.NewFlagSet("share", flag.ContinueOnError)
	shareUUID := fs.String("uuid", "", "share link uuid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *shareUUID == "" {
		return fmt.Errorf("share needs -uuid: %w", errUsage)
	}

	view, err := app.SharedPage(ctx, *shareUUID)
	if err != nil {
		return err
	}
	fmt.Printf("shared %s (%s)\n", view.UUID, view.CreatedAt.Format("2006-01-02 15:04"))
	for k, v := range view.Inputs {
		fmt.Printf("  %s: %s\n", k, v)
	}
	fmt.Println()
	fmt.Println(view.Output)
	return nil
}
