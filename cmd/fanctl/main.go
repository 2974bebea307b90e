package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hongminglow/fanzone-auth/internal/apperrors"
	"github.com/hongminglow/fanzone-auth/internal/config"
	"github.com/hongminglow/fanzone-auth/internal/credentials"
	"github.com/hongminglow/fanzone-auth/internal/logger"
	"github.com/hongminglow/fanzone-auth/internal/models/dto"
	"github.com/hongminglow/fanzone-auth/internal/session"
)

const usage = `usage: fanctl <command> [flags]

commands:
  register  -email E -username U [-display-name N] [-password P]
  login     -identifier ID [-password P]
  status    show the signed-in identity, permissions and gates
  refresh   renew the access token now
  watch     keep the session fresh until interrupted
  passwd    -current P -new P
  logout    end the session locally and on the server
`

// client bundles what every command needs.
type client struct {
	manager *session.Manager
	remote  *session.RemoteBackend
	stdin   *bufio.Reader
	out     io.Writer
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "fanctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	c, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	switch cmd {
	case "register":
		return c.register(ctx, args)
	case "login":
		return c.login(ctx, args)
	case "status":
		return c.status(ctx)
	case "refresh":
		return c.refresh(ctx)
	case "watch":
		return c.watch(ctx)
	case "passwd":
		return c.passwd(ctx, args)
	case "logout":
		return c.manager.Logout(ctx)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func newClient(ctx context.Context, cfg config.ClientConfig) (*client, error) {
	log := logger.New("fanctl", cfg.LogLevel)

	path := cfg.SessionFile
	if path == "" {
		var err error
		if path, err = session.DefaultPath(); err != nil {
			return nil, err
		}
	}
	key, err := session.ParseKey(cfg.SessionKey)
	if err != nil {
		return nil, err
	}
	store, err := session.NewFileStore(path, key)
	if err != nil {
		return nil, err
	}

	remote := session.NewRemoteBackend(cfg.APIURL, session.RemoteOptions{
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Logger:     log,
	})
	manager := session.NewManager(remote, store, session.Options{Timeout: cfg.RequestTimeout, Logger: log})
	if err := manager.Restore(ctx); err != nil {
		if !errors.Is(err, session.ErrCorrupt) {
			return nil, err
		}
		log.Warn("discarding unreadable session file", slog.String("path", path))
		if err := store.Clear(ctx); err != nil {
			return nil, err
		}
	}
	return &client{manager: manager, remote: remote, stdin: bufio.NewReader(os.Stdin), out: os.Stdout}, nil
}

func (c *client) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	username := fs.String("username", "", "username")
	displayName := fs.String("display-name", "", "display name")
	password := fs.String("password", "", "password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := c.secret(*password, "password")
	if err != nil {
		return err
	}
	s, err := c.manager.Register(ctx, credentials.RegisterInput{
		Email:       *email,
		Username:    *username,
		Password:    pw,
		DisplayName: *displayName,
	})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(c.out, "registered and signed in as %s (%s)\n", s.Identity.Username, s.Identity.Role)
	return nil
}

func (c *client) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	identifier := fs.String("identifier", "", "username or email")
	password := fs.String("password", "", "password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := c.secret(*password, "password")
	if err != nil {
		return err
	}
	s, err := c.manager.Login(ctx, *identifier, pw)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(c.out, "signed in as %s (%s)\n", s.Identity.Username, s.Identity.Role)
	return nil
}

func (c *client) status(ctx context.Context) error {
	if !c.manager.IsAuthenticated() {
		fmt.Fprintln(c.out, "not signed in")
		return nil
	}
	var me dto.MeResponse
	err := c.manager.Do(ctx, func(ctx context.Context, token string) error {
		var err error
		me, err = c.remote.Me(ctx, token)
		return err
	})
	if err != nil {
		return describe(err)
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(me)
}

func (c *client) refresh(ctx context.Context) error {
	s, err := c.manager.Refresh(ctx)
	if err != nil {
		return describe(err)
	}
	fmt.Fprintf(c.out, "access token valid until %s\n", s.Tokens.AccessExpiresAt.Local().Format("15:04:05"))
	return nil
}

func (c *client) watch(ctx context.Context) error {
	if !c.manager.IsAuthenticated() {
		return describe(apperrors.Unauthorized("no active session"))
	}
	fmt.Fprintln(c.out, "keeping session fresh; press Ctrl-C to stop")
	if err := c.manager.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *client) passwd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	current := fs.String("current", "", "current password (prompted when empty)")
	next := fs.String("new", "", "new password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cur, err := c.secret(*current, "current password")
	if err != nil {
		return err
	}
	nxt, err := c.secret(*next, "new password")
	if err != nil {
		return err
	}
	err = c.manager.Do(ctx, func(ctx context.Context, token string) error {
		return c.remote.ChangePassword(ctx, token, cur, nxt)
	})
	if err != nil {
		return describe(err)
	}
	fmt.Fprintln(c.out, "password changed; sign in again")
	return c.manager.Logout(ctx)
}

// secret returns value or reads one line from stdin.
func (c *client) secret(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	line, err := c.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", prompt, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// describe renders typed failures with their field reasons.
func describe(err error) error {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || len(appErr.Fields) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString(appErr.Message)
	for field, reason := range appErr.Fields {
		fmt.Fprintf(&b, "\n  %s %s", field, reason)
	}
	return errors.New(b.String())
}
