package sessions

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/astrodesk/sessiongate/internal/cli"
	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/domain/user"
)

// Command implements the session administration command
type Command struct {
	Out     io.Writer
	Connect cli.Connector
}

func (c *Command) Name() string {
	return "sessions"
}

func (c *Command) Description() string {
	return "Inspect and revoke sessions (stats, show, list, revoke, revoke-all, sweep)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("%w: subcommand required", cli.ErrUsage)
	}

	switch args[0] {
	case "stats":
		return c.runStats()
	case "show":
		return c.runShow(args[1:])
	case "list":
		return c.runList(args[1:])
	case "revoke":
		return c.runRevoke(args[1:])
	case "revoke-all":
		return c.runRevokeAll(args[1:])
	case "sweep":
		return c.runSweep()
	default:
		c.printUsage()
		return fmt.Errorf("%w: unknown subcommand %s", cli.ErrUsage, args[0])
	}
}

func (c *Command) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Command) printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: sessiongate-cli sessions <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  stats                       Count live sessions and devices\n")
	fmt.Fprintf(os.Stderr, "  show <session-id>           Print one session record\n")
	fmt.Fprintf(os.Stderr, "  list -subject <id>          List a subject's sessions\n")
	fmt.Fprintf(os.Stderr, "  revoke <session-id>         Revoke one session\n")
	fmt.Fprintf(os.Stderr, "  revoke-all -subject <id>    Revoke every session of a subject\n")
	fmt.Fprintf(os.Stderr, "    -tokens                   Also revoke issued tokens (default: true)\n")
	fmt.Fprintf(os.Stderr, "  sweep                       Drop index entries of expired sessions\n")
}

func (c *Command) runStats() error {
	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		m := b.Sessions()
		total, err := m.GetTotalSessions(ctx)
		if err != nil {
			return err
		}
		devices, err := m.GetTotalDevices(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out(), "Sessions: %d\nDevices:  %d\n", total, devices)
		return nil
	})
}

func (c *Command) runShow(args []string) error {
	if len(args) < 1 {
		return errors.New("session ID required")
	}
	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		rec, err := b.Sessions().LookupSession(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.out(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%s\n", rec.ID)
		fmt.Fprintf(w, "Subject:\t%s\n", rec.SubjectID)
		fmt.Fprintf(w, "Device:\t%s (%s)\n", rec.DeviceID, rec.DeviceName)
		fmt.Fprintf(w, "Created:\t%s\n", rec.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Updated:\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Revoked:\t%t\n", rec.Revoked)
		return w.Flush()
	})
}

func (c *Command) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("subject is required")
	}

	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		list, err := b.Sessions().ListSubjectSessions(ctx, *subject)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintf(c.out(), "No sessions for %s\n", *subject)
			return nil
		}
		printSessions(c.out(), list)
		return nil
	})
}

func (c *Command) runRevoke(args []string) error {
	if len(args) < 1 {
		return errors.New("session ID required")
	}
	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		if err := b.Sessions().RevokeSession(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out(), "Session %s revoked\n", args[0])
		return nil
	})
}

func (c *Command) runRevokeAll(args []string) error {
	fs := flag.NewFlagSet("revoke-all", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject ID (required)")
	tokens := fs.Bool("tokens", true, "Also revoke tokens issued before now")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("subject is required")
	}

	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		count, err := b.Sessions().RevokeAllSessionsForSubject(ctx, *subject)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out(), "Revoked %d session(s) for %s\n", count, *subject)

		if !*tokens {
			return nil
		}
		if err := b.Users().RevokeTokens(ctx, *subject); err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				fmt.Fprintf(c.out(), "No directory entry for %s, tokens left as is\n", *subject)
				return nil
			}
			return err
		}
		fmt.Fprintf(c.out(), "Tokens issued to %s before now are revoked\n", *subject)
		return nil
	})
}

func (c *Command) runSweep() error {
	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		res, err := b.Sessions().Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out(), "Swept %d session index entries and %d device entries\n", res.Sessions, res.Devices)
		return nil
	})
}

func printSessions(out io.Writer, list []*session.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDEVICE\tNAME\tUPDATED\tREVOKED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", s.ID, s.DeviceID, s.DeviceName, s.UpdatedAt.Format(time.RFC3339), s.Revoked)
	}
	_ = w.Flush()
}
