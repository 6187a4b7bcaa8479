package users

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/astrodesk/sessiongate/internal/cli"
	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/astrodesk/sessiongate/internal/migrations"
)

// RoleAdmin is the role the operator views require
const RoleAdmin = "admin"

// Command implements the user directory command
type Command struct {
	Out     io.Writer
	Connect cli.Connector
}

func (c *Command) Name() string {
	return "users"
}

func (c *Command) Description() string {
	return "Manage the user directory (init-admin, create, show, roles, disable, enable)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("%w: subcommand required", cli.ErrUsage)
	}

	switch args[0] {
	case "init-admin":
		return c.runInitAdmin(args[1:])
	case "create":
		return c.runCreate(args[1:])
	case "show":
		return c.runShow(args[1:])
	case "roles":
		return c.runRoles(args[1:])
	case "disable":
		return c.runSetDisabled(args[1:], true)
	case "enable":
		return c.runSetDisabled(args[1:], false)
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
	fmt.Fprintf(os.Stderr, "Usage: sessiongate-cli users <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  init-admin            Run migrations and grant the admin role to a subject\n")
	fmt.Fprintf(os.Stderr, "    -subject <id>       Subject ID (required)\n")
	fmt.Fprintf(os.Stderr, "    -email <email>      Email\n")
	fmt.Fprintf(os.Stderr, "    -migrate            Run migrations first (default: true)\n")
	fmt.Fprintf(os.Stderr, "  create                Create a directory entry\n")
	fmt.Fprintf(os.Stderr, "    -subject, -email, -name, -roles <a,b>\n")
	fmt.Fprintf(os.Stderr, "  show <subject>        Print a directory entry\n")
	fmt.Fprintf(os.Stderr, "  roles -subject <id> -roles <a,b>   Replace a subject's roles\n")
	fmt.Fprintf(os.Stderr, "  disable <subject>     Reject the subject's tokens\n")
	fmt.Fprintf(os.Stderr, "  enable <subject>      Accept the subject's tokens again\n")
}

func (c *Command) runInitAdmin(args []string) error {
	fs := flag.NewFlagSet("init-admin", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject ID (required)")
	email := fs.String("email", "", "Email")
	migrate := fs.Bool("migrate", true, "Run migrations first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("subject is required")
	}

	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		if *migrate {
			if err := migrations.RunMigrations(b.Config); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintln(c.out(), "Migrations completed")
		}

		users := b.Users()
		u, created, err := users.Register(ctx, user.RegisterRequest{
			SubjectID: *subject,
			Email:     *email,
			Roles:     []string{RoleAdmin},
		})
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(c.out(), "Created %s with role %s\n", u.ID, RoleAdmin)
			return nil
		}
		if u.HasRole(RoleAdmin) {
			fmt.Fprintf(c.out(), "%s already has role %s\n", u.ID, RoleAdmin)
			return nil
		}
		roles := append(slices.Clone([]string(u.Roles)), RoleAdmin)
		if err := users.SetRoles(ctx, u.ID, roles); err != nil {
			return err
		}
		fmt.Fprintf(c.out(), "Granted role %s to %s\n", RoleAdmin, u.ID)
		return nil
	})
}

func (c *Command) runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject ID (required)")
	email := fs.String("email", "", "Email")
	name := fs.String("name", "", "Display name")
	roles := fs.String("roles", "", "Comma-separated roles")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		u, created, err := b.Users().Register(ctx, user.RegisterRequest{
			SubjectID:   *subject,
			Email:       *email,
			DisplayName: *name,
			Roles:       splitList(*roles),
		})
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("user %s already exists", u.ID)
		}
		fmt.Fprintf(c.out(), "Created %s\n", u.ID)
		return nil
	})
}

func (c *Command) runShow(args []string) error {
	if len(args) < 1 {
		return errors.New("subject required")
	}
	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		u, err := b.Users().Get(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.out(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Subject:\t%s\n", u.ID)
		fmt.Fprintf(w, "Email:\t%s\n", u.Email)
		fmt.Fprintf(w, "Name:\t%s\n", u.DisplayName)
		fmt.Fprintf(w, "Roles:\t%s\n", strings.Join(u.Roles, ","))
		fmt.Fprintf(w, "Disabled:\t%t\n", u.Disabled)
		if u.TokensValidAfter != nil {
			fmt.Fprintf(w, "Tokens valid after:\t%s\n", u.TokensValidAfter.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func (c *Command) runRoles(args []string) error {
	fs := flag.NewFlagSet("roles", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject ID (required)")
	roles := fs.String("roles", "", "Comma-separated roles, empty clears them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("subject is required")
	}

	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		list := splitList(*roles)
		if err := b.Users().SetRoles(ctx, *subject, list); err != nil {
			return err
		}
		fmt.Fprintf(c.out(), "Roles of %s: [%s]\n", *subject, strings.Join(list, ","))
		return nil
	})
}

func (c *Command) runSetDisabled(args []string, disabled bool) error {
	if len(args) < 1 {
		return errors.New("subject required")
	}
	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		if err := b.Users().SetDisabled(ctx, args[0], disabled); err != nil {
			return err
		}
		state := "enabled"
		if disabled {
			state = "disabled"
		}
		fmt.Fprintf(c.out(), "%s %s\n", args[0], state)
		return nil
	})
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
