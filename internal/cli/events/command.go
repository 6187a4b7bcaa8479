package events

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/astrodesk/sessiongate/internal/cli"
	"github.com/astrodesk/sessiongate/internal/domain/audit"
)

// Command implements the auth event query command
type Command struct {
	Out     io.Writer
	Connect cli.Connector
}

func (c *Command) Name() string {
	return "events"
}

func (c *Command) Description() string {
	return "Query the auth event trail (query, show)"
}

func (c *Command) Run(args []string) error {
	if len(args) < 1 {
		c.printUsage()
		return fmt.Errorf("%w: subcommand required", cli.ErrUsage)
	}

	switch args[0] {
	case "query":
		return c.runQuery(args[1:])
	case "show":
		return c.runShow(args[1:])
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
	fmt.Fprintf(os.Stderr, "Usage: sessiongate-cli events <subcommand> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  query                 List events matching the filters\n")
	fmt.Fprintf(os.Stderr, "    -subject <id>       Subject ID\n")
	fmt.Fprintf(os.Stderr, "    -device <id>        Device ID\n")
	fmt.Fprintf(os.Stderr, "    -type <t>           create, login or logout\n")
	fmt.Fprintf(os.Stderr, "    -from, -to <time>   RFC3339 bounds on the server timestamp\n")
	fmt.Fprintf(os.Stderr, "    -sort <field>       server_timestamp, client_timestamp or event_type\n")
	fmt.Fprintf(os.Stderr, "    -order <asc|desc>   Sort order (default: desc)\n")
	fmt.Fprintf(os.Stderr, "    -limit, -offset     Pagination\n")
	fmt.Fprintf(os.Stderr, "    -o <format>         table, json or yaml (default: table)\n")
	fmt.Fprintf(os.Stderr, "  show <event-id>       Print one event\n")
}

func (c *Command) runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	subject := fs.String("subject", "", "Subject ID")
	device := fs.String("device", "", "Device ID")
	eventType := fs.String("type", "", "Event type")
	from := fs.String("from", "", "Lower bound (RFC3339)")
	to := fs.String("to", "", "Upper bound (RFC3339)")
	sortField := fs.String("sort", "", "Sort field")
	order := fs.String("order", "", "Sort order")
	limit := fs.Int("limit", audit.DefaultLimit, "Page size")
	offset := fs.Int("offset", 0, "Page offset")
	format := fs.String("o", "table", "Output format")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sort, err := audit.ParseSort(*sortField, *order)
	if err != nil {
		return err
	}
	filter := audit.Filter{SubjectID: *subject, DeviceID: *device, Type: audit.EventType(*eventType)}
	if filter.From, err = parseTime(*from); err != nil {
		return fmt.Errorf("invalid -from: %w", err)
	}
	if filter.To, err = parseTime(*to); err != nil {
		return fmt.Errorf("invalid -to: %w", err)
	}
	page := audit.Page{Limit: *limit, Offset: *offset}.Normalize()

	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		res, err := b.Audit().Query(ctx, filter, sort, page)
		if err != nil {
			return err
		}
		return render(c.out(), *format, res)
	})
}

func (c *Command) runShow(args []string) error {
	if len(args) < 1 {
		return errors.New("event ID required")
	}
	return cli.WithBackends(c.Connect, func(ctx context.Context, b *cli.Backends) error {
		event, err := b.Audit().Get(ctx, args[0])
		if err != nil {
			return err
		}
		return render(c.out(), "yaml", event)
	})
}

func render(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		raw, err := yaml.MarshalWithOptions(v, yaml.UseJSONMarshaler())
		if err != nil {
			return err
		}
		_, err = out.Write(raw)
		return err
	case "table":
		res, ok := v.(*audit.Result)
		if !ok {
			return fmt.Errorf("table output needs a result page, got %T", v)
		}
		printTable(out, res)
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func printTable(out io.Writer, res *audit.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSUBJECT\tDEVICE\tSERVER TIME\tIP")
	for _, e := range res.Events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.EventType, e.SubjectID, e.DeviceID, e.ServerTimestamp.Format(time.RFC3339), e.IP)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\n%d of %d event(s), offset %d\n", len(res.Events), res.Total, res.Offset)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
