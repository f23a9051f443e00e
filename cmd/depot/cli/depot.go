package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fabric-depot/internal/allocation"
	"github.com/odyssey-erp/fabric-depot/internal/depot"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
	"github.com/odyssey-erp/fabric-depot/jobs"
)

// Exit codes returned by Run.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitUsage   = 2
	ExitPartial = 10
)

// Options wires the CLI to the depot components.
type Options struct {
	Depot     *depot.Orchestrator
	Rolls     *rolls.Store
	Ledger    *ledger.Ledger
	Reconcile *jobs.ReconcileJob
	// Jobs is optional; without it the reconcile command runs inline and
	// the queue command is unavailable.
	Jobs   *JobsCLI
	Clock  func() time.Time
	Stdout io.Writer
	Stderr io.Writer
}

// DepotCLI runs operator commands against the roll ledger.
type DepotCLI struct {
	depot     *depot.Orchestrator
	rolls     *rolls.Store
	ledger    *ledger.Ledger
	reconcile *jobs.ReconcileJob
	jobs      *JobsCLI
	now       func() time.Time
	stdout    io.Writer
	stderr    io.Writer
}

type command struct {
	summary string
	run     func(c *DepotCLI, ctx context.Context, args []string) (int, error)
}

var commands = map[string]command{
	"receive":      {"receive rolls into stock", (*DepotCLI).receive},
	"list":         {"list rolls", (*DepotCLI).list},
	"groups":       {"show allocation groups", (*DepotCLI).groups},
	"summary":      {"colour summary of one pattern", (*DepotCLI).summary},
	"totals":       {"roll counts and metres per status", (*DepotCLI).totals},
	"ship":         {"bulk ship from groups", (*DepotCLI).ship},
	"reserve":      {"bulk reserve from groups", (*DepotCLI).reserve},
	"reverse":      {"reverse a shipment or reservation", (*DepotCLI).reverse},
	"void":         {"void a roll entered by mistake", (*DepotCLI).void},
	"scrap":        {"write a roll off as waste", (*DepotCLI).scrap},
	"edit":         {"correct roll fields", (*DepotCLI).edit},
	"transactions": {"shipment and reservation history", (*DepotCLI).transactions},
	"document":     {"printable view of a transaction", (*DepotCLI).document},
	"reconcile":    {"verify ledger invariants", (*DepotCLI).reconcileCmd},
	"queue":        {"inspect the job queue", (*DepotCLI).queue},
}

// New validates opts and builds the CLI.
func New(opts Options) (*DepotCLI, error) {
	if opts.Depot == nil || opts.Rolls == nil || opts.Ledger == nil {
		return nil, errors.New("depot cli: depot, rolls and ledger are required")
	}
	c := &DepotCLI{
		depot:     opts.Depot,
		rolls:     opts.Rolls,
		ledger:    opts.Ledger,
		reconcile: opts.Reconcile,
		jobs:      opts.Jobs,
		now:       opts.Clock,
		stdout:    opts.Stdout,
		stderr:    opts.Stderr,
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	if c.stderr == nil {
		c.stderr = os.Stderr
	}
	return c, nil
}

// Run dispatches args[0] to its command and returns the process exit code.
func (c *DepotCLI) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		c.usage()
		return ExitUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(c.stderr, "depot: unknown command %q\n", args[0])
		c.usage()
		return ExitUsage
	}
	code, err := cmd.run(c, ctx, args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitUsage
		}
		_, _ = fmt.Fprintf(c.stderr, "depot %s: %v\n", args[0], err)
		if code == ExitOK {
			code = ExitError
		}
	}
	return code
}

func (c *DepotCLI) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	_, _ = fmt.Fprintln(c.stderr, "usage: depot <command> [flags]")
	for _, name := range names {
		_, _ = fmt.Fprintf(c.stderr, "  %-13s %s\n", name, commands[name].summary)
	}
}

func (c *DepotCLI) flags(name string) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	return fs, asJSON
}

func (c *DepotCLI) emit(asJSON bool, v any, human func(w *tabwriter.Writer)) error {
	if asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	human(tw)
	return tw.Flush()
}

func (c *DepotCLI) receive(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("receive")
	pattern := fs.String("pattern", "", "pattern id")
	variant := fs.String("variant", "", "variant id")
	color := fs.String("color", "", "colour name")
	meters := fs.String("meters", "", "roll length in metres")
	rollNo := fs.String("roll-no", "", "roll label")
	in := fs.String("in", "", "stock entry date (default now)")
	note := fs.String("note", "", "free-text note")
	count := fs.Int("count", 1, "number of identical rolls")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	if *count <= 0 {
		return ExitUsage, shared.NewValidationError("count", "must be positive")
	}
	m, err := parseMeters(*meters)
	if err != nil {
		return ExitUsage, err
	}
	inAt := c.now()
	if strings.TrimSpace(*in) != "" {
		if inAt, err = shared.ParseDate("in", *in); err != nil {
			return ExitUsage, err
		}
	}
	received := make([]rolls.Roll, 0, *count)
	for i := 0; i < *count; i++ {
		r, err := c.rolls.Receive(ctx, rolls.ReceiveInput{
			PatternID: *pattern,
			VariantID: *variant,
			ColorName: *color,
			Meters:    m,
			RollNo:    *rollNo,
			InAt:      inAt,
			Note:      *note,
		})
		if err != nil {
			return ExitError, err
		}
		received = append(received, r)
	}
	return ExitOK, c.emit(*asJSON, received, func(w *tabwriter.Writer) { writeRolls(w, received) })
}

func (c *DepotCLI) list(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("list")
	pattern := fs.String("pattern", "", "pattern id")
	variant := fs.String("variant", "", "variant id")
	status := fs.String("status", "", "roll status")
	from := fs.String("from", "", "received on or after (date or RFC 3339)")
	to := fs.String("to", "", "received on or before; dates cover the whole day")
	query := fs.String("q", "", "match roll number or colour")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	items, err := c.rolls.List(ctx, rolls.Filter{
		PatternID: *pattern,
		VariantID: *variant,
		Status:    rolls.Status(strings.ToUpper(strings.TrimSpace(*status))),
		From:      shared.ParseDayBound(*from, false),
		To:        shared.ParseDayBound(*to, true),
		Query:     *query,
	})
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, items, func(w *tabwriter.Writer) { writeRolls(w, items) })
}

func (c *DepotCLI) groups(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("groups")
	pattern := fs.String("pattern", "", "pattern id (default all)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	groups, err := c.depot.Groups(ctx, *pattern)
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, groups, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintln(w, "KEY\tPATTERN\tCOLOR\tM/ROLL\tAVAILABLE\tRESERVED\tSHIPPED\tTOTAL")
		for _, g := range groups {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				g.Key, g.PatternNo, g.Color, g.Meters, g.AvailableCount, g.ReservedCount, len(g.Shipped), g.TotalCount)
		}
	})
}

func (c *DepotCLI) summary(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("summary")
	pattern := fs.String("pattern", "", "pattern id")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	rows, err := c.depot.ColorSummary(ctx, *pattern)
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, rows, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintln(w, "COLOR\tROLLS\tMETRES\tAVAILABLE\tAVAILABLE M\tRESERVED\tRESERVED M")
		for _, r := range rows {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%d\t%s\n",
				r.Color, r.TotalCount, r.TotalMeters, r.AvailableCount, r.AvailableMeters, r.ReservedCount, r.ReservedMeters)
		}
	})
}

func (c *DepotCLI) totals(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("totals")
	from := fs.String("from", "", "received on or after")
	to := fs.String("to", "", "received on or before")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	totals, err := c.depot.StockTotals(ctx, shared.ParseDayBound(*from, false), shared.ParseDayBound(*to, true))
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, totals, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintln(w, "STATUS\tROLLS\tMETRES")
		for _, st := range rolls.Statuses {
			t := totals[st]
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", st, t.Count, t.Meters)
		}
	})
}

func (c *DepotCLI) ship(ctx context.Context, args []string) (int, error) {
	return c.bulk(ctx, "ship", args, c.depot.BulkShip)
}

func (c *DepotCLI) reserve(ctx context.Context, args []string) (int, error) {
	return c.bulk(ctx, "reserve", args, c.depot.BulkReserve)
}

func (c *DepotCLI) bulk(ctx context.Context, name string, args []string, run func(context.Context, depot.BulkRequest) (depot.BulkResult, error)) (int, error) {
	fs, asJSON := c.flags(name)
	customer := fs.String("customer", "", "customer name")
	note := fs.String("note", "", "free-text note")
	var selections selectionFlag
	fs.Var(&selections, "take", `group selection "pattern|color|meters=count" (repeatable)`)
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	result, err := run(ctx, depot.BulkRequest{Customer: *customer, Note: *note, At: c.now(), Selections: selections})
	if err != nil {
		if errors.Is(err, depot.ErrNoRollsAffected) {
			c.writeFailures(result.Failures)
		}
		return ExitError, err
	}
	if err := c.emit(*asJSON, result, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", result.Transaction.Type, result.Transaction.ID, result.Outcome())
		writeLines(w, result.Lines)
	}); err != nil {
		return ExitError, err
	}
	c.writeFailures(result.Failures)
	if result.Partial() {
		return ExitPartial, nil
	}
	return ExitOK, nil
}

func (c *DepotCLI) reverse(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("reverse")
	tx := fs.String("tx", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	result, err := c.depot.Reverse(ctx, *tx, c.now())
	if err != nil {
		c.writeFailures(result.Failures)
		return ExitError, err
	}
	if err := c.emit(*asJSON, result, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintf(w, "REVERSAL %s of %s %s: %s\n", result.Reversal.ID, result.Target.Type, result.Target.ID, result.Outcome())
		writeLines(w, result.Lines)
	}); err != nil {
		return ExitError, err
	}
	c.writeFailures(result.Failures)
	if result.Failed > 0 {
		return ExitPartial, nil
	}
	return ExitOK, nil
}

func (c *DepotCLI) void(ctx context.Context, args []string) (int, error) {
	return c.writeOff(ctx, "void", args, c.depot.VoidRoll)
}

func (c *DepotCLI) scrap(ctx context.Context, args []string) (int, error) {
	return c.writeOff(ctx, "scrap", args, c.depot.ScrapRoll)
}

func (c *DepotCLI) writeOff(ctx context.Context, name string, args []string, run func(context.Context, string, string, time.Time) (depot.Correction, error)) (int, error) {
	fs, asJSON := c.flags(name)
	roll := fs.String("roll", "", "roll id")
	reason := fs.String("reason", "", "reason recorded on the roll")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	correction, err := run(ctx, *roll, *reason, c.now())
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, correction, func(w *tabwriter.Writer) { writeCorrection(w, correction) })
}

// edit treats a flag given as "" as an explicit clear; flags not given are
// left untouched.
func (c *DepotCLI) edit(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("edit")
	roll := fs.String("roll", "", "roll id")
	meters := fs.String("meters", "", "corrected length")
	rollNo := fs.String("roll-no", "", "roll label")
	variant := fs.String("variant", "", "variant id")
	color := fs.String("color", "", "colour name")
	note := fs.String("note", "", "note (replaces the current note)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	var patch rolls.Patch
	var parseErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "meters":
			m, err := parseMeters(*meters)
			if err != nil {
				parseErr = err
				return
			}
			patch.Meters = shared.Some(m)
		case "roll-no":
			patch.RollNo = optional(*rollNo)
		case "variant":
			patch.VariantID = optional(*variant)
		case "color":
			patch.ColorName = optional(*color)
		case "note":
			patch.Note = optional(*note)
		}
	})
	if parseErr != nil {
		return ExitUsage, parseErr
	}
	correction, err := c.depot.EditRoll(ctx, *roll, patch, c.now())
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, correction, func(w *tabwriter.Writer) { writeCorrection(w, correction) })
}

func (c *DepotCLI) transactions(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("transactions")
	customer := fs.String("customer", "", "customer name contains")
	types := fs.String("type", "", "comma separated types (default SHIPMENT,RESERVATION)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	q := depot.HistoryQuery{Customer: *customer}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			q.Types = append(q.Types, ledger.Type(t))
		}
	}
	history, err := c.depot.History(ctx, q)
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, history, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED\tCUSTOMER\tTOPS\tMETRES\tPATTERNS")
		for _, h := range history {
			tx := h.Transaction
			totals := ledger.ComputeTotals(h.Lines)
			if tx.Totals != nil {
				totals = *tx.Totals
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
				tx.ID, tx.Type, tx.Status, tx.CreatedAt.Format(time.RFC3339), tx.CustomerName,
				totals.TotalTops, totals.TotalMetres, totals.PatternCount)
		}
	})
}

func (c *DepotCLI) document(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("document")
	tx := fs.String("tx", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	doc, err := c.depot.Document(ctx, *tx)
	if err != nil {
		return ExitError, err
	}
	return ExitOK, c.emit(*asJSON, doc, func(w *tabwriter.Writer) {
		t := doc.Transaction
		_, _ = fmt.Fprintf(w, "%s %s\t%s\n", t.Type, t.ID, t.CreatedAt.Format("2006-01-02 15:04"))
		if t.CustomerName != "" {
			_, _ = fmt.Fprintf(w, "Customer:\t%s\n", t.CustomerName)
		}
		if t.Note != "" {
			_, _ = fmt.Fprintf(w, "Note:\t%s\n", t.Note)
		}
		for _, s := range doc.Sections {
			_, _ = fmt.Fprintf(w, "\n%s %s\n", s.PatternNo, s.PatternName)
			for _, l := range s.Lines {
				_, _ = fmt.Fprintf(w, "  %s\t%d x %s m\t%s m\n", l.Color, l.TopCount, l.MetrePerTop, l.TotalMetres)
			}
			_, _ = fmt.Fprintf(w, "  subtotal\t%d\t%s m\n", s.TotalTops, s.TotalMetres)
		}
		_, _ = fmt.Fprintf(w, "\nTOTAL\t%d tops, %d patterns\t%s m\n", doc.Totals.TotalTops, doc.Totals.PatternCount, doc.Totals.TotalMetres)
	})
}

func (c *DepotCLI) reconcileCmd(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("reconcile")
	enqueue := fs.Bool("enqueue", false, "hand the run to the worker instead of running inline")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	if *enqueue {
		if c.jobs == nil {
			return ExitError, errors.New("job queue not configured")
		}
		info, err := c.jobs.Trigger(ctx, jobs.TaskLedgerReconcile, c.now())
		if err != nil {
			return ExitError, err
		}
		_, _ = fmt.Fprintf(c.stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return ExitOK, nil
	}
	if c.reconcile == nil {
		return ExitError, errors.New("reconciliation not configured")
	}
	report, err := c.reconcile.Run(ctx, "cli")
	if err != nil {
		return ExitError, err
	}
	if err := c.emit(*asJSON, report, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintf(w, "checked %d rolls, %d transactions, %d lines\n", report.Rolls, report.Transactions, report.Lines)
		if len(report.Findings) == 0 {
			_, _ = fmt.Fprintln(w, "no findings")
			return
		}
		_, _ = fmt.Fprintln(w, "KIND\tREF\tDETAIL")
		for _, f := range report.Findings {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", f.Kind, f.Ref, f.Detail)
		}
	}); err != nil {
		return ExitError, err
	}
	if len(report.Findings) > 0 {
		return ExitPartial, nil
	}
	return ExitOK, nil
}

func (c *DepotCLI) queue(ctx context.Context, args []string) (int, error) {
	fs, asJSON := c.flags("queue")
	scheduled := fs.Int("scheduled", 0, "also list up to N scheduled tasks")
	if err := fs.Parse(args); err != nil {
		return ExitUsage, err
	}
	if c.jobs == nil {
		return ExitError, errors.New("job queue not configured")
	}
	stats, err := c.jobs.InspectQueue()
	if err != nil {
		return ExitError, err
	}
	if err := c.emit(*asJSON, stats, func(w *tabwriter.Writer) {
		_, _ = fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	}); err != nil {
		return ExitError, err
	}
	if *scheduled > 0 {
		tasks, err := c.jobs.ListScheduled(*scheduled)
		if err != nil {
			return ExitError, err
		}
		for _, t := range tasks {
			_, _ = fmt.Fprintf(c.stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	}
	return ExitOK, nil
}

func (c *DepotCLI) writeFailures(failures []depot.RollFailure) {
	for _, f := range failures {
		_, _ = fmt.Fprintf(c.stderr, "  roll %s: %v\n", f.RollID, f.Err)
	}
}

func writeRolls(w io.Writer, items []rolls.Roll) {
	_, _ = fmt.Fprintln(w, "ID\tPATTERN\tCOLOR\tMETRES\tROLL NO\tSTATUS\tIN\tPARTY")
	for _, r := range items {
		party := r.Counterparty
		if r.Status == rolls.StatusReserved {
			party = r.ReservedFor
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.PatternID, r.ColorName, r.Meters, r.RollNo, r.Status, r.InAt.Format("2006-01-02"), party)
	}
}

func writeLines(w io.Writer, lines []ledger.Line) {
	_, _ = fmt.Fprintln(w, "PATTERN\tCOLOR\tM/TOP\tTOPS\tMETRES")
	for _, l := range lines {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", l.PatternNoSnapshot, l.Color, l.MetrePerTop, l.TopCount, l.TotalMetres)
	}
}

func writeCorrection(w io.Writer, c depot.Correction) {
	_, _ = fmt.Fprintf(w, "roll %s\t%s -> %s\n", c.After.ID, c.Before.Status, c.After.Status)
	_, _ = fmt.Fprintf(w, "adjustment %s\t%s\n", c.Adjustment.ID, c.Adjustment.Note)
}

func parseMeters(s string) (decimal.Decimal, error) {
	m, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, shared.NewValidationError("meters", "is not a number")
	}
	return m, nil
}

func optional(s string) shared.Field[string] {
	if strings.TrimSpace(s) == "" {
		return shared.Null[string]()
	}
	return shared.Some(s)
}

// selectionFlag collects repeated "pattern|color|meters=count" values.
type selectionFlag []depot.Selection

func (s *selectionFlag) String() string {
	parts := make([]string, len(*s))
	for i, sel := range *s {
		parts[i] = sel.Key.String() + "=" + strconv.Itoa(sel.Count)
	}
	return strings.Join(parts, ",")
}

func (s *selectionFlag) Set(v string) error {
	i := strings.LastIndex(v, "=")
	if i < 0 {
		return fmt.Errorf("expected key=count, got %q", v)
	}
	key, err := allocation.ParseGroupKey(v[:i])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v[i+1:]))
	if err != nil {
		return fmt.Errorf("count %q is not a number", v[i+1:])
	}
	*s = append(*s, depot.Selection{Key: key, Count: n})
	return nil
}
