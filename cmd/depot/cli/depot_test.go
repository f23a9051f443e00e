package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fabric-depot/internal/app"
	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	jobmetrics "github.com/odyssey-erp/fabric-depot/internal/jobs"
	"github.com/odyssey-erp/fabric-depot/internal/ledger"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
	"github.com/odyssey-erp/fabric-depot/jobs"
)

type harness struct {
	cli    *DepotCLI
	rt     *app.Runtime
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	rt, err := app.Open(ctx, &app.Config{StoreDriver: app.DriverMemory, Locale: "tr"}, nil)
	require.NoError(t, err)
	require.NoError(t, rt.Catalog.Put(ctx, catalog.Pattern{ID: "P", FabricCode: "K-100", FabricName: "Keten"}))

	h := &harness{rt: rt, stdout: new(bytes.Buffer), stderr: new(bytes.Buffer)}
	h.cli, err = New(Options{
		Depot:     rt.Depot,
		Rolls:     rt.Rolls,
		Ledger:    rt.Ledger,
		Reconcile: jobs.NewReconcileJob(rt.Store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry())),
		Clock:     func() time.Time { return time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC) },
		Stdout:    h.stdout,
		Stderr:    h.stderr,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.cli.Run(context.Background(), args)
}

func TestReceiveAndShipThroughCLI(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, ExitOK, h.run("receive", "--pattern", "P", "--color", "Red", "--meters", "30", "--count", "3", "--in", "2024-05-01", "--json"))
	var received []rolls.Roll
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &received))
	require.Len(t, received, 3)

	require.Equal(t, ExitOK, h.run("ship", "--customer", "ACME", "--take", "P|red|30=2", "--json"))
	var result struct {
		Transaction ledger.Transaction
		Succeeded   int
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &result))
	require.Equal(t, 2, result.Succeeded)
	require.Equal(t, ledger.TypeShipment, result.Transaction.Type)

	require.Equal(t, ExitOK, h.run("list", "--status", "shipped"))
	require.Contains(t, h.stdout.String(), "ACME")

	require.Equal(t, ExitOK, h.run("document", "--tx", result.Transaction.ID))
	require.Contains(t, h.stdout.String(), "K-100 Keten")
	require.Contains(t, h.stdout.String(), "TOTAL")

	require.Equal(t, ExitOK, h.run("reverse", "--tx", result.Transaction.ID))
	require.Contains(t, h.stdout.String(), "2 of 2 succeeded")
	require.Equal(t, ExitError, h.run("reverse", "--tx", result.Transaction.ID))
	require.Contains(t, h.stderr.String(), "already reversed")
}

func TestShipShortfallExitsPartial(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitOK, h.run("receive", "--pattern", "P", "--color", "Red", "--meters", "30"))

	require.Equal(t, ExitPartial, h.run("ship", "--customer", "ACME", "--take", "P|red|30=3"))
	require.Contains(t, h.stdout.String(), "1 of 3 succeeded, 2 not in stock")
}

func TestShipNothingAvailableFails(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitError, h.run("ship", "--customer", "ACME", "--take", "P|red|30=1"))
	require.Contains(t, h.stderr.String(), "no rolls affected")
}

func TestEditClearsAndSetsFields(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitOK, h.run("receive", "--pattern", "P", "--color", "Red", "--meters", "30", "--roll-no", "R-1", "--json"))
	var received []rolls.Roll
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &received))
	id := received[0].ID

	require.Equal(t, ExitOK, h.run("edit", "--roll", id, "--meters", "28", "--roll-no", ""))
	require.Contains(t, h.stdout.String(), "roll correction")

	got, err := h.rt.Rolls.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "28", got.Meters.String())
	require.Empty(t, got.RollNo)
	require.Equal(t, "Red", got.ColorName)
}

func TestVoidAndTotals(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitOK, h.run("receive", "--pattern", "P", "--color", "Red", "--meters", "30", "--json"))
	var received []rolls.Roll
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &received))

	require.Equal(t, ExitOK, h.run("void", "--roll", received[0].ID))
	require.Contains(t, h.stdout.String(), "VOIDED")

	require.Equal(t, ExitOK, h.run("totals"))
	require.Regexp(t, `VOIDED\s+1\s+30`, h.stdout.String())
}

func TestReconcileInline(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitOK, h.run("receive", "--pattern", "P", "--meters", "12.5"))
	require.Equal(t, ExitOK, h.run("reconcile"))
	require.Contains(t, h.stdout.String(), "no findings")

	require.Equal(t, ExitError, h.run("reconcile", "--enqueue"))
	require.Equal(t, ExitError, h.run("queue"))
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, ExitUsage, h.run())
	require.Equal(t, ExitUsage, h.run("explode"))
	require.Contains(t, h.stderr.String(), "unknown command")
	require.Equal(t, ExitUsage, h.run("ship", "--take", "broken"))
	require.Equal(t, ExitUsage, h.run("receive", "--pattern", "P", "--meters", "abc"))
	require.Equal(t, ExitError, h.run("summary"))
}
