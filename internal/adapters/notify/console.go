package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Report agrupa lo que imprime la consola en cada tick de reporte.
type Report struct {
	At         time.Time
	Workers    map[string]domain.WorkerRuntimeState
	Candidates []domain.ArbitrageCandidate
	Overall    domain.TradeStats
	BySymbol   map[string]domain.TradeStats
	Daily      domain.DailyTotals
}

// Console imprime el estado de la flota y del trading.
type Console struct {
	out   io.Writer
	table bool
	topN  int
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, topN: 5}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, topN: 5}
}

// Notify imprime el reporte en el modo configurado.
func (c *Console) Notify(_ context.Context, r Report) error {
	if c.table {
		c.printFull(r)
	} else {
		c.printCompact(r)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(r Report) {
	up, total := countUp(r.Workers)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] workers %d/%d up", r.At.Format("15:04:05"), up, total)
	if bad := notUp(r.Workers); len(bad) > 0 {
		fmt.Fprintf(&sb, " (down: %s)", strings.Join(bad, ","))
	}

	if len(r.Candidates) == 0 {
		sb.WriteString(" | no opportunities")
	} else {
		best := r.Candidates[0]
		fmt.Fprintf(&sb, " | opps %d best %s %s→%s %s%% net $%s",
			len(r.Candidates), best.SymbolPair, best.BuyVenue, best.SellVenue,
			best.SpreadPct.StringFixed(3), best.EstimatedNetProfit.StringFixed(2))
	}

	fmt.Fprintf(&sb, " | trades %d ok %.0f%% pnl $%s | today %d loss $%s",
		r.Overall.Total, r.Overall.SuccessRate*100, r.Overall.CumulativeProfit.StringFixed(2),
		r.Daily.TradeCount, r.Daily.RealizedLoss.StringFixed(2))

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime tablas de workers, oportunidades y trades.
func (c *Console) printFull(r Report) {
	up, total := countUp(r.Workers)
	fmt.Fprintf(c.out, "\n[%s] fleet %d/%d up — %d opportunities — %d trades\n",
		r.At.Format("15:04:05"), up, total, len(r.Candidates), r.Overall.Total)

	c.printWorkers(r.Workers, r.At)
	c.printCandidates(r.Candidates)
	c.printTrades(r)
}

func (c *Console) printWorkers(workers map[string]domain.WorkerRuntimeState, now time.Time) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Worker", "Status", "PID", "Fails", "Restarts", "CPU%", "Mem%", "Last check")

	for _, name := range sortedNames(workers) {
		st := workers[name]
		status := string(st.Status)
		if st.Exhausted {
			status += " (exhausted)"
		}
		if st.Adopted {
			status += " (adopted)"
		}
		pid := "-"
		if st.PID > 0 {
			pid = fmt.Sprintf("%d", st.PID)
		}
		table.Append(
			name,
			status,
			pid,
			fmt.Sprintf("%d", st.ConsecutiveFailures),
			fmt.Sprintf("%d", st.RestartCount),
			fmt.Sprintf("%.1f", st.CPUPercent),
			fmt.Sprintf("%.1f", st.MemPercent),
			age(st.LastHealthCheck, now),
		)
	}
	table.Render()
}

func (c *Console) printCandidates(cands []domain.ArbitrageCandidate) {
	if len(cands) == 0 {
		fmt.Fprintf(c.out, "\n  ⚠ No opportunities above the spread threshold\n")
		return
	}
	top := cands
	if len(top) > c.topN {
		top = top[:c.topN]
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Symbol", "Buy", "Sell", "Spread%", "Max notional", "Gas", "Net", "Conf")
	for i, cand := range top {
		table.Append(
			fmt.Sprintf("%d", i+1),
			cand.SymbolPair,
			fmt.Sprintf("%s @ %s", cand.BuyVenue, cand.BuyPrice.String()),
			fmt.Sprintf("%s @ %s", cand.SellVenue, cand.SellPrice.String()),
			cand.SpreadPct.StringFixed(3),
			cand.EstimatedNotional.Max.StringFixed(0),
			"$"+cand.EstimatedGasCost.StringFixed(2),
			"$"+cand.EstimatedNetProfit.StringFixed(2),
			fmt.Sprintf("%.2f", cand.ConfidenceScore),
		)
	}
	table.Render()
}

func (c *Console) printTrades(r Report) {
	o := r.Overall
	fmt.Fprintf(c.out, "\n=== TRADES ===\n")
	fmt.Fprintf(c.out, "  Total: %d | OK: %d | Failed: %d | Cancelled: %d | Success: %.1f%%\n",
		o.Total, o.Successful, o.Failed, o.Cancelled, o.SuccessRate*100)
	fmt.Fprintf(c.out, "  P&L:   $%s (avg $%s/trade)\n",
		o.CumulativeProfit.StringFixed(4), o.AverageProfit.StringFixed(4))
	fmt.Fprintf(c.out, "  Today: %s — %d trades, realized loss $%s\n",
		r.Daily.Day, r.Daily.TradeCount, r.Daily.RealizedLoss.StringFixed(4))

	if len(r.BySymbol) == 0 {
		fmt.Fprintln(c.out)
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Symbol", "Trades", "OK", "Failed", "Success%", "P&L")
	symbols := make([]string, 0, len(r.BySymbol))
	for s := range r.BySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		st := r.BySymbol[s]
		table.Append(
			s,
			fmt.Sprintf("%d", st.Total),
			fmt.Sprintf("%d", st.Successful),
			fmt.Sprintf("%d", st.Failed),
			fmt.Sprintf("%.1f", st.SuccessRate*100),
			"$"+st.CumulativeProfit.StringFixed(4),
		)
	}
	table.Render()
	fmt.Fprintln(c.out)
}

// PrintHistory imprime las órdenes guardadas, más recientes primero.
func (c *Console) PrintHistory(orders []domain.TradeOrder, since time.Duration) {
	fmt.Fprintf(c.out, "\n=== HISTORY (last %s) — %d orders ===\n", since, len(orders))
	if len(orders) == 0 {
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Created", "ID", "Symbol", "Route", "Amount", "Status", "Expected", "Actual", "Tx / reason")
	var pnl domain.GroupStats
	for _, o := range orders {
		pnl.Record(o)
		actual := "-"
		if o.ActualProfit != nil {
			actual = "$" + o.ActualProfit.StringFixed(4)
		}
		ref := o.TxReference
		if o.FailureReason != "" {
			ref = o.FailureReason
		}
		table.Append(
			o.CreatedAt.Format("01-02 15:04:05"),
			shortID(o.ID),
			o.SymbolPair,
			o.VenuePair(),
			o.Amount.StringFixed(2),
			string(o.Status),
			"$"+o.ExpectedProfit.StringFixed(4),
			actual,
			ref,
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  OK: %d | Failed: %d | Cancelled: %d | P&L: $%s\n\n",
		pnl.Successful, pnl.Failed, pnl.Cancelled, pnl.CumulativeProfit.StringFixed(4))
}

// --- helpers ---

func countUp(workers map[string]domain.WorkerRuntimeState) (up, total int) {
	for _, st := range workers {
		total++
		if st.Healthy() {
			up++
		}
	}
	return
}

func notUp(workers map[string]domain.WorkerRuntimeState) []string {
	var names []string
	for _, name := range sortedNames(workers) {
		st := workers[name]
		if !st.Healthy() && st.Status != domain.WorkerStopped {
			names = append(names, name)
		}
	}
	return names
}

func sortedNames(workers map[string]domain.WorkerRuntimeState) []string {
	names := make([]string, 0, len(workers))
	for name := range workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func age(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return now.Sub(t).Truncate(time.Second).String() + " ago"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
