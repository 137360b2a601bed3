package executor

import (
	"sort"
	"time"

	"github.com/alejandrodnm/arbfleet/internal/domain"
)

const (
	hourKeyLayout = "2006-01-02T15"
	dayKeyLayout  = "2006-01-02"
)

// Report es la vista de estadísticas que se expone por la API y la consola.
type Report struct {
	Overall     domain.TradeStats            `json:"overall"`
	BySymbol    map[string]domain.TradeStats `json:"by_symbol"`
	ByVenuePair map[string]domain.TradeStats `json:"by_venue_pair"`
	Hourly      map[string]domain.TradeStats `json:"hourly"`
	Daily       map[string]domain.TradeStats `json:"daily"`
}

// statsBook acumula estadísticas de forma incremental en cada transición terminal.
// No es thread-safe: lo protege el mutex del Executor.
type statsBook struct {
	loc       *time.Location
	keepHours int
	keepDays  int
	overall   domain.GroupStats
	bySymbol  map[string]domain.GroupStats
	byVenue   map[string]domain.GroupStats
	hourly    map[string]domain.GroupStats
	daily     map[string]domain.GroupStats
}

func newStatsBook(loc *time.Location, keepHours, keepDays int) *statsBook {
	return &statsBook{
		loc:       loc,
		keepHours: keepHours,
		keepDays:  keepDays,
		bySymbol:  make(map[string]domain.GroupStats),
		byVenue:   make(map[string]domain.GroupStats),
		hourly:    make(map[string]domain.GroupStats),
		daily:     make(map[string]domain.GroupStats),
	}
}

func (b *statsBook) record(o domain.TradeOrder, at time.Time) {
	b.overall.Record(o)
	recordInto(b.bySymbol, o.SymbolPair, o)
	recordInto(b.byVenue, o.VenuePair(), o)

	local := at.In(b.loc)
	recordInto(b.hourly, local.Format(hourKeyLayout), o)
	recordInto(b.daily, local.Format(dayKeyLayout), o)
	trimOldest(b.hourly, b.keepHours)
	trimOldest(b.daily, b.keepDays)
}

func recordInto(m map[string]domain.GroupStats, key string, o domain.TradeOrder) {
	g := m[key]
	g.Record(o)
	m[key] = g
}

// trimOldest borra las claves más antiguas; las claves de tiempo ordenan lexicográficamente.
func trimOldest(m map[string]domain.GroupStats, keep int) {
	if keep <= 0 || len(m) <= keep {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-keep] {
		delete(m, k)
	}
}

func (b *statsBook) report() Report {
	return Report{
		Overall:     domain.NewTradeStats(b.overall),
		BySymbol:    toTradeStats(b.bySymbol),
		ByVenuePair: toTradeStats(b.byVenue),
		Hourly:      toTradeStats(b.hourly),
		Daily:       toTradeStats(b.daily),
	}
}

func toTradeStats(m map[string]domain.GroupStats) map[string]domain.TradeStats {
	out := make(map[string]domain.TradeStats, len(m))
	for k, g := range m {
		out[k] = domain.NewTradeStats(g)
	}
	return out
}

func copyGroups(m map[string]domain.GroupStats) map[string]domain.GroupStats {
	out := make(map[string]domain.GroupStats, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// load reemplaza el contenido con lo guardado en un snapshot.
func (b *statsBook) load(s domain.TradeSnapshot) {
	b.overall = s.Stats
	b.bySymbol = copyGroups(s.SymbolStats)
	b.byVenue = copyGroups(s.VenuePairStats)
	b.hourly = copyGroups(s.Hourly)
	b.daily = copyGroups(s.Daily)
	trimOldest(b.hourly, b.keepHours)
	trimOldest(b.daily, b.keepDays)
}
