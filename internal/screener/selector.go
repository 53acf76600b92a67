package screener

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"trading-agent/internal/market"
	"trading-agent/pkg/db"
)

// moverLookback is how many daily bars the change/volume metrics use.
const moverLookback = 5

// Mover is one symbol that cleared the screening criteria.
type Mover struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	ChangePct   float64 `json:"change_pct"`
	Volume      float64 `json:"volume"`
	AvgVolume   float64 `json:"avg_volume"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// Config tunes the daily selection.
type Config struct {
	TopN         int      // default 5
	MinMovePct   float64  // default 2.0, absolute day-over-day move
	MinAvgVolume float64  // default 1000000
	Fallback     []string // used when nothing qualifies
}

// Selector ranks the universe's pre-open movers and caches one pick
// list per date, so every restart on the same day trades the same set.
type Selector struct {
	universe *Universe
	feed     market.Feed
	db       *db.Database // nil = no cache
	cfg      Config
}

// NewSelector builds a daily selector over a universe and a daily-bar
// feed.
func NewSelector(universe *Universe, feed market.Feed, database *db.Database, cfg Config) (*Selector, error) {
	if universe == nil {
		return nil, fmt.Errorf("screener: universe is required")
	}
	if feed == nil {
		return nil, fmt.Errorf("screener: feed is required")
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.MinMovePct <= 0 {
		cfg.MinMovePct = 2.0
	}
	if cfg.MinAvgVolume <= 0 {
		cfg.MinAvgVolume = 1000000
	}
	return &Selector{universe: universe, feed: feed, db: database, cfg: cfg}, nil
}

// SelectDaily returns the symbols to trade for a date. A cached pick
// list wins; otherwise the universe is screened and the result stored.
func (s *Selector) SelectDaily(ctx context.Context, date string) ([]string, error) {
	if s.db != nil {
		cached, err := s.db.GetDailyPicks(ctx, date)
		if err != nil {
			log.Printf("screener: pick cache read: %v", err)
		} else if len(cached) > 0 {
			log.Printf("📊 Daily selection (cached %s): %v", date, cached)
			return cached, nil
		}
	}

	movers, err := s.Movers(ctx)
	if err != nil {
		return nil, err
	}

	picks := make([]string, 0, s.cfg.TopN)
	for _, m := range movers {
		if len(picks) == s.cfg.TopN {
			break
		}
		picks = append(picks, m.Symbol)
	}
	if len(picks) == 0 {
		if len(s.cfg.Fallback) == 0 {
			return nil, fmt.Errorf("screener: no movers qualified and no fallback configured")
		}
		log.Printf("⚠️ No movers qualified for %s; falling back to %v", date, s.cfg.Fallback)
		picks = append(picks, s.cfg.Fallback...)
	}

	if s.db != nil {
		if err := s.db.SaveDailyPicks(ctx, date, picks); err != nil {
			log.Printf("screener: pick cache write: %v", err)
		}
	}
	log.Printf("📊 Daily selection (%s): %d candidates screened, picked %v",
		date, len(s.universe.All()), picks)
	return picks, nil
}

// Movers screens the whole universe and returns qualifiers ordered by
// absolute move, largest first. Symbols tie-break alphabetically so the
// ranking is stable.
func (s *Selector) Movers(ctx context.Context) ([]Mover, error) {
	symbols := s.universe.All()
	data, err := s.feed.FetchBars(ctx, symbols, moverLookback)
	if err != nil {
		return nil, fmt.Errorf("screener: fetch daily bars: %w", err)
	}

	var movers []Mover
	for _, sym := range symbols {
		bars := data[sym]
		if len(bars) < 2 {
			continue
		}
		latest := bars[len(bars)-1]
		previous := bars[len(bars)-2]
		if previous.Close <= 0 {
			continue
		}

		changePct := (latest.Close - previous.Close) / previous.Close * 100
		avgVolume := 0.0
		for _, b := range bars {
			avgVolume += b.Volume
		}
		avgVolume /= float64(len(bars))

		if math.Abs(changePct) < s.cfg.MinMovePct || avgVolume < s.cfg.MinAvgVolume {
			continue
		}

		ratio := 0.0
		if avgVolume > 0 {
			ratio = latest.Volume / avgVolume
		}
		movers = append(movers, Mover{
			Symbol:      sym,
			Price:       latest.Close,
			ChangePct:   changePct,
			Volume:      latest.Volume,
			AvgVolume:   avgVolume,
			VolumeRatio: ratio,
		})
	}

	sort.Slice(movers, func(i, j int) bool {
		ai, aj := math.Abs(movers[i].ChangePct), math.Abs(movers[j].ChangePct)
		if ai != aj {
			return ai > aj
		}
		return movers[i].Symbol < movers[j].Symbol
	})
	return movers, nil
}
