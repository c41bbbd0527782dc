package state

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/probedge/probedge/internal/models"
)

func newTestStore() *Store {
	return NewStore(NewSystemState("SIM", "2025-07-01", true))
}

func TestStore_ApplyPublishesNewCopy(t *testing.T) {
	s := newTestStore()
	before := s.Snapshot()

	v := s.Apply(func(st *SystemState) {
		st.Quotes["ALPHA"] = models.Quote{LTP: 100.5}
	})
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}

	after := s.Snapshot()
	if before == after {
		t.Fatalf("Apply must publish a fresh document")
	}
	if _, ok := before.Quotes["ALPHA"]; ok {
		t.Fatalf("old snapshot mutated by Apply")
	}
	if q := after.Quotes["ALPHA"]; q.LTP != 100.5 {
		t.Fatalf("new snapshot missing the delta, quote = %+v", q)
	}
}

func TestStore_DeltaIsAtomicAcrossFamilies(t *testing.T) {
	s := newTestStore()
	pos := &models.Position{
		Symbol:    "ALPHA",
		Direction: models.DirectionBull,
		Status:    models.PositionOpen,
		Qty:       10, PlannedQty: 10,
		EntryPrice:  100,
		RealizedPnL: 500,
		EntryTS:     "2025-07-01 09:41:00",
	}
	s.Apply(func(st *SystemState) {
		st.Positions["ALPHA"] = pos
		st.RecomputePnL()
	})

	snap := s.Snapshot()
	if snap.Meta.PnL.Realized != 500 || snap.Meta.PnL.Day != 500 {
		t.Fatalf("pnl not recomputed in the same delta: %+v", snap.Meta.PnL)
	}
	// The stored position is a copy: mutating the original must not leak.
	pos.RealizedPnL = -1
	if got := s.Snapshot().Positions["ALPHA"].RealizedPnL; got != 500 {
		t.Fatalf("stored position aliases the caller's pointer, pnl = %.0f", got)
	}
}

func TestStore_ConcurrentWritersKeepEveryDelta(t *testing.T) {
	s := newTestStore()
	const writers, each = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				s.Apply(func(st *SystemState) {
					st.Meta.ActiveTrades++
				})
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.Meta.ActiveTrades != writers*each {
		t.Fatalf("lost deltas: got %d, want %d", snap.Meta.ActiveTrades, writers*each)
	}
	if snap.Version != writers*each {
		t.Fatalf("version = %d, want %d", snap.Version, writers*each)
	}
}

func TestPersister_FlushAndLoadRoundTrip(t *testing.T) {
	s := newTestStore()
	s.Apply(func(st *SystemState) {
		st.Quotes["ALPHA"] = models.Quote{LTP: 101.25, Volume: 1200}
		st.Tags["ALPHA"] = models.SessionTags{PDC: models.DirectionPtr(models.DirectionBull)}
		st.Positions["ALPHA"] = &models.Position{
			Symbol: "ALPHA", Direction: models.DirectionBull,
			Status: models.PositionPending, Qty: 5, PlannedQty: 5,
		}
		st.Meta.RiskState = RiskState{Status: RiskHalted, Reason: "daily_loss_limit"}
	})

	path := filepath.Join(t.TempDir(), "live_state.json")
	p := NewPersister(s, path, 250*time.Millisecond, logrus.New())
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Quotes["ALPHA"].LTP != 101.25 {
		t.Fatalf("quote lost in round trip: %+v", got.Quotes["ALPHA"])
	}
	if got.Tags["ALPHA"].PDC == nil || *got.Tags["ALPHA"].PDC != models.DirectionBull {
		t.Fatalf("tags lost in round trip: %+v", got.Tags["ALPHA"])
	}
	if got.Positions["ALPHA"].Status != models.PositionPending {
		t.Fatalf("position lost in round trip: %+v", got.Positions["ALPHA"])
	}
	if got.Meta.RiskState.Status != RiskHalted {
		t.Fatalf("risk state lost in round trip: %+v", got.Meta.RiskState)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "live_state.json"))
	if !errors.Is(err, ErrNoState) {
		t.Fatalf("Load on missing file = %v, want ErrNoState", err)
	}
}

func TestSystemState_JSONSchema(t *testing.T) {
	st := NewSystemState("PAPER", "2025-07-01", false)
	st.Meta.Clock = "2025-07-01 09:40:05"
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"meta", "quotes", "tags", "positions", "agents"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("document missing top-level %q", key)
		}
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(doc["meta"], &meta); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	for _, key := range []string{"mode", "date", "clock", "sim", "plan_status", "plan_locked",
		"daily_risk_rs", "risk_per_trade_rs", "pnl", "risk_state", "batch_agent"} {
		if _, ok := meta[key]; !ok {
			t.Fatalf("meta missing %q", key)
		}
	}
}
