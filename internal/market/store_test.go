package market

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-go/internal/signal"
)

func TestApplyTickMergesPartialFields(t *testing.T) {
	s := NewStore()
	_, changed := s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(50000), Change24h: signal.Float(1.5)})
	require.True(t, changed)

	snap, changed := s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Change24h: signal.Float(math.NaN())})
	assert.False(t, changed)
	assert.Equal(t, 50000.0, snap.Price)
	assert.Equal(t, 1.5, snap.Change24h)

	snap, changed = s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", High24h: signal.Float(51000), Low24h: signal.Float(-1)})
	require.True(t, changed)
	assert.Equal(t, 51000.0, snap.High24h)
	assert.Zero(t, snap.Low24h)
	assert.Equal(t, 50000.0, snap.Price)
}

func TestApplyTickNaNChangeScenario(t *testing.T) {
	s := NewStore()
	s.ApplyTick(signal.Tick{Symbol: "ETHUSDT", Change24h: signal.Float(-2.25)})
	s.ApplyTick(signal.Tick{Symbol: "ETHUSDT", Price: signal.Float(50000)})
	s.ApplyTick(signal.Tick{Symbol: "ETHUSDT", Change24h: signal.Float(math.NaN())})

	snap, ok := s.Get("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 50000.0, snap.Price)
	assert.Equal(t, -2.25, snap.Change24h)
}

func TestApplyTickWithoutValidFieldsIsNoop(t *testing.T) {
	s := NewStore()
	_, changed := s.ApplyTick(signal.Tick{Symbol: "SOLUSDT", Price: signal.Float(0), Volume24h: signal.Float(math.Inf(1))})
	assert.False(t, changed)
	_, ok := s.Get("SOLUSDT")
	assert.False(t, ok, "snapshot must not be created without a valid field")

	_, changed = s.ApplyTick(signal.Tick{Symbol: "SOLUSDT", Volume24h: signal.Float(0)})
	assert.True(t, changed, "zero volume is valid")
	_, ok = s.Get("SOLUSDT")
	assert.True(t, ok)
}

func TestApplyTickNeverOverwritesValidWithInvalid(t *testing.T) {
	s := NewStore()
	rng := rand.New(rand.NewSource(7))
	pick := func() *float64 {
		switch rng.Intn(6) {
		case 0:
			return nil
		case 1:
			return signal.Float(math.NaN())
		case 2:
			return signal.Float(math.Inf(-1))
		case 3:
			return signal.Float(-rng.Float64())
		case 4:
			return signal.Float(0)
		default:
			return signal.Float(1 + rng.Float64()*100)
		}
	}

	var last Snapshot
	for i := 0; i < 2000; i++ {
		tick := signal.Tick{Symbol: "XRPUSDT", Price: pick(), High24h: pick(), Low24h: pick(), Ts: time.Unix(int64(i), 0)}
		snap, _ := s.ApplyTick(tick)
		if last.Price > 0 {
			require.Greater(t, snap.Price, 0.0, "price regressed at step %d", i)
		}
		if last.High24h > 0 {
			require.Greater(t, snap.High24h, 0.0)
		}
		if last.Low24h > 0 {
			require.Greater(t, snap.Low24h, 0.0)
		}
		if tick.Price == nil || *tick.Price <= 0 || math.IsNaN(*tick.Price) {
			require.Equal(t, last.Price, snap.Price, "invalid price replaced stored value at step %d", i)
		}
		last = snap
	}
}

func TestFundingAndPrice(t *testing.T) {
	s := NewStore()
	_, ok := s.Price("BNBUSDT")
	assert.False(t, ok)

	s.ApplyTick(signal.Tick{Symbol: "BNBUSDT", FundingRate: signal.Float(-0.0001)})
	f, ok := s.Funding("BNBUSDT")
	require.True(t, ok)
	assert.Equal(t, -0.0001, f)
	_, ok = s.Price("BNBUSDT")
	assert.False(t, ok, "funding alone does not provide a price")

	s.ApplyTick(signal.Tick{Symbol: "ADAUSDT", Price: signal.Float(0.5)})
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "ADAUSDT", all[0].Symbol)
}

func TestApplyTickDropsOutOfOrderTicks(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, changed := s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(101), Ts: base.Add(2 * time.Second)})
	require.True(t, changed)

	snap, changed := s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(99), Change24h: signal.Float(-3), Ts: base.Add(time.Second)})
	assert.False(t, changed)
	assert.Equal(t, 101.0, snap.Price)
	assert.Zero(t, snap.Change24h)
	assert.True(t, snap.LastUpdate.Equal(base.Add(2*time.Second)))

	snap, changed = s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Change24h: signal.Float(1.2), Ts: base.Add(2 * time.Second)})
	assert.True(t, changed, "equal timestamps still merge")
	assert.Equal(t, 1.2, snap.Change24h)

	snap, changed = s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(150)})
	assert.True(t, changed, "untimed ticks always merge")
	assert.Equal(t, 150.0, snap.Price)
	_, changed = s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(98), Ts: base.Add(time.Second)})
	assert.False(t, changed, "untimed ticks do not reset the ordering")
	snap, _ = s.ApplyTick(signal.Tick{Symbol: "BTCUSDT", Price: signal.Float(102), Ts: base.Add(3 * time.Second)})
	assert.Equal(t, 102.0, snap.Price)
}
