// Package treasury prices investment instruments from smooth deterministic noise
// over simulated time and settles buys and sells against the state ledger.
package treasury

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/model"
)

const minPrice = 0.01

type Market struct {
	cat   *catalogs.Catalogs
	noise opensimplex.Noise
}

func NewMarket(cat *catalogs.Catalogs, seed int64) *Market {
	return &Market{cat: cat, noise: opensimplex.New(seed)}
}

// Price is base × (1 + volatility × noise), where noise ∈ [-1,1] is sampled along
// the instrument's own row so instruments drift independently.
func (m *Market) Price(id string, simTimeMs int64) (float64, bool) {
	def, ok := m.cat.Instruments.ByID[id]
	if !ok {
		return 0, false
	}
	row := 0
	for i, oid := range m.cat.Instruments.Order {
		if oid == id {
			row = i
			break
		}
	}
	n := m.noise.Eval2(float64(simTimeMs)/float64(def.PeriodMs), float64(row)*17.31)
	p := def.BasePrice * (1 + def.Volatility*n)
	if p < minPrice {
		p = minPrice
	}
	return p, true
}

// Buy spends cash on shares at the current price.
func (m *Market) Buy(st *model.GameState, id string, cash float64) bool {
	if cash <= 0 || cash > st.Cash {
		return false
	}
	price, ok := m.Price(id, st.SimTimeMs)
	if !ok {
		return false
	}
	h := st.Treasury.Holdings[id]
	h.Shares += cash / price
	h.CostBasis += cash
	st.Treasury.Holdings[id] = h
	st.Cash -= cash
	return true
}

// Sell liquidates shares and books profit against the average cost basis.
// It returns the proceeds.
func (m *Market) Sell(st *model.GameState, id string, shares float64) (float64, bool) {
	h, held := st.Treasury.Holdings[id]
	if !held || shares <= 0 || shares > h.Shares {
		return 0, false
	}
	price, ok := m.Price(id, st.SimTimeMs)
	if !ok {
		return 0, false
	}
	proceeds := shares * price
	basis := h.CostBasis * shares / h.Shares
	h.Shares -= shares
	h.CostBasis -= basis
	if h.Shares <= 1e-12 {
		delete(st.Treasury.Holdings, id)
	} else {
		st.Treasury.Holdings[id] = h
	}
	st.Cash += proceeds
	st.Treasury.RealizedProfit += proceeds - basis
	return proceeds, true
}

// Value marks every holding to market.
func (m *Market) Value(st *model.GameState) float64 {
	total := 0.0
	for id, h := range st.Treasury.Holdings {
		if p, ok := m.Price(id, st.SimTimeMs); ok {
			total += h.Shares * p
		}
	}
	return total
}
