package backtest

import (
	"fmt"
	"time"
)

// NewPortfolio creates an all-cash portfolio snapshot
func NewPortfolio(cash float64, ts time.Time) Portfolio {
	return Portfolio{
		Cash:       cash,
		TotalValue: cash,
		Positions:  make(map[string]Position),
		Timestamp:  ts,
	}
}

// clone returns a deep copy so transitions never alias shared state
func (p Portfolio) clone() Portfolio {
	next := p
	next.Positions = make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		next.Positions[k] = v
	}
	next.Trades = make([]ExecutedTrade, len(p.Trades), len(p.Trades)+1)
	copy(next.Trades, p.Trades)
	return next
}

// PositionsValue returns the sum of position market values
func (p Portfolio) PositionsValue() float64 {
	total := 0.0
	for _, pos := range p.Positions {
		total += pos.MarketValue
	}
	return total
}

// ApplyTrade folds an executed trade into the portfolio and returns the
// new snapshot. Buys extend the volume-weighted average price; sells
// realize P&L against it. A sell is clamped to the held quantity: short
// inventory is not supported.
func ApplyTrade(p Portfolio, trade ExecutedTrade) (Portfolio, error) {
	if trade.Quantity <= 0 {
		return p, fmt.Errorf("trade quantity must be positive, got %d", trade.Quantity)
	}

	next := p.clone()
	pos := next.Positions[trade.Symbol]
	pos.Symbol = trade.Symbol

	switch trade.Side {
	case OrderSideBuy:
		cost := trade.ExecutionPrice*float64(trade.Quantity) + trade.Commission
		if cost > next.Cash {
			return p, fmt.Errorf("insufficient cash for %s buy: need %.2f, have %.2f", trade.Symbol, cost, next.Cash)
		}
		totalQty := pos.Quantity + trade.Quantity
		pos.AveragePrice = (pos.AveragePrice*float64(pos.Quantity) + trade.ExecutionPrice*float64(trade.Quantity)) / float64(totalQty)
		pos.Quantity = totalQty
		next.Cash -= cost

	case OrderSideSell:
		if pos.Quantity == 0 {
			return p, fmt.Errorf("no position in %s to sell", trade.Symbol)
		}
		qty := trade.Quantity
		if qty > pos.Quantity {
			qty = pos.Quantity
		}
		proceeds := trade.ExecutionPrice*float64(qty) - trade.Commission
		pos.RealizedPnL += (trade.ExecutionPrice-pos.AveragePrice)*float64(qty) - trade.Commission
		pos.Quantity -= qty
		next.Cash += proceeds

	default:
		return p, fmt.Errorf("unknown trade side %q", trade.Side)
	}

	pos.MarketValue = float64(pos.Quantity) * trade.ExecutionPrice
	pos.UnrealizedPnL = float64(pos.Quantity) * (trade.ExecutionPrice - pos.AveragePrice)
	pos.LastUpdated = trade.Timestamp

	if pos.Quantity == 0 {
		delete(next.Positions, trade.Symbol)
	} else {
		next.Positions[trade.Symbol] = pos
	}

	next.Trades = append(next.Trades, trade)
	next.Timestamp = trade.Timestamp
	next.TotalValue = next.Cash + next.PositionsValue()
	return next, nil
}

// Revalue marks all positions to the supplied closing prices and
// returns the new snapshot. Symbols without a price keep their last
// known market value.
func Revalue(p Portfolio, prices map[string]float64, ts time.Time) Portfolio {
	next := p.clone()
	for symbol, pos := range next.Positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		pos.MarketValue = float64(pos.Quantity) * price
		pos.UnrealizedPnL = float64(pos.Quantity) * (price - pos.AveragePrice)
		pos.LastUpdated = ts
		next.Positions[symbol] = pos
	}
	next.Timestamp = ts
	next.TotalValue = next.Cash + next.PositionsValue()
	return next
}
