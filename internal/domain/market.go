package domain

// AssetStat is a point-in-time market snapshot entry for one asset.
type AssetStat struct {
	Asset        string
	Price        float64
	PrevDayPrice float64
	Volume       float64
}

// Change24h returns the percentage change against the previous day price.
func (s AssetStat) Change24h() float64 {
	if s.PrevDayPrice == 0 {
		return 0
	}
	return (s.Price - s.PrevDayPrice) / s.PrevDayPrice * 100
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook holds the best bid/ask levels for an asset.
type OrderBook struct {
	Asset string
	Bids  []BookLevel
	Asks  []BookLevel
}
