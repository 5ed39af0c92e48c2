package domain

import "context"

// BrokerConnector opens broker sessions.
type BrokerConnector interface {
	// Connect acquires a session. Callers must Close it on every exit path.
	Connect(ctx context.Context) (BrokerSession, error)
}

// BrokerSession is a scoped connection to a broker account.
type BrokerSession interface {
	// Prices returns last prices for the requested tickers. Tickers the
	// broker cannot price are absent from the result.
	Prices(ctx context.Context, tickers []Ticker) (Prices, error)

	// Positions returns current share holdings.
	Positions(ctx context.Context) ([]Holding, error)

	// AccountValue returns the net liquidation value of the account.
	AccountValue(ctx context.Context) (float64, error)

	// SubmitOrders places limit orders and reports a per-order outcome.
	SubmitOrders(ctx context.Context, orders []SubmitRequest) ([]OrderOutcome, error)

	// CancelOpenOrders cancels every open order on the account.
	CancelOpenOrders(ctx context.Context) ([]CancelOutcome, error)

	Close() error
}
