package marketapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradecore/internal/analyst"
	"tradecore/internal/domain/position"
	"tradecore/internal/domain/regime"
	"tradecore/internal/domain/trading"
	"tradecore/internal/monitor"
	"tradecore/internal/risk"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

var (
	_ analyst.IndicatorSource = (*Client)(nil)
	_ risk.RegimeProvider     = (*Client)(nil)
	_ risk.ExposureCalculator = (*Client)(nil)
	_ risk.PriceSource        = (*Client)(nil)
	_ monitor.PriceSource     = (*Client)(nil)
	_ monitor.PositionCloser  = (*Client)(nil)
	_ monitor.OrderExecutor   = (*Client)(nil)
)

// Config for the market services HTTP API
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client talks to the market services that classify regimes, compute
// indicators and exposure, quote prices and route orders.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetHeader("X-API-Key", cfg.APIKey)
	}

	perSecond := float64(cfg.RequestsPerMinute) / 60
	burst := cfg.RequestsPerMinute / 60
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http:    c,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     logger.Get().With("component", "market_api"),
	}
}

type regimeResponse struct {
	Symbol        string             `json:"symbol"`
	Regime        string             `json:"regime"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Timestamp     time.Time          `json:"timestamp"`
}

// GetRegime returns the current regime classification for symbol
func (c *Client) GetRegime(ctx context.Context, symbol string) (*regime.Regime, error) {
	var out regimeResponse
	if err := c.do(ctx, http.MethodGet, "/regime/{symbol}", symbol, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "regime %s", symbol)
	}
	if out.Symbol == "" {
		out.Symbol = symbol
	}
	return &regime.Regime{
		Symbol:        out.Symbol,
		Label:         regime.Label(strings.ToLower(out.Regime)),
		Confidence:    out.Confidence,
		Probabilities: out.Probabilities,
		Timestamp:     out.Timestamp,
	}, nil
}

type indicatorsRequest struct {
	Symbol     string   `json:"symbol"`
	Indicators []string `json:"indicators"`
}

type indicatorsResponse struct {
	Values map[string]float64 `json:"values"`
}

// CalculateIndicators returns the requested indicator values keyed by name
func (c *Client) CalculateIndicators(ctx context.Context, symbol string, names []string) (map[string]float64, error) {
	var out indicatorsResponse
	req := indicatorsRequest{Symbol: symbol, Indicators: names}
	if err := c.do(ctx, http.MethodPost, "/indicators", "", req, &out); err != nil {
		return nil, errors.Wrapf(err, "indicators %s", symbol)
	}
	if out.Values == nil {
		out.Values = map[string]float64{}
	}
	return out.Values, nil
}

type exposureRequest struct {
	PortfolioValue float64                    `json:"portfolio_value"`
	Positions      []trading.PositionSnapshot `json:"positions"`
}

// GetExposure asks the exposure service for a cash/sector/symbol breakdown
func (c *Client) GetExposure(ctx context.Context, portfolioValue float64, positions []trading.PositionSnapshot) (*risk.Exposure, error) {
	if positions == nil {
		positions = []trading.PositionSnapshot{}
	}
	var out risk.Exposure
	req := exposureRequest{PortfolioValue: portfolioValue, Positions: positions}
	if err := c.do(ctx, http.MethodPost, "/exposure", "", req, &out); err != nil {
		return nil, errors.Wrap(err, "exposure")
	}
	return &out, nil
}

type priceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// GetPrice quotes the last traded price
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out priceResponse
	if err := c.do(ctx, http.MethodGet, "/price/{symbol}", symbol, nil, &out); err != nil {
		return decimal.Zero, errors.Wrapf(err, "price %s", symbol)
	}
	if !out.Price.IsPositive() {
		return decimal.Zero, errors.Wrapf(errors.ErrUnavailable, "no price for %s", symbol)
	}
	return out.Price, nil
}

type closeRequest struct {
	PositionID string            `json:"position_id"`
	OrderID    string            `json:"order_id"`
	Symbol     string            `json:"symbol"`
	Direction  trading.Direction `json:"direction"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Price      decimal.Decimal   `json:"price"`
	Reason     string            `json:"reason"`
}

type closeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ClosePosition routes a close for pos. Anything other than an explicit
// success=true reply is returned as ErrUnavailable so the monitor retries.
func (c *Client) ClosePosition(ctx context.Context, pos *position.MonitoredPosition, reason position.EventType, price decimal.Decimal) error {
	req := closeRequest{
		PositionID: pos.ID,
		OrderID:    pos.OrderID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Quantity:   pos.Quantity,
		Price:      price,
		Reason:     reason.String(),
	}
	var out closeResponse
	if err := c.do(ctx, http.MethodPost, "/positions/close", "", req, &out); err != nil {
		return errors.Wrapf(err, "close position %s", pos.ID)
	}
	if !out.Success {
		return errors.Wrapf(errors.ErrUnavailable, "close position %s not confirmed: %s", pos.ID, out.Message)
	}
	return nil
}

type executeRequest struct {
	OrderID    string            `json:"order_id"`
	Symbol     string            `json:"symbol"`
	Direction  trading.Direction `json:"direction"`
	Quantity   decimal.Decimal   `json:"quantity"`
	LimitPrice decimal.Decimal   `json:"limit_price"`
	Price      decimal.Decimal   `json:"price"`
}

type executeResponse struct {
	Filled    bool            `json:"filled"`
	FillPrice decimal.Decimal `json:"fill_price"`
	Message   string          `json:"message,omitempty"`
}

// ExecuteOrder routes a fill for order and returns the executed price.
// The reply must carry filled=true and a positive fill_price.
func (c *Client) ExecuteOrder(ctx context.Context, order *position.PendingOrder, price decimal.Decimal) (decimal.Decimal, error) {
	req := executeRequest{
		OrderID:    order.OrderID,
		Symbol:     order.Symbol,
		Direction:  order.Direction,
		Quantity:   order.Quantity,
		LimitPrice: order.LimitPrice,
		Price:      price,
	}
	var out executeResponse
	if err := c.do(ctx, http.MethodPost, "/orders", "", req, &out); err != nil {
		return decimal.Zero, errors.Wrapf(err, "execute order %s", order.OrderID)
	}
	if !out.Filled {
		return decimal.Zero, errors.Wrapf(errors.ErrUnavailable, "order %s not filled: %s", order.OrderID, out.Message)
	}
	if !out.FillPrice.IsPositive() {
		return decimal.Zero, errors.Wrapf(errors.ErrUnavailable, "order %s filled without a price", order.OrderID)
	}
	return out.FillPrice, nil
}

func (c *Client) do(ctx context.Context, method, path, symbol string, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter wait failed")
	}

	req := c.http.R().SetContext(ctx)
	if symbol != "" {
		req.SetPathParam("symbol", symbol)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		// some collaborators reply without a Content-Type; resty only decodes JSON it recognizes
		req.SetResult(result).ForceContentType("application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrTimeout, err.Error())
		}
		return errors.Wrap(errors.ErrUnavailable, err.Error())
	}
	if resp.IsError() {
		c.log.Debugw("Market API error response", "path", path, "status", resp.StatusCode(), "body", resp.String())
		return statusError(resp.StatusCode(), resp.String())
	}
	return nil
}

func statusError(code int, body string) error {
	switch {
	case code == http.StatusNotFound:
		return errors.Wrapf(errors.ErrNotFound, "status %d: %s", code, body)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return errors.Wrapf(errors.ErrInvalidInput, "status %d: %s", code, body)
	case code == http.StatusTooManyRequests || code >= 500:
		return errors.Wrapf(errors.ErrUnavailable, "status %d: %s", code, body)
	default:
		return errors.Newf("market api status %d: %s", code, body)
	}
}
