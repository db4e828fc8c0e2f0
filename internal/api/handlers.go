package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"oracle-go/internal/engine"
	"oracle-go/internal/paper"
	"oracle-go/internal/signal"
)

type handler struct {
	backend Backend
	now     func() time.Time
}

type errorBody struct {
	Error string `json:"error"`
}

type predictionBody struct {
	paper.Prediction
	RemainingSeconds float64 `json:"remaining_seconds"`
}

type candlesBody struct {
	Symbol    string          `json:"symbol"`
	Horizon   string          `json:"horizon"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	Candles   []signal.Candle `json:"candles"`
}

type statsBody struct {
	paper.Stats
	WinRate float64 `json:"win_rate"`
}

func (h *handler) register(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.status)
	g.GET("/snapshots", h.snapshots)
	g.GET("/snapshots/:symbol", h.snapshot)
	g.GET("/signals", h.signals)
	g.GET("/signals/:symbol", h.signal)
	g.GET("/predictions", h.predictions)
	g.GET("/predictions/:symbol", h.predictionsFor)
	g.GET("/candles/:symbol", h.candles)
	g.GET("/trades", h.trades)
	g.GET("/stats", h.stats)
	g.PUT("/selection", h.selection)
}

func symbolParam(c echo.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
}

func notFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorBody{Error: msg})
}

func (h *handler) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.backend.Status())
}

func (h *handler) snapshots(c echo.Context) error {
	return c.JSON(http.StatusOK, h.backend.State().Store.All())
}

func (h *handler) snapshot(c echo.Context) error {
	sym := symbolParam(c)
	snap, ok := h.backend.State().Store.Get(sym)
	if !ok {
		return notFound(c, "no market data for "+sym)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *handler) signals(c echo.Context) error {
	return c.JSON(http.StatusOK, h.backend.State().Signals())
}

func (h *handler) signal(c echo.Context) error {
	sym := symbolParam(c)
	sig, ok := h.backend.State().Signal(sym)
	if !ok {
		return notFound(c, "signal not ready for "+sym)
	}
	return c.JSON(http.StatusOK, sig)
}

func (h *handler) withCountdown(ps []paper.Prediction) []predictionBody {
	now := h.now()
	return lo.Map(ps, func(p paper.Prediction, _ int) predictionBody {
		return predictionBody{Prediction: p, RemainingSeconds: p.Remaining(now).Seconds()}
	})
}

func (h *handler) predictions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.withCountdown(h.backend.State().Predictions.Slots()))
}

func (h *handler) predictionsFor(c echo.Context) error {
	return c.JSON(http.StatusOK, h.withCountdown(h.backend.State().Predictions.ActiveFor(symbolParam(c))))
}

// candles returns the cached window for ?horizon=, defaulting to the selected one.
func (h *handler) candles(c echo.Context) error {
	sym := symbolParam(c)
	key := c.QueryParam("horizon")
	if key == "" {
		key = h.backend.State().Selection().Horizon
	}
	hz, ok := h.backend.Horizon(key)
	if !ok {
		return notFound(c, "unknown horizon "+key)
	}
	cache := h.backend.State().Candles
	bars := cache.Candles(sym, hz)
	if len(bars) == 0 {
		return notFound(c, "no candles for "+sym+" "+key)
	}
	body := candlesBody{Symbol: sym, Horizon: hz.Key, Candles: bars}
	if at, ok := cache.UpdatedAt(sym, hz); ok {
		body.UpdatedAt = &at
	}
	return c.JSON(http.StatusOK, body)
}

func (h *handler) trades(c echo.Context) error {
	return c.JSON(http.StatusOK, h.backend.State().Ledger.History())
}

func (h *handler) stats(c echo.Context) error {
	s := h.backend.State().Ledger.Stats()
	return c.JSON(http.StatusOK, statsBody{Stats: s, WinRate: s.WinRate()})
}

func (h *handler) selection(c echo.Context) error {
	var req engine.Selection
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := h.backend.Select(c.Request().Context(), req.Symbol, req.Horizon); err != nil {
		if errors.Is(err, engine.ErrUnknownSelection) {
			return c.JSON(http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		}
		return err
	}
	return c.JSON(http.StatusAccepted, req)
}
