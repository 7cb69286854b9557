package engine

import (
	"time"

	"backtrack/internal/cornix"
	"backtrack/internal/models"
)

// Fill - исполненная часть сделки: вход, тейк, стоп или продажа при отмене
type Fill struct {
	ID     int       `json:"id"` // номер цели, -1 для стопа и отмены
	Price  float64   `json:"price"`
	Coins  float64   `json:"coins"`
	Total  float64   `json:"total"` // price * coins, с учётом плеча
	Date   time.Time `json:"date"`
	Merged bool      `json:"merged,omitempty"` // цель пропущена trailing-выходом
}

// trailingState - рабочие поля trailing take-profit
type trailingState struct {
	active    bool
	reference float64 // лучший достигнутый экстремум
	stop      float64
	highestTp int   // id последнего пройденного тейка
	updatedAt int64 // openTime последней обработанной свечи
}

// State - неизменяемое состояние сделки.
//
// Каждый переход строит новое значение, исходное не меняется, поэтому
// State безопасно копировать и сравнивать снимки до и после свечи.
// Общим остаётся только журнал событий.
type State struct {
	phase Phase

	order     models.Order
	config    models.CornixConfiguration
	direction models.Direction
	leverage  float64
	allocated float64

	entryTargets     []models.PriceTargetWithPrice
	tpTargets        []models.PriceTargetWithPrice
	remainingEntries []models.PriceTargetWithPrice
	remainingTps     []models.PriceTargetWithPrice

	openTime  time.Time
	closeTime *time.Time

	entries     []Fill
	takeProfits []Fill
	exit        *Fill

	cancelled bool
	currentSl *float64
	trailing  trailingState

	currentPrice *models.TradeData

	detailed      bool
	crossLoggedAt int64

	log Logger
}

// NewState строит начальное состояние сделки.
//
// Ошибка конфигурации (*cornix.ConfigError) фатальна только для этого ордера.
// В детальном режиме перенос стоп-лосса отключается.
func NewState(order models.Order, cfg models.CornixConfiguration, detailed bool, log Logger) (State, error) {
	entries, tps, err := cornix.ResolveTargets(order, cfg)
	if err != nil {
		return State{}, err
	}

	if log == nil {
		log = nopLogger{}
	}

	direction := cornix.InferDirection(order)
	order.Direction = direction

	if detailed {
		cfg.TrailingStop = models.TrailingStop{Type: models.TrailingStopWithout}
	}

	leverage := cornix.EffectiveLeverage(order, cfg)

	allocated := order.Amount
	if allocated <= 0 {
		allocated = cfg.Amount
	}

	currentSl := order.SL
	if currentSl != nil {
		v := *currentSl
		currentSl = &v
	} else {
		currentSl = cornix.GetDefaultStopLoss(entries, direction, leverage, cfg.SL)
	}

	return State{
		phase:            PhaseInitial,
		order:            order,
		config:           cfg,
		direction:        direction,
		leverage:         leverage,
		allocated:        allocated,
		entryTargets:     entries,
		tpTargets:        tps,
		remainingEntries: entries,
		remainingTps:     tps,
		openTime:         order.Date,
		currentSl:        currentSl,
		detailed:         detailed,
		crossLoggedAt:    -1,
		log:              log,
	}, nil
}

// ============ Доступ к полям ============

// Phase - текущая фаза
func (s State) Phase() Phase { return s.phase }

// Order - ордер с нормализованным направлением
func (s State) Order() models.Order { return s.order }

// Config - действующая конфигурация ордера
func (s State) Config() models.CornixConfiguration { return s.config }

// Direction - направление сделки
func (s State) Direction() models.Direction { return s.direction }

// Leverage - действующее плечо
func (s State) Leverage() float64 { return s.leverage }

// OpenTime - время открытия сделки
func (s State) OpenTime() time.Time { return s.openTime }

// CloseTime - время закрытия, nil пока сделка открыта
func (s State) CloseTime() *time.Time {
	if s.closeTime == nil {
		return nil
	}
	t := *s.closeTime
	return &t
}

// CurrentSl - действующий стоп-лосс, nil если не задан
func (s State) CurrentSl() *float64 {
	if s.currentSl == nil {
		return nil
	}
	v := *s.currentSl
	return &v
}

// CurrentPrice - последняя учтённая свеча
func (s State) CurrentPrice() *models.TradeData {
	if s.currentPrice == nil {
		return nil
	}
	c := *s.currentPrice
	return &c
}

// TrailingActive - trailing take-profit активирован
func (s State) TrailingActive() bool { return s.trailing.active }

// TrailingStopPrice - текущая цена trailing-стопа (0 если trailing не активен)
func (s State) TrailingStopPrice() float64 { return s.trailing.stop }

// Entries возвращает исполненные входы
func (s State) Entries() []Fill { return append([]Fill(nil), s.entries...) }

// TakeProfits возвращает исполненные тейки, включая пропущенные trailing-выходом
func (s State) TakeProfits() []Fill { return append([]Fill(nil), s.takeProfits...) }

// RemainingEntries возвращает неисполненные входы
func (s State) RemainingEntries() []models.PriceTargetWithPrice {
	return append([]models.PriceTargetWithPrice(nil), s.remainingEntries...)
}

// RemainingTps возвращает неисполненные тейки
func (s State) RemainingTps() []models.PriceTargetWithPrice {
	return append([]models.PriceTargetWithPrice(nil), s.remainingTps...)
}

// IsOpen - исполнен хотя бы один вход
func (s State) IsOpen() bool { return len(s.entries) > 0 }

// IsClosed - сделка закрыта
func (s State) IsClosed() bool { return s.closeTime != nil }

// IsFullyOpen - исполнены все входы
func (s State) IsFullyOpen() bool { return len(s.remainingEntries) == 0 }

// IsCancelled - сделка закрыта внешним событием или TP до входа
func (s State) IsCancelled() bool { return s.cancelled }

// HitSl - сделка закрыта стоп-лоссом
func (s State) HitSl() bool {
	return s.phase == PhaseSlReached || s.phase == PhaseSlAfterTp
}

// ============ Построение переходов ============

// to возвращает копию состояния в новой фазе.
// Недопустимый переход - ошибка программы.
func (s State) to(p Phase) State {
	if !CanTransition(s.phase, p) {
		panic("engine: invalid transition " + string(s.phase) + " -> " + string(p))
	}
	s.phase = p
	return s
}

func (s State) closedAt(c models.TradeData) State {
	t := c.OpenAt()
	s.closeTime = &t
	return s
}

func appendFills(fills []Fill, more ...Fill) []Fill {
	out := make([]Fill, 0, len(fills)+len(more))
	out = append(out, fills...)
	return append(out, more...)
}
