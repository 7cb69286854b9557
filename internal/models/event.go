package models

// EventType - закрытый набор типов событий журнала сделки
type EventType string

// Типы событий журнала
const (
	EventBuy                  EventType = "buy"
	EventSell                 EventType = "sell"
	EventSellWithTrailing     EventType = "sell with trailing"
	EventSL                   EventType = "sl"
	EventCancelled            EventType = "cancelled"
	EventTrailingActivated    EventType = "trailing activated"
	EventTrailingPriceUpdated EventType = "trailing price updated"
	EventSLMoved              EventType = "sl moved"
	EventCross                EventType = "cross"
	EventClose                EventType = "close"
	EventInfo                 EventType = "info"
)

// Подтипы событий cross
const (
	CrossEntry        = "entry"
	CrossAverageEntry = "averageEntry"
	CrossTP           = "tp"
	CrossSL           = "sl"
)

// Направления пересечения
const (
	CrossUp   = "up"
	CrossDown = "down"
)

// Event - запись журнала сделки. Набор заполненных полей определяется Type,
// поэтому события создаются только через конструкторы ниже.
type Event struct {
	Type              EventType `json:"type"`
	Timestamp         int64     `json:"timestamp"`
	Price             float64   `json:"price,omitempty"`
	Spent             float64   `json:"spent,omitempty"`
	SpentWithLeverage float64   `json:"spentWithLeverage,omitempty"`
	Bought            float64   `json:"bought,omitempty"`
	Sold              float64   `json:"sold,omitempty"`
	Total             float64   `json:"total,omitempty"`
	TrailingStopPrice float64   `json:"trailingStopPrice,omitempty"`
	ID                int       `json:"id,omitempty"`
	Direction         string    `json:"direction,omitempty"`
	Subtype           string    `json:"subtype,omitempty"`
	Text              string    `json:"text,omitempty"`
	OrderTime         int64     `json:"orderTime,omitempty"`
	CandleTime        int64     `json:"candleTime,omitempty"`
}

// BuyEvent - исполнение входа
func BuyEvent(ts int64, price, spent, spentWithLeverage, bought float64) Event {
	return Event{Type: EventBuy, Timestamp: ts, Price: price, Spent: spent, SpentWithLeverage: spentWithLeverage, Bought: bought}
}

// SaleEvent - продажа (sell, sell with trailing, sl, cancelled)
func SaleEvent(kind EventType, ts int64, price, total, sold float64) Event {
	return Event{Type: kind, Timestamp: ts, Price: price, Total: total, Sold: sold}
}

// TrailingActivatedEvent - первое касание TP при включённом trailing
func TrailingActivatedEvent(ts int64, price float64) Event {
	return Event{Type: EventTrailingActivated, Timestamp: ts, Price: price}
}

// TrailingUpdatedEvent - новый экстремум цены, стоп подтянут
func TrailingUpdatedEvent(ts int64, price, stop float64) Event {
	return Event{Type: EventTrailingPriceUpdated, Timestamp: ts, Price: price, TrailingStopPrice: stop}
}

// SLMovedEvent - перенос стоп-лосса
func SLMovedEvent(ts int64, price float64) Event {
	return Event{Type: EventSLMoved, Timestamp: ts, Price: price}
}

// CrossEvent - цена свечи пересекла уровень (детальный журнал)
func CrossEvent(ts int64, direction, subtype string, id int, price float64) Event {
	return Event{Type: EventCross, Timestamp: ts, Direction: direction, Subtype: subtype, ID: id, Price: price}
}

// CloseEvent - сделка закрыта без продажи (например, TP до входа)
func CloseEvent(ts int64, price float64, text string) Event {
	return Event{Type: EventClose, Timestamp: ts, Price: price, Text: text}
}

// InfoEvent - служебное сообщение
func InfoEvent(ts int64, text string) Event {
	return Event{Type: EventInfo, Timestamp: ts, Text: text}
}

// SkipEvent - свеча пропущена (до открытия сделки или после закрытия)
func SkipEvent(text string, orderTime, candleTime int64) Event {
	return Event{Type: EventInfo, Timestamp: candleTime, Text: text, OrderTime: orderTime, CandleTime: candleTime}
}
