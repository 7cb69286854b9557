package models

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ Стратегии распределения ============

// StrategyName - именованная эвристика распределения процентов по целям
type StrategyName string

// Именованные стратегии Cornix
const (
	StrategyEvenlyDivided         StrategyName = "Evenly Divided"
	StrategyOneTarget             StrategyName = "One Target"
	StrategyTwoTargets            StrategyName = "Two Targets"
	StrategyThreeTargets          StrategyName = "Three Targets"
	StrategyFiftyOnFirstTarget    StrategyName = "Fifty On First Target"
	StrategyDecreasingExponential StrategyName = "Decreasing Exponential"
	StrategyIncreasingExponential StrategyName = "Increasing Exponential"
	StrategySkipFirst             StrategyName = "Skip First"
)

// PriceTarget - сырой вес цели до сопоставления с ценой
type PriceTarget struct {
	Percentage float64 `json:"percentage"`
}

// PriceTargetWithPrice - цель с ценой и порядковым номером (с 1)
type PriceTargetWithPrice struct {
	ID         int     `json:"id"`
	Percentage float64 `json:"percentage"`
	Price      float64 `json:"price"`
}

// Strategy - либо именованная эвристика (Name), либо явный список весов (Targets).
//
// В JSON представлена строкой ("Evenly Divided") или массивом
// ([{"percentage": 50}, {"percentage": 50}]).
type Strategy struct {
	Name    StrategyName
	Targets []PriceTarget
}

// NamedStrategy создаёт именованную стратегию
func NamedStrategy(name StrategyName) Strategy {
	return Strategy{Name: name}
}

// CustomStrategy создаёт явную стратегию из процентов
func CustomStrategy(percentages ...float64) Strategy {
	targets := make([]PriceTarget, len(percentages))
	for i, p := range percentages {
		targets[i] = PriceTarget{Percentage: p}
	}
	return Strategy{Targets: targets}
}

// IsCustom - стратегия задана явным списком весов
func (s Strategy) IsCustom() bool {
	return s.Name == "" && s.Targets != nil
}

// IsZero - стратегия не задана
func (s Strategy) IsZero() bool {
	return s.Name == "" && s.Targets == nil
}

func (s Strategy) String() string {
	if s.IsCustom() {
		parts := make([]string, len(s.Targets))
		for i, t := range s.Targets {
			parts[i] = fmt.Sprintf("%g", t.Percentage)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return string(s.Name)
}

// MarshalJSON реализует json.Marshaler
func (s Strategy) MarshalJSON() ([]byte, error) {
	if s.IsCustom() {
		return json.Marshal(s.Targets)
	}
	return json.Marshal(string(s.Name))
}

// UnmarshalJSON реализует json.Unmarshaler
func (s *Strategy) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = Strategy{}
		return nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var targets []PriceTarget
		if err := json.Unmarshal(data, &targets); err != nil {
			return fmt.Errorf("invalid strategy targets: %w", err)
		}
		*s = Strategy{Targets: targets}
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("invalid strategy: %w", err)
	}
	*s = Strategy{Name: StrategyName(name)}
	return nil
}

// ============ Trailing stop / trailing take-profit ============

// TrailingStopType - политика переноса стоп-лосса после тейков
type TrailingStopType string

// Политики переноса стоп-лосса
const (
	TrailingStopWithout              TrailingStopType = "without"
	TrailingStopMovingTarget         TrailingStopType = "moving-target"
	TrailingStopMoving2Target        TrailingStopType = "moving-2-target"
	TrailingStopBreakeven            TrailingStopType = "breakeven"
	TrailingStopPercentBelowHighest  TrailingStopType = "percent-below-highest"
	TrailingStopPercentBelowTriggers TrailingStopType = "percent-below-triggers"
)

// TrailingStop - политика переноса стоп-лосса
type TrailingStop struct {
	Type       TrailingStopType `json:"type"`
	Trigger    int              `json:"trigger,omitempty"`    // номер TP (с 1)
	TriggerPct float64          `json:"triggerPct,omitempty"` // триггер по проценту движения
}

// TrailingTakeProfit - дистанция trailing take-profit как доля (0.02 = 2%)
// или "without". Нулевое значение означает "не задано" и ведёт себя как "without".
type TrailingTakeProfit struct {
	Distance float64
	Without  bool
}

// TrailingDistance создаёт trailing take-profit с заданной дистанцией
func TrailingDistance(d float64) TrailingTakeProfit {
	return TrailingTakeProfit{Distance: d}
}

// NoTrailing - trailing take-profit выключен
func NoTrailing() TrailingTakeProfit {
	return TrailingTakeProfit{Without: true}
}

// Enabled - trailing take-profit активен
func (t TrailingTakeProfit) Enabled() bool {
	return !t.Without && t.Distance > 0
}

// IsZero - значение не задано
func (t TrailingTakeProfit) IsZero() bool {
	return !t.Without && t.Distance == 0
}

// MarshalJSON реализует json.Marshaler
func (t TrailingTakeProfit) MarshalJSON() ([]byte, error) {
	if !t.Enabled() {
		return []byte(`"without"`), nil
	}
	return json.Marshal(t.Distance)
}

// UnmarshalJSON реализует json.Unmarshaler
func (t *TrailingTakeProfit) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*t = TrailingTakeProfit{}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "without" {
			return fmt.Errorf("invalid trailingTakeProfit %q", s)
		}
		*t = NoTrailing()
		return nil
	}

	var d float64
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("invalid trailingTakeProfit: %w", err)
	}
	*t = TrailingDistance(d)
	return nil
}

// ============ Конфигурация ============

// EntryType - способ задания входов
type EntryType string

// Способы задания входов
const (
	EntryTypeTarget EntryType = "target"
	EntryTypeZone   EntryType = "zone"
)

// StopLossConfig - настройки стоп-лосса
type StopLossConfig struct {
	DefaultStopLossPct          float64 `json:"defaultStopLossPct,omitempty"` // доля, 0.05 = 5%
	AutomaticLeverageAdjustment bool    `json:"automaticLeverageAdjustment,omitempty"`
	StopLimitPriceReduction     float64 `json:"stopLimitPriceReduction,omitempty"`
	StopTimeoutMinutes          int     `json:"stopTimeoutMinutes,omitempty"`
	StopType                    string  `json:"stopType,omitempty"` // Limit | Market
}

// CornixConfiguration - набор правил распределения и риска, применяемый к ордеру.
//
// Нулевые значения полей означают "не задано": при слиянии конфигураций
// (cornix.GetFlattenedConfig) они не перекрывают базовую конфигурацию.
type CornixConfiguration struct {
	Amount                      float64            `json:"amount,omitempty"`
	AmountPct                   float64            `json:"amountPct,omitempty"` // % от доступного баланса
	CloseTradeOnTpSlBeforeEntry *bool              `json:"closeTradeOnTpSlBeforeEntry,omitempty"`
	FirstEntryGracePct          float64            `json:"firstEntryGracePct,omitempty"` // в процентах, 0.5 = 0.5%
	Entries                     Strategy           `json:"entries"`
	TPs                         Strategy           `json:"tps"`
	EntryType                   EntryType          `json:"entryType,omitempty"`
	EntryZoneTargets            int                `json:"entryZoneTargets,omitempty"`
	TrailingStop                TrailingStop       `json:"trailingStop"`
	TrailingTakeProfit          TrailingTakeProfit `json:"trailingTakeProfit"`
	MaxLeverage                 float64            `json:"maxLeverage,omitempty"`
	MaxActiveOrders             int                `json:"maxActiveOrders,omitempty"` // -1 = без лимита
	SL                          *StopLossConfig    `json:"sl,omitempty"`
}

// ShouldCloseOnTpBeforeEntry - закрывать ли сделку при касании TP до входа (по умолчанию да)
func (c CornixConfiguration) ShouldCloseOnTpBeforeEntry() bool {
	return c.CloseTradeOnTpSlBeforeEntry == nil || *c.CloseTradeOnTpSlBeforeEntry
}
