package engine

// Phase - вариант состояния сделки
type Phase string

// Фазы жизненного цикла сделки
const (
	PhaseInitial        Phase = "initial"
	PhaseEntryReached   Phase = "entryReached"
	PhaseTpReached      Phase = "tpReached"
	PhaseAllProfitsDone Phase = "allProfitsDone"
	PhaseSlReached      Phase = "slReached"
	PhaseSlAfterTp      Phase = "slAfterTp"
	PhaseCancelled      Phase = "cancelled"
	PhaseTpBeforeEntry  Phase = "tpBeforeEntry"
)

// ValidTransitions определяет допустимые переходы между фазами.
// Терминальные фазы переходов не имеют.
var ValidTransitions = map[Phase][]Phase{
	PhaseInitial:      {PhaseEntryReached, PhaseTpBeforeEntry, PhaseCancelled},
	PhaseEntryReached: {PhaseEntryReached, PhaseTpReached, PhaseAllProfitsDone, PhaseSlReached, PhaseCancelled},
	PhaseTpReached:    {PhaseTpReached, PhaseAllProfitsDone, PhaseSlAfterTp, PhaseCancelled},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to Phase) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true если сделка в фазе закрыта
func IsTerminal(p Phase) bool {
	_, ok := ValidTransitions[p]
	return !ok
}

// PhaseInfo возвращает описание фазы для отчётов
func PhaseInfo(p Phase) string {
	switch p {
	case PhaseInitial:
		return "Ожидание первого входа"
	case PhaseEntryReached:
		return "Позиция открыта"
	case PhaseTpReached:
		return "Тейк-профит исполнен, позиция частично закрыта"
	case PhaseAllProfitsDone:
		return "Все тейк-профиты исполнены"
	case PhaseSlReached:
		return "Закрыта по стоп-лоссу"
	case PhaseSlAfterTp:
		return "Закрыта по стоп-лоссу после тейк-профита"
	case PhaseCancelled:
		return "Сделка отменена внешним событием"
	case PhaseTpBeforeEntry:
		return "Тейк-профит достигнут до входа"
	default:
		return "Неизвестная фаза"
	}
}
