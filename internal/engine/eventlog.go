package engine

import "backtrack/internal/models"

// Logger принимает события журнала сделки
type Logger interface {
	Log(e models.Event)
	Verbose(e models.Event)
}

// EventLog - журнал событий сделки, только дописывается.
// Verbose-события сохраняются только в подробном режиме.
type EventLog struct {
	verbose bool
	events  []models.Event
}

// NewEventLog создаёт журнал
func NewEventLog(verbose bool) *EventLog {
	return &EventLog{verbose: verbose}
}

// Log добавляет событие
func (l *EventLog) Log(e models.Event) {
	if l == nil {
		return
	}
	l.events = append(l.events, e)
}

// Verbose добавляет событие только в подробном режиме
func (l *EventLog) Verbose(e models.Event) {
	if l == nil || !l.verbose {
		return
	}
	l.events = append(l.events, e)
}

// Events возвращает копию событий
func (l *EventLog) Events() []models.Event {
	if l == nil {
		return nil
	}
	out := make([]models.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len - количество событий
func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.events)
}

// Since возвращает события, добавленные после позиции from
func (l *EventLog) Since(from int) []models.Event {
	if l == nil || from >= len(l.events) {
		return nil
	}
	if from < 0 {
		from = 0
	}
	out := make([]models.Event, len(l.events)-from)
	copy(out, l.events[from:])
	return out
}

type nopLogger struct{}

func (nopLogger) Log(models.Event)     {}
func (nopLogger) Verbose(models.Event) {}
