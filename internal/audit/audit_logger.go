package audit

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	EntryID   string    `json:"entry_id"`
	OrderID   string    `json:"order_id,omitempty"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// Logger emits a flat audit trail of every balance-affecting event and every
// detected divergence. Audit lines are written even when structured logging
// is tuned down, so money movements are always traceable.
type Logger struct {
	log *logrus.Logger
}

func NewLogger(log *logrus.Logger) *Logger {
	return &Logger{log: log}
}

func (a *Logger) LogMovement(entryID, orderID, accountID, entryType string, amount int64, status string) {
	a.emit(logrus.InfoLevel, Event{
		Timestamp: time.Now(),
		EventType: "MOVEMENT",
		EntryID:   entryID,
		OrderID:   orderID,
		AccountID: accountID,
		Amount:    amount,
		Status:    status,
		Details:   map[string]string{"entry_type": entryType},
	})
}

// LogDivergence records a partial application across the order/balance/ledger
// triple, e.g. an order marked paid whose wallet debit did not commit.
// Compensation outcome is included so a reconciliation sweep can pick it up.
func (a *Logger) LogDivergence(entryID, orderID, accountID string, amount int64, cause error, compensated bool) {
	a.emit(logrus.ErrorLevel, Event{
		Timestamp: time.Now(),
		EventType: "DIVERGENCE",
		EntryID:   entryID,
		OrderID:   orderID,
		AccountID: accountID,
		Amount:    amount,
		Status:    "FAILED",
		Details: map[string]any{
			"cause":       cause.Error(),
			"compensated": compensated,
		},
	})
}

func (a *Logger) LogError(entryID, accountID string, err error) {
	a.emit(logrus.WarnLevel, Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		EntryID:   entryID,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) emit(level logrus.Level, event Event) {
	data, _ := json.Marshal(event)
	a.log.WithField("audit", true).Log(level, string(data))
}
