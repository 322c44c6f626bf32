// Package busevents is the external-facing echo of fleet state changes:
// price updates, profile pushes, and finalized transactions are published
// onto a broker so billing or dashboard systems outside this process can
// react. The in-process fan-out to agents never goes through it; agents
// read the atomic price cell directly.
package busevents

import (
	"encoding/json"
	"time"
)

// MessageQueue defines the interface for a message queue adapter
type MessageQueue interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte) error) error
	Close() error
}

const (
	SubjectPriceUpdated         = "fleet.price.updated"
	SubjectProfilePushed        = "fleet.profile.pushed"
	SubjectTransactionFinalized = "fleet.transaction.finalized"
)

// PriceUpdatedEvent announces a fleet-wide price change.
type PriceUpdatedEvent struct {
	EventType string  `json:"event_type"`
	Price     float64 `json:"price"`
	Stations  int     `json:"stations"`
	Timestamp string  `json:"timestamp"`
}

// ProfilePushedEvent announces a CSMS-originated charging profile push.
type ProfilePushedEvent struct {
	EventType string `json:"event_type"`
	StationID string `json:"station_id"`
	ProfileID int    `json:"profile_id"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
}

// TransactionFinalizedEvent announces a closed OCPP transaction; the
// billing worker consumes it to price and invoice the session.
type TransactionFinalizedEvent struct {
	EventType     string `json:"event_type"`
	StationID     string `json:"station_id"`
	TransactionID int    `json:"transaction_id"`
	EnergyWh      int    `json:"energy_wh"`
	StartedAt     string `json:"started_at"`
	StoppedAt     string `json:"stopped_at"`
	Timestamp     string `json:"timestamp"`
}

// PublishTransactionFinalized publishes a closed transaction; best-effort.
func PublishTransactionFinalized(mq MessageQueue, event TransactionFinalizedEvent) {
	event.EventType = "transaction.finalized"
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = mq.Publish(SubjectTransactionFinalized, data)
}

// PublishPriceUpdated publishes a price change; best-effort, errors are the
// broker adapter's to log.
func PublishPriceUpdated(mq MessageQueue, price float64, stations int) {
	data, err := json.Marshal(PriceUpdatedEvent{
		EventType: "price.updated",
		Price:     price,
		Stations:  stations,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	_ = mq.Publish(SubjectPriceUpdated, data)
}

// PublishProfilePushed publishes a profile push; best-effort.
func PublishProfilePushed(mq MessageQueue, stationID string, profileID int, kind string) {
	data, err := json.Marshal(ProfilePushedEvent{
		EventType: "profile.pushed",
		StationID: stationID,
		ProfileID: profileID,
		Kind:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	_ = mq.Publish(SubjectProfilePushed, data)
}
