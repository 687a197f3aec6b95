package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a decoded event variant.
type EventKind string

const (
	KindVerifierAdded            EventKind = "VerifierAdded"
	KindVerifierRemoved          EventKind = "VerifierRemoved"
	KindOwnershipTransferred     EventKind = "OwnershipTransferred"
	KindDeviceRegistered         EventKind = "DeviceRegistered"
	KindDeviceUpdated            EventKind = "DeviceUpdated"
	KindDeviceTransferred        EventKind = "DeviceTransferred"
	KindDataSubmitted            EventKind = "DataSubmitted"
	KindMarketplaceConfigUpdated EventKind = "MarketplaceConfigUpdated"
	KindUnknown                  EventKind = "Unknown"
)

// Provenance identifies the log an event was decoded from.
type Provenance struct {
	BlockNumber uint64      `json:"block_number"`
	TxHash      common.Hash `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
}

// EventMeta is embedded by every event variant.
type EventMeta struct {
	Source   string         `json:"source"`
	Contract common.Address `json:"contract"`
	Origin   Provenance     `json:"origin"`
}

// NewEventMeta copies provenance from the originating log.
func NewEventMeta(source string, log RawLog) EventMeta {
	return EventMeta{
		Source:   source,
		Contract: log.Address,
		Origin:   log.Provenance(),
	}
}

func (m EventMeta) Meta() EventMeta { return m }

func (m EventMeta) Provenance() Provenance { return m.Origin }

func (EventMeta) isEvent() {}

// Event is the closed set of decoded contract events.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
	Provenance() Provenance
	isEvent()
}

type VerifierAdded struct {
	EventMeta
	Verifier  common.Address `json:"verifier"`
	Timestamp int64          `json:"timestamp"`
}

func (VerifierAdded) Kind() EventKind { return KindVerifierAdded }

type VerifierRemoved struct {
	EventMeta
	Verifier  common.Address `json:"verifier"`
	Timestamp int64          `json:"timestamp"`
}

func (VerifierRemoved) Kind() EventKind { return KindVerifierRemoved }

// OwnershipTransferred is emitted by every Ownable contract kind.
type OwnershipTransferred struct {
	EventMeta
	ContractType  SourceKind     `json:"contract_type"`
	PreviousOwner common.Address `json:"previous_owner"`
	NewOwner      common.Address `json:"new_owner"`
}

func (OwnershipTransferred) Kind() EventKind { return KindOwnershipTransferred }

type DeviceRegistered struct {
	EventMeta
	DeviceID   common.Hash    `json:"device_id"`
	Owner      common.Address `json:"owner"`
	DeviceType uint8          `json:"device_type"`
	Zone       string         `json:"zone"`
	Timestamp  int64          `json:"timestamp"`
}

func (DeviceRegistered) Kind() EventKind { return KindDeviceRegistered }

type DeviceUpdated struct {
	EventMeta
	DeviceID  common.Hash    `json:"device_id"`
	Owner     common.Address `json:"owner"`
	Timestamp int64          `json:"timestamp"`
}

func (DeviceUpdated) Kind() EventKind { return KindDeviceUpdated }

type DeviceTransferred struct {
	EventMeta
	DeviceID  common.Hash    `json:"device_id"`
	OldOwner  common.Address `json:"old_owner"`
	NewOwner  common.Address `json:"new_owner"`
	Timestamp int64          `json:"timestamp"`
}

func (DeviceTransferred) Kind() EventKind { return KindDeviceTransferred }

type DataSubmitted struct {
	EventMeta
	DataHash     common.Hash    `json:"data_hash"`
	DeviceIDHash common.Hash    `json:"device_id_hash"`
	DeviceOwner  common.Address `json:"device_owner"`
	Timestamp    int64          `json:"timestamp"`
}

func (DataSubmitted) Kind() EventKind { return KindDataSubmitted }

type MarketplaceConfigUpdated struct {
	EventMeta
	BaseFee *big.Int `json:"base_fee"`
}

func (MarketplaceConfigUpdated) Kind() EventKind { return KindMarketplaceConfigUpdated }

// UnknownEvent is returned for logs whose signature is not in the decode table.
// It is never persisted.
type UnknownEvent struct {
	EventMeta
	Topic0 common.Hash `json:"topic0"`
}

func (UnknownEvent) Kind() EventKind { return KindUnknown }
