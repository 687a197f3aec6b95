package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"lcoreIndexer/internal/model"
)

type decodeFunc func(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error)

// decodeTable is the closed set of events each source kind understands.
// Adding an event kind means adding its ABI entry and one row here.
var decodeTable = map[model.SourceKind]map[string]decodeFunc{
	model.SourceVerifierRegistry: {
		"VerifierAdded":        decodeVerifierAdded,
		"VerifierRemoved":      decodeVerifierRemoved,
		"OwnershipTransferred": decodeOwnershipTransferred(model.SourceVerifierRegistry),
	},
	model.SourceDeviceRegistry: {
		"DeviceRegistered":     decodeDeviceRegistered,
		"DeviceUpdated":        decodeDeviceUpdated,
		"DeviceTransferred":    decodeDeviceTransferred,
		"OwnershipTransferred": decodeOwnershipTransferred(model.SourceDeviceRegistry),
	},
	model.SourceIoTPipeline: {
		"DataSubmitted":            decodeDataSubmitted,
		"MarketplaceConfigUpdated": decodeMarketplaceConfigUpdated,
		"OwnershipTransferred":     decodeOwnershipTransferred(model.SourceIoTPipeline),
	},
}

type route struct {
	event  abi.Event
	decode decodeFunc
}

// Decoder turns raw logs of one source into typed events.
type Decoder struct {
	source string
	kind   model.SourceKind
	routes map[common.Hash]route
}

// NewDecoder builds the signature table for a source of the given kind.
func NewDecoder(source string, kind model.SourceKind) (*Decoder, error) {
	contractABI, err := ContractABI(kind)
	if err != nil {
		return nil, err
	}
	table, ok := decodeTable[kind]
	if !ok {
		return nil, fmt.Errorf("no decode table for source kind %q", kind)
	}

	routes := make(map[common.Hash]route, len(table))
	for name, fn := range table {
		event, ok := contractABI.Events[name]
		if !ok {
			return nil, fmt.Errorf("%s abi has no event %s", kind, name)
		}
		routes[event.ID] = route{event: event, decode: fn}
	}
	for name := range contractABI.Events {
		if _, ok := table[name]; !ok {
			return nil, fmt.Errorf("%s event %s has no decoder", kind, name)
		}
	}

	return &Decoder{source: source, kind: kind, routes: routes}, nil
}

// Kind returns the source kind the decoder was built for.
func (d *Decoder) Kind() model.SourceKind {
	return d.kind
}

// canDecode checks if the topic0 is in the table.
func (d *Decoder) canDecode(topic0 common.Hash) bool {
	_, ok := d.routes[topic0]
	return ok
}

// Decode converts a RawLog into a typed event. Logs with an unknown
// signature yield model.UnknownEvent and a nil error; malformed logs yield
// a *model.DecodeError.
func (d *Decoder) Decode(log model.RawLog) (model.Event, error) {
	meta := model.NewEventMeta(d.source, log)
	r, ok := d.routes[log.Topic0()]
	if !ok {
		return model.UnknownEvent{EventMeta: meta, Topic0: log.Topic0()}, nil
	}

	event, err := r.decode(r.event, log, meta)
	if err != nil {
		return nil, model.NewDecodeError(d.source, log, fmt.Errorf("%s: %w", r.event.Name, err))
	}
	return event, nil
}

func decodeVerifierAdded(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
	verifier, ts, err := decodeVerifierChange(event, log)
	if err != nil {
		return nil, err
	}
	return model.VerifierAdded{EventMeta: meta, Verifier: verifier, Timestamp: ts}, nil
}

func decodeVerifierRemoved(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
	verifier, ts, err := decodeVerifierChange(event, log)
	if err != nil {
		return nil, err
	}
	return model.VerifierRemoved{EventMeta: meta, Verifier: verifier, Timestamp: ts}, nil
}

func decodeVerifierChange(event abi.Event, log model.RawLog) (common.Address, int64, error) {
	topics, err := indexedTopics(event, log.Topics)
	if err != nil {
		return common.Address{}, 0, err
	}
	verifier, err := addressTopic(topics[0])
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("verifier: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return common.Address{}, 0, err
	}
	ts, err := asTimestamp(values[0])
	if err != nil {
		return common.Address{}, 0, err
	}
	return verifier, ts, nil
}

func decodeOwnershipTransferred(kind model.SourceKind) decodeFunc {
	return func(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
		topics, err := indexedTopics(event, log.Topics)
		if err != nil {
			return nil, err
		}
		previous, err := addressTopic(topics[0])
		if err != nil {
			return nil, fmt.Errorf("previous owner: %w", err)
		}
		next, err := addressTopic(topics[1])
		if err != nil {
			return nil, fmt.Errorf("new owner: %w", err)
		}
		if len(log.Data) != 0 {
			return nil, fmt.Errorf("unexpected payload of %d bytes", len(log.Data))
		}
		return model.OwnershipTransferred{
			EventMeta:     meta,
			ContractType:  kind,
			PreviousOwner: previous,
			NewOwner:      next,
		}, nil
	}
}

func decodeDeviceRegistered(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
	topics, err := indexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	owner, err := addressTopic(topics[1])
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 3)
	if err != nil {
		return nil, err
	}
	if err := requireUint8Word(log.Data, 0); err != nil {
		return nil, fmt.Errorf("device type: %w", err)
	}
	deviceType, err := asUint8(values[0])
	if err != nil {
		return nil, err
	}
	zone, err := asText(values[1])
	if err != nil {
		return nil, fmt.Errorf("zone: %w", err)
	}
	ts, err := asTimestamp(values[2])
	if err != nil {
		return nil, err
	}

	return model.DeviceRegistered{
		EventMeta:  meta,
		DeviceID:   topics[0],
		Owner:      owner,
		DeviceType: deviceType,
		Zone:       zone,
		Timestamp:  ts,
	}, nil
}

func decodeDeviceUpdated(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
	topics, err := indexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	owner, err := addressTopic(topics[1])
	if err != nil {
		return nil, fmt.Errorf("owner: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return nil, err
	}
	ts, err := asTimestamp(values[0])
	if err != nil {
		return nil, err
	}

	return model.DeviceUpdated{
		EventMeta: meta,
		DeviceID:  topics[0],
		Owner:     owner,
		Timestamp: ts,
	}, nil
}

func decodeDeviceTransferred(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
	topics, err := indexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	oldOwner, err := addressTopic(topics[1])
	if err != nil {
		return nil, fmt.Errorf("old owner: %w", err)
	}
	newOwner, err := addressTopic(topics[2])
	if err != nil {
		return nil, fmt.Errorf("new owner: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return nil, err
	}
	ts, err := asTimestamp(values[0])
	if err != nil {
		return nil, err
	}

	return model.DeviceTransferred{
		EventMeta: meta,
		DeviceID:  topics[0],
		OldOwner:  oldOwner,
		NewOwner:  newOwner,
		Timestamp: ts,
	}, nil
}

func decodeDataSubmitted(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
	topics, err := indexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	owner, err := addressTopic(topics[2])
	if err != nil {
		return nil, fmt.Errorf("device owner: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return nil, err
	}
	ts, err := asTimestamp(values[0])
	if err != nil {
		return nil, err
	}

	return model.DataSubmitted{
		EventMeta:    meta,
		DataHash:     topics[0],
		DeviceIDHash: topics[1],
		DeviceOwner:  owner,
		Timestamp:    ts,
	}, nil
}

func decodeMarketplaceConfigUpdated(event abi.Event, log model.RawLog, meta model.EventMeta) (model.Event, error) {
	if _, err := indexedTopics(event, log.Topics); err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data, 1)
	if err != nil {
		return nil, err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return nil, err
	}
	return model.MarketplaceConfigUpdated{EventMeta: meta, BaseFee: fee}, nil
}
