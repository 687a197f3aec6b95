package contracts

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"lcoreIndexer/internal/model"
)

var (
	registryAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	ownerA       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	ownerB       = common.HexToAddress("0x3333333333333333333333333333333333333333")
	deviceID     = common.HexToHash("0x0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d")
)

func TestDecoderVerifierAdded(t *testing.T) {
	contractABI := mustABI(t, model.SourceVerifierRegistry)
	decoder := mustDecoder(t, "verifiers", model.SourceVerifierRegistry)

	data := mustPack(t, contractABI.Events["VerifierAdded"], big.NewInt(1700000000))
	log := buildLog(contractABI.Events["VerifierAdded"].ID, data, topicFromAddress(ownerA))

	event, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	added, ok := event.(model.VerifierAdded)
	if !ok {
		t.Fatalf("decoded type mismatch: %T", event)
	}
	if added.Verifier != ownerA || added.Timestamp != 1700000000 {
		t.Fatalf("fields mismatch: %+v", added)
	}
	if added.Source != "verifiers" || added.Contract != registryAddr {
		t.Fatalf("meta mismatch: %+v", added.EventMeta)
	}
	if added.Provenance() != log.Provenance() {
		t.Fatalf("provenance mismatch: %+v", added.Provenance())
	}
}

func TestDecoderDeviceRegistryEvents(t *testing.T) {
	contractABI := mustABI(t, model.SourceDeviceRegistry)
	decoder := mustDecoder(t, "devices", model.SourceDeviceRegistry)

	registeredData := mustPack(t, contractABI.Events["DeviceRegistered"], uint8(3), "zone-eu-1", big.NewInt(1700000100))
	registered, err := decoder.Decode(buildLog(contractABI.Events["DeviceRegistered"].ID, registeredData, deviceID, topicFromAddress(ownerA)))
	if err != nil {
		t.Fatalf("decode registered: %v", err)
	}
	reg, ok := registered.(model.DeviceRegistered)
	if !ok {
		t.Fatalf("registered type mismatch: %T", registered)
	}
	if reg.DeviceID != deviceID || reg.Owner != ownerA || reg.DeviceType != 3 || reg.Zone != "zone-eu-1" || reg.Timestamp != 1700000100 {
		t.Fatalf("registered fields mismatch: %+v", reg)
	}

	updatedData := mustPack(t, contractABI.Events["DeviceUpdated"], big.NewInt(1700000200))
	updated, err := decoder.Decode(buildLog(contractABI.Events["DeviceUpdated"].ID, updatedData, deviceID, topicFromAddress(ownerA)))
	if err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if upd := updated.(model.DeviceUpdated); upd.Timestamp != 1700000200 || upd.Owner != ownerA {
		t.Fatalf("updated fields mismatch: %+v", upd)
	}

	transferData := mustPack(t, contractABI.Events["DeviceTransferred"], big.NewInt(1700000300))
	transferred, err := decoder.Decode(buildLog(contractABI.Events["DeviceTransferred"].ID, transferData, deviceID, topicFromAddress(ownerA), topicFromAddress(ownerB)))
	if err != nil {
		t.Fatalf("decode transferred: %v", err)
	}
	tr := transferred.(model.DeviceTransferred)
	if tr.OldOwner != ownerA || tr.NewOwner != ownerB || tr.DeviceID != deviceID {
		t.Fatalf("transferred fields mismatch: %+v", tr)
	}
}

func TestDecoderIoTPipelineEvents(t *testing.T) {
	contractABI := mustABI(t, model.SourceIoTPipeline)
	decoder := mustDecoder(t, "pipeline", model.SourceIoTPipeline)

	dataHash := common.HexToHash("0xda7a")
	submittedData := mustPack(t, contractABI.Events["DataSubmitted"], big.NewInt(1700000400))
	submitted, err := decoder.Decode(buildLog(contractABI.Events["DataSubmitted"].ID, submittedData, dataHash, deviceID, topicFromAddress(ownerB)))
	if err != nil {
		t.Fatalf("decode submitted: %v", err)
	}
	sub := submitted.(model.DataSubmitted)
	if sub.DataHash != dataHash || sub.DeviceIDHash != deviceID || sub.DeviceOwner != ownerB {
		t.Fatalf("submitted fields mismatch: %+v", sub)
	}

	fee, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	feeData := mustPack(t, contractABI.Events["MarketplaceConfigUpdated"], fee)
	updated, err := decoder.Decode(buildLog(contractABI.Events["MarketplaceConfigUpdated"].ID, feeData))
	if err != nil {
		t.Fatalf("decode marketplace: %v", err)
	}
	if cfg := updated.(model.MarketplaceConfigUpdated); cfg.BaseFee.Cmp(fee) != 0 {
		t.Fatalf("base fee mismatch: %s", cfg.BaseFee)
	}
}

func TestDecoderOwnershipTransferredPerKind(t *testing.T) {
	for _, kind := range model.SourceKinds() {
		contractABI := mustABI(t, kind)
		decoder := mustDecoder(t, string(kind), kind)

		event, err := decoder.Decode(buildLog(contractABI.Events["OwnershipTransferred"].ID, nil, topicFromAddress(ownerA), topicFromAddress(ownerB)))
		if err != nil {
			t.Fatalf("%s: decode: %v", kind, err)
		}
		transfer := event.(model.OwnershipTransferred)
		if transfer.ContractType != kind || transfer.PreviousOwner != ownerA || transfer.NewOwner != ownerB {
			t.Fatalf("%s: fields mismatch: %+v", kind, transfer)
		}
	}
}

func TestDecoderUnknownSignature(t *testing.T) {
	decoder := mustDecoder(t, "devices", model.SourceDeviceRegistry)
	unknownTopic := common.HexToHash("0xfeedface")

	event, err := decoder.Decode(buildLog(unknownTopic, []byte{0x01, 0x02}))
	if err != nil {
		t.Fatalf("unknown signature should not error: %v", err)
	}
	unknown, ok := event.(model.UnknownEvent)
	if !ok {
		t.Fatalf("expected UnknownEvent, got %T", event)
	}
	if unknown.Topic0 != unknownTopic || unknown.Kind() != model.KindUnknown {
		t.Fatalf("unknown event mismatch: %+v", unknown)
	}

	anonymous, err := decoder.Decode(model.RawLog{Address: registryAddr, BlockNumber: 7})
	if err != nil {
		t.Fatalf("anonymous log should not error: %v", err)
	}
	if anonymous.Kind() != model.KindUnknown {
		t.Fatalf("anonymous log kind: %s", anonymous.Kind())
	}

	// Topics of another contract kind are unknown to this decoder.
	verifierABI := mustABI(t, model.SourceVerifierRegistry)
	if decoder.canDecode(verifierABI.Events["VerifierAdded"].ID) {
		t.Fatalf("device decoder should not route verifier events")
	}
}

func TestDecoderMalformedLogs(t *testing.T) {
	contractABI := mustABI(t, model.SourceDeviceRegistry)
	decoder := mustDecoder(t, "devices", model.SourceDeviceRegistry)
	registered := contractABI.Events["DeviceRegistered"]
	valid := mustPack(t, registered, uint8(3), "zone", big.NewInt(1))

	outOfRange := append([]byte(nil), valid...)
	outOfRange[30] = 0x01

	hugeTS := new(big.Int).Lsh(big.NewInt(1), 80)
	dirtyOwner := topicFromAddress(ownerA)
	dirtyOwner[0] = 0xff

	tests := []struct {
		name   string
		topics []common.Hash
		data   []byte
	}{
		{name: "truncated payload", topics: []common.Hash{deviceID, topicFromAddress(ownerA)}, data: valid[:40]},
		{name: "empty payload", topics: []common.Hash{deviceID, topicFromAddress(ownerA)}, data: nil},
		{name: "missing topic", topics: []common.Hash{deviceID}, data: valid},
		{name: "dirty address topic", topics: []common.Hash{deviceID, dirtyOwner}, data: valid},
		{name: "device type out of range", topics: []common.Hash{deviceID, topicFromAddress(ownerA)}, data: outOfRange},
		{name: "timestamp overflow", topics: []common.Hash{deviceID, topicFromAddress(ownerA)}, data: mustPack(t, registered, uint8(1), "zone", hugeTS)},
		{name: "zone with NUL", topics: []common.Hash{deviceID, topicFromAddress(ownerA)}, data: mustPack(t, registered, uint8(1), "zo\x00ne", big.NewInt(1))},
		{name: "zone not utf-8", topics: []common.Hash{deviceID, topicFromAddress(ownerA)}, data: mustPack(t, registered, uint8(1), "zo\xffne", big.NewInt(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := buildLog(registered.ID, tt.data, tt.topics...)
			event, err := decoder.Decode(log)
			if err == nil {
				t.Fatalf("expected decode error, got %+v", event)
			}
			var decodeErr *model.DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected *model.DecodeError, got %T", err)
			}
			if decodeErr.BlockNumber != log.BlockNumber || decodeErr.TxHash != log.TxHash.Hex() || decodeErr.LogIndex != log.LogIndex {
				t.Fatalf("provenance missing: %+v", decodeErr)
			}
			if decodeErr.Source != "devices" || decodeErr.Topic0 != registered.ID.Hex() {
				t.Fatalf("diagnostics missing: %+v", decodeErr)
			}
		})
	}
}

func TestNewDecoderUnknownKind(t *testing.T) {
	if _, err := NewDecoder("x", model.SourceKind("staking")); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func mustABI(t *testing.T, kind model.SourceKind) abi.ABI {
	t.Helper()
	contractABI, err := ContractABI(kind)
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	return contractABI
}

func mustDecoder(t *testing.T, source string, kind model.SourceKind) *Decoder {
	t.Helper()
	decoder, err := NewDecoder(source, kind)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return decoder
}

func mustPack(t *testing.T, event abi.Event, values ...interface{}) []byte {
	t.Helper()
	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", event.Name, err)
	}
	return data
}

func buildLog(topic0 common.Hash, data []byte, indexed ...common.Hash) model.RawLog {
	topics := make([]common.Hash, 0, len(indexed)+1)
	topics = append(topics, topic0)
	topics = append(topics, indexed...)

	return model.RawLog{
		Address:     registryAddr,
		Topics:      topics,
		Data:        data,
		BlockNumber: 12345,
		BlockHash:   common.HexToHash("0xabc"),
		TxHash:      common.HexToHash("0xdef"),
		LogIndex:    1,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
