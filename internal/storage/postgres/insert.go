package postgres

import (
	"fmt"
	"math"

	"lcoreIndexer/internal/model"
)

// blockParam converts a block number to the BIGINT columns of the schema.
func blockParam(block uint64) (int64, error) {
	if block > math.MaxInt64 {
		return 0, fmt.Errorf("block %d exceeds bigint range", block)
	}
	return int64(block), nil
}

func insertStatement(event model.Event) (string, []any, error) {
	meta := event.Meta()
	origin := meta.Origin
	block, err := blockParam(origin.BlockNumber)
	if err != nil {
		return "", nil, err
	}
	if uint64(origin.LogIndex) > math.MaxInt64 {
		return "", nil, fmt.Errorf("log index %d exceeds bigint range", origin.LogIndex)
	}
	base := []any{
		meta.Source,
		meta.Contract.Hex(),
		block,
		origin.TxHash.Hex(),
		int64(origin.LogIndex),
	}

	switch ev := event.(type) {
	case model.VerifierAdded:
		return insertVerifierSQL, append(base, string(ev.Kind()), ev.Verifier.Hex(), ev.Timestamp), nil
	case model.VerifierRemoved:
		return insertVerifierSQL, append(base, string(ev.Kind()), ev.Verifier.Hex(), ev.Timestamp), nil
	case model.OwnershipTransferred:
		return insertOwnershipSQL, append(base, string(ev.ContractType), ev.PreviousOwner.Hex(), ev.NewOwner.Hex()), nil
	case model.DeviceRegistered:
		return insertDeviceSQL, append(base, string(ev.Kind()), ev.DeviceID.Hex(), ev.Owner.Hex(), int16(ev.DeviceType), ev.Zone, ev.Timestamp), nil
	case model.DeviceUpdated:
		return insertDeviceSQL, append(base, string(ev.Kind()), ev.DeviceID.Hex(), ev.Owner.Hex(), nil, nil, ev.Timestamp), nil
	case model.DeviceTransferred:
		return insertDeviceTransferSQL, append(base, ev.DeviceID.Hex(), ev.OldOwner.Hex(), ev.NewOwner.Hex(), ev.Timestamp), nil
	case model.DataSubmitted:
		return insertDataSubmissionSQL, append(base, ev.DataHash.Hex(), ev.DeviceIDHash.Hex(), ev.DeviceOwner.Hex(), ev.Timestamp), nil
	case model.MarketplaceConfigUpdated:
		if ev.BaseFee == nil {
			return "", nil, fmt.Errorf("marketplace config at block %d: base fee missing", origin.BlockNumber)
		}
		return insertMarketplaceConfigSQL, append(base, ev.BaseFee.String()), nil
	default:
		return "", nil, fmt.Errorf("unsupported event %s", event.Kind())
	}
}

const insertVerifierSQL = `
	INSERT INTO verifier_events (
		source, contract_address, block_number, tx_hash, log_index,
		event_type, verifier_address, event_timestamp
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (source, event_type, verifier_address, block_number, tx_hash, log_index) DO NOTHING
`

const insertOwnershipSQL = `
	INSERT INTO ownership_transfers (
		source, contract_address, block_number, tx_hash, log_index,
		contract_type, previous_owner, new_owner
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (source, contract_type, block_number, tx_hash, log_index) DO NOTHING
`

const insertDeviceSQL = `
	INSERT INTO device_events (
		source, contract_address, block_number, tx_hash, log_index,
		event_type, device_id, owner, device_type, zone, event_timestamp
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (source, event_type, device_id, block_number, tx_hash, log_index) DO NOTHING
`

const insertDeviceTransferSQL = `
	INSERT INTO device_transfers (
		source, contract_address, block_number, tx_hash, log_index,
		device_id, old_owner, new_owner, event_timestamp
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (source, device_id, block_number, tx_hash, log_index) DO NOTHING
`

const insertDataSubmissionSQL = `
	INSERT INTO data_submissions (
		source, contract_address, block_number, tx_hash, log_index,
		data_hash, device_id_hash, device_owner, event_timestamp
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (source, data_hash, block_number, tx_hash, log_index) DO NOTHING
`

const insertMarketplaceConfigSQL = `
	INSERT INTO marketplace_config (
		source, contract_address, block_number, tx_hash, log_index, base_fee
	) VALUES ($1, $2, $3, $4, $5, $6::text::numeric)
	ON CONFLICT (source, block_number, tx_hash, log_index) DO NOTHING
`
