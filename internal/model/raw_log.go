package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RawLog is a contract log as delivered by the log source, before decoding.
type RawLog struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber uint64         `json:"block_number"`
	BlockHash   common.Hash    `json:"block_hash"`
	TxHash      common.Hash    `json:"tx_hash"`
	TxIndex     uint           `json:"tx_index"`
	LogIndex    uint           `json:"log_index"`
	Removed     bool           `json:"removed"`
}

// Topic0 returns the event signature hash, or the zero hash for anonymous logs.
func (l RawLog) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// Provenance returns the origin triple of the log.
func (l RawLog) Provenance() Provenance {
	return Provenance{
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.LogIndex,
	}
}
