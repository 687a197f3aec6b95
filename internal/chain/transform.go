package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lcoreIndexer/internal/model"
)

func buildRawLog(log types.Log) model.RawLog {
	topics := make([]common.Hash, len(log.Topics))
	copy(topics, log.Topics)

	data := make([]byte, len(log.Data))
	copy(data, log.Data)

	return model.RawLog{
		Address:     log.Address,
		Topics:      topics,
		Data:        data,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
		Removed:     log.Removed,
	}
}
