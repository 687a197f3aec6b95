package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DecodeError records a decode failure for a single log.
// It is both returned as an error and written to the decode error sink.
type DecodeError struct {
	Source      string `json:"source"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Data        string `json:"data"`
	Reason      string `json:"error"`

	cause error
}

// NewDecodeError builds a DecodeError from the offending log.
func NewDecodeError(source string, log RawLog, cause error) *DecodeError {
	return &DecodeError{
		Source:      source,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.LogIndex,
		Address:     log.Address.Hex(),
		Topic0:      log.Topic0().Hex(),
		Data:        hexutil.Encode(log.Data),
		Reason:      cause.Error(),
		cause:       cause,
	}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s log block=%d tx=%s index=%d: %s", e.Source, e.BlockNumber, e.TxHash, e.LogIndex, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.cause
}
