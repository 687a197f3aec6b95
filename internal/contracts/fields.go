package contracts

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const wordSize = 32

var errDirtyPadding = errors.New("non-zero padding")

// indexedTopics checks the topic count and returns the topics after topic0.
func indexedTopics(event abi.Event, topics []common.Hash) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return topics[1:], nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

// addressTopic decodes an indexed address, rejecting values wider than 20 bytes.
func addressTopic(topic common.Hash) (common.Address, error) {
	if !isZero(topic[:wordSize-common.AddressLength]) {
		return common.Address{}, fmt.Errorf("address topic %s: %w", topic.Hex(), errDirtyPadding)
	}
	return common.BytesToAddress(topic[wordSize-common.AddressLength:]), nil
}

func unpackNonIndexed(event abi.Event, data []byte, want int) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("unexpected value count: %d", len(values))
	}
	return values, nil
}

// requireUint8Word rejects a uint8 head word whose upper 31 bytes are set.
func requireUint8Word(data []byte, index int) error {
	start := index * wordSize
	if len(data) < start+wordSize {
		return fmt.Errorf("payload too short for word %d", index)
	}
	word := data[start : start+wordSize]
	if !isZero(word[:wordSize-1]) {
		return fmt.Errorf("value out of uint8 range: %w", errDirtyPadding)
	}
	return nil
}

func isZero(b []byte) bool {
	return len(bytes.TrimLeft(b, "\x00")) == 0
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 0xff {
			return 0, fmt.Errorf("uint8 overflow: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

// asTimestamp narrows a uint256 unix timestamp to int64.
func asTimestamp(value interface{}) (int64, error) {
	ts, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	if ts.Sign() < 0 || !ts.IsInt64() {
		return 0, fmt.Errorf("timestamp out of range: %s", ts)
	}
	return ts.Int64(), nil
}

// asText accepts strings that can be stored as SQL text.
func asText(value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("unsupported string type %T", value)
	}
	if !utf8.ValidString(s) {
		return "", errors.New("invalid utf-8")
	}
	if strings.ContainsRune(s, 0) {
		return "", errors.New("contains NUL")
	}
	return s, nil
}
