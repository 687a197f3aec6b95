package contracts

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"lcoreIndexer/internal/model"
)

const ownershipTransferredJSON = `
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "previousOwner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newOwner", "type": "address"}
    ],
    "name": "OwnershipTransferred",
    "type": "event"
  }`

const verifierRegistryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "verifier", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "VerifierAdded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "verifier", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "VerifierRemoved",
    "type": "event"
  },` + ownershipTransferredJSON + `
]`

const deviceRegistryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "deviceId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "uint8", "name": "deviceType", "type": "uint8"},
      {"indexed": false, "internalType": "string", "name": "zone", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "DeviceRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "deviceId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "DeviceUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "deviceId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "oldOwner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newOwner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "DeviceTransferred",
    "type": "event"
  },` + ownershipTransferredJSON + `
]`

const iotPipelineABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "dataHash", "type": "bytes32"},
      {"indexed": true, "internalType": "bytes32", "name": "deviceIdHash", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "deviceOwner", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "DataSubmitted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "baseFee", "type": "uint256"}
    ],
    "name": "MarketplaceConfigUpdated",
    "type": "event"
  },` + ownershipTransferredJSON + `
]`

type lazyABI struct {
	raw  string
	once sync.Once
	abi  abi.ABI
	err  error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.abi, l.err = abi.JSON(strings.NewReader(l.raw))
	})
	return l.abi, l.err
}

var contractABIs = map[model.SourceKind]*lazyABI{
	model.SourceVerifierRegistry: {raw: verifierRegistryABIJSON},
	model.SourceDeviceRegistry:   {raw: deviceRegistryABIJSON},
	model.SourceIoTPipeline:      {raw: iotPipelineABIJSON},
}

// ContractABI returns the parsed ABI for a source kind.
func ContractABI(kind model.SourceKind) (abi.ABI, error) {
	lazy, ok := contractABIs[kind]
	if !ok {
		return abi.ABI{}, fmt.Errorf("no abi for source kind %q", kind)
	}
	return lazy.get()
}
