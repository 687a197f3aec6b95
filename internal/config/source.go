package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"lcoreIndexer/internal/model"
)

// Source is one contract to ingest.
type Source struct {
	Name       string
	Kind       model.SourceKind
	Address    common.Address
	StartBlock uint64
}

type sourceEntry struct {
	Name       string  `mapstructure:"name"`
	Kind       string  `mapstructure:"kind"`
	Address    string  `mapstructure:"address"`
	StartBlock *uint64 `mapstructure:"start-block"`
}

// legacyAddresses is the flat one-address-per-contract layout.
type legacyAddresses struct {
	VerifierRegistry string
	DeviceRegistry   string
	IoTPipeline      string
}

func resolveSources(entries []sourceEntry, legacy legacyAddresses, defaultStart uint64) ([]Source, error) {
	sources := make([]Source, 0, len(entries)+3)
	seen := make(map[string]struct{})

	add := func(src Source) error {
		if _, ok := seen[src.Name]; ok {
			return fmt.Errorf("duplicate source %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		sources = append(sources, src)
		return nil
	}

	for i, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		kind, err := model.ParseSourceKind(strings.TrimSpace(entry.Kind))
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		address, err := ParseAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		start := defaultStart
		if entry.StartBlock != nil {
			start = *entry.StartBlock
		}
		if err := add(Source{Name: name, Kind: kind, Address: address, StartBlock: start}); err != nil {
			return nil, err
		}
	}

	flat := []struct {
		kind    model.SourceKind
		address string
	}{
		{model.SourceVerifierRegistry, legacy.VerifierRegistry},
		{model.SourceDeviceRegistry, legacy.DeviceRegistry},
		{model.SourceIoTPipeline, legacy.IoTPipeline},
	}
	for _, item := range flat {
		input := strings.TrimSpace(item.address)
		if input == "" {
			continue
		}
		address, err := ParseAddress(input)
		if err != nil {
			return nil, fmt.Errorf("%s address: %w", item.kind, err)
		}
		// The zero address is the placeholder for an undeployed contract.
		if address == (common.Address{}) {
			continue
		}
		if err := add(Source{Name: string(item.kind), Kind: item.kind, Address: address, StartBlock: defaultStart}); err != nil {
			return nil, err
		}
	}

	return sources, nil
}

// ParseAddress converts a hex string into common.Address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}
