package model

import "fmt"

// SourceKind identifies which contract ABI a source is decoded with.
type SourceKind string

const (
	SourceVerifierRegistry SourceKind = "verifier_registry"
	SourceDeviceRegistry   SourceKind = "device_registry"
	SourceIoTPipeline      SourceKind = "iot_pipeline"
)

// SourceKinds lists every supported kind.
func SourceKinds() []SourceKind {
	return []SourceKind{SourceVerifierRegistry, SourceDeviceRegistry, SourceIoTPipeline}
}

// ParseSourceKind validates a kind name.
func ParseSourceKind(input string) (SourceKind, error) {
	for _, kind := range SourceKinds() {
		if string(kind) == input {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown source kind: %q", input)
}
