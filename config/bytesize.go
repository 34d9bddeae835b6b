package config

import (
	"fmt"

	"github.com/docker/go-units"
)

// ByteSize is a byte count written in TOML as "512MB", "1GiB" or a bare number.
type ByteSize int64

const (
	KB ByteSize = units.KiB
	MB ByteSize = units.MiB
	GB ByteSize = units.GiB
)

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return fmt.Errorf("byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string { return units.BytesSize(float64(b)) }

// Int64 is the size in bytes.
func (b ByteSize) Int64() int64 { return int64(b) }
