package cache

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// codec wraps a shared zstd encoder/decoder pair. zstd.Encoder/Decoder
// are safe for concurrent use once created, so one codec serves every
// tenant's cache entries.
type codec struct {
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
}

var sharedCodec codec

func (c *codec) encoder() *zstd.Encoder {
	c.encOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic("cache: building zstd encoder: " + err.Error())
		}
		c.enc = enc
	})
	return c.enc
}

func (c *codec) decoder() *zstd.Decoder {
	c.decOnce.Do(func() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic("cache: building zstd decoder: " + err.Error())
		}
		c.dec = dec
	})
	return c.dec
}

// compress streams value through zstd, per spec §4.3's "streaming
// compression" requirement for values at or above the configured
// threshold.
func compress(value []byte) []byte {
	return sharedCodec.encoder().EncodeAll(value, nil)
}

func decompress(compressed []byte) ([]byte, error) {
	return sharedCodec.decoder().DecodeAll(compressed, nil)
}
