package storage

import (
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"rtm/internal/model"
)

// Body encodings recorded in artifact_versions.body_encoding.
const (
	EncodingPlain = "plain"
	EncodingZstd  = "zstd"
)

// BodyCodec stores artifact bodies, compressing those at or above a
// threshold with zstd. Encoders and decoders are safe for concurrent use
// through EncodeAll/DecodeAll.
type BodyCodec struct {
	threshold int

	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// NewBodyCodec creates a codec. A threshold of zero or less disables
// compression for writes; compressed rows can still be read.
func NewBodyCodec(threshold int) (*BodyCodec, error) {
	return &BodyCodec{threshold: threshold}, nil
}

func (c *BodyCodec) init() error {
	c.once.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			c.initErr = fmt.Errorf("failed to create zstd encoder: %w", err)
			return
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			_ = enc.Close()
			c.initErr = fmt.Errorf("failed to create zstd decoder: %w", err)
			return
		}
		c.encoder = enc
		c.decoder = dec
	})
	return c.initErr
}

// Threshold returns the compression threshold in bytes.
func (c *BodyCodec) Threshold() int {
	return c.threshold
}

// Encode returns the stored form of body and its encoding.
func (c *BodyCodec) Encode(body string) ([]byte, string, error) {
	if c.threshold <= 0 || len(body) < c.threshold {
		return []byte(body), EncodingPlain, nil
	}
	if err := c.init(); err != nil {
		return nil, "", err
	}
	return c.encoder.EncodeAll([]byte(body), nil), EncodingZstd, nil
}

// Decode reverses Encode.
func (c *BodyCodec) Decode(data []byte, encoding string) (string, error) {
	switch encoding {
	case "", EncodingPlain:
		return string(data), nil
	case EncodingZstd:
		if err := c.init(); err != nil {
			return "", err
		}
		out, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return "", fmt.Errorf("failed to decompress body: %w", err)
		}
		return string(out), nil
	}
	return "", fmt.Errorf("unknown body encoding %q", encoding)
}

// Close releases the zstd encoder and decoder.
func (c *BodyCodec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// ContentHash is the hex blake2b-256 digest of an artifact's canonical
// content. Custom fields are hashed in key order.
func ContentHash(content model.ArtifactContent) string {
	h, _ := blake2b.New256(nil)
	writeField := func(s string) {
		fmt.Fprintf(h, "%d:%s", len(s), s)
	}
	writeField(content.Summary)
	writeField(content.Body)

	keys := make([]string, 0, len(content.CustomFields))
	for k := range content.CustomFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(k)
		writeField(content.CustomFields[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
