package cache

import (
	"bytes"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

// DefaultCompressionThreshold is the serialized size in bytes above which values are gzipped.
const DefaultCompressionThreshold = 1024

// Entry is the envelope stored in every tier. Each tier holds its own serialized copy.
// When Compressed is set, Value is gzip data that inflates to the serialized value.
type Entry struct {
	Value      []byte    `json:"value"`
	Compressed bool      `json:"compressed"`
	StoredAt   time.Time `json:"storedAt"`
	Tags       []string  `json:"tags,omitempty"`
}

// Codec serializes values to JSON and gzips them above a size threshold.
type Codec struct {
	threshold int
	level     int
}

// NewCodec creates a Codec. A threshold <= 0 selects DefaultCompressionThreshold and
// a level outside gzip's range selects gzip.DefaultCompression.
func NewCodec(threshold, level int) *Codec {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &Codec{threshold: threshold, level: level}
}

// Encode serializes v. With compress set and a serialized size above the threshold the
// result is gzipped whatever its size; only a gzip failure keeps the plain form.
// The only error is an unserializable value, reported as InvalidInput.
func (c *Codec) Encode(v interface{}, compress bool) ([]byte, bool, error) {
	data, compressed, _, err := c.encode(v, compress)
	return data, compressed, err
}

// encode also reports the serialized size before compression.
func (c *Codec) encode(v interface{}, compress bool) ([]byte, bool, int, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, 0, errors.NewInvalidInputWithCause("value", "not serializable", err)
	}

	if !compress || len(raw) <= c.threshold {
		return raw, false, len(raw), nil
	}

	packed, err := c.gzip(raw)
	if err != nil {
		return raw, false, len(raw), nil
	}
	return packed, true, len(raw), nil
}

// Decode inflates data when compressed and unmarshals it into dest.
// Any failure is a CorruptEntry error.
func (c *Codec) Decode(data []byte, compressed bool, dest interface{}) error {
	if compressed {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return errors.NewCorruptEntry("", err)
		}
		defer zr.Close()

		data, err = io.ReadAll(zr)
		if err != nil {
			return errors.NewCorruptEntry("", err)
		}
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return errors.NewCorruptEntry("", err)
	}
	return nil
}

func (c *Codec) gzip(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, errors.NewCorruptEntry("", err)
	}
	return e, nil
}
