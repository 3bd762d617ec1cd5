package store

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v3"
)

var jsonc = jsoniter.ConfigCompatibleWithStandardLibrary

// compressThreshold is the smallest payload worth paying lz4's frame
// overhead for; small envelopes (most metadata records) are left raw.
const compressThreshold = 256

// packEntry/decodeEntry serialize the envelope itself for backends (buntdb,
// S3) whose native values are plain strings/blobs. An envelope whose JSON
// encoding is at least compressThreshold bytes is lz4-framed; the 'z' prefix
// byte distinguishes a compressed envelope from a raw ('r') one on the way
// back in.
func packEntry(e Entry) (string, error) {
	b, err := jsonc.Marshal(e)
	if err != nil {
		return "", err
	}
	if len(b) < compressThreshold {
		return "r" + string(b), nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return "z" + buf.String(), nil
}

func decodeEntry(raw string) (Entry, error) {
	var e Entry
	if raw == "" {
		return e, nil
	}
	tag, body := raw[0], raw[1:]
	var plain []byte
	switch tag {
	case 'z':
		zr := lz4.NewReader(bytes.NewReader([]byte(body)))
		b, err := io.ReadAll(zr)
		if err != nil {
			return e, err
		}
		plain = b
	default:
		plain = []byte(body)
	}
	err := jsonc.Unmarshal(plain, &e)
	return e, err
}
