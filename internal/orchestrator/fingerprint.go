package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/blockforge/compiler/internal/config"
)

// fingerprint is the hex SHA-256 of cfg's JSON encoding followed by
// compilerVersion. Field order in config.Configuration is already
// deterministic (Go struct field order), so a plain JSON marshal serves as
// the canonical form and no separate projection is built.
func fingerprint(cfg config.Configuration, compilerVersion string) string {
	b, _ := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(cfg)
	h := sha256.New()
	h.Write(b)
	h.Write([]byte(compilerVersion))
	return hex.EncodeToString(h.Sum(nil))
}

func nowMillis() int64 { return time.Now().UnixMilli() }
