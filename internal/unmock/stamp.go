package unmock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// stampVersion changes whenever the rewrite output for identical inputs changes.
const stampVersion = 1

// fingerprint identifies the inputs of a run: the source archive's size and
// modification time plus every rule.
func fingerprint(cfg Config, source string) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", err
	}
	in := struct {
		Version  int      `json:"version"`
		Source   string   `json:"source"`
		Size     int64    `json:"size"`
		ModTime  int64    `json:"mtime"`
		Keep     []string `json:"keep"`
		Renames  []string `json:"renames"`
		Delegate []string `json:"delegate"`
	}{stampVersion, source, info.Size(), info.ModTime().UnixNano(), cfg.Keep, cfg.Renames, cfg.Delegate}
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func stampPath(out string) string { return out + ".stamp" }

// upToDate reports whether out exists and was produced from the same inputs.
func upToDate(out, fp string) bool {
	if _, err := os.Stat(out); err != nil {
		return false
	}
	data, err := os.ReadFile(stampPath(out))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == fp
}

func writeStamp(out, fp string) error {
	if err := os.WriteFile(stampPath(out), []byte(fp+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "unmock: write stamp")
	}
	return nil
}
