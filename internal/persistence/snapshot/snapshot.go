// Package snapshot is the save codec: JSON GameState blobs, structural validation
// against an embedded schema, ordered migrations and base64 export strings.
package snapshot

import (
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/model"
)

//go:embed save.schema.json
var saveSchemaJSON string

var saveSchema = jsonschema.MustCompileString("save.schema.json", saveSchemaJSON)

// ErrCorrupt marks a blob that is not JSON or fails the structural schema.
var ErrCorrupt = errors.New("corrupt save")

// Encode serializes st. Map keys come out sorted, so equal states encode to equal bytes.
func Encode(st *model.GameState) ([]byte, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode save: %w", err)
	}
	return b, nil
}

// Decode validates, migrates and normalizes raw. It returns the version the blob was
// stamped with before migration.
func Decode(raw []byte, cat *catalogs.Catalogs) (*model.GameState, int, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := saveSchema.Validate(doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	m := doc.(map[string]any)
	from := Migrate(m)

	migrated, err := json.Marshal(m)
	if err != nil {
		return nil, from, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var st model.GameState
	if err := json.Unmarshal(migrated, &st); err != nil {
		return nil, from, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	model.Normalize(&st, cat)
	return &st, from, nil
}

// LoadInfo describes what Load did with the stored blob.
type LoadInfo struct {
	Fresh       bool
	Discarded   bool
	FromVersion int
	Err         error
}

// Load never fails: a missing blob starts a fresh run, a corrupt one is discarded.
func Load(raw []byte, cat *catalogs.Catalogs, startingCash float64, log *slog.Logger) (*model.GameState, LoadInfo) {
	if log == nil {
		log = slog.Default()
	}
	if len(raw) == 0 {
		return model.DefaultState(cat, startingCash), LoadInfo{Fresh: true}
	}
	st, from, err := Decode(raw, cat)
	if err != nil {
		log.Warn("save discarded", "err", err, "bytes", len(raw))
		return model.DefaultState(cat, startingCash), LoadInfo{Fresh: true, Discarded: true, Err: err}
	}
	if from < model.CurrentVersion {
		log.Info("save migrated", "from", from, "to", st.Version)
	}
	return st, LoadInfo{FromVersion: from}
}

// Export wraps the JSON save in standard base64.
func Export(st *model.GameState) (string, error) {
	b, err := Encode(st)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func Import(s string, cat *catalogs.Catalogs) (*model.GameState, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCorrupt, err)
	}
	st, _, err := Decode(raw, cat)
	return st, err
}
