// Package archive keeps a copy of the save taken just before each prestige reset.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"idleempire.io/internal/sim/model"
)

type PrestigeArchiveMeta struct {
	Prestige      int     `json:"prestige"`
	Version       int     `json:"version"`
	SimTimeMs     int64   `json:"sim_time_ms"`
	RunCashEarned float64 `json:"run_cash_earned"`
	Cash          float64 `json:"cash"`
	Gain          float64 `json:"gain"`
	Save          string  `json:"save"`
	CreatedAt     string  `json:"created_at"`
}

const saveFile = "save.json"

// ArchivePrestige writes blob (the encoded pre-prestige state st) into
// `dir/archives/prestige_<NNN>/`, numbered by the prestige it precedes, and returns the
// archived save path. Re-archiving the same number overwrites it.
func ArchivePrestige(dir string, st *model.GameState, blob []byte, gain float64) (string, error) {
	if st == nil || len(blob) == 0 {
		return "", fmt.Errorf("archive: empty save")
	}
	n := st.Stats.Prestiges + 1
	archiveDir := filepath.Join(dir, "archives", fmt.Sprintf("prestige_%03d", n))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(archiveDir, saveFile)
	if err := os.WriteFile(dst, blob, 0o644); err != nil {
		return "", err
	}

	meta := PrestigeArchiveMeta{
		Prestige:      n,
		Version:       st.Version,
		SimTimeMs:     st.SimTimeMs,
		RunCashEarned: st.Stats.RunCashEarned,
		Cash:          st.Cash,
		Gain:          gain,
		Save:          saveFile,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, nil
}

// List returns the metadata of every archive under dir, oldest prestige first.
// Directories without a readable meta.json are skipped.
func List(dir string) ([]PrestigeArchiveMeta, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "archives"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []PrestigeArchiveMeta
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "prestige_") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, "archives", e.Name(), "meta.json"))
		if err != nil {
			continue
		}
		var m PrestigeArchiveMeta
		if json.Unmarshal(b, &m) != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prestige < out[j].Prestige })
	return out, nil
}
