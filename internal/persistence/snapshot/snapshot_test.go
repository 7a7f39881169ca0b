package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"idleempire.io/internal/sim/catalogs/catalogstest"
	"idleempire.io/internal/sim/model"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func sampleState() *model.GameState {
	st := model.DefaultState(catalogstest.New(), 25)
	st.Version = model.CurrentVersion
	st.LastPlayed = 1_700_000_000_000
	st.SimTimeMs = 90_000
	st.Cash = 987.25
	shop := st.Divisions["shop"]
	shop.ChiefLevel = 1
	shop.Tiers[0] = model.Tier{Unlocked: true, Count: 9, Producing: true, Progress: 0.4}
	st.Research.Unlocked["basics"] = true
	st.Upgrades["double_stand"] = true
	st.Secondary[model.SecondaryTokens] = 3
	st.AchievementFlags["first_sale"] = true
	return st
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cat := catalogstest.New()
	st := sampleState()
	raw, err := Encode(st)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, from, err := Decode(raw, cat)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if from != model.CurrentVersion {
		t.Fatalf("from=%d want %d", from, model.CurrentVersion)
	}
	if !reflect.DeepEqual(st, back) {
		t.Fatalf("round trip changed state\nbefore: %+v\nafter:  %+v", st, back)
	}
	again, err := Encode(back)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Fatalf("encoding not idempotent")
	}
	if back.Divisions["shop"].Tiers[0].Progress != 0.4 {
		t.Fatalf("current-version progress must survive, got %v", back.Divisions["shop"].Tiers[0].Progress)
	}
}

func TestLoad_CorruptSavesStartFresh(t *testing.T) {
	cat := catalogstest.New()
	cases := map[string]string{
		"not json":         `{"cash": 1,`,
		"string cash":      `{"cash":"100","divisions":{}}`,
		"missing cash":     `{"divisions":{}}`,
		"array root":       `[]`,
		"string count":     `{"cash":1,"divisions":{"shop":{"tiers":[{"count":"x"}]}}}`,
		"division not obj": `{"cash":1,"divisions":{"shop":3}}`,
		"fraction version": `{"cash":1,"divisions":{},"version":1.5}`,
		"string lastPlay":  `{"cash":1,"divisions":{},"lastPlayed":"yesterday"}`,
	}
	for name, raw := range cases {
		st, info := Load([]byte(raw), cat, 25, quiet)
		if !info.Discarded || !info.Fresh {
			t.Fatalf("%s: expected discard, got %+v", name, info)
		}
		if !errors.Is(info.Err, ErrCorrupt) {
			t.Fatalf("%s: err=%v", name, info.Err)
		}
		if st.Cash != 25 || st.Version != model.CurrentVersion || !st.Divisions["shop"].Unlocked {
			t.Fatalf("%s: not a fresh state: %+v", name, st)
		}
	}
}

func TestLoad_EmptyBlobIsFreshNotDiscarded(t *testing.T) {
	st, info := Load(nil, catalogstest.New(), 25, quiet)
	if !info.Fresh || info.Discarded {
		t.Fatalf("info=%+v", info)
	}
	if st.Cash != 25 {
		t.Fatalf("cash=%v", st.Cash)
	}
}

func TestDecode_NewerVersionAcceptedAsIs(t *testing.T) {
	raw, err := Encode(sampleState())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	doc["version"] = 9
	doc["futureField"] = map[string]any{"x": 1}
	raw, _ = json.Marshal(doc)

	st, from, err := Decode(raw, catalogstest.New())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if from != 9 || st.Version != 9 {
		t.Fatalf("from=%d version=%d", from, st.Version)
	}
	if st.Cash != 987.25 {
		t.Fatalf("cash=%v", st.Cash)
	}
}

func TestExportImport(t *testing.T) {
	st := sampleState()
	s, err := Export(st)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	back, err := Import("  "+s+"\n", catalogstest.New())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !reflect.DeepEqual(st, back) {
		t.Fatalf("import changed state")
	}

	if _, err := Import("%%% not base64", catalogstest.New()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("bad base64 err=%v", err)
	}
}
