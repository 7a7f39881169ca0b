package protocol

import (
	"encoding/json"
	"sort"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
	// StateEveryMs is the minimum spacing between STATE pushes; 0 means the server default.
	StateEveryMs int `json:"state_every_ms,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	TickStepMs      int            `json:"tick_step_ms"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type CatalogDigests struct {
	DivisionsDigest   string `json:"divisions_digest"`
	BottlenecksDigest string `json:"bottlenecks_digest"`
	ResearchDigest    string `json:"research_digest"`
	UpgradesDigest    string `json:"upgrades_digest"`
	ContractsDigest   string `json:"contracts_digest"`
	TuningDigest      string `json:"tuning_digest,omitempty"`
}

// STATE (server -> client): the whole GameState as persisted.
type StateMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SimTimeMs       int64           `json:"sim_time_ms"`
	Paused          bool            `json:"paused,omitempty"`
	State           json.RawMessage `json:"state"`
}

type Event struct {
	Kind      string  `json:"kind"`
	Division  string  `json:"division,omitempty"`
	Tier      int     `json:"tier,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	ID        string  `json:"id,omitempty"`
	SimTimeMs int64   `json:"sim_time_ms"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Event           Event  `json:"event"`
}

type DivisionEarnings struct {
	Division     string  `json:"division"`
	IncomePerSec float64 `json:"income_per_sec"`
	Cash         float64 `json:"cash"`
}

// OFFLINE_REPORT (server -> client), sent once after WELCOME when the session started
// with offline earnings.
type OfflineReportMsg struct {
	Type             string             `json:"type"`
	ProtocolVersion  string             `json:"protocol_version"`
	GapMs            int64              `json:"gap_ms"`
	CappedDurationMs int64              `json:"capped_duration_ms"`
	Mode             string             `json:"mode"`
	Efficiency       float64            `json:"efficiency"`
	TotalCash        float64            `json:"total_cash"`
	ResearchPoints   float64            `json:"research_points"`
	Divisions        []DivisionEarnings `json:"divisions"`
}

// ACT (client -> server): one player action.
type ActMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id"`
	Action          string  `json:"action"`
	Division        string  `json:"division,omitempty"`
	Tier            int     `json:"tier,omitempty"`
	Count           int     `json:"count,omitempty"`
	Target          string  `json:"target,omitempty"`
	Track           string  `json:"track,omitempty"`
	Amount          float64 `json:"amount,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	SimTimeMs       int64  `json:"sim_time_ms,omitempty"`
}

// ACT action names.
const (
	ActTap              = "TAP"
	ActStart            = "START"
	ActBuy              = "BUY"
	ActBuyMax           = "BUY_MAX"
	ActUnlockTier       = "UNLOCK_TIER"
	ActUnlockDivision   = "UNLOCK_DIVISION"
	ActHireChief        = "HIRE_CHIEF"
	ActLevelUp          = "LEVEL_UP"
	ActHireWorker       = "HIRE_WORKER"
	ActBuyUpgrade       = "BUY_UPGRADE"
	ActStartResearch    = "START_RESEARCH"
	ActResolveCash      = "RESOLVE_CASH"
	ActResolveResearch  = "RESOLVE_RESEARCH"
	ActWaitBottleneck   = "WAIT_BOTTLENECK"
	ActPrestige         = "PRESTIGE"
	ActDivisionPrestige = "DIVISION_PRESTIGE"
	ActBuyInstrument    = "BUY_INSTRUMENT"
	ActSellInstrument   = "SELL_INSTRUMENT"
	ActClaimContract    = "CLAIM_CONTRACT"
	ActActivateBuff     = "ACTIVATE_BUFF"
	ActSave             = "SAVE"
	ActPause            = "PAUSE"
	ActResume           = "RESUME"
	ActVisibilityLost   = "VISIBILITY_LOST"
)

var knownActions = map[string]struct{}{
	ActTap: {}, ActStart: {}, ActBuy: {}, ActBuyMax: {}, ActUnlockTier: {}, ActUnlockDivision: {},
	ActHireChief: {}, ActLevelUp: {}, ActHireWorker: {}, ActBuyUpgrade: {}, ActStartResearch: {},
	ActResolveCash: {}, ActResolveResearch: {}, ActWaitBottleneck: {}, ActPrestige: {},
	ActDivisionPrestige: {}, ActBuyInstrument: {}, ActSellInstrument: {}, ActClaimContract: {},
	ActActivateBuff: {}, ActSave: {}, ActPause: {}, ActResume: {}, ActVisibilityLost: {},
}

func IsKnownAction(a string) bool {
	_, ok := knownActions[a]
	return ok
}

// Actions lists every action name, sorted.
func Actions() []string {
	out := make([]string, 0, len(knownActions))
	for a := range knownActions {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
