package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickStepMs       int `yaml:"tick_step_ms"`
	FrameIntervalMs  int `yaml:"frame_interval_ms"`
	MaxStepsPerFrame int `yaml:"max_steps_per_frame"`

	StartingCash float64 `yaml:"starting_cash"`

	Save             Save             `yaml:"save"`
	Bottleneck       Bottleneck       `yaml:"bottleneck"`
	Offline          Offline          `yaml:"offline"`
	Research         Research         `yaml:"research"`
	Stars            Stars            `yaml:"stars"`
	Workers          Workers          `yaml:"workers"`
	Prestige         Prestige         `yaml:"prestige"`
	DivisionPrestige DivisionPrestige `yaml:"division_prestige"`
	Contracts        Contracts        `yaml:"contracts"`
	Treasury         Treasury         `yaml:"treasury"`
}

type Save struct {
	Slot            string  `yaml:"slot"`
	BackupSlot      string  `yaml:"backup_slot"`
	AutosaveEveryMs int     `yaml:"autosave_every_ms"`
	ManualPerSecond float64 `yaml:"manual_per_second"`
	ManualBurst     int     `yaml:"manual_burst"`
	MirrorEveryMs   int     `yaml:"mirror_every_ms"`
}

type Bottleneck struct {
	EvalIntervalMs int     `yaml:"eval_interval_ms"`
	Floor          float64 `yaml:"floor"`
}

const (
	OfflineClosedForm = "closed_form"
	OfflineReplay     = "replay"
)

type Offline struct {
	Mode           string  `yaml:"mode"`
	MaxMs          int64   `yaml:"max_ms"`
	MinMs          int64   `yaml:"min_ms"`
	BaseEfficiency float64 `yaml:"base_efficiency"`
	MaxEfficiency  float64 `yaml:"max_efficiency"`
	ReplayStepMs   int     `yaml:"replay_step_ms"`
}

type Research struct {
	PointsPerSec float64 `yaml:"points_per_sec"`
}

type Stars struct {
	RevenueBonus float64 `yaml:"revenue_bonus"`
	SpeedBonus   float64 `yaml:"speed_bonus"`
}

type Workers struct {
	RevenueBonus float64 `yaml:"revenue_bonus"`
}

type Prestige struct {
	MinRunCash    float64 `yaml:"min_run_cash"`
	Divisor       float64 `yaml:"divisor"`
	BonusPerPoint float64 `yaml:"bonus_per_point"`
}

type DivisionPrestige struct {
	MinLastTierCount int `yaml:"min_last_tier_count"`
}

type Contracts struct {
	Slots      int   `yaml:"slots"`
	RotationMs int64 `yaml:"rotation_ms"`
	// Seed picks the template order of each rotation.
	Seed int64 `yaml:"seed"`
}

type Treasury struct {
	Seed int64 `yaml:"seed"`
}

func Defaults() Tuning {
	return Tuning{
		TickStepMs:       100,
		FrameIntervalMs:  50,
		MaxStepsPerFrame: 600,
		StartingCash:     25,
		Save: Save{
			Slot:            "idle-empire-save",
			BackupSlot:      "idle-empire-save-backup",
			AutosaveEveryMs: 30_000,
			ManualPerSecond: 0.5,
			ManualBurst:     2,
			MirrorEveryMs:   600_000,
		},
		Bottleneck: Bottleneck{
			EvalIntervalMs: 1000,
			Floor:          0.10,
		},
		Offline: Offline{
			Mode:           OfflineClosedForm,
			MaxMs:          8 * 60 * 60 * 1000,
			MinMs:          60 * 1000,
			BaseEfficiency: 0.5,
			MaxEfficiency:  1.0,
			ReplayStepMs:   1000,
		},
		Research:         Research{PointsPerSec: 0.5},
		Stars:            Stars{RevenueBonus: 0.10, SpeedBonus: 0.05},
		Workers:          Workers{RevenueBonus: 0.02},
		Prestige:         Prestige{MinRunCash: 1e6, Divisor: 1e6, BonusPerPoint: 0.02},
		DivisionPrestige: DivisionPrestige{MinLastTierCount: 25},
		Contracts:        Contracts{Slots: 3, RotationMs: 10 * 60 * 1000, Seed: 11},
		Treasury:         Treasury{Seed: 7},
	}
}

// Load reads a tuning file on top of Defaults, so a partial file only overrides what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickStepMs <= 0 {
		errs = append(errs, fmt.Errorf("tick_step_ms must be > 0"))
	}
	if t.FrameIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("frame_interval_ms must be > 0"))
	}
	if t.MaxStepsPerFrame <= 0 {
		errs = append(errs, fmt.Errorf("max_steps_per_frame must be > 0"))
	}
	if t.Save.Slot == "" {
		errs = append(errs, fmt.Errorf("save.slot is required"))
	}
	if t.Save.BackupSlot == t.Save.Slot {
		errs = append(errs, fmt.Errorf("save.backup_slot must differ from save.slot"))
	}
	if t.Bottleneck.Floor <= 0 || t.Bottleneck.Floor > 1 {
		errs = append(errs, fmt.Errorf("bottleneck.floor must be in (0,1]"))
	}
	if t.Bottleneck.EvalIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("bottleneck.eval_interval_ms must be >= 0"))
	}
	switch t.Offline.Mode {
	case OfflineClosedForm, OfflineReplay:
	default:
		errs = append(errs, fmt.Errorf("offline.mode %q unknown", t.Offline.Mode))
	}
	if t.Offline.MaxMs <= 0 || t.Offline.MinMs < 0 || t.Offline.MinMs > t.Offline.MaxMs {
		errs = append(errs, fmt.Errorf("offline.min_ms/max_ms out of range"))
	}
	if t.Offline.MaxEfficiency <= 0 || t.Offline.MaxEfficiency > 1 {
		errs = append(errs, fmt.Errorf("offline.max_efficiency must be in (0,1]"))
	}
	if t.Offline.ReplayStepMs <= 0 {
		errs = append(errs, fmt.Errorf("offline.replay_step_ms must be > 0"))
	}
	if t.Prestige.Divisor <= 0 {
		errs = append(errs, fmt.Errorf("prestige.divisor must be > 0"))
	}
	if t.Contracts.Slots < 0 {
		errs = append(errs, fmt.Errorf("contracts.slots must be >= 0"))
	}
	return errors.Join(errs...)
}
