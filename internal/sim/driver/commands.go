package driver

import (
	"context"
	"errors"

	"idleempire.io/internal/protocol"
	"idleempire.io/internal/sim/clock"
)

// Command is one player action, named by a protocol.Act* constant.
type Command struct {
	Action   string
	Division string
	Tier     int
	Count    int
	// Target names the research, upgrade, bottleneck, contract, buff or instrument.
	Target string
	Track  string
	Amount float64
}

type Reply struct {
	Accepted  bool
	Code      string
	Message   string
	SimTimeMs int64
}

var ErrStopped = errors.New("driver: not running")

// Submit queues cmd for the loop and waits for its reply.
func (d *Driver) Submit(ctx context.Context, cmd Command) (Reply, error) {
	resp := make(chan Reply, 1)
	fn := func() { resp <- d.Do(cmd) }
	select {
	case d.inbox <- fn:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Do applies cmd immediately. Call it only from the loop goroutine or while the loop is
// not running.
func (d *Driver) Do(cmd Command) Reply {
	if d.st == nil {
		return Reply{Code: protocol.ErrInternal, Message: ErrStopped.Error()}
	}
	r := d.apply(cmd)
	r.SimTimeMs = d.st.SimTimeMs
	if r.Accepted {
		d.notify()
	} else {
		d.log.Debug("command rejected", "action", cmd.Action, "division", cmd.Division, "tier", cmd.Tier, "target", cmd.Target, "code", r.Code)
	}
	return r
}

func (d *Driver) apply(cmd Command) Reply {
	st, e := d.st, d.eng
	if d.paused && cmd.Action != protocol.ActResume && cmd.Action != protocol.ActSave && cmd.Action != protocol.ActVisibilityLost {
		return Reply{Code: protocol.ErrBlocked, Message: "paused"}
	}
	if cmd.Division != "" {
		if _, known := e.Catalogs().Divisions.ByID[cmd.Division]; !known {
			return Reply{Code: protocol.ErrInvalidTarget, Message: "unknown division"}
		}
	}
	var ok bool
	switch cmd.Action {
	case protocol.ActTap:
		ok = e.Tap(st, cmd.Division, cmd.Tier)
	case protocol.ActStart:
		ok = e.Start(st, cmd.Division, cmd.Tier)
	case protocol.ActBuy:
		n := cmd.Count
		if n <= 0 {
			n = 1
		}
		ok = e.Buy(st, cmd.Division, cmd.Tier, n)
	case protocol.ActBuyMax:
		ok = e.BuyMax(st, cmd.Division, cmd.Tier) > 0
	case protocol.ActUnlockTier:
		ok = e.UnlockTier(st, cmd.Division, cmd.Tier)
	case protocol.ActUnlockDivision:
		ok = e.UnlockDivision(st, cmd.Division)
	case protocol.ActHireChief:
		ok = e.HireChief(st, cmd.Division)
	case protocol.ActLevelUp:
		ok = e.LevelUp(st, cmd.Division, cmd.Tier)
	case protocol.ActHireWorker:
		ok = e.HireWorker(st, cmd.Division)
	case protocol.ActBuyUpgrade:
		ok = e.BuyUpgrade(st, cmd.Target)
	case protocol.ActStartResearch:
		ok = e.StartResearch(st, cmd.Target)
	case protocol.ActResolveCash:
		ok = e.ResolveBottleneckCash(st, cmd.Division, cmd.Target)
	case protocol.ActResolveResearch:
		ok = e.ResolveBottleneckResearch(st, cmd.Division, cmd.Target)
	case protocol.ActWaitBottleneck:
		ok = e.WaitBottleneck(st, cmd.Division, cmd.Target)
	case protocol.ActPrestige:
		ok = d.prestige()
	case protocol.ActDivisionPrestige:
		ok = e.DivisionPrestige(st, cmd.Division, cmd.Track)
	case protocol.ActBuyInstrument:
		ok = e.BuyInstrument(st, cmd.Target, cmd.Amount)
	case protocol.ActSellInstrument:
		ok = e.SellInstrument(st, cmd.Target, cmd.Amount)
	case protocol.ActClaimContract:
		ok = e.ClaimContract(st, cmd.Target)
	case protocol.ActActivateBuff:
		ok = e.ActivateBuff(st, cmd.Target)
	case protocol.ActSave:
		d.st.LastPlayed = clock.UnixMs(d.clk)
		if !d.saver.SaveNow(d.st) {
			return Reply{Code: protocol.ErrRateLimit, Message: "manual save throttled"}
		}
		d.lastSaveMs = d.st.LastPlayed
		ok = true
	case protocol.ActVisibilityLost:
		d.autosave()
		ok = true
	case protocol.ActPause:
		d.paused = true
		ok = true
	case protocol.ActResume:
		// The pause is not credited as play time.
		d.paused = false
		d.accMs = 0
		ok = true
	default:
		return Reply{Code: protocol.ErrBadRequest, Message: "unknown action"}
	}
	if !ok {
		return Reply{Code: protocol.ErrNoResource}
	}
	return Reply{Accepted: true}
}

func (d *Driver) prestige() bool {
	gain := d.eng.PrestigeGain(d.st)
	if gain < 1 {
		return false
	}
	pre := d.st.Clone()
	if !d.eng.Prestige(d.st) {
		return false
	}
	d.archivePrestige(pre, gain)
	d.autosave()
	return true
}
