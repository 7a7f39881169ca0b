package main

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// money prints small amounts with separators and large ones with an SI suffix.
func money(v float64) string {
	if math.Abs(v) < 1e6 {
		return "$" + humanize.CommafWithDigits(v, 2)
	}
	return "$" + humanize.SIWithDigits(v, 2, "")
}

func perSecond(v float64) string { return money(v) + "/s" }

func percent(v float64) string { return humanize.FtoaWithDigits(v*100, 1) + "%" }

func duration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
