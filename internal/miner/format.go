package miner

import "strconv"

// FormatHashrate formats a hashrate in H/s as human-readable (kH/s, MH/s, GH/s)
func FormatHashrate(hps float64) string {
	switch {
	case hps >= 1e9:
		return strconv.FormatFloat(hps/1e9, 'f', 2, 64) + " GH/s"
	case hps >= 1e6:
		return strconv.FormatFloat(hps/1e6, 'f', 2, 64) + " MH/s"
	case hps >= 1e3:
		return strconv.FormatFloat(hps/1e3, 'f', 2, 64) + " kH/s"
	default:
		return strconv.FormatFloat(hps, 'f', 0, 64) + " H/s"
	}
}
