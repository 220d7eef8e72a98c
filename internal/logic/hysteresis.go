package logic

// Evaluate returns the counters after one reading. For each of NTH, Hot, ETH
// and ETH+tempExtra the "over" counter counts consecutive readings strictly
// above the limit and the "under" counter counts readings at or below it; the
// counter that does not match is reset. Both saturate at limit.
func Evaluate(prev Counters, temp float64, th Thresholds, tempExtra float64, limit int) Counters {
	next := prev
	next.OverNTH, next.UnderNTH = step(prev.OverNTH, prev.UnderNTH, temp > th.NTH, limit)
	next.OverHot, next.UnderHot = step(prev.OverHot, prev.UnderHot, temp > th.Hot, limit)
	next.OverETH, next.UnderETH = step(prev.OverETH, prev.UnderETH, temp > th.ETH, limit)
	next.OverETHExtra, next.UnderETHExtra = step(prev.OverETHExtra, prev.UnderETHExtra, temp > th.ETH+tempExtra, limit)
	return next
}

func step(over, under int, above bool, limit int) (int, int) {
	if above {
		return saturate(over, limit), 0
	}
	return 0, saturate(under, limit)
}

func saturate(n, limit int) int {
	if n < limit {
		return n + 1
	}
	return limit
}
