package sbf

import "math"

// resolveJumps patches every deferred jump fixup with its final
// relative displacement now that every instruction's output offset,
// and the shared epilogue/divide-by-zero trampolines, are known. It
// runs once, after the single translation pass over the program has
// finished emitting code.
func (s *jitState) resolveJumps() error {
	for _, j := range s.jumps {
		var target int
		switch j.targetPC {
		case targetExit:
			target = s.exitLoc
		case targetDivByZero:
			target = s.divByZeroLoc
		default:
			target = s.pcLocs[j.targetPC]
		}
		rel := int64(target) - int64(j.offsetLoc+4)
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return &DisplacementOverflow{OffsetLoc: j.offsetLoc, Rel: rel}
		}
		s.buf.patchUint32(j.offsetLoc, uint32(int32(rel)))
	}
	return nil
}
