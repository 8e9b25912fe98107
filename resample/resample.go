// Package resample implements the linear-interpolation rate conversion used
// to turn 24kHz playback audio into the 16kHz reference signal the AEC
// stage needs. Stateless: every call computes purely from its inputs.
package resample

// Linear resamples src (mono 16-bit PCM at inRate Hz) to outRate Hz using
// linear interpolation between consecutive integer-indexed source samples.
// For each output index i it computes p = i*inRate/outRate, idx = floor(p),
// frac = p-idx, and emits clip16(src[idx] + frac*(src[idx+1]-src[idx])). At
// the boundary (idx >= len(src)-1) it emits src[len(src)-1]. The output
// length is floor(len(src)*outRate/inRate). If inRate==outRate the input is
// returned unchanged (by value semantics the interpolation is exact, but
// the fast path avoids float error entirely).
func Linear(src []int16, inRate, outRate int) []int16 {
	if len(src) == 0 || inRate <= 0 || outRate <= 0 {
		return nil
	}
	if inRate == outRate {
		out := make([]int16, len(src))
		copy(out, src)
		return out
	}

	outLen := len(src) * outRate / inRate
	out := make([]int16, outLen)

	for i := 0; i < outLen; i++ {
		pos := float64(i) * float64(inRate) / float64(outRate)
		idx := int(pos)

		if idx >= len(src)-1 {
			out[i] = src[len(src)-1]
			continue
		}

		frac := pos - float64(idx)
		s0 := int32(src[idx])
		s1 := int32(src[idx+1])
		out[i] = clip16(int32(float64(s0) + frac*float64(s1-s0)))
	}

	return out
}

func clip16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
