package wbfs

// reduceBlockUsage folds a Wii-sector-granularity usage bitmap (one
// bool per discfmt.SectorSize-byte sector — see disc.Disc's sector
// usage bitmap) down to WBFS-block granularity: a block is used if any
// Wii sector it covers is used (spec §4.5 step 2, the add-disc
// sparsification algorithm). A nil bitmap means no usage information is
// available, so every block is treated as used, matching the dense
// behavior a caller gets when it can't or doesn't bother to compute one.
func reduceBlockUsage(used []bool, nBlocks, wiiSectorsPerBlock int) []bool {
	out := make([]bool, nBlocks)
	if used == nil || wiiSectorsPerBlock < 1 {
		for i := range out {
			out[i] = true
		}
		return out
	}
	for i := range out {
		start := i * wiiSectorsPerBlock
		end := start + wiiSectorsPerBlock
		if start > len(used) {
			start = len(used)
		}
		if end > len(used) {
			end = len(used)
		}
		for _, u := range used[start:end] {
			if u {
				out[i] = true
				break
			}
		}
	}
	if len(out) > 0 {
		out[0] = true // the disc header itself always lives in block 0 (spec §3 WBFS disc info invariant)
	}
	return out
}
