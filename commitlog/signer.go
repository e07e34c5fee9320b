package commitlog

import "fmt"

// DiscoverConsensusKey picks the signer public key that published the
// largest share of entries at a given commit sequence position across
// the set of candidates collected from several group members' remote
// logs (§4.7 "the consensus key is whichever signer a quorum of
// members' remote logs agree on for a given position"). Ties are
// resolved by returning an error rather than guessing, since silently
// picking one of two disagreeing keys would mask a fork.
func DiscoverConsensusKey(candidates []RemoteEntry) ([]byte, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate entries to discover a consensus key from")
	}
	counts := make(map[string]int)
	for _, c := range candidates {
		counts[string(c.SignerPublicKey)]++
	}
	var best string
	bestCount := 0
	tied := false
	for key, count := range counts {
		switch {
		case count > bestCount:
			best, bestCount, tied = key, count, false
		case count == bestCount:
			tied = true
		}
	}
	if tied {
		return nil, fmt.Errorf("no consensus: multiple signer keys tied at %d entries", bestCount)
	}
	return []byte(best), nil
}
