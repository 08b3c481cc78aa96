package backend

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"promptline/pkg/types"
)

// seedRange bounds generated seeds to [0, seedRange).
const seedRange = 99999

// Seed resolves the configured seed. Empty, -1 and unparsable values yield a
// random seed from rnd (the global source when rnd is nil).
func Seed(raw types.Seed, rnd *rand.Rand) int {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err == nil && n != -1 {
		return n
	}
	if rnd == nil {
		return rand.IntN(seedRange)
	}
	return rnd.IntN(seedRange)
}

// StopSequences splits the instruct's comma separated stop string.
func StopSequences(f types.InstructFormat) []string {
	var out []string
	for _, s := range strings.Split(f.StopSequence, ",") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Labels returns the speaker labels the stream filter strips when the format
// writes names into the prompt.
func Labels(f types.InstructFormat, userName, charName string) []string {
	if !f.Names {
		return nil
	}
	return []string{userName + " :", charName + " :"}
}
