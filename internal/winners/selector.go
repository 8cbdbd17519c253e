package winners

import (
	"sort"

	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
)

// MaxRewardedWinners is the largest winner count the default policy has a
// reward split for.
const MaxRewardedWinners = 3

// RewardPolicy maps the number of winners actually selected to the
// percentage each rank receives.
type RewardPolicy struct {
	Splits map[int][]int
	// MaxWinners caps maxWinners requests; zero means no cap.
	MaxWinners int
}

func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		Splits: map[int][]int{
			1: {100},
			2: {70, 30},
			3: {50, 30, 20},
		},
		MaxWinners: MaxRewardedWinners,
	}
}

// Shares returns the reward percentage for each of n ranks. Counts with no
// configured split get an equal split with the remainder on rank 1.
func (p RewardPolicy) Shares(n int) []int {
	if n <= 0 {
		return nil
	}
	if split, ok := p.Splits[n]; ok && len(split) == n {
		out := make([]int, n)
		copy(out, split)
		return out
	}
	out := make([]int, n)
	each := 100 / n
	for i := range out {
		out[i] = each
	}
	out[0] += 100 - each*n
	return out
}

type Selector struct {
	policy RewardPolicy
}

func NewSelector(policy RewardPolicy) *Selector {
	return &Selector{policy: policy}
}

// DetermineWinners ranks verified submissions by score, earliest timestamp,
// then id. It does not modify the input slice.
func (s *Selector) DetermineWinners(submissions []judging.Submission, maxWinners int) judging.WinnerResult {
	valid := make([]judging.Submission, 0, len(submissions))
	for _, sub := range submissions {
		if sub.Verified() {
			valid = append(valid, sub)
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return ranksBefore(valid[i], valid[j])
	})

	n := maxWinners
	if s.policy.MaxWinners > 0 && n > s.policy.MaxWinners {
		n = s.policy.MaxWinners
	}
	if n > len(valid) {
		n = len(valid)
	}
	if n < 0 {
		n = 0
	}

	shares := s.policy.Shares(n)
	winners := make([]judging.WinnerRecord, n)
	for i := 0; i < n; i++ {
		winners[i] = judging.WinnerRecord{
			SubmissionID:     valid[i].ID,
			Submitter:        valid[i].Submitter,
			Score:            valid[i].Verification.Score,
			Rank:             i + 1,
			RewardPercentage: shares[i],
		}
	}

	return judging.WinnerResult{
		Winners:          winners,
		TotalSubmissions: len(submissions),
		ValidSubmissions: len(valid),
	}
}

// DetermineWinners runs the default policy.
func DetermineWinners(submissions []judging.Submission, maxWinners int) judging.WinnerResult {
	return NewSelector(DefaultRewardPolicy()).DetermineWinners(submissions, maxWinners)
}

func ranksBefore(a, b judging.Submission) bool {
	if a.Verification.Score != b.Verification.Score {
		return a.Verification.Score > b.Verification.Score
	}

	ta, okA := a.ParsedTimestamp()
	tb, okB := b.ParsedTimestamp()
	switch {
	case okA && okB && !ta.Equal(tb):
		return ta.Before(tb)
	case okA && !okB:
		return true
	case !okA && okB:
		return false
	}

	return a.ID < b.ID
}
