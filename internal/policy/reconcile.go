package policy

import (
	"qbt_manager/internal/model"
)

// Kept is a torrent that stays in the client together with the rule that
// governs it.
type Kept struct {
	Torrent model.Torrent
	Rule    model.RetentionRule
}

// UploadLimitGroup is one batched upload-limit update.
type UploadLimitGroup struct {
	Limit  model.Limit[int64]
	Hashes []string
}

// ShareLimitKey is the target (ratio, seeding time) pair of a share-limit update.
type ShareLimitKey struct {
	Ratio       model.Limit[float64]
	SeedingTime model.Limit[int64]
}

// ShareLimitGroup is one batched share-limit update.
type ShareLimitGroup struct {
	ShareLimitKey
	Hashes []string
}

// LimitPlan is the minimal set of limit updates for a run.
type LimitPlan struct {
	UploadLimits []UploadLimitGroup
	ShareLimits  []ShareLimitGroup
}

// Empty reports whether the plan contains no updates.
func (p LimitPlan) Empty() bool {
	return len(p.UploadLimits) == 0 && len(p.ShareLimits) == 0
}

// Reconcile groups kept torrents whose limits differ from their rule by the
// exact target values, so that each distinct target costs one client call.
// Groups appear in the order their first torrent appears in kept.
func Reconcile(kept []Kept) LimitPlan {
	var plan LimitPlan
	uploadIdx := make(map[model.Limit[int64]]int)
	shareIdx := make(map[ShareLimitKey]int)

	for _, k := range kept {
		t, r := k.Torrent, k.Rule

		if target, ok := uploadTarget(t, r); ok {
			i, seen := uploadIdx[target]
			if !seen {
				i = len(plan.UploadLimits)
				uploadIdx[target] = i
				plan.UploadLimits = append(plan.UploadLimits, UploadLimitGroup{Limit: target})
			}
			plan.UploadLimits[i].Hashes = append(plan.UploadLimits[i].Hashes, t.Hash)
		}

		if key, ok := shareTarget(t, r); ok {
			i, seen := shareIdx[key]
			if !seen {
				i = len(plan.ShareLimits)
				shareIdx[key] = i
				plan.ShareLimits = append(plan.ShareLimits, ShareLimitGroup{ShareLimitKey: key})
			}
			plan.ShareLimits[i].Hashes = append(plan.ShareLimits[i].Hashes, t.Hash)
		}
	}
	return plan
}

func uploadTarget(t model.Torrent, r model.RetentionRule) (model.Limit[int64], bool) {
	if r.UploadLimit == nil || t.UploadLimit.Equal(*r.UploadLimit) {
		return model.Limit[int64]{}, false
	}
	return *r.UploadLimit, true
}

// shareTarget builds the pair to send. The client sets ratio and seeding
// time together, so a dimension the rule leaves open keeps its current value.
func shareTarget(t model.Torrent, r model.RetentionRule) (ShareLimitKey, bool) {
	if !r.ManagesShareLimits() {
		return ShareLimitKey{}, false
	}
	key := ShareLimitKey{Ratio: t.MaxRatio, SeedingTime: t.MaxSeedingTime}
	if r.MaxRatio != nil {
		key.Ratio = *r.MaxRatio
	}
	if r.MaxSeedingTime != nil {
		key.SeedingTime = *r.MaxSeedingTime
	}
	if key.Ratio.Equal(t.MaxRatio) && key.SeedingTime.Equal(t.MaxSeedingTime) {
		return ShareLimitKey{}, false
	}
	return key, true
}
