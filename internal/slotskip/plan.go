package slotskip

import (
	"sort"
	"time"

	"validator-watch/internal/solana"
)

// GroupSlots partitions sorted slots into consecutive chunks of at most size.
func GroupSlots(slots []uint64, size int) [][]uint64 {
	if size <= 0 {
		size = 1
	}
	groups := make([][]uint64, 0, (len(slots)+size-1)/size)
	for i := 0; i < len(slots); i += size {
		end := min(i+size, len(slots))
		groups = append(groups, slots[i:end:end])
	}
	return groups
}

// SkippedSlots returns the slots of group that are missing from confirmed, in group order.
func SkippedSlots(group, confirmed []uint64) []uint64 {
	produced := make(map[uint64]struct{}, len(confirmed))
	for _, s := range confirmed {
		produced[s] = struct{}{}
	}
	var skipped []uint64
	for _, s := range group {
		if _, ok := produced[s]; !ok {
			skipped = append(skipped, s)
		}
	}
	return skipped
}

// PredictCheckTime estimates when target becomes confirmable, given that baseSlot
// was observed at baseTime, and adds the safety buffer.
func PredictCheckTime(baseSlot uint64, baseTime time.Time, target uint64, slotDuration, buffer time.Duration) time.Time {
	diff := int64(target) - int64(baseSlot)
	return baseTime.Add(time.Duration(diff)*slotDuration + buffer)
}

// AssignedSlots resolves the absolute, ascending leader slots of identity in the epoch.
func AssignedSlots(schedule solana.LeaderSchedule, identity string, firstSlot uint64) []uint64 {
	offsets := schedule[identity]
	slots := make([]uint64, len(offsets))
	for i, off := range offsets {
		slots[i] = firstSlot + off
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// Snapshot is the chain state a batch of plans is computed from.
type Snapshot struct {
	Network     solana.Network
	CurrentSlot uint64
	BaseTime    time.Time
	Epoch       solana.EpochInfo
	Schedule    solana.LeaderSchedule
}

// PlannedGroup is one slot group with its predicted check time.
type PlannedGroup struct {
	Slots   []uint64  `json:"slots"`
	CheckAt time.Time `json:"check_at"`
}

// First is the group's first slot.
func (g PlannedGroup) First() uint64 { return g.Slots[0] }

// Last is the group's last slot, the one the check waits for.
func (g PlannedGroup) Last() uint64 { return g.Slots[len(g.Slots)-1] }

// Plan lists the groups still worth checking for one validator.
type Plan struct {
	Network     solana.Network `json:"network"`
	VoteAddress string         `json:"vote_address"`
	Identity    string         `json:"identity"`
	Epoch       uint64         `json:"epoch"`
	Assigned    int            `json:"assigned"`
	Elapsed     int            `json:"elapsed"`
	Groups      []PlannedGroup `json:"groups"`
}

// BuildPlan groups the validator's assigned slots and predicts a check time for each group.
// Groups already behind the current slot whose check time has passed are counted as elapsed.
func BuildPlan(snap Snapshot, voteAddress, identity string, opts Options, now time.Time) Plan {
	slots := AssignedSlots(snap.Schedule, identity, snap.Epoch.FirstSlot())
	plan := Plan{
		Network:     snap.Network,
		VoteAddress: voteAddress,
		Identity:    identity,
		Epoch:       snap.Epoch.Epoch,
		Assigned:    len(slots),
	}
	for _, group := range GroupSlots(slots, opts.GroupSize) {
		last := group[len(group)-1]
		at := PredictCheckTime(snap.CurrentSlot, snap.BaseTime, last, opts.SlotDuration, opts.NotificationBuffer)
		if last <= snap.CurrentSlot && !at.After(now) {
			plan.Elapsed++
			continue
		}
		plan.Groups = append(plan.Groups, PlannedGroup{Slots: group, CheckAt: at})
	}
	return plan
}
