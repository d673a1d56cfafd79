// Package leaderboard maintains a ranked, in-memory view of lifetime points.
//
// Writers patch a private copy of the ordering under a mutex and publish it
// through an atomic pointer, so readers always see a complete snapshot and
// never wait on a writer.
package leaderboard

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Member is the ranking input for one user.
type Member struct {
	UserID           string
	LifetimeEarned   int64
	ProfileCreatedAt time.Time
}

// Entry is a ranked member. Rank is 1-based.
type Entry struct {
	Rank int
	Member
}

type snapshot struct {
	ordered   []Member
	positions map[string]int
	builtAt   time.Time
}

// Board is safe for concurrent use.
type Board struct {
	writeMutex sync.Mutex
	current    atomic.Pointer[snapshot]
	nowFn      func() time.Time
	// generation counts upserts; touched records the generation of each
	// member's latest upsert. Both are guarded by writeMutex.
	generation uint64
	touched    map[string]uint64
}

// New returns an empty board.
func New() *Board {
	board := &Board{nowFn: time.Now, touched: map[string]uint64{}}
	board.current.Store(&snapshot{positions: map[string]int{}})
	return board
}

// Less reports whether left ranks above right.
func Less(left Member, right Member) bool {
	if left.LifetimeEarned != right.LifetimeEarned {
		return left.LifetimeEarned > right.LifetimeEarned
	}
	if !left.ProfileCreatedAt.Equal(right.ProfileCreatedAt) {
		return left.ProfileCreatedAt.Before(right.ProfileCreatedAt)
	}
	return left.UserID < right.UserID
}

// Upsert inserts or repositions a member.
func (board *Board) Upsert(member Member) {
	board.writeMutex.Lock()
	defer board.writeMutex.Unlock()

	board.generation++
	board.touched[member.UserID] = board.generation

	previous := board.current.Load()
	if position, exists := previous.positions[member.UserID]; exists {
		existing := previous.ordered[position]
		if existing.LifetimeEarned == member.LifetimeEarned && existing.ProfileCreatedAt.Equal(member.ProfileCreatedAt) {
			return
		}
	}

	ordered := make([]Member, 0, len(previous.ordered)+1)
	for _, candidate := range previous.ordered {
		if candidate.UserID != member.UserID {
			ordered = append(ordered, candidate)
		}
	}
	insertAt := sort.Search(len(ordered), func(index int) bool {
		return Less(member, ordered[index])
	})
	ordered = append(ordered, Member{})
	copy(ordered[insertAt+1:], ordered[insertAt:])
	ordered[insertAt] = member
	board.current.Store(board.build(ordered))
}

// Mark returns the current upsert generation for use with ReplaceSince.
func (board *Board) Mark() uint64 {
	board.writeMutex.Lock()
	defer board.writeMutex.Unlock()
	return board.generation
}

// Replace swaps the whole membership.
func (board *Board) Replace(members []Member) {
	board.writeMutex.Lock()
	defer board.writeMutex.Unlock()
	board.replaceLocked(members, board.generation)
}

// ReplaceSince swaps the membership for members read after mark was taken.
// Members upserted after mark keep their live standing, since the read may
// predate their latest change.
func (board *Board) ReplaceSince(mark uint64, members []Member) {
	board.writeMutex.Lock()
	defer board.writeMutex.Unlock()
	board.replaceLocked(members, mark)
}

func (board *Board) replaceLocked(members []Member, mark uint64) {
	ordered := make([]Member, 0, len(members))
	seen := make(map[string]int, len(members))
	place := func(member Member) {
		if index, duplicate := seen[member.UserID]; duplicate {
			ordered[index] = member
			return
		}
		seen[member.UserID] = len(ordered)
		ordered = append(ordered, member)
	}
	for _, member := range members {
		place(member)
	}

	live := board.current.Load()
	for userID, generation := range board.touched {
		if generation <= mark {
			delete(board.touched, userID)
			continue
		}
		if position, exists := live.positions[userID]; exists {
			place(live.ordered[position])
		}
	}

	sort.SliceStable(ordered, func(left, right int) bool {
		return Less(ordered[left], ordered[right])
	})
	board.current.Store(board.build(ordered))
}

// Top returns up to limit entries from the head of the ranking.
func (board *Board) Top(limit int) []Entry {
	current := board.current.Load()
	if limit <= 0 || limit > len(current.ordered) {
		limit = len(current.ordered)
	}
	entries := make([]Entry, 0, limit)
	for index := 0; index < limit; index++ {
		entries = append(entries, Entry{Rank: index + 1, Member: current.ordered[index]})
	}
	return entries
}

// RankOf returns the entry for userID regardless of any limit window.
func (board *Board) RankOf(userID string) (Entry, bool) {
	current := board.current.Load()
	position, exists := current.positions[userID]
	if !exists {
		return Entry{}, false
	}
	return Entry{Rank: position + 1, Member: current.ordered[position]}, true
}

// Len returns the number of ranked members.
func (board *Board) Len() int {
	return len(board.current.Load().ordered)
}

// BuiltAt returns when the current snapshot was published.
func (board *Board) BuiltAt() time.Time {
	return board.current.Load().builtAt
}

func (board *Board) build(ordered []Member) *snapshot {
	positions := make(map[string]int, len(ordered))
	for index, member := range ordered {
		positions[member.UserID] = index
	}
	return &snapshot{ordered: ordered, positions: positions, builtAt: board.nowFn().UTC()}
}
