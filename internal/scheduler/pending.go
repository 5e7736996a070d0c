package scheduler

import (
	"github.com/google/btree"

	"jobsched/internal/job"
)

const btreeDegree = 16

// entry pins the ordering key a job had when it was inserted. The tree never
// re-reads a job's mutable state, so a job that is re-armed while still
// referenced elsewhere cannot corrupt the order.
type entry struct {
	key job.Key
	j   *job.Job
}

func entryLess(a, b entry) bool { return a.key.Less(b.key) }

// pendingSet is an ordered set of jobs with at most one entry per job.
// Not safe for concurrent use.
type pendingSet struct {
	tree  *btree.BTreeG[entry]
	index map[*job.Job]entry
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		tree:  btree.NewG(btreeDegree, entryLess),
		index: map[*job.Job]entry{},
	}
}

// insert adds j under its current key, replacing an earlier entry for j.
func (p *pendingSet) insert(j *job.Job) {
	if old, ok := p.index[j]; ok {
		p.tree.Delete(old)
	}
	e := entry{key: j.Key(), j: j}
	p.tree.ReplaceOrInsert(e)
	p.index[j] = e
}

func (p *pendingSet) remove(j *job.Job) bool {
	e, ok := p.index[j]
	if !ok {
		return false
	}
	p.tree.Delete(e)
	delete(p.index, j)
	return true
}

func (p *pendingSet) min() (entry, bool) { return p.tree.Min() }

func (p *pendingSet) len() int { return p.tree.Len() }

func (p *pendingSet) ascend(fn func(e entry) bool) { p.tree.Ascend(fn) }
