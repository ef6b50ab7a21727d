package virtio

import (
	"sort"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

// pool is the bounded channel array plus its sorted id-map. Every method
// here assumes the caller holds Server.mu; pool itself does no locking.
type pool struct {
	channels     []*channel // size channelMax+1; slot 0 is host metrics
	idMap        []idMapEntry
	channelMax   int
	channelCount int // count of slots with id != Free, excluding slot 0
}

func newPool(channelMax int) *pool {
	channels := make([]*channel, channelMax+1)
	channels[0] = newChannel()
	channels[0].id = 0
	channels[0].index = 0
	channels[0].metrics = buffer.New(metricsBufCap)

	for i := 1; i <= channelMax; i++ {
		channels[i] = newChannel()
		channels[i].index = i
	}

	idMap := make([]idMapEntry, channelMax)
	for i := range idMap {
		idMap[i] = idMapEntry{id: Free, index: i + 1}
	}

	return &pool{channels: channels, idMap: idMap, channelMax: channelMax}
}

// find locates the channel slot for id. If insert is false, a miss returns
// (nil, false). If insert is true, a miss allocates a new slot (unless the
// pool is at capacity, in which case it returns (nil, false) and the caller
// should log and drop the discovery).
func (p *pool) find(id int, name string, insert bool) (*channel, bool) {
	if idx, ok := p.search(id); ok {
		return p.channels[idx], true
	}
	if !insert {
		return nil, false
	}
	if id != 0 && p.channelCount >= p.channelMax {
		return nil, false
	}

	for i := range p.idMap {
		if p.idMap[i].id == Free {
			p.idMap[i].id = id
			p.sort()
			slot, _ := p.search(id)
			p.channels[slot].allocate(id, name)
			p.channelCount++
			return p.channels[slot], true
		}
	}
	return nil, false
}

// search performs a binary search over the sorted id-map, returning the
// channel slot index whose id equals id.
func (p *pool) search(id int) (int, bool) {
	if id == 0 {
		return 0, true
	}
	n := sort.Search(len(p.idMap), func(i int) bool {
		e := p.idMap[i].id
		return e == Free || e >= id
	})
	if n < len(p.idMap) && p.idMap[n].id == id {
		return p.idMap[n].index, true
	}
	return 0, false
}

// sort keeps the id-map ordered by id ascending with Free sentinels last,
// preserving the invariant search's binary search relies on.
func (p *pool) sort() {
	sort.Slice(p.idMap, func(i, j int) bool {
		a, b := p.idMap[i], p.idMap[j]
		if a.id == Free {
			return false
		}
		if b.id == Free {
			return true
		}
		return a.id < b.id
	})
}

// free releases the slot at index back to the pool.
func (p *pool) free(index int) {
	id := p.channels[index].id
	p.channels[index].reset()
	for i := range p.idMap {
		if p.idMap[i].id == id {
			p.idMap[i].id = Free
			p.idMap[i].index = index
			break
		}
	}
	p.sort()
	if id != 0 {
		p.channelCount--
	}
}
