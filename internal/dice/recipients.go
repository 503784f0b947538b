package dice

import "dicebot/internal/host"

// Selector decides who receives a roll message.
type Selector struct {
	dir host.Directory
}

func NewSelector(dir host.Directory) *Selector { return &Selector{dir: dir} }

// Recipients returns the caller alone for private rolls. For broadcasts it
// filters the online directory by world and range.
//
// A finite range only reaches recipients in the caller's world: positions in
// different worlds have no distance.
func (s *Selector) Recipients(caller host.Caller, caps Capabilities, st *Settings) []host.Caller {
	if !caps.Broadcast {
		return []host.Caller{caller}
	}
	if s.dir == nil {
		return nil
	}

	from, placed := caller.Location()
	crossWorld := st.CrossWorld()
	rng := int64(st.BroadcastRange())
	if rng > MaxBroadcastRange {
		rng = MaxBroadcastRange
	}

	online := s.dir.Online()
	out := make([]host.Caller, 0, len(online))
	for _, r := range online {
		to, ok := r.Location()
		if !placed {
			out = append(out, r)
			continue
		}
		if !crossWorld && (!ok || to.World != from.World) {
			continue
		}
		if rng >= 0 && (!ok || to.World != from.World || from.DistanceSquared(to) >= rng*rng) {
			continue
		}
		out = append(out, r)
	}
	return out
}
