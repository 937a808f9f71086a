package core

// Assignment maps one student instance to its external port and the
// in-cluster service target the port forwards to.
type Assignment struct {
	StudentName  string
	ExternalPort int32
	// Target is "{namespace}/{instance}:{internalPort}", the registry value.
	Target string
}

// Allocate assigns one external port per student of a class using a first-fit
// cursor over r. The cursor starts at r.Start and only ever moves forward:
// for each instance it skips occupied ports, assigns the first free one, and
// advances by one before the next instance. In an empty range this yields a
// contiguous block; otherwise each student gets the smallest free port at or
// above the previous assignment.
//
// Allocate is a pure function of its inputs. Identical occupancy yields an
// identical result, but a result computed from a stale snapshot is worthless:
// callers must take occupied inside the same critical section as the commit
// that persists the returned assignments.
//
// Returns a *RangeExhaustedError when fewer than n free ports remain at or
// above the cursor before r.End.
func Allocate(r PortRange, class string, n int, namespace string, occupied map[int32]struct{}) ([]Assignment, error) {
	names := InstanceNames(class, n)
	if len(names) == 0 {
		return nil, nil
	}

	assignments := make([]Assignment, 0, len(names))
	cursor := r.Start
	for _, name := range names {
		for {
			if cursor > r.End {
				return nil, &RangeExhaustedError{
					Start:     r.Start,
					End:       r.End,
					Requested: n,
					Available: freeInRange(r, occupied),
				}
			}
			if _, taken := occupied[cursor]; !taken {
				break
			}
			cursor++
		}
		assignments = append(assignments, Assignment{
			StudentName:  name,
			ExternalPort: cursor,
			Target:       ServiceTarget(namespace, name, r.Internal),
		})
		cursor++
	}

	return assignments, nil
}

// freeInRange counts the unoccupied ports in r. Used only for error
// reporting, so a linear scan over the (small, bounded) range is fine.
func freeInRange(r PortRange, occupied map[int32]struct{}) int {
	free := 0
	for p := r.Start; p <= r.End; p++ {
		if _, taken := occupied[p]; !taken {
			free++
		}
	}
	return free
}
