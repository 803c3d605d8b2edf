package reconcile

// BaseZ is the floor for touched cards; anything brought forward outranks
// untouched cards and table chrome.
const BaseZ = 10000

// NextZ assigns the optimistic zIndex for a card being brought forward.
// The authority's echo still decides the final value.
func (r *Reconciler) NextZ() int {
	r.z = max(r.z, BaseZ) + 1
	return r.z
}

func (r *Reconciler) observeZ(z int) {
	if z > r.z {
		r.z = z
	}
}
