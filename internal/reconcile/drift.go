package reconcile

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

// StateHash digests the visible table so peers can compare views.
func (r *Reconciler) StateHash() (string, int) {
	view := r.View()
	sort.Slice(view, func(i, j int) bool { return view[i].UniqueID() < view[j].UniqueID() })

	var b strings.Builder
	for _, c := range view {
		fmt.Fprintf(&b, "%s|%g|%g|%t|%s|%d\n",
			c.UniqueID(), c.Position.X, c.Position.Y, c.IsFlipped, c.PrivateTo, c.ZIndex)
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), len(view)
}

// Validation builds the broadcast for the current view.
func (r *Reconciler) Validation() protocol.StateValidation {
	hash, n := r.StateHash()
	return protocol.StateValidation{Hash: hash, Timestamp: r.lastTS, PlayerID: r.self, CardCount: n}
}

// NeedsCorrection reports whether local should ask remote to rebroadcast:
// the hashes differ and local is not the newer view.
func NeedsCorrection(local, remote protocol.StateValidation) bool {
	return local.Hash != remote.Hash && local.Timestamp <= remote.Timestamp
}
