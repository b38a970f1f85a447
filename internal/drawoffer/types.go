package drawoffer

import "github.com/park285/cheese-session/pkg/sessiondto"

// State is the canonical negotiation state of one session: Idle when OfferedBy is empty,
// Offered(OfferedBy) otherwise. Per-participant flags are projections of it.
type State struct {
	OfferedBy string
}

func (s State) Idle() bool { return s.OfferedBy == "" }

// View is what a single participant sees.
type View struct {
	IsOffering  bool
	IsReceiving bool
	CanOffer    bool
	Completed   bool
}

// ViewFor projects s for viewer. peer is the viewer's opponent; a viewer without a peer
// (non participant) never sees an offer.
func (s State) ViewFor(viewer, peer string, completed bool) View {
	v := View{Completed: completed}
	if completed || viewer == "" || peer == "" {
		return v
	}
	v.IsOffering = !s.Idle() && s.OfferedBy == viewer
	v.IsReceiving = !s.Idle() && s.OfferedBy == peer
	v.CanOffer = s.Idle()
	return v
}

var (
	ErrNotParticipant = sessiondto.Validation("only session participants can negotiate a draw")
	ErrGameCompleted  = sessiondto.Validation("game session already completed")
	ErrOfferPending   = sessiondto.Validation("a draw offer is already pending")
	ErrNoOffer        = sessiondto.Validation("no draw offer to answer")
	ErrOwnOffer       = sessiondto.Validation("cannot answer your own draw offer")
	ErrClosed         = sessiondto.Validation("draw negotiator closed")
)
