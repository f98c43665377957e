package client

import "strings"

// Identity is the explicit "who am I" handed to the synchronizer and
// orchestrator. Either a wallet address or a guest name; never read
// from ambient state, so tests can run several identities side by
// side.
type Identity struct {
	// Address is the wallet address (0x…), empty for guests.
	Address string
	// Guest is the guest display name, used only when Address is empty.
	Guest string
}

func (id Identity) IsGuest() bool { return id.Address == "" }

// Key returns the stable identifier for this identity.
func (id Identity) Key() string {
	if id.IsGuest() {
		return id.Guest
	}
	return strings.ToLower(id.Address)
}

// Matches reports whether addr refers to this identity's wallet.
func (id Identity) Matches(addr string) bool {
	return !id.IsGuest() && strings.EqualFold(id.Address, addr)
}
