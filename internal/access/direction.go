package access

// GrantFor derives the grant created when receiver accepts requester's request.
//
// Mixed-role pairs always make the requester the owner: an admin asking a user
// exposes the admin's records to the user, and a user asking an admin exposes
// the user's records to the admin. Peers fall back to the receiver as owner.
// The result is stored on the request, so later role changes never move it.
func GrantFor(requester, receiver UserProfile) AccessGrant {
	reqRole := RoleOrDefault(string(requester.Role))
	recvRole := RoleOrDefault(string(receiver.Role))
	if reqRole != recvRole {
		return AccessGrant{OwnerUserID: requester.ID, GranteeUserID: receiver.ID}
	}
	return AccessGrant{OwnerUserID: receiver.ID, GranteeUserID: requester.ID}
}
