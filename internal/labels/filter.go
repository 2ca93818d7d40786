package labels

// ExcludedAsDraft reports whether a message must be hidden from a draft
// listing: when DRAFT is requested, a message that also carries SENT, TRASH or
// SPAM is no longer a draft.
func ExcludedAsDraft(requested, carried Set) bool {
	if !requested.Has(Draft) || !carried.Has(Draft) {
		return false
	}
	return carried.Has(Sent) || carried.Has(Trash) || carried.Has(Spam)
}

// ExcludedAsTrash reports whether a trashed message must be hidden because
// the request did not ask for TRASH.
func ExcludedAsTrash(requested, carried Set) bool {
	return carried.Has(Trash) && !requested.Has(Trash)
}

// Matches reports whether a message carrying the given labels belongs in a
// listing for the requested set. An empty request matches everything.
func Matches(requested, carried Set) bool {
	if requested.Empty() {
		return true
	}
	if !requested.Intersects(carried) {
		return false
	}
	if ExcludedAsDraft(requested, carried) {
		return false
	}
	return !ExcludedAsTrash(requested, carried)
}
