// Package labels models Gmail label identifiers as a closed set of well-known
// system labels plus an open custom variant, and holds the pure filtering
// predicates used by list views.
package labels

import (
	"sort"
	"strings"
)

// Kind identifies a well-known label. KindCustom marks a user-defined label
// whose identity is carried by its ID.
type Kind uint8

const (
	KindCustom Kind = iota
	KindInbox
	KindSent
	KindDraft
	KindStarred
	KindTrash
	KindSpam
	KindUnread
	KindImportant
	KindChat
	KindCategoryPersonal
	KindCategorySocial
	KindCategoryPromotions
	KindCategoryUpdates
	KindCategoryForums
)

var kindIDs = map[Kind]string{
	KindInbox:              "INBOX",
	KindSent:               "SENT",
	KindDraft:              "DRAFT",
	KindStarred:            "STARRED",
	KindTrash:              "TRASH",
	KindSpam:               "SPAM",
	KindUnread:             "UNREAD",
	KindImportant:          "IMPORTANT",
	KindChat:               "CHAT",
	KindCategoryPersonal:   "CATEGORY_PERSONAL",
	KindCategorySocial:     "CATEGORY_SOCIAL",
	KindCategoryPromotions: "CATEGORY_PROMOTIONS",
	KindCategoryUpdates:    "CATEGORY_UPDATES",
	KindCategoryForums:     "CATEGORY_FORUMS",
}

var idKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindIDs))
	for k, id := range kindIDs {
		m[id] = k
	}
	return m
}()

// Label is a single Gmail label.
type Label struct {
	Kind Kind
	// ID is the custom label ID. Empty for well-known labels.
	ID string
}

// Well-known labels.
var (
	Inbox              = Label{Kind: KindInbox}
	Sent               = Label{Kind: KindSent}
	Draft              = Label{Kind: KindDraft}
	Starred            = Label{Kind: KindStarred}
	Trash              = Label{Kind: KindTrash}
	Spam               = Label{Kind: KindSpam}
	Unread             = Label{Kind: KindUnread}
	Important          = Label{Kind: KindImportant}
	Chat               = Label{Kind: KindChat}
	CategoryPersonal   = Label{Kind: KindCategoryPersonal}
	CategorySocial     = Label{Kind: KindCategorySocial}
	CategoryPromotions = Label{Kind: KindCategoryPromotions}
	CategoryUpdates    = Label{Kind: KindCategoryUpdates}
	CategoryForums     = Label{Kind: KindCategoryForums}
)

// Custom returns a user-defined label.
func Custom(id string) Label {
	return Label{Kind: KindCustom, ID: id}
}

// Parse maps a label ID to a Label. Well-known IDs match case-insensitively;
// anything else becomes a custom label with the ID preserved as given. Sets
// compare custom IDs case-insensitively too.
func Parse(id string) Label {
	id = strings.TrimSpace(id)
	if k, ok := idKinds[strings.ToUpper(id)]; ok {
		return Label{Kind: k}
	}
	return Custom(id)
}

// String returns the Gmail label ID.
func (l Label) String() string {
	if l.Kind == KindCustom {
		return l.ID
	}
	return kindIDs[l.Kind]
}

// IsSystem reports whether the label is one of the well-known labels.
func (l Label) IsSystem() bool {
	return l.Kind != KindCustom
}

// Buckets returns the labels enumerated one by one during bootstrap and
// recovery, in enumeration order.
func Buckets() []Label {
	return []Label{
		Inbox, Sent, Draft, Starred, Trash, Spam,
		CategoryPersonal, CategorySocial, CategoryPromotions, CategoryUpdates, CategoryForums,
	}
}

// Set is an immutable-by-convention set of labels. The zero value is empty.
type Set struct {
	known  uint32
	custom map[string]string // folded ID -> ID as first seen
}

// NewSet builds a set from labels.
func NewSet(ls ...Label) Set {
	var s Set
	for _, l := range ls {
		s.add(l)
	}
	return s
}

// SetOf parses raw label IDs into a set.
func SetOf(ids []string) Set {
	var s Set
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		s.add(Parse(id))
	}
	return s
}

// ParseFilter splits a comma-separated filter into a set. Blank entries are
// dropped, so "" and " , " both yield an empty set.
func ParseFilter(filter string) Set {
	return SetOf(strings.Split(filter, ","))
}

func (s *Set) add(l Label) {
	if l.Kind != KindCustom {
		s.known |= 1 << l.Kind
		return
	}
	if l.ID == "" {
		return
	}
	if s.custom == nil {
		s.custom = make(map[string]string)
	}
	key := strings.ToLower(l.ID)
	if _, ok := s.custom[key]; !ok {
		s.custom[key] = l.ID
	}
}

// Has reports whether l is in the set.
func (s Set) Has(l Label) bool {
	if l.Kind != KindCustom {
		return s.known&(1<<l.Kind) != 0
	}
	_, ok := s.custom[strings.ToLower(l.ID)]
	return ok
}

// Empty reports whether the set has no labels.
func (s Set) Empty() bool {
	return s.known == 0 && len(s.custom) == 0
}

// Len returns the number of labels in the set.
func (s Set) Len() int {
	n := len(s.custom)
	for k := s.known; k != 0; k &= k - 1 {
		n++
	}
	return n
}

// Intersects reports whether s and other share at least one label.
func (s Set) Intersects(other Set) bool {
	if s.known&other.known != 0 {
		return true
	}
	a, b := s.custom, other.custom
	if len(b) < len(a) {
		a, b = b, a
	}
	for id := range a {
		if _, ok := b[id]; ok {
			return true
		}
	}
	return false
}

// IDs returns the label IDs in a stable order: well-known labels first in
// declaration order, then custom IDs sorted.
func (s Set) IDs() []string {
	out := make([]string, 0, s.Len())
	for k := KindInbox; k <= KindCategoryForums; k++ {
		if s.known&(1<<k) != 0 {
			out = append(out, kindIDs[k])
		}
	}
	custom := make([]string, 0, len(s.custom))
	for _, id := range s.custom {
		custom = append(custom, id)
	}
	sort.Strings(custom)
	return append(out, custom...)
}
