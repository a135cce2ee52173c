/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import "strings"

// NamespaceActivityStreams is the IRI prefix under which the ActivityStreams
// vocabulary defines its types.
const NamespaceActivityStreams = "https://www.w3.org/ns/activitystreams#"

// Activity type IRIs used by the core.
const (
	TypeObject                = NamespaceActivityStreams + "Object"
	TypeActivity              = NamespaceActivityStreams + "Activity"
	TypeIntransitiveActivity  = NamespaceActivityStreams + "IntransitiveActivity"
	TypeAccept                = NamespaceActivityStreams + "Accept"
	TypeTentativeAccept       = NamespaceActivityStreams + "TentativeAccept"
	TypeReject                = NamespaceActivityStreams + "Reject"
	TypeTentativeReject       = NamespaceActivityStreams + "TentativeReject"
	TypeIgnore                = NamespaceActivityStreams + "Ignore"
	TypeBlock                 = NamespaceActivityStreams + "Block"
	TypeCreate                = NamespaceActivityStreams + "Create"
	TypeUpdate                = NamespaceActivityStreams + "Update"
	TypeDelete                = NamespaceActivityStreams + "Delete"
	TypeFollow                = NamespaceActivityStreams + "Follow"
	TypeAdd                   = NamespaceActivityStreams + "Add"
	TypeRemove                = NamespaceActivityStreams + "Remove"
	TypeLike                  = NamespaceActivityStreams + "Like"
	TypeDislike               = NamespaceActivityStreams + "Dislike"
	TypeAnnounce              = NamespaceActivityStreams + "Announce"
	TypeUndo                  = NamespaceActivityStreams + "Undo"
	TypeFlag                  = NamespaceActivityStreams + "Flag"
	TypeMove                  = NamespaceActivityStreams + "Move"
	TypeOffer                 = NamespaceActivityStreams + "Offer"
	TypeInvite                = NamespaceActivityStreams + "Invite"
	TypeJoin                  = NamespaceActivityStreams + "Join"
	TypeLeave                 = NamespaceActivityStreams + "Leave"
	TypeArrive                = NamespaceActivityStreams + "Arrive"
	TypeTravel                = NamespaceActivityStreams + "Travel"
	TypeQuestion              = NamespaceActivityStreams + "Question"
	TypeListen                = NamespaceActivityStreams + "Listen"
	TypeRead                  = NamespaceActivityStreams + "Read"
	TypeView                  = NamespaceActivityStreams + "View"
	TypeOrderedCollection     = NamespaceActivityStreams + "OrderedCollection"
	TypeOrderedCollectionPage = NamespaceActivityStreams + "OrderedCollectionPage"
)

// supertypes maps each activity type IRI to its direct supertype. Listener
// dispatch walks this table until a registered handler is found.
var supertypes = map[string]string{ //nolint:gochecknoglobals
	TypeActivity:             TypeObject,
	TypeIntransitiveActivity: TypeActivity,
	TypeAccept:               TypeActivity,
	TypeTentativeAccept:      TypeAccept,
	TypeReject:               TypeActivity,
	TypeTentativeReject:      TypeReject,
	TypeIgnore:               TypeActivity,
	TypeBlock:                TypeIgnore,
	TypeCreate:               TypeActivity,
	TypeUpdate:               TypeActivity,
	TypeDelete:               TypeActivity,
	TypeFollow:               TypeActivity,
	TypeAdd:                  TypeActivity,
	TypeRemove:               TypeActivity,
	TypeLike:                 TypeActivity,
	TypeDislike:              TypeActivity,
	TypeAnnounce:             TypeActivity,
	TypeUndo:                 TypeActivity,
	TypeFlag:                 TypeActivity,
	TypeMove:                 TypeActivity,
	TypeOffer:                TypeActivity,
	TypeInvite:               TypeOffer,
	TypeJoin:                 TypeActivity,
	TypeLeave:                TypeActivity,
	TypeArrive:               TypeIntransitiveActivity,
	TypeTravel:               TypeIntransitiveActivity,
	TypeQuestion:             TypeIntransitiveActivity,
	TypeListen:               TypeActivity,
	TypeRead:                 TypeActivity,
	TypeView:                 TypeActivity,
}

// ExpandType returns the full type IRI for the given type tag. Compact tags
// (e.g. "Create") are expanded under the ActivityStreams namespace.
func ExpandType(t string) string {
	if strings.Contains(t, ":") {
		return t
	}

	return NamespaceActivityStreams + t
}

// Supertype returns the direct supertype of the given type IRI, if any.
func Supertype(typeIRI string) (string, bool) {
	super, ok := supertypes[ExpandType(typeIRI)]

	return super, ok
}

// TypeChain returns the given type IRI followed by its supertypes, most
// specific first.
func TypeChain(typeIRI string) []string {
	chain := []string{ExpandType(typeIRI)}

	for {
		super, ok := supertypes[chain[len(chain)-1]]
		if !ok {
			return chain
		}

		chain = append(chain, super)
	}
}
