/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/dahlia/fedify-sub001/pkg/vocab"
)

// Inboxes maps an inbox URL to the IDs of the recipients it serves. When
// shared inboxes are preferred, multiple recipients commonly collapse into
// one entry.
type Inboxes map[string][]*url.URL

// ExtractInboxes expands a recipient set into the inboxes to deliver to.
// With preferSharedInbox, a recipient with a shared inbox is delivered there
// instead of to its individual inbox. Recipients whose chosen inbox origin
// appears in excludeBaseURIs are skipped, which prevents the sender from
// delivering to shared inboxes it also owns.
func ExtractInboxes(recipients []*vocab.Recipient, preferSharedInbox bool, excludeBaseURIs []*url.URL) Inboxes {
	excluded := make(map[string]struct{}, len(excludeBaseURIs))

	for _, baseURI := range excludeBaseURIs {
		excluded[origin(baseURI)] = struct{}{}
	}

	inboxes := make(Inboxes)

	for _, recipient := range recipients {
		inbox := recipient.Inbox

		if preferSharedInbox && recipient.SharedInbox != nil {
			inbox = recipient.SharedInbox
		}

		if inbox == nil {
			continue
		}

		if _, ok := excluded[origin(inbox)]; ok {
			continue
		}

		inboxes[inbox.String()] = append(inboxes[inbox.String()], recipient.ID)
	}

	return inboxes
}

// CollectionSynchronizationHeader computes the Collection-Synchronization
// header (FEP-8fcf) for a delivery: the partial-followers URL scoped to the
// target inbox's origin, and the digest of the recipient IDs delivered
// through that inbox. The digest is the XOR of the SHA-256 hashes of the
// recipient IDs.
func CollectionSynchronizationHeader(followers, inbox *url.URL, recipientIDs []*url.URL) string {
	partial := *followers
	query := partial.Query()
	query.Set("base-url", origin(inbox))
	partial.RawQuery = query.Encode()

	var digest [sha256.Size]byte

	for _, id := range recipientIDs {
		h := sha256.Sum256([]byte(id.String()))

		for i := range digest {
			digest[i] ^= h[i]
		}
	}

	return fmt.Sprintf(`collectionId="%s", url="%s", digest="%s"`,
		followers, partial.String(), hex.EncodeToString(digest[:]))
}

func origin(u *url.URL) string {
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
