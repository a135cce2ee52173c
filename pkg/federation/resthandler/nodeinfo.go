/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/trustbloc/logutil-go/pkg/log"
)

// NodeInfoVersion is the NodeInfo schema version emitted by the core.
const NodeInfoVersion = "2.1"

// ContentTypeNodeInfo is the media type of NodeInfo responses.
var ContentTypeNodeInfo = fmt.Sprintf( //nolint:gochecknoglobals
	`application/json; profile="http://nodeinfo.diaspora.software/ns/schema/%s#"`, NodeInfoVersion)

// NodeInfo contains NodeInfo 2.1 data.
type NodeInfo struct {
	Version           string                 `json:"version"`
	Software          Software               `json:"software"`
	Protocols         []string               `json:"protocols"`
	Services          Services               `json:"services"`
	OpenRegistrations bool                   `json:"openRegistrations"`
	Usage             Usage                  `json:"usage"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Software describes the server implementation.
type Software struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Repository string `json:"repository,omitempty"`
	Homepage   string `json:"homepage,omitempty"`
}

// Services lists the third-party services the server connects to.
type Services struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

// Usage contains the server's usage statistics.
type Usage struct {
	Users         Users `json:"users"`
	LocalPosts    int   `json:"localPosts"`
	LocalComments int   `json:"localComments"`
}

// Users contains the user counts.
type Users struct {
	Total          int `json:"total"`
	ActiveMonth    int `json:"activeMonth,omitempty"`
	ActiveHalfyear int `json:"activeHalfyear,omitempty"`
}

// Normalize fills in required fields and clamps negative usage counts to
// zero so that an application dispatcher cannot produce an invalid
// document.
func (n *NodeInfo) Normalize() {
	n.Version = NodeInfoVersion

	if n.Protocols == nil {
		n.Protocols = []string{"activitypub"}
	}

	if n.Services.Inbound == nil {
		n.Services.Inbound = []string{}
	}

	if n.Services.Outbound == nil {
		n.Services.Outbound = []string{}
	}

	clamp(&n.Usage.Users.Total)
	clamp(&n.Usage.Users.ActiveMonth)
	clamp(&n.Usage.Users.ActiveHalfyear)
	clamp(&n.Usage.LocalPosts)
	clamp(&n.Usage.LocalComments)
}

func clamp(v *int) {
	if *v < 0 {
		*v = 0
	}
}

// NodeInfoHandler responds to GETs on the NodeInfo document endpoint.
type NodeInfoHandler struct {
	Dispatch func() (*NodeInfo, error)
}

// Handle responds with the NodeInfo 2.1 document.
func (h *NodeInfoHandler) Handle(w http.ResponseWriter, req *http.Request) {
	nodeInfo, err := h.Dispatch()
	if err != nil {
		logger.Error("Error dispatching NodeInfo request", log.WithError(err))

		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	if nodeInfo == nil {
		WriteNotFound(w)

		return
	}

	nodeInfo.Normalize()

	writeJSON(w, ContentTypeNodeInfo, nodeInfo)
}

// NodeInfoJRDHandler responds to GETs on /.well-known/nodeinfo with a JRD
// pointing at the NodeInfo document.
type NodeInfoJRDHandler struct {
	NodeInfoURL func() *url.URL
}

// Handle responds with the NodeInfo discovery JRD.
func (h *NodeInfoJRDHandler) Handle(w http.ResponseWriter, req *http.Request) {
	jrd := &JRD{
		Links: []Link{
			{
				Rel:  "http://nodeinfo.diaspora.software/ns/schema/" + NodeInfoVersion,
				Type: ContentTypeNodeInfo,
				Href: h.NodeInfoURL().String(),
			},
		},
	}

	writeJSON(w, ContentTypeJRD, jrd)
}
