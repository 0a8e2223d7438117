package main

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/yzoe76300/Battle-of-Yavin/protocol"
)

const inviteQRSize = 256

// inviteLink builds the URL a second player opens to join roomID as role.
// base is used when set, otherwise the link points back at the request host.
func inviteLink(base string, r *http.Request, roomID, role string) string {
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("role", role)
	return strings.TrimRight(base, "/") + "/?" + q.Encode()
}

// handleInvite renders a QR code of the room's invite link
func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "roomId is required")
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = protocol.RolePlayer2
	}
	if !protocol.ValidRole(role) {
		writeError(w, http.StatusBadRequest, "role must be player1 or player2")
		return
	}

	png, err := qrcode.Encode(inviteLink(a.publicURL, r, roomID, role), qrcode.Medium, inviteQRSize)
	if err != nil {
		log.Printf("invite qr for %s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(png)
}
