package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yzoe76300/Battle-of-Yavin/protocol"
	"golang.org/x/crypto/bcrypt"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// startTestServer spins up an httptest.Server with a Hub backed by a temp
// database and returns the server, its WebSocket URL, and the hub.
func startTestServer(t *testing.T) (*httptest.Server, string, *Hub) {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	db := openTestDB(t)
	hub := NewHub(db, NewAuth(db, bcrypt.MinCost), 1000)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir, ""))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, wsURL, hub
}

// testConn is a websocket client speaking one codec.
type testConn struct {
	t     *testing.T
	conn  *websocket.Conn
	codec protocol.Codec
}

// dialWS opens a WebSocket connection using the named codec ("" = JSON).
func dialWS(t *testing.T, wsURL, codec string) *testConn {
	t.Helper()
	c, err := protocol.CodecByName(codec)
	if err != nil {
		t.Fatal(err)
	}
	u := wsURL
	if codec != "" {
		u += "?codec=" + codec
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn, codec: c}
}

// send writes a typed message in the connection's codec.
func (c *testConn) send(msgType string, data any) {
	c.t.Helper()
	raw, err := c.codec.Marshal(msgType, data)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	if err := c.conn.WriteMessage(frame, raw); err != nil {
		c.t.Fatalf("write WS: %v", err)
	}
}

// read returns the next message.
func (c *testConn) read() protocol.InEnvelope {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read WS: %v", err)
	}
	in, err := c.codec.Unmarshal(raw)
	if err != nil {
		c.t.Fatalf("unmarshal: %v", err)
	}
	return in
}

// expect skips messages until one of type msgType arrives and decodes it into v.
func (c *testConn) expect(msgType string, v any) {
	c.t.Helper()
	for range 10 {
		in := c.read()
		if in.T != msgType {
			continue
		}
		if v != nil {
			if err := c.codec.UnmarshalPayload(in, v); err != nil {
				c.t.Fatalf("decode %s: %v", msgType, err)
			}
		}
		return
	}
	c.t.Fatalf("no %s message received", msgType)
}

// silent asserts nothing arrives for a short while.
func (c *testConn) silent() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, raw, err := c.conn.ReadMessage(); err == nil {
		c.t.Fatalf("unexpected message: %s", raw)
	}
}

// join seats the connection and drains roleAssigned, roomJoined and the roster.
func (c *testConn) join(room, user, role string) string {
	c.t.Helper()
	c.send(protocol.MsgJoin, protocol.JoinMsg{RoomID: room, UserID: user, Username: "n_" + user, Role: role})
	var ra protocol.RoleAssignedMsg
	c.expect(protocol.MsgRoleAssigned, &ra)
	c.expect(protocol.MsgRoomJoined, nil)
	c.expect(protocol.MsgRoomRoster, nil)
	return ra.Role
}

func postJSON(t *testing.T, u string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(u, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var m map[string]any
	json.NewDecoder(resp.Body).Decode(&m)
	return resp, m
}

// ---------- UUID generation tests ----------

func TestGenerateUUIDFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := GenerateUUID()
		if !uuidRegex.MatchString(id) {
			t.Errorf("GenerateUUID() = %q, does not match UUID v4 format", id)
		}
	}
}

// ---------- SPA routing ----------

func TestSPARouting(t *testing.T) {
	srv, _, _ := startTestServer(t)

	for _, path := range []string{"/", "/" + GenerateRoomID()} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 || !strings.Contains(string(body), "<html>") {
			t.Errorf("GET %s = %d %q, want index.html", path, resp.StatusCode, body)
		}
	}

	resp, err := http.Get(srv.URL + "/js/main.js")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("GET /js/main.js status = %d", resp.StatusCode)
	}
}

func TestUnknownCodecRejected(t *testing.T) {
	srv, _, _ := startTestServer(t)
	resp, err := http.Get(srv.URL + "/ws?codec=xml")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// ---------- rooms ----------

func TestJoinAndRoster(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	a := dialWS(t, wsURL, "")
	b := dialWS(t, wsURL, "")

	if role := a.join("room_x", "u1", ""); role != protocol.RolePlayer1 {
		t.Errorf("first role = %s", role)
	}

	// long names are cut on rune boundaries
	b.send(protocol.MsgJoin, protocol.JoinMsg{RoomID: "room_x", UserID: "u2", Username: strings.Repeat("ö", maxNameLen+5)})
	b.expect(protocol.MsgRoleAssigned, nil)

	var roster []protocol.RosterEntry
	a.expect(protocol.MsgRoomRoster, &roster)
	if len(roster) != 2 || !roster[1].Occupied() || *roster[1].Username != strings.Repeat("ö", maxNameLen) {
		t.Errorf("roster = %+v", roster)
	}
}

func TestRoomFull(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	dialWS(t, wsURL, "").join("room_x", "u1", "")
	dialWS(t, wsURL, "").join("room_x", "u2", "")

	c := dialWS(t, wsURL, "")
	c.send(protocol.MsgJoin, protocol.JoinMsg{RoomID: "room_x", UserID: "u3"})
	var full protocol.RoomFullMsg
	c.expect(protocol.MsgRoomFull, &full)
	if full.RoomID != "room_x" || full.Message != "Room is full" {
		t.Errorf("roomFull = %+v", full)
	}

	// connection stays usable
	if role := c.join("room_y", "u3", ""); role != protocol.RolePlayer1 {
		t.Errorf("role in other room = %s", role)
	}
}

func TestRelayBetweenCodecs(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	a := dialWS(t, wsURL, protocol.CodecMsgpack)
	b := dialWS(t, wsURL, protocol.CodecJSON)
	a.join("room_x", "u1", protocol.RolePlayer1)
	b.join("room_x", "u2", protocol.RolePlayer2)
	a.expect(protocol.MsgRoomRoster, nil) // b's arrival

	a.send(protocol.MsgFire, protocol.NewFireMsg("room_x", 300, 900, 1800, 0, 1.5))
	var fire protocol.FireMsg
	b.expect(protocol.MsgOpponentFire, &fire)
	if fire.Validate() != nil || *fire.X != 300 || *fire.VX != 1800 || fire.TS != 1.5 {
		t.Errorf("opponentFire = %+v", fire)
	}

	b.send(protocol.MsgTurretUpdate, protocol.TurretMsg{RoomID: "room_x", Angle: protocol.Float(-0.25), TS: 99})
	var turret protocol.TurretMsg
	a.expect(protocol.MsgOpponentTurret, &turret)
	if turret.Angle == nil || *turret.Angle != -0.25 || turret.TS != 99 {
		t.Errorf("opponentTurret = %+v", turret)
	}
	// senders never hear their own events back
	b.silent()
}

func TestGameOverRecorded(t *testing.T) {
	srv, wsURL, hub := startTestServer(t)
	a := dialWS(t, wsURL, "")
	b := dialWS(t, wsURL, "")
	a.join("room_x", "u1", "")
	b.join("room_x", "u2", "")
	a.expect(protocol.MsgRoomRoster, nil)

	a.send(protocol.MsgGameOver, protocol.GameOverMsg{RoomID: "room_x", Winner: "left", Lives: protocol.NewLives(7, 0)})
	var over protocol.GameOverMsg
	a.expect(protocol.MsgGameOver, &over)
	b.expect(protocol.MsgGameOver, &over)
	if over.Validate() != nil || over.Winner != "left" || *over.Lives.Left != 7 {
		t.Errorf("gameOver = %+v", over)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		matches, _ := hub.db.RecentMatches(10)
		if len(matches) == 1 {
			if matches[0].Player1ID != "u1" || matches[0].Player2ID != "u2" {
				t.Errorf("match = %+v", matches[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("match result not recorded")
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(srv.URL + "/api/users/u1/record")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rec UserRecord
	json.NewDecoder(resp.Body).Decode(&rec)
	if rec.Wins != 1 || rec.Played != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestTakeoverOverWebSocket(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	old := dialWS(t, wsURL, "")
	other := dialWS(t, wsURL, "")
	old.join("room_x", "u1", "")
	other.join("room_x", "u2", "")

	fresh := dialWS(t, wsURL, "")
	if role := fresh.join("room_x", "u1", protocol.RolePlayer2); role != protocol.RolePlayer1 {
		t.Errorf("takeover role = %s, want player1", role)
	}
	var errMsg protocol.ErrorMsg
	old.expect(protocol.MsgError, &errMsg)

	// closing the displaced socket leaves the slot with the new one
	old.conn.Close()
	time.Sleep(100 * time.Millisecond)
	roster := hub.registry.Roster("room_x")
	if roster == nil || !roster[0].Occupied() || *roster[0].UserID != "u1" {
		t.Errorf("roster after displaced close = %+v", roster)
	}
}

func TestDisconnectFreesSlot(t *testing.T) {
	_, wsURL, hub := startTestServer(t)
	a := dialWS(t, wsURL, "")
	b := dialWS(t, wsURL, "")
	a.join("room_x", "u1", "")
	b.join("room_x", "u2", "")

	a.conn.Close()
	var roster []protocol.RosterEntry
	b.expect(protocol.MsgRoomRoster, &roster)
	for roster[0].Occupied() {
		b.expect(protocol.MsgRoomRoster, &roster)
	}
	if hub.registry.RoomCount() != 1 {
		t.Errorf("room count = %d", hub.registry.RoomCount())
	}
}

// ---------- matchmaking ----------

func TestMatchmakingOverWebSocket(t *testing.T) {
	_, wsURL, _ := startTestServer(t)
	a := dialWS(t, wsURL, "")
	b := dialWS(t, wsURL, protocol.CodecMsgpack)

	a.send(protocol.MsgJoinMatchmaking, protocol.JoinMatchmakingMsg{UserID: "u1", Username: "luke"})
	var st protocol.MatchmakingStatusMsg
	a.expect(protocol.MsgMatchmakingStatus, &st)
	if st.Status != protocol.StatusWaiting {
		t.Errorf("status = %+v", st)
	}

	b.send(protocol.MsgJoinMatchmaking, protocol.JoinMatchmakingMsg{UserID: "u2", Username: "leia"})
	var fa, fb protocol.MatchFoundMsg
	a.expect(protocol.MsgMatchFound, &fa)
	b.expect(protocol.MsgMatchFound, &fb)
	if fa.RoomID != fb.RoomID || fa.PlayerRole != protocol.RolePlayer1 || fb.Opponent.Username != "luke" {
		t.Errorf("matchFound = %+v / %+v", fa, fb)
	}

	// both follow the match into the room
	if role := a.join(fa.RoomID, "u1", fa.PlayerRole); role != protocol.RolePlayer1 {
		t.Errorf("a role = %s", role)
	}
	if role := b.join(fb.RoomID, "u2", fb.PlayerRole); role != protocol.RolePlayer2 {
		t.Errorf("b role = %s", role)
	}
}

// ---------- HTTP API ----------

func TestAuthAPI(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/register", credentials{Username: "pilot", Password: "xwing42"})
	if resp.StatusCode != http.StatusCreated || body["success"] != true {
		t.Fatalf("register = %d %v", resp.StatusCode, body)
	}
	resp, _ = postJSON(t, srv.URL+"/api/register", credentials{Username: "pilot", Password: "xwing42"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", resp.StatusCode)
	}
	resp, _ = postJSON(t, srv.URL+"/api/register", credentials{Username: "p", Password: "xwing42"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("short name status = %d, want 400", resp.StatusCode)
	}

	// form posts work too
	form := url.Values{"username": {"pilot"}, "password": {"xwing42"}}
	fresp, err := http.PostForm(srv.URL+"/api/login", form)
	if err != nil {
		t.Fatal(err)
	}
	var login authResponse
	json.NewDecoder(fresp.Body).Decode(&login)
	fresp.Body.Close()
	if fresp.StatusCode != http.StatusOK || login.Token == "" || login.User == nil {
		t.Fatalf("login = %d %+v", fresp.StatusCode, login)
	}

	resp, body = postJSON(t, srv.URL+"/api/verify", credentials{Token: login.Token})
	if resp.StatusCode != http.StatusOK || body["user"] == nil {
		t.Errorf("verify = %d %v", resp.StatusCode, body)
	}

	// the token joins a room under the account's identity
	c := dialWS(t, wsURL, "")
	c.send(protocol.MsgJoin, protocol.JoinMsg{RoomID: "room_x", Token: login.Token})
	c.expect(protocol.MsgRoleAssigned, nil)
	c.expect(protocol.MsgRoomJoined, nil)
	var roster []protocol.RosterEntry
	c.expect(protocol.MsgRoomRoster, &roster)
	if *roster[0].UserID != login.User.ID || *roster[0].Username != "pilot" {
		t.Errorf("roster = %+v", roster)
	}

	postJSON(t, srv.URL+"/api/logout", credentials{Token: login.Token})
	resp, _ = postJSON(t, srv.URL+"/api/verify", credentials{Token: login.Token})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("verify after logout = %d, want 401", resp.StatusCode)
	}
}

func TestRoomAPI(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)

	resp, err := http.Get(srv.URL + "/api/rooms/room_x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing room status = %d", resp.StatusCode)
	}

	dialWS(t, wsURL, "").join("room_x", "u1", "")
	resp, err = http.Get(srv.URL + "/api/rooms/room_x")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		RoomID string                 `json:"roomId"`
		Roster []protocol.RosterEntry `json:"roster"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	if out.RoomID != "room_x" || len(out.Roster) != 2 || !out.Roster[0].Occupied() {
		t.Errorf("room = %+v", out)
	}
}

func TestMatchesAPILimit(t *testing.T) {
	srv, _, _ := startTestServer(t)
	for _, q := range []string{"?limit=0", "?limit=abc"} {
		resp, err := http.Get(srv.URL + "/api/matches" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /api/matches%s = %d, want 400", q, resp.StatusCode)
		}
	}
	resp, err := http.Get(srv.URL + "/api/matches")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var matches []MatchResult
	if err := json.NewDecoder(resp.Body).Decode(&matches); err != nil || len(matches) != 0 {
		t.Errorf("matches = %v, err = %v", matches, err)
	}
}

func TestInviteQR(t *testing.T) {
	srv, _, _ := startTestServer(t)

	resp, err := http.Get(srv.URL + "/api/rooms/room_x/invite.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("invite = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != inviteQRSize {
		t.Errorf("qr width = %d, want %d", b.Dx(), inviteQRSize)
	}

	bad, err := http.Get(srv.URL + "/api/rooms/room_x/invite.png?role=spectator")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad role status = %d", bad.StatusCode)
	}
}

func TestInviteLink(t *testing.T) {
	r := httptest.NewRequest("GET", "http://duel.local:8080/api/rooms/r/invite.png", nil)
	if got := inviteLink("", r, "room_1", "player2"); got != "http://duel.local:8080/?role=player2&room=room_1" {
		t.Errorf("derived link = %s", got)
	}
	if got := inviteLink("https://yavin.example/", r, "room_1", "player1"); got != "https://yavin.example/?role=player1&room=room_1" {
		t.Errorf("configured link = %s", got)
	}
}

func TestHealthz(t *testing.T) {
	srv, wsURL, _ := startTestServer(t)
	dialWS(t, wsURL, "").join("room_x", "u1", "")

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h map[string]any
	json.NewDecoder(resp.Body).Decode(&h)
	if h["status"] != "ok" || h["peers"] != float64(1) || h["rooms"] != float64(1) || h["conns"] != float64(1) {
		t.Errorf("healthz = %v", h)
	}
	if _, ok := h["events24h"].(map[string]any); !ok {
		t.Errorf("events24h = %v", h["events24h"])
	}
}
