package swarm

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

// SenderInfo identifies the originator of a frame. The public key travels
// with every frame so receivers can verify the envelope signature and check
// that the DID matches the key.
type SenderInfo struct {
	NodeID  NodeID           `json:"node_id"`
	AgentID protocol.AgentID `json:"agent_id"`
	PubKey  string           `json:"pub_key"` // hex-encoded Ed25519 public key
	Address string           `json:"address"`
}

// Frame is the transport-level wrapper: a signed protocol envelope plus the
// sender identification needed to verify it. Topic is set for gossip
// frames, empty for direct request/response traffic.
type Frame struct {
	Sender   SenderInfo         `json:"sender"`
	Topic    string             `json:"topic,omitempty"`
	GossipID string             `json:"gossip_id,omitempty"`
	Hops     int                `json:"hops,omitempty"`
	MaxHops  int                `json:"max_hops,omitempty"`
	Envelope *protocol.Envelope `json:"envelope"`
}

// VerifySender checks that the sender's public key matches its DID and that
// the envelope signature verifies under it.
func (f *Frame) VerifySender(currentEpoch uint64) error {
	if f.Envelope == nil {
		return protocol.NewError(protocol.KindInvalidRequest, "frame without envelope")
	}
	pubBytes, err := hex.DecodeString(f.Sender.PubKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return protocol.NewError(protocol.KindInvalidSignature, "malformed sender public key")
	}
	pub := ed25519.PublicKey(pubBytes)
	if protocol.DeriveAgentID(pub) != f.Sender.AgentID {
		return protocol.NewError(protocol.KindInvalidSignature, "sender DID does not match public key")
	}
	return f.Envelope.Verify(pub, currentEpoch)
}

// peerConn wraps a websocket connection with a write mutex.
// gorilla/websocket connections do not support concurrent writers, so every
// write is serialized per connection.
type peerConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex // guards writes
}

// Transport manages WebSocket connections to peers, framing and delivering
// signed envelopes. Each connection runs a read-loop goroutine that
// deserializes frames and dispatches them to the registered handler.
type Transport struct {
	mu       sync.RWMutex
	self     SenderInfo
	conns    map[NodeID]*peerConn
	handler  func(*Frame, NodeID)
	listener net.Listener
	server   *http.Server
}

// upgrader allows any origin: there is no browser same-origin policy to
// enforce in a peer mesh.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// NewTransport creates a transport for the local node.
func NewTransport(self SenderInfo) *Transport {
	return &Transport{
		self:  self,
		conns: make(map[NodeID]*peerConn),
	}
}

// Listen starts the WebSocket server on addr ("host:port", port 0 for a
// random port). Inbound connections on /ws are registered once the remote
// peer's first frame identifies it.
func (t *Transport) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	t.listener = ln
	t.mu.Lock()
	t.self.Address = ln.Addr().String()
	t.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.handleWS)

	t.server = &http.Server{Handler: mux}
	go t.server.Serve(ln) //nolint:errcheck
	return nil
}

func (t *Transport) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20) // 1 MB

	// The remote NodeID is learned from the first frame in the read loop.
	pc := &peerConn{conn: conn}
	go t.readLoop(pc, NodeID{}, true)
}

// Connect dials a remote peer and sends an identification frame so the
// remote side can register this connection under our NodeID.
func (t *Transport) Connect(address string, peerID NodeID) error {
	url := fmt.Sprintf("ws://%s/ws", address)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return protocol.NewError(protocol.KindPeerUnreachable, "dial %s: %v", address, err)
	}
	conn.SetReadLimit(1 << 20)

	pc := &peerConn{conn: conn}
	t.mu.Lock()
	t.conns[peerID] = pc
	t.mu.Unlock()

	hello := &Frame{
		Sender: t.selfInfo(),
		Envelope: &protocol.Envelope{
			JSONRPC:         protocol.JSONRPCVersion,
			Method:          protocol.MethodKeepAlive,
			Params:          []byte(`{}`),
			ProtocolVersion: protocol.ProtocolVersion,
		},
	}
	pc.wmu.Lock()
	writeErr := pc.conn.WriteJSON(hello)
	pc.wmu.Unlock()
	if writeErr != nil {
		conn.Close()
		t.mu.Lock()
		delete(t.conns, peerID)
		t.mu.Unlock()
		return fmt.Errorf("write hello: %w", writeErr)
	}

	go t.readLoop(pc, peerID, false)
	return nil
}

// readLoop reads frames until the connection errors or closes. For inbound
// connections the first frame reveals the remote NodeID and registers the
// connection.
func (t *Transport) readLoop(pc *peerConn, peerID NodeID, inbound bool) {
	identified := !inbound
	defer func() {
		pc.conn.Close()
		if identified {
			t.mu.Lock()
			// Only remove when the stored conn is the same object, so a
			// replacement connection is never evicted by a dying one.
			if existing, ok := t.conns[peerID]; ok && existing == pc {
				delete(t.conns, peerID)
			}
			t.mu.Unlock()
		}
	}()

	for {
		var frame Frame
		if err := pc.conn.ReadJSON(&frame); err != nil {
			return
		}

		if !identified {
			peerID = frame.Sender.NodeID
			t.mu.Lock()
			t.conns[peerID] = pc
			t.mu.Unlock()
			identified = true
		}

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler != nil {
			handler(&frame, peerID)
		}
	}
}

// Send delivers a frame to a connected peer. The sender info is stamped
// automatically. Safe for concurrent use.
func (t *Transport) Send(target NodeID, frame *Frame) error {
	t.mu.RLock()
	pc, ok := t.conns[target]
	t.mu.RUnlock()
	if !ok {
		return protocol.NewError(protocol.KindPeerUnreachable, "not connected to peer %s", target.Short())
	}

	frame.Sender = t.selfInfo()

	pc.wmu.Lock()
	err := pc.conn.WriteJSON(frame)
	pc.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// OnFrame registers the callback invoked for every inbound frame.
func (t *Transport) OnFrame(handler func(*Frame, NodeID)) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// ReregisterConn renames a connection, used when a placeholder NodeID from
// an outbound dial is replaced by the real peer ID learned in a response.
func (t *Transport) ReregisterConn(oldID, newID NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pc, ok := t.conns[oldID]; ok {
		delete(t.conns, oldID)
		t.conns[newID] = pc
	}
}

// Disconnect closes a peer connection.
func (t *Transport) Disconnect(id NodeID) {
	t.mu.Lock()
	pc, ok := t.conns[id]
	if ok {
		delete(t.conns, id)
	}
	t.mu.Unlock()
	if ok {
		pc.conn.Close()
	}
}

// ConnectedPeers returns the NodeIDs of all live connections.
func (t *Transport) ConnectedPeers() []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]NodeID, 0, len(t.conns))
	for id := range t.conns {
		peers = append(peers, id)
	}
	return peers
}

// Close shuts down the listener and all connections.
func (t *Transport) Close() {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		t.server.Shutdown(ctx) //nolint:errcheck
	}
	t.mu.Lock()
	for id, pc := range t.conns {
		pc.conn.Close()
		delete(t.conns, id)
	}
	t.mu.Unlock()
}

// Addr returns the listener address.
func (t *Transport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *Transport) selfInfo() SenderInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.self
}
