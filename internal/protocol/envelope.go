package protocol

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// Protocol method names. Requests carry an id and expect a response;
// notifications do not.
const (
	MethodHandshake          = "swarm.handshake"
	MethodCandidacy          = "election.candidacy"
	MethodElectionVote       = "election.vote"
	MethodTierAssignment     = "hierarchy.assign_tier"
	MethodTaskInjection      = "task.inject"
	MethodProposalCommit     = "consensus.proposal_commit"
	MethodProposalReveal     = "consensus.proposal_reveal"
	MethodConsensusVote      = "consensus.vote"
	MethodTaskAssignment     = "task.assign"
	MethodResultSubmission   = "task.submit_result"
	MethodVerificationResult = "task.verification"
	MethodKeepAlive          = "swarm.keepalive"
	MethodAgentKeepAlive     = "agent.keepalive"
	MethodSuccession         = "hierarchy.succession"
	MethodSwarmAnnounce      = "swarm.announce"
	MethodSwarmJoin          = "swarm.join"
	MethodSwarmJoinResponse  = "swarm.join_response"
	MethodSwarmLeave         = "swarm.leave"
	MethodAntiEntropy        = "state.anti_entropy"
	MethodProvide            = "content.provide"
)

// KnownMethod reports whether the method name belongs to the protocol.
func KnownMethod(method string) bool {
	switch method {
	case MethodHandshake, MethodCandidacy, MethodElectionVote,
		MethodTierAssignment, MethodTaskInjection, MethodProposalCommit,
		MethodProposalReveal, MethodConsensusVote, MethodTaskAssignment,
		MethodResultSubmission, MethodVerificationResult, MethodKeepAlive,
		MethodAgentKeepAlive, MethodSuccession, MethodSwarmAnnounce,
		MethodSwarmJoin, MethodSwarmJoinResponse, MethodSwarmLeave,
		MethodAntiEntropy, MethodProvide:
		return true
	}
	return false
}

// Envelope is the signed JSON-RPC 2.0 message carried on streams and topics.
// The signature covers the canonical JSON of {"method": method, "params":
// params}. Local requests reuse the same shape with the signature ignored.
type Envelope struct {
	JSONRPC         string          `json:"jsonrpc"`
	Method          string          `json:"method"`
	ID              string          `json:"id,omitempty"`
	Params          json.RawMessage `json:"params"`
	Signature       string          `json:"signature"`
	ProtocolVersion string          `json:"protocol_version"`
}

// signingPayload returns the canonical bytes covered by the signature.
func signingPayload(method string, params json.RawMessage) ([]byte, error) {
	return CanonicalJSON(map[string]interface{}{
		"method": method,
		"params": params,
	})
}

// NewRequest builds a signed request envelope (id set) for the given method.
func NewRequest(method string, params interface{}, priv ed25519.PrivateKey) (*Envelope, error) {
	env, err := newEnvelope(method, params, priv)
	if err != nil {
		return nil, err
	}
	env.ID = uuid.NewString()
	return env, nil
}

// NewNotification builds a signed notification envelope (no id).
func NewNotification(method string, params interface{}, priv ed25519.PrivateKey) (*Envelope, error) {
	return newEnvelope(method, params, priv)
}

func newEnvelope(method string, params interface{}, priv ed25519.PrivateKey) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, NewError(KindInvalidParams, "marshal params: %v", err)
	}
	payload, err := signingPayload(method, raw)
	if err != nil {
		return nil, NewError(KindInvalidParams, "signing payload: %v", err)
	}
	return &Envelope{
		JSONRPC:         JSONRPCVersion,
		Method:          method,
		Params:          raw,
		Signature:       hex.EncodeToString(ed25519.Sign(priv, payload)),
		ProtocolVersion: ProtocolVersion,
	}, nil
}

// Verify checks the envelope against a sender public key and the local epoch:
// protocol version first, then the Ed25519 signature, then the epoch window
// (params.epoch, when present, must be at least currentEpoch−2).
func (e *Envelope) Verify(pub ed25519.PublicKey, currentEpoch uint64) error {
	if e.ProtocolVersion != ProtocolVersion {
		return NewError(KindInvalidRequest, "incompatible protocol version %q", e.ProtocolVersion)
	}
	if e.Signature == "" {
		return NewError(KindInvalidSignature, "missing signature")
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil {
		return NewError(KindInvalidSignature, "invalid signature hex")
	}
	payload, err := signingPayload(e.Method, e.Params)
	if err != nil {
		return NewError(KindInvalidParams, "signing payload: %v", err)
	}
	if !ed25519.Verify(pub, payload, sig) {
		return NewError(KindInvalidSignature, "signature verification failed")
	}
	return e.CheckEpoch(currentEpoch)
}

// CheckEpoch enforces the epoch window on the envelope's params without
// verifying the signature. Messages more than EpochLagTolerance epochs behind
// the local epoch are rejected.
func (e *Envelope) CheckEpoch(currentEpoch uint64) error {
	var probe struct {
		Epoch *uint64 `json:"epoch"`
	}
	if err := json.Unmarshal(e.Params, &probe); err != nil || probe.Epoch == nil {
		return nil // no epoch field; nothing to enforce
	}
	if currentEpoch > EpochLagTolerance && *probe.Epoch < currentEpoch-EpochLagTolerance {
		return NewError(KindEpochMismatch, "message epoch %d older than %d", *probe.Epoch, currentEpoch-EpochLagTolerance)
	}
	return nil
}

// DecodeParams unmarshals the envelope params into out.
func (e *Envelope) DecodeParams(out interface{}) error {
	if err := json.Unmarshal(e.Params, out); err != nil {
		return NewError(KindInvalidParams, "decode %s params: %v", e.Method, err)
	}
	return nil
}

// Response is the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object. Data carries the protocol error
// kind so local agents can branch on it.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SuccessResponse builds a success response for a request id.
func SuccessResponse(id string, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, NewError(KindInvalidParams, "marshal result: %v", err)
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// ErrorResponse builds an error response from a protocol error. Non-protocol
// errors map to the generic server-error code.
func ErrorResponse(id string, err error) *Response {
	kind := KindOf(err)
	data, _ := json.Marshal(map[string]string{"kind": string(kind)})
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &RPCError{
			Code:    RPCCode(kind),
			Message: err.Error(),
			Data:    data,
		},
	}
}
