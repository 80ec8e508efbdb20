package pool

import (
	"encoding/json"
	"strings"

	"github.com/djkazic/cpuminer-go/internal/types"
	"github.com/djkazic/cpuminer-go/pkg/util"
)

// Request is a client-to-pool call.
type Request struct {
	Method string `json:"method"`
	ID     uint64 `json:"id"`
	Params any    `json:"params"`
}

type loginParams struct {
	Login string `json:"login"`
	Pass  string `json:"pass"`
	Agent string `json:"agent"`
}

type submitParams struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Nonce  string `json:"nonce"`
	Result string `json:"result"`
}

// callID is the id of every call; only one call is in flight at a time.
const callID = 1

// LoginRequest builds the login call.
func LoginRequest(login, pass, agent string) *Request {
	return &Request{
		Method: "login",
		ID:     callID,
		Params: loginParams{Login: login, Pass: pass, Agent: agent},
	}
}

// SubmitRequest builds the submit call for a result.
func SubmitRequest(minerID string, res *types.JobResult) *Request {
	return &Request{
		Method: "submit",
		ID:     callID,
		Params: submitParams{
			ID:     minerID,
			JobID:  res.JobID,
			Nonce:  res.NonceHex(),
			Result: res.DigestHex(),
		},
	}
}

// MessageKind distinguishes pool-to-client messages.
type MessageKind int

const (
	// JobPush is an unsolicited "job" notification.
	JobPush MessageKind = iota + 1
	// CallResponse answers the outstanding call.
	CallResponse
)

// Message is a parsed pool line.
type Message struct {
	Kind MessageKind

	// Job push.
	Job *types.PoolJob
	// MotdUpdate is set when the job carried a motd field that replaces the
	// stored one. Job.Motd holds the decoded text, possibly empty.
	MotdUpdate bool

	// Call response.
	CallID   uint64
	Result   json.RawMessage
	ErrorMsg string
	IsError  bool
}

type rawMessage struct {
	ID     json.RawMessage `json:"id"`
	Method json.RawMessage `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type rawJob struct {
	JobID  json.RawMessage `json:"job_id"`
	Blob   json.RawMessage `json:"blob"`
	Target json.RawMessage `json:"target"`
	Motd   json.RawMessage `json:"motd"`
}

type rawError struct {
	Message json.RawMessage `json:"message"`
}

type rawLogin struct {
	ID         json.RawMessage `json:"id"`
	Job        json.RawMessage `json:"job"`
	Extensions json.RawMessage `json:"extensions"`
}

func parseErr(kind types.ProtocolErrorKind, field, reason string) *types.ProtocolError {
	return &types.ProtocolError{Kind: kind, Field: field, Reason: reason}
}

// jsonKind returns the first significant byte of a raw value, or 0 when the
// value is absent.
func jsonKind(raw json.RawMessage) byte {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}

func isAbsentOrNull(raw json.RawMessage) bool {
	k := jsonKind(raw)
	return k == 0 || k == 'n'
}

func decodeString(raw json.RawMessage) (string, bool) {
	if jsonKind(raw) != '"' {
		return "", false
	}
	var s string
	if err := fastJSON.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// ParseLine parses one line received from the pool. Returned errors are
// *types.ProtocolError and end the connection.
func ParseLine(line []byte) (*Message, error) {
	if jsonKind(line) != '{' {
		return nil, parseErr(types.BadType, "", "Invalid root")
	}
	var raw rawMessage
	if err := fastJSON.Unmarshal(line, &raw); err != nil {
		return nil, parseErr(types.BadType, "", "Invalid root")
	}

	if raw.Method != nil {
		method, ok := decodeString(raw.Method)
		if !ok {
			return nil, parseErr(types.BadType, "method", "Protocol error 1")
		}
		if method != "job" {
			return nil, parseErr(types.Unexpected, "method", "Unsupported server method "+method)
		}
		if jsonKind(raw.Params) != '{' {
			return nil, parseErr(types.BadType, "params", "Protocol error 2")
		}
		job, motdUpdate, err := parseJob(raw.Params)
		if err != nil {
			return nil, err
		}
		return &Message{Kind: JobPush, Job: job, MotdUpdate: motdUpdate}, nil
	}

	var id uint64
	if k := jsonKind(raw.ID); k != '-' && (k < '0' || k > '9') {
		return nil, parseErr(types.BadType, "id", "Protocol error 3")
	}
	if err := fastJSON.Unmarshal(raw.ID, &id); err != nil {
		return nil, parseErr(types.BadType, "id", "Protocol error 3")
	}

	msg := &Message{Kind: CallResponse, CallID: id}
	switch {
	case isAbsentOrNull(raw.Error):
		if isAbsentOrNull(raw.Result) {
			return nil, parseErr(types.MissingField, "result", "Protocol error 7")
		}
		msg.Result = append(json.RawMessage(nil), raw.Result...)
	case jsonKind(raw.Error) != '{':
		return nil, parseErr(types.BadType, "error", "Protocol error 5")
	default:
		var e rawError
		if err := fastJSON.Unmarshal(raw.Error, &e); err != nil {
			return nil, parseErr(types.BadType, "error", "Protocol error 5")
		}
		text, ok := decodeString(e.Message)
		if !ok {
			return nil, parseErr(types.BadType, "error.message", "Protocol error 6")
		}
		msg.IsError = true
		msg.ErrorMsg = text
	}
	return msg, nil
}

// parseJob validates a job object, either pushed or embedded in a login
// result.
func parseJob(params json.RawMessage) (*types.PoolJob, bool, error) {
	if jsonKind(params) != '{' {
		return nil, false, parseErr(types.BadType, "params", "Job error 1")
	}
	var raw rawJob
	if err := fastJSON.Unmarshal(params, &raw); err != nil {
		return nil, false, parseErr(types.BadType, "params", "Job error 1")
	}

	jobID, ok := decodeString(raw.JobID)
	if !ok {
		return nil, false, parseErr(types.MissingField, "job_id", "Job error 2")
	}
	blob, ok := decodeString(raw.Blob)
	if !ok {
		return nil, false, parseErr(types.MissingField, "blob", "Job error 2")
	}
	target, ok := decodeString(raw.Target)
	if !ok {
		return nil, false, parseErr(types.MissingField, "target", "Job error 2")
	}

	job := &types.PoolJob{JobID: jobID, Blob: blob, Target: target}
	if _, err := job.Work(); err != nil {
		return nil, false, err
	}

	var motdUpdate bool
	if motd, ok := decodeString(raw.Motd); ok && len(motd)%2 == 0 {
		motdUpdate = true
		if b, err := util.HexToBytes(motd); err == nil {
			job.Motd = string(b)
		}
	}
	return job, motdUpdate, nil
}

// loginResult is the payload of a successful login.
type loginResult struct {
	MinerID string
	Motd    bool
	Job     json.RawMessage
}

func parseLoginResult(result json.RawMessage) (*loginResult, error) {
	if jsonKind(result) != '{' {
		return nil, parseErr(types.BadType, "result", "Login protocol error 1")
	}
	var raw rawLogin
	if err := fastJSON.Unmarshal(result, &raw); err != nil {
		return nil, parseErr(types.BadType, "result", "Login protocol error 1")
	}

	id, ok := decodeString(raw.ID)
	if !ok || isAbsentOrNull(raw.Job) {
		return nil, parseErr(types.MissingField, "id", "Login protocol error 2")
	}
	if len(id) > types.MaxJobIDLen {
		return nil, parseErr(types.FieldTooLong, "id", "Login protocol error 3")
	}

	res := &loginResult{MinerID: id, Job: raw.Job}
	if jsonKind(raw.Extensions) == '[' {
		var exts []json.RawMessage
		if err := fastJSON.Unmarshal(raw.Extensions, &exts); err == nil {
			for _, e := range exts {
				if s, ok := decodeString(e); ok && strings.EqualFold(s, "motd") {
					res.Motd = true
				}
			}
		}
	}
	return res, nil
}
