package pool

import (
	"errors"
	"strings"
	"testing"

	"github.com/djkazic/cpuminer-go/internal/types"
	"github.com/djkazic/cpuminer-go/testutil"
)

func TestSubmitRoundTrip(t *testing.T) {
	res := &types.JobResult{JobID: "abc", Nonce: 0x00000001}
	data, err := fastJSON.Marshal(SubmitRequest("miner-1", res))
	if err != nil {
		t.Fatal(err)
	}

	var decoded testutil.PoolRequest
	if err := fastJSON.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Method != "submit" || decoded.ID != 1 {
		t.Errorf("method/id = %s/%d", decoded.Method, decoded.ID)
	}
	want := map[string]string{
		"id":     "miner-1",
		"job_id": "abc",
		"nonce":  "01000000",
		"result": strings.Repeat("0", 64),
	}
	for k, v := range want {
		if decoded.Params[k] != v {
			t.Errorf("params[%s] = %q, want %q", k, decoded.Params[k], v)
		}
	}

	ok, err := ParseLine([]byte(`{"id":1,"result":{"status":"OK"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ok.Kind != CallResponse || ok.IsError {
		t.Errorf("OK response parsed as %+v", ok)
	}

	rej, err := ParseLine([]byte(`{"id":1,"error":{"message":"Low diff share"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !rej.IsError || rej.ErrorMsg != "Low diff share" {
		t.Errorf("rejection parsed as %+v", rej)
	}
}

func TestLoginRequest(t *testing.T) {
	data, err := fastJSON.Marshal(LoginRequest("wallet", "x", "cpuminer-go/1.0"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded testutil.PoolRequest
	if err := fastJSON.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Method != "login" || decoded.Params["login"] != "wallet" ||
		decoded.Params["pass"] != "x" || decoded.Params["agent"] != "cpuminer-go/1.0" {
		t.Errorf("login request = %+v", decoded)
	}
}

func TestParseLine_JobPush(t *testing.T) {
	line := testutil.JobPushLine("job-7", testutil.SampleBlobHex(), testutil.SampleTarget)
	msg, err := ParseLine([]byte(line))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != JobPush {
		t.Fatalf("kind = %v, want JobPush", msg.Kind)
	}
	if msg.Job.JobID != "job-7" || msg.Job.Target != testutil.SampleTarget {
		t.Errorf("job = %+v", msg.Job)
	}
	if msg.MotdUpdate {
		t.Error("motd update without motd field")
	}
}

func TestParseLine_Motd(t *testing.T) {
	blob := testutil.SampleBlobHex()
	tests := []struct {
		name       string
		motd       string
		wantUpdate bool
		wantText   string
	}{
		{name: "hex text", motd: `"68656c6c6f"`, wantUpdate: true, wantText: "hello"},
		{name: "empty clears", motd: `""`, wantUpdate: true, wantText: ""},
		{name: "odd length ignored", motd: `"686"`, wantUpdate: false},
		{name: "bad hex clears", motd: `"zz"`, wantUpdate: true, wantText: ""},
		{name: "not a string", motd: `5`, wantUpdate: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := `{"method":"job","params":{"job_id":"a","blob":"` + blob + `","target":"b88d0600","motd":` + tt.motd + `}}`
			msg, err := ParseLine([]byte(line))
			if err != nil {
				t.Fatal(err)
			}
			if msg.MotdUpdate != tt.wantUpdate {
				t.Errorf("MotdUpdate = %v, want %v", msg.MotdUpdate, tt.wantUpdate)
			}
			if msg.Job.Motd != tt.wantText {
				t.Errorf("motd = %q, want %q", msg.Job.Motd, tt.wantText)
			}
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	blob := testutil.SampleBlobHex()
	job := func(fields string) string { return `{"method":"job","params":{` + fields + `}}` }

	tests := []struct {
		name string
		line string
		want string
	}{
		{"not json", `hello`, "PARSE error: Invalid root"},
		{"array root", `[1,2]`, "PARSE error: Invalid root"},
		{"method not string", `{"method":5}`, "PARSE error: Protocol error 1"},
		{"unknown method", `{"method":"mining.notify","params":{}}`, "PARSE error: Unsupported server method mining.notify"},
		{"params not object", `{"method":"job","params":[]}`, "PARSE error: Protocol error 2"},
		{"missing job id", job(`"blob":"` + blob + `","target":"b88d0600"`), "PARSE error: Job error 2"},
		{"blob not string", job(`"job_id":"a","blob":5,"target":"b88d0600"`), "PARSE error: Job error 2"},
		{"missing target", job(`"job_id":"a","blob":"` + blob + `"`), "PARSE error: Job error 2"},
		{"job id too long", job(`"job_id":"` + strings.Repeat("j", 64) + `","blob":"` + blob + `","target":"b88d0600"`), "PARSE error: Job error 3"},
		{"blob too long", job(`"job_id":"a","blob":"` + strings.Repeat("00", 113) + `","target":"b88d0600"`), "PARSE error: Invalid job legth. Are you sure you are mining the correct coin?"},
		{"blob bad hex", job(`"job_id":"a","blob":"` + strings.Repeat("zz", 76) + `","target":"b88d0600"`), "PARSE error: Job error 4"},
		{"missing id", `{"result":{}}`, "PARSE error: Protocol error 3"},
		{"string id", `{"id":"1","result":{}}`, "PARSE error: Protocol error 3"},
		{"error not object", `{"id":1,"error":"bad"}`, "PARSE error: Protocol error 5"},
		{"error without message", `{"id":1,"error":{"code":1}}`, "PARSE error: Protocol error 6"},
		{"no result no error", `{"id":1}`, "PARSE error: Protocol error 7"},
		{"null result", `{"id":1,"error":null,"result":null}`, "PARSE error: Protocol error 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLine([]byte(tt.line))
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *types.ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a ProtocolError", err)
			}
			if err.Error() != tt.want {
				t.Errorf("error = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParseLoginResult(t *testing.T) {
	res, err := parseLoginResult([]byte(testutil.LoginResultJSON("m1", "j1", "keepalive", "MOTD")))
	if err != nil {
		t.Fatal(err)
	}
	if res.MinerID != "m1" || !res.Motd {
		t.Errorf("login result = %+v", res)
	}

	res, err = parseLoginResult([]byte(testutil.LoginResultJSON("m1", "j1")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Motd {
		t.Error("motd enabled without extension")
	}

	bad := []struct {
		raw  string
		want string
	}{
		{`"ok"`, "PARSE error: Login protocol error 1"},
		{`{"job":{}}`, "PARSE error: Login protocol error 2"},
		{`{"id":"m1"}`, "PARSE error: Login protocol error 2"},
		{`{"id":"` + strings.Repeat("m", 64) + `","job":{}}`, "PARSE error: Login protocol error 3"},
	}
	for _, b := range bad {
		if _, err := parseLoginResult([]byte(b.raw)); err == nil || err.Error() != b.want {
			t.Errorf("parseLoginResult(%s) error = %v, want %q", b.raw, err, b.want)
		}
	}
}

func FuzzParseLine(f *testing.F) {
	f.Add([]byte(`{"id":1,"result":{"status":"OK"}}`))
	f.Add([]byte(`{"id":1,"error":{"message":"Low diff share"}}`))
	f.Add([]byte(testutil.JobPushLine("a", testutil.SampleBlobHex(), testutil.SampleTarget)))
	f.Add([]byte(`{"method":"job","params":{"job_id":"a","blob":"00","target":"ff","motd":"6869"}}`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, line []byte) {
		msg, err := ParseLine(line)
		if err != nil {
			var pe *types.ProtocolError
			if !errors.As(err, &pe) {
				t.Fatalf("non-protocol error %T: %v", err, err)
			}
			if msg != nil {
				t.Fatal("message returned together with an error")
			}
			return
		}

		switch msg.Kind {
		case JobPush:
			if msg.Job == nil {
				t.Fatal("job push without job")
			}
			w, err := msg.Job.Work()
			if err != nil {
				t.Fatalf("accepted job does not convert: %v", err)
			}
			if len(w.JobID) > types.MaxJobIDLen || len(w.Blob) > types.MaxBlobLen {
				t.Fatalf("accepted job out of bounds: id %d blob %d", len(w.JobID), len(w.Blob))
			}
		case CallResponse:
			if !msg.IsError && len(msg.Result) == 0 {
				t.Fatal("successful response without result")
			}
		default:
			t.Fatalf("unknown kind %d", msg.Kind)
		}
	})
}
