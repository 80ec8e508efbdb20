package testutil

import (
	"fmt"
	"strings"
)

const (
	// SampleTarget is a compact target worth difficulty 10000.
	SampleTarget = "b88d0600"

	// EasyTarget accepts nearly every digest.
	EasyTarget = "ffffffff"
)

// SampleBlobHex returns a 76-byte blob, the usual size of a CPU mining job.
func SampleBlobHex() string {
	var b strings.Builder
	for i := range 76 {
		fmt.Fprintf(&b, "%02x", byte(i*7))
	}
	return b.String()
}

// JobJSON renders a job object.
func JobJSON(jobID, blob, target string) string {
	return fmt.Sprintf(`{"job_id":%q,"blob":%q,"target":%q}`, jobID, blob, target)
}

// JobPushLine renders a job notification line.
func JobPushLine(jobID, blob, target string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","method":"job","params":%s}`, JobJSON(jobID, blob, target))
}

// LoginResultJSON renders a successful login result carrying a first job.
func LoginResultJSON(minerID, jobID string, extensions ...string) string {
	ext := ""
	if len(extensions) > 0 {
		quoted := make([]string, len(extensions))
		for i, e := range extensions {
			quoted[i] = fmt.Sprintf("%q", e)
		}
		ext = `,"extensions":[` + strings.Join(quoted, ",") + `]`
	}
	return fmt.Sprintf(`{"id":%q,"job":%s,"status":"OK"%s}`,
		minerID, JobJSON(jobID, SampleBlobHex(), SampleTarget), ext)
}
