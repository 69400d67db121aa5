// Package worker carries one repetition to a child process and its outcome
// back, as single JSON documents on the child's stdin and stdout.
package worker

// Request asks a worker to run repetition Rep of the experiment whose
// snapshot lives in Dir.
type Request struct {
	Dir   string `json:"dir"`
	Rep   int    `json:"rep"`
	Rerun int    `json:"rerun"`
}

type Response struct {
	Name       string `json:"name"`
	Rep        int    `json:"rep"`
	State      string `json:"state"`
	Status     string `json:"status"`
	Resume     int    `json:"resume"`
	Executed   int    `json:"executed"`
	Backup     string `json:"backup,omitempty"`
	Report     string `json:"report,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
