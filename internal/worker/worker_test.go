package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// TestHandle tests one request/response exchange
func TestHandle(t *testing.T) {
	in := strings.NewReader(`{"dir":"/tmp/exp","rep":2,"rerun":1}`)
	var out bytes.Buffer
	err := Handle(context.Background(), in, &out, func(ctx context.Context, req Request) Response {
		return Response{Name: req.Dir, Rep: req.Rep, Resume: req.Rerun, Status: "succeeded"}
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Name != "/tmp/exp" || resp.Rep != 2 || resp.Resume != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleBadRequest(t *testing.T) {
	called := false
	err := Handle(context.Background(), strings.NewReader("not json"), &bytes.Buffer{}, func(ctx context.Context, req Request) Response {
		called = true
		return Response{}
	})
	if err == nil || called {
		t.Fatalf("expected decode error without calling the handler, err=%v", err)
	}
}

func TestCall(t *testing.T) {
	c := Command{
		Path: "sh",
		Args: []string{"-c", `cat >/dev/null; printf '{"name":"%s","rep":1,"status":"succeeded","executed":3}' "$(basename "$PWD")"`},
	}
	dir := t.TempDir()
	resp, err := Call(context.Background(), c, Request{Dir: dir, Rep: 1})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Executed != 3 || resp.Status != "succeeded" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.HasSuffix(dir, resp.Name) {
		t.Fatalf("worker ran in %q, want %q", resp.Name, dir)
	}
}

func TestCallWithoutResponse(t *testing.T) {
	var stderr bytes.Buffer
	c := Command{Path: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}, Stderr: &stderr}
	if _, err := Call(context.Background(), c, Request{Dir: t.TempDir()}); err == nil {
		t.Fatal("expected error from a worker that died")
	}
	if !strings.Contains(stderr.String(), "boom") {
		t.Fatalf("stderr not forwarded: %q", stderr.String())
	}
}
