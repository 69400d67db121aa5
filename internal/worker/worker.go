package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Handler runs one request inside the worker process.
type Handler func(ctx context.Context, req Request) Response

// Handle decodes one request from r, runs h and encodes the response to w.
func Handle(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	resp := h(ctx, req)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}

// Command describes how to start a worker process.
type Command struct {
	Path string
	Args []string

	// Env is appended to the parent's environment.
	Env []string

	// Stderr receives the worker's diagnostics; os.Stderr when nil.
	Stderr io.Writer
}

// Call starts the worker with req.Dir as its working directory, sends req
// and waits for the response. A worker that exits without a response is an
// error; one that answers and then exits non-zero is not.
func Call(ctx context.Context, c Command, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = bytes.NewReader(body)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	runErr := cmd.Run()
	var resp Response
	if err := json.NewDecoder(&stdout).Decode(&resp); err != nil {
		if runErr != nil {
			return Response{}, fmt.Errorf("worker: %w", runErr)
		}
		if errors.Is(err, io.EOF) {
			return Response{}, errors.New("worker: exited without response")
		}
		return Response{}, fmt.Errorf("worker: decode response: %w", err)
	}
	return resp, nil
}
