package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Protocol is the version tag sent with every request.
const Protocol = "zeroclaw-plugin-v1"

type request struct {
	Protocol  string `json:"protocol"`
	Subsystem Kind   `json:"subsystem"`
	Plugin    string `json:"plugin"`
	Operation string `json:"operation"`
	Payload   any    `json:"payload"`
}

type response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *string         `json:"error"`
}

// Empty is the payload for operations that take no arguments.
type Empty struct{}

// Invoke runs one request/response exchange: it spawns p, writes the request
// followed by a newline to stdin, and decodes the single JSON reply from
// stdout. When the reply carries non-null data it is decoded into out.
func Invoke(ctx context.Context, p Plugin, subsystem Kind, operation string, payload any, out any) error {
	if payload == nil {
		payload = Empty{}
	}
	body, err := json.Marshal(request{
		Protocol:  Protocol,
		Subsystem: subsystem,
		Plugin:    p.ID,
		Operation: operation,
		Payload:   payload,
	})
	if err != nil {
		return newError(ErrorIO, err, "serialize %s plugin request", subsystem)
	}

	timeout := time.Duration(max(p.TimeoutSecs, 1)) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, p.Command, p.Args...)
	cmd.Env = commandEnv(p.Env)
	cmd.Stdin = bytes.NewReader(append(body, '\n'))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren holding the pipes open must not outlive the kill.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return newError(ErrorSpawn, err, "failed to spawn %s plugin '%s' with command '%s'", subsystem, p.ID, p.Command)
	}

	waitErr := cmd.Wait()
	if callCtx.Err() != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError(ErrorTimeout, nil, "%s plugin '%s' timed out after %ds", subsystem, p.ID, max(p.TimeoutSecs, 1))
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			status := "signal"
			if code := exitErr.ExitCode(); code >= 0 {
				status = strconv.Itoa(code)
			}
			return newError(ErrorExitStatus, nil, "%s plugin '%s' exited with status %s: %s", subsystem, p.ID, status, strings.TrimSpace(stderr.String()))
		}
		return newError(ErrorIO, waitErr, "wait for %s plugin '%s'", subsystem, p.ID)
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		return newError(ErrorEmptyOutput, nil, "%s plugin '%s' returned an empty response", subsystem, p.ID)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return newError(ErrorInvalidOutput, err, "decode %s plugin response JSON", subsystem)
	}
	if !resp.OK {
		detail := "unknown plugin error"
		if resp.Error != nil && strings.TrimSpace(*resp.Error) != "" {
			detail = *resp.Error
		}
		return newError(ErrorPlugin, nil, "%s plugin '%s' failed '%s': %s", subsystem, p.ID, operation, detail)
	}

	if out == nil || len(resp.Data) == 0 || bytes.Equal(resp.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return newError(ErrorInvalidOutput, err, "decode %s plugin '%s' %s data", subsystem, p.ID, operation)
	}
	return nil
}

// commandEnv is the parent environment plus the plugin's own variables.
func commandEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}
	return env
}
