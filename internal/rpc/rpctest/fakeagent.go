// Package rpctest provides a scripted stand-in for the pi agent's RPC mode.
// Test binaries re-execute themselves as the agent: TestMain calls
// MaybeServe, and Executable describes how to launch the test binary in
// that role.
package rpctest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// EnvFakeAgent switches a test binary into fake agent mode.
	EnvFakeAgent = "PI_ISLAND_FAKE_AGENT"
	// EnvSilent is a comma separated list of commands the agent never
	// answers.
	EnvSilent = "FAKE_AGENT_SILENT"
	// EnvNoID stops the agent from echoing request ids, so responses can
	// only be matched by command name.
	EnvNoID = "FAKE_AGENT_NO_ID"
)

// Prompts with scripted behavior. Any other prompt gets a streamed "ok".
const (
	PromptTool    = "run tool"    // starts a tool call and leaves it running
	PromptFail    = "fail"        // rejected with an error response
	PromptGarbage = "garbage"     // malformed line before the reply
	PromptCrash   = "crash"       // agent exits with status 3
	PromptSlow    = "slow"        // reply streamed after a short pause
	Reply         = "ok"
	ToolCallID    = "t1"
	ToolName      = "bash"
	ModelProvider = "fake"
	ModelID       = "fake-1"
	MissingModel  = "missing" // set_model to this id is rejected
)

// MaybeServe runs the fake agent and exits when EnvFakeAgent is set. It
// returns immediately otherwise.
func MaybeServe() {
	if os.Getenv(EnvFakeAgent) != "1" {
		return
	}
	a := newAgent(os.Stdout, os.Args[1:])
	fmt.Fprintln(os.Stderr, "fake agent ready")
	if err := a.serve(os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, "fake agent:", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// Executable returns the path and environment that launch the running test
// binary as the fake agent. Extra entries are appended to the environment.
func Executable(extraEnv ...string) (string, []string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", nil, err
	}
	env := append(os.Environ(), EnvFakeAgent+"=1")
	env = append(env, extraEnv...)
	return path, env, nil
}

type agent struct {
	out     io.Writer
	mu      sync.Mutex
	cwd     string
	session string
	model   map[string]string
	level   string
	silent  map[string]bool
	echoID  bool
	history []json.RawMessage
}

func newAgent(out io.Writer, args []string) *agent {
	cwd, _ := os.Getwd()
	a := &agent{
		out:    out,
		cwd:    cwd,
		model:  map[string]string{"provider": ModelProvider, "id": ModelID},
		level:  "off",
		silent: make(map[string]bool),
		echoID: os.Getenv(EnvNoID) != "1",
	}
	for _, name := range strings.Split(os.Getenv(EnvSilent), ",") {
		if name = strings.TrimSpace(name); name != "" {
			a.silent[name] = true
		}
	}
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "--session":
			a.session = args[i+1]
			a.load(a.session)
		case "--provider":
			a.model["provider"] = args[i+1]
		case "--model":
			a.model["id"] = args[i+1]
		}
	}
	if a.session == "" {
		a.session = filepath.Join(cwd, "session.jsonl")
	}
	return a
}

func (a *agent) serve(in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for sc.Scan() {
		var cmd map[string]json.RawMessage
		if err := json.Unmarshal(sc.Bytes(), &cmd); err != nil {
			continue
		}
		a.handle(cmd)
	}
	return sc.Err()
}

func str(raw json.RawMessage) string {
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func (a *agent) handle(cmd map[string]json.RawMessage) {
	name := str(cmd["type"])
	id := str(cmd["id"])

	switch name {
	case "prompt", "steer", "follow_up":
		msg := str(cmd["message"])
		if msg == PromptFail {
			a.respond(name, id, false, "prompt rejected", nil)
			return
		}
		a.respond(name, id, true, "", nil)
		if name == "prompt" {
			go a.turn(msg)
		}
	case "abort":
		a.respond(name, id, true, "", nil)
		a.emit(map[string]any{"type": "tool_execution_end", "toolCallId": ToolCallID, "toolName": ToolName,
			"result": map[string]any{"content": []map[string]string{{"type": "text", "text": "aborted"}}}, "isError": true})
		a.emit(map[string]any{"type": "agent_end", "messages": []any{}})
	case "get_state":
		a.mu.Lock()
		state := map[string]any{
			"model":         a.model,
			"thinkingLevel": a.level,
			"isStreaming":   false,
			"isCompacting":  false,
			"sessionFile":   a.session,
			"sessionId":     strings.TrimSuffix(filepath.Base(a.session), ".jsonl"),
			"messageCount":  len(a.history),
		}
		a.mu.Unlock()
		a.respond(name, id, true, "", state)
	case "get_messages":
		a.mu.Lock()
		msgs := append([]json.RawMessage{}, a.history...)
		a.mu.Unlock()
		a.respond(name, id, true, "", map[string]any{"messages": msgs})
	case "switch_session":
		path := str(cmd["sessionPath"])
		a.mu.Lock()
		a.session = path
		a.history = nil
		a.mu.Unlock()
		a.load(path)
		a.respond(name, id, true, "", map[string]any{"cancelled": false})
	case "new_session":
		a.mu.Lock()
		a.session = filepath.Join(a.cwd, fmt.Sprintf("session-%d.jsonl", time.Now().UnixNano()))
		a.history = nil
		a.mu.Unlock()
		a.respond(name, id, true, "", map[string]any{"cancelled": false})
	case "set_model":
		if str(cmd["modelId"]) == MissingModel {
			a.respond(name, id, false, "model not found: "+MissingModel, nil)
			return
		}
		a.mu.Lock()
		a.model = map[string]string{"provider": str(cmd["provider"]), "id": str(cmd["modelId"])}
		m := a.model
		a.mu.Unlock()
		a.respond(name, id, true, "", m)
	case "set_thinking_level":
		a.mu.Lock()
		a.level = str(cmd["level"])
		a.mu.Unlock()
		a.respond(name, id, true, "", nil)
	case "cycle_model", "cycle_thinking_level", "compact":
		a.respond(name, id, true, "", nil)
	case "get_available_models":
		a.respond(name, id, true, "", map[string]any{"models": []map[string]string{
			{"provider": ModelProvider, "id": ModelID},
			{"provider": ModelProvider, "id": "fake-2"},
		}})
	case "get_session_stats":
		a.mu.Lock()
		n := len(a.history)
		a.mu.Unlock()
		a.respond(name, id, true, "", map[string]any{"sessionFile": a.session, "totalMessages": n})
	case "get_commands":
		a.respond(name, id, true, "", map[string]any{"commands": []map[string]string{{"name": "compact"}}})
	default:
		a.respond(name, id, false, "unknown command: "+name, nil)
	}
}

func (a *agent) turn(msg string) {
	a.record(map[string]any{"role": "user", "content": msg, "timestamp": time.Now().UnixMilli()})

	switch msg {
	case PromptCrash:
		os.Exit(3)
	case PromptGarbage:
		a.raw([]byte("{not json"))
	case PromptSlow:
		time.Sleep(200 * time.Millisecond)
	}

	a.emit(map[string]any{"type": "agent_start"})
	if msg == PromptTool {
		call := map[string]any{"type": "toolCall", "id": ToolCallID, "name": ToolName, "arguments": map[string]string{"command": "ls"}}
		a.emit(map[string]any{"type": "message_update", "message": map[string]any{"role": "assistant"},
			"assistantMessageEvent": map[string]any{"type": "toolcall_start", "contentIndex": 0, "toolCall": call}})
		a.emit(map[string]any{"type": "tool_execution_start", "toolCallId": ToolCallID, "toolName": ToolName,
			"args": map[string]string{"command": "ls"}})
		return
	}

	a.emit(map[string]any{"type": "message_start", "message": map[string]any{"role": "assistant"}})
	a.emit(map[string]any{"type": "message_update", "message": map[string]any{"role": "assistant"},
		"assistantMessageEvent": map[string]any{"type": "text_delta", "contentIndex": 0, "delta": Reply}})
	a.emit(map[string]any{"type": "message_update", "message": map[string]any{"role": "assistant"},
		"assistantMessageEvent": map[string]any{"type": "done", "reason": "stop"}})
	reply := map[string]any{"role": "assistant", "content": []map[string]string{{"type": "text", "text": Reply}},
		"timestamp": time.Now().UnixMilli()}
	a.record(reply)
	a.emit(map[string]any{"type": "message_end", "message": reply})
	a.emit(map[string]any{"type": "agent_end", "messages": []any{}})
}

func (a *agent) record(msg map[string]any) {
	data, _ := json.Marshal(msg)
	a.mu.Lock()
	a.history = append(a.history, data)
	a.mu.Unlock()
}

// load reads message records from a transcript file, if present.
func (a *agent) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var msgs []json.RawMessage
	for _, line := range strings.Split(string(data), "\n") {
		var rec struct {
			Type    string          `json:"type"`
			Message json.RawMessage `json:"message"`
		}
		if json.Unmarshal([]byte(line), &rec) == nil && rec.Type == "message" && len(rec.Message) > 0 {
			msgs = append(msgs, rec.Message)
		}
	}
	a.mu.Lock()
	a.history = msgs
	a.mu.Unlock()
}

func (a *agent) respond(command, id string, ok bool, errMsg string, data any) {
	if a.silent[command] {
		return
	}
	resp := map[string]any{"type": "response", "command": command, "success": ok}
	if id != "" && a.echoID {
		resp["id"] = id
	}
	if errMsg != "" {
		resp["error"] = errMsg
	}
	if data != nil {
		resp["data"] = data
	}
	a.emit(resp)
}

func (a *agent) emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	a.raw(data)
}

func (a *agent) raw(line []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out.Write(append(line, '\n'))
}
