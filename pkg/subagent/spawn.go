package subagent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// Task is one unit of subagent work handed to Spawn: an agent preset
// identity, the task text given to it, the working directory it runs
// in, and which credential provider's variables it needs.
type Task struct {
	Agent    agentmodel.AgentPreset
	Task     string
	CWD      string
	Provider string
}

// Progress is the throttled, human-facing snapshot of a running
// subagent handed to SpawnOptions.OnUpdate at most once per 100ms
// (spec.md §4.6).
type Progress struct {
	CurrentText     string
	CurrentThinking string
	LiveTools       []string
}

// SpawnOptions configures one subprocess invocation.
type SpawnOptions struct {
	BinaryPath  string
	Credentials map[string]string
	OnEvent     func(agentmodel.AgentEvent)
	OnUpdate    func(Progress)
	Cancel      <-chan struct{}
}

const (
	killGrace      = 5 * time.Second
	updateInterval = 100 * time.Millisecond
)

// Spawn runs one subagent child to completion, streaming its NDJSON
// event protocol and returning a finished AgentResult. A subprocess
// that started and ran but reported failure is not a Go error — that
// outcome is encoded in the returned result's Success/Error fields.
// The error return is reserved for failing to even start or stream
// the child.
func Spawn(ctx context.Context, opts SpawnOptions, task Task) (*agentmodel.AgentResult, error) {
	if opts.BinaryPath == "" {
		return nil, errors.New("subagent: BinaryPath is required")
	}

	promptFile, err := writeSystemPrompt(task.Agent.SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("subagent: writing system prompt: %w", err)
	}
	defer os.Remove(promptFile)

	args := []string{
		"--mode", "json",
		"--single-prompt",
		"--no-session-save",
		"--provider", task.Provider,
		"--model", modelName(task.Agent.Model),
	}
	if len(task.Agent.AllowedTools) > 0 {
		args = append(args, "--tools", strings.Join(task.Agent.AllowedTools, ","))
	}
	args = append(args, "--append-system-prompt", promptFile)
	args = append(args, "Task: "+task.Task)

	cmd := exec.Command(opts.BinaryPath, args...)
	cmd.Dir = task.CWD
	cmd.Env = buildEnv(opts.Credentials, task.Provider)
	prepareForTermination(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("subagent: stdout pipe: %w", err)
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("subagent: start: %w", err)
	}

	start := time.Now()
	state := &runState{}
	limiter := rate.NewLimiter(rate.Every(updateInterval), 1)

	done := make(chan struct{})
	go watchCancellation(cmd, opts.Cancel, ctx.Done(), done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		raw, err := parseLine(line)
		if err != nil || raw.Type == "" {
			continue // malformed or unknown: skip, never abort the stream
		}
		if opts.OnEvent != nil {
			opts.OnEvent(toAgentEvent(raw))
		}
		state.apply(raw)
		if opts.OnUpdate != nil && limiter.Allow() {
			opts.OnUpdate(state.progress())
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	close(done)
	duration := time.Since(start).Milliseconds()

	result := &agentmodel.AgentResult{
		AgentName: task.Agent.Name,
		Messages:  state.messages,
		Duration:  duration,
		Usage:     state.usage,
	}

	switch {
	case state.stopReason == "error" || state.stopReason == "aborted":
		result.Success = false
		result.Error = fmt.Sprintf("subagent stopped: %s", state.stopReason)
	case waitErr != nil:
		result.Success = false
		result.Error = describeExit(waitErr, stderrBuf.String())
	case scanErr != nil:
		result.Success = false
		result.Error = fmt.Sprintf("subagent: reading event stream: %s", scanErr)
	default:
		result.Success = true
	}

	return result, nil
}

// runState accumulates the pieces of a subagent run that only make
// sense once the whole NDJSON stream has been observed: the live
// tool set, the assembled transcript, and summed usage.
type runState struct {
	mu              sync.Mutex
	liveTools       map[string]string
	currentText     string
	currentThinking string
	messages        []agentmodel.AgentMessage
	usage           agentmodel.TokenUsage
	stopReason      string
}

func (s *runState) apply(raw *rawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw.StopReason != "" {
		s.stopReason = raw.StopReason
	}

	switch raw.Type {
	case typeToolExecutionStart:
		if s.liveTools == nil {
			s.liveTools = map[string]string{}
		}
		s.liveTools[raw.ID] = raw.Name
	case typeToolExecutionEnd:
		delete(s.liveTools, raw.ID)
	case typeMessageUpdate:
		s.currentText = textOf(raw.Message)
		s.currentThinking = thinkingOf(raw.Message)
	case typeMessageEnd:
		if raw.Message != nil {
			s.messages = append(s.messages, agentmodel.AgentMessage{
				Role:    messageRole(raw.Message.Role),
				Content: textOf(raw.Message),
			})
			if raw.Message.Usage != nil {
				s.usage.Add(agentmodel.TokenUsage{
					InputTokens:      raw.Message.Usage.InputTokens,
					OutputTokens:     raw.Message.Usage.OutputTokens,
					CacheReadTokens:  raw.Message.Usage.CacheReadTokens,
					CacheWriteTokens: raw.Message.Usage.CacheWriteTokens,
					CostUSD:          raw.Message.Usage.CostUSD,
				})
			}
		}
		s.currentText = ""
		s.currentThinking = ""
		for id := range s.liveTools {
			delete(s.liveTools, id)
		}
	case typeToolResultEnd:
		if raw.Message != nil {
			s.messages = append(s.messages, agentmodel.AgentMessage{
				Role:    agentmodel.RoleToolResult,
				Content: textOf(raw.Message),
				Name:    raw.Name,
			})
		}
	}
}

func (s *runState) progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	tools := make([]string, 0, len(s.liveTools))
	for _, name := range s.liveTools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return Progress{
		CurrentText:     s.currentText,
		CurrentThinking: s.currentThinking,
		LiveTools:       tools,
	}
}

func messageRole(role string) agentmodel.MessageRole {
	switch role {
	case "user":
		return agentmodel.RoleUser
	case "assistant":
		return agentmodel.RoleAssistant
	case "toolResult":
		return agentmodel.RoleToolResult
	default:
		return agentmodel.RoleCustom
	}
}

// modelName strips a preset's "provider/model" reference down to the
// bare model name the subprocess protocol's --model flag expects; the
// provider half is passed separately via --provider.
func modelName(model string) string {
	if idx := strings.Index(model, "/"); idx != -1 {
		return model[idx+1:]
	}
	return model
}

// writeSystemPrompt transports the system prompt to the child via an
// owner-only tempfile rather than argv or an env var, avoiding both
// the OS argv length limit and the env-allowlist surface.
func writeSystemPrompt(prompt string) (string, error) {
	f, err := os.CreateTemp("", "subagent-prompt-*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.Chmod(0o600); err != nil {
		return "", err
	}
	if _, err := f.WriteString(prompt); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// buildEnv constructs the child's environment from the fixed system
// allowlist plus exactly the credential variables its provider needs
// (spec.md §4.6/§5) — never the parent's full os.Environ().
func buildEnv(credentials map[string]string, provider string) []string {
	env := make([]string, 0, len(allowlistedEnvVars)+len(credentials))
	for _, name := range allowlistedEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	for _, name := range CredentialVars(provider) {
		if v, ok := credentials[name]; ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// watchCancellation terminates the child gracefully when either the
// caller's cancel channel fires or ctx is cancelled, escalating to
// SIGKILL after killGrace if it hasn't exited by then.
func watchCancellation(cmd *exec.Cmd, cancel <-chan struct{}, ctxDone <-chan struct{}, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-cancel:
	case <-ctxDone:
	}
	terminate(cmd)
	timer := time.NewTimer(killGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		kill(cmd)
	}
}

func describeExit(err error, stderr string) string {
	msg := err.Error()
	if s := strings.TrimSpace(stderr); s != "" {
		msg += ": " + s
	}
	return msg
}
