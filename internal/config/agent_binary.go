package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// AgentExecutable is a fully resolved agent launch target: an absolute
// binary path, the environment to run it with, and any fixed leading args.
type AgentExecutable struct {
	Path string
	Env  []string
	Args []string
}

// ResolveAgent locates the configured agent binary and builds its
// environment from the current process environment plus the configured
// overrides.
func ResolveAgent(a AgentConfig) (AgentExecutable, error) {
	name := a.Binary
	if name == "" {
		name = DefaultAgentBinary
	}

	path := findBinary(name, runtime.GOOS, os.Executable, os.Stat, exec.LookPath, os.UserHomeDir)
	if path == "" {
		return AgentExecutable{}, fmt.Errorf("agent binary %q not found", name)
	}

	return AgentExecutable{
		Path: path,
		Env:  mergeEnv(os.Environ(), a.Env),
		Args: append([]string(nil), a.Args...),
	}, nil
}

type executablePathFn func() (string, error)
type statFn func(string) (os.FileInfo, error)
type lookPathFn func(string) (string, error)
type homeDirFn func() (string, error)

// findBinary resolves name. Absolute or relative paths are used as given
// when they exist; bare names are searched next to the current executable,
// then on PATH, then in common user install locations that a GUI-launched
// process often lacks on its PATH.
func findBinary(name, goos string, executable executablePathFn, stat statFn, lookPath lookPathFn, home homeDirFn) string {
	if filepath.Base(name) != name {
		if _, err := stat(name); err == nil {
			abs, err := filepath.Abs(name)
			if err == nil {
				return abs
			}
			return name
		}
		return ""
	}

	if execPath, err := executable(); err == nil {
		binDir := filepath.Dir(execPath)
		for _, candidateName := range binaryCandidateNames(name, goos) {
			candidate := filepath.Join(binDir, candidateName)
			if _, err := stat(candidate); err == nil {
				return candidate
			}
		}
	}

	for _, candidateName := range binaryCandidateNames(name, goos) {
		if path, err := lookPath(candidateName); err == nil {
			return path
		}
	}

	if h, err := home(); err == nil {
		for _, dir := range []string{
			filepath.Join(h, ".local", "bin"),
			filepath.Join(h, ".npm-global", "bin"),
			filepath.Join(h, ".bun", "bin"),
			"/opt/homebrew/bin",
			"/usr/local/bin",
		} {
			for _, candidateName := range binaryCandidateNames(name, goos) {
				candidate := filepath.Join(dir, candidateName)
				if _, err := stat(candidate); err == nil {
					return candidate
				}
			}
		}
	}

	return ""
}

func binaryCandidateNames(name, goos string) []string {
	candidates := []string{name}
	if goos == "windows" && filepath.Ext(name) == "" {
		candidates = append(candidates, name+".exe", name+".cmd")
	}
	return candidates
}

// mergeEnv overlays extra onto base. Keys in extra replace existing ones;
// new keys are appended in sorted order so the result is deterministic.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return append([]string(nil), base...)
	}

	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if v, ok := extra[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
