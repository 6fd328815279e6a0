package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// InstanceType identifies the kind of pi-island process.
type InstanceType string

const (
	InstanceServe InstanceType = "serve"
)

// Instance represents a running pi-island process. UIs read the instances
// file to find the bridge's address.
type Instance struct {
	Type      InstanceType `json:"type"`
	PID       int          `json:"pid"`
	Port      int          `json:"port,omitempty"`
	Host      string       `json:"host,omitempty"`
	LogPath   string       `json:"log_path,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// instancesPath returns the path to the instances file.
func instancesPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "instances.json"), nil
}

// withInstancesLock runs fn while holding an exclusive lock on the
// instances file so concurrent processes don't lose each other's entries.
func withInstancesLock(fn func(path string) error) error {
	path, err := instancesPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock instances file: %w", err)
	}
	defer lock.Unlock()

	return fn(path)
}

// RegisterInstance adds a new instance entry, cleaning stale entries first.
func RegisterInstance(inst Instance) error {
	return withInstancesLock(func(path string) error {
		instances, _ := readInstances(path)
		instances = cleanStale(instances)
		instances = append(instances, inst)
		return writeInstances(path, instances)
	})
}

// UnregisterInstance removes an instance by PID.
func UnregisterInstance(pid int) error {
	return withInstancesLock(func(path string) error {
		instances, _ := readInstances(path)
		filtered := make([]Instance, 0, len(instances))
		for _, inst := range instances {
			if inst.PID != pid {
				filtered = append(filtered, inst)
			}
		}
		return writeInstances(path, filtered)
	})
}

// ListInstances returns all live instances, cleaning stale entries.
func ListInstances() ([]Instance, error) {
	var live []Instance
	err := withInstancesLock(func(path string) error {
		instances, err := readInstances(path)
		if err != nil {
			return err
		}
		live = cleanStale(instances)
		if len(live) != len(instances) {
			return writeInstances(path, live)
		}
		return nil
	})
	return live, err
}

// FindInstance returns the first live instance of the given type, or nil.
func FindInstance(t InstanceType) *Instance {
	instances, err := ListInstances()
	if err != nil {
		return nil
	}
	for _, inst := range instances {
		if inst.Type == t {
			return &inst
		}
	}
	return nil
}

func readInstances(path string) ([]Instance, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var instances []Instance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func writeInstances(path string, instances []Instance) error {
	data, err := json.MarshalIndent(instances, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// cleanStale removes entries whose PID is no longer running.
func cleanStale(instances []Instance) []Instance {
	live := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		if isProcessAlive(inst.PID) {
			live = append(live, inst)
		}
	}
	return live
}

// ErrAlreadyServing is returned by LockServe when another process holds the
// serve lock.
var ErrAlreadyServing = errors.New("another pi-island serve is running")

// LockServe takes the advisory single-instance lock for serve. The returned
// function releases it.
func LockServe() (func(), error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "serve.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock serve: %w", err)
	}
	if !ok {
		if inst := FindInstance(InstanceServe); inst != nil {
			return nil, fmt.Errorf("%w (PID %d on %s:%d)", ErrAlreadyServing, inst.PID, inst.Host, inst.Port)
		}
		return nil, ErrAlreadyServing
	}
	return func() { _ = lock.Unlock() }, nil
}
