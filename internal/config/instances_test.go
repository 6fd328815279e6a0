package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegisterAndListInstances(t *testing.T) {
	// Use a temp dir as the config dir
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	inst := Instance{
		Type:      InstanceServe,
		PID:       os.Getpid(),
		Port:      8796,
		Host:      "localhost",
		StartedAt: time.Now(),
	}

	if err := RegisterInstance(inst); err != nil {
		t.Fatalf("RegisterInstance failed: %v", err)
	}

	instances, err := ListInstances()
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}
	if instances[0].Type != InstanceServe {
		t.Fatalf("Expected type %q, got %q", InstanceServe, instances[0].Type)
	}
	if instances[0].Port != 8796 {
		t.Fatalf("Expected port 8796, got %d", instances[0].Port)
	}
}

func TestUnregisterInstance(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	inst := Instance{
		Type:      InstanceServe,
		PID:       os.Getpid(),
		Port:      8796,
		Host:      "localhost",
		StartedAt: time.Now(),
	}

	if err := RegisterInstance(inst); err != nil {
		t.Fatalf("RegisterInstance failed: %v", err)
	}

	if err := UnregisterInstance(os.Getpid()); err != nil {
		t.Fatalf("UnregisterInstance failed: %v", err)
	}

	instances, err := ListInstances()
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("Expected 0 instances after unregister, got %d", len(instances))
	}
}

func TestStalePIDCleanup(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	// Register an instance with a PID that doesn't exist
	inst := Instance{
		Type:      InstanceServe,
		PID:       999999999, // almost certainly not a real PID
		StartedAt: time.Now(),
	}

	if err := RegisterInstance(inst); err != nil {
		t.Fatalf("RegisterInstance failed: %v", err)
	}

	instances, err := ListInstances()
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("Expected 0 instances after stale cleanup, got %d", len(instances))
	}
}

func TestFindInstance(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	if FindInstance(InstanceServe) != nil {
		t.Fatal("Expected nil before registration")
	}

	inst := Instance{
		Type:      InstanceServe,
		PID:       os.Getpid(),
		Port:      8796,
		Host:      "localhost",
		StartedAt: time.Now(),
	}
	if err := RegisterInstance(inst); err != nil {
		t.Fatalf("RegisterInstance failed: %v", err)
	}

	found := FindInstance(InstanceServe)
	if found == nil {
		t.Fatal("Expected to find serve instance")
	}
	if found.PID != os.Getpid() {
		t.Fatalf("Expected PID %d, got %d", os.Getpid(), found.PID)
	}
}

func TestInstancesFileCreation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	inst := Instance{
		Type:      InstanceServe,
		PID:       os.Getpid(),
		Port:      8796,
		StartedAt: time.Now(),
	}

	if err := RegisterInstance(inst); err != nil {
		t.Fatalf("RegisterInstance failed: %v", err)
	}

	path := filepath.Join(tmpDir, ".pi-island", "instances.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("instances.json was not created at %s", path)
	}
}

func TestLockServe(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	unlock, err := LockServe()
	if err != nil {
		t.Fatalf("LockServe failed: %v", err)
	}

	if _, err := LockServe(); !errors.Is(err, ErrAlreadyServing) {
		t.Fatalf("second LockServe = %v, want ErrAlreadyServing", err)
	}

	unlock()
	unlock2, err := LockServe()
	if err != nil {
		t.Fatalf("LockServe after unlock failed: %v", err)
	}
	unlock2()
}
