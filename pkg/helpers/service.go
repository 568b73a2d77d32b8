// Handshake Core
// Copyright (c) 2026 The Campus Market Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Handshake Core.
//
// Handshake Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Handshake Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Handshake Core.  If not, see <http://www.gnu.org/licenses/>.

//go:build unix

package helpers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/rs/zerolog/log"
)

var (
	ErrServiceRunning    = errors.New("service already running")
	ErrServiceNotRunning = errors.New("service not running")
)

// ServiceEntry starts the service and returns its stop function.
type ServiceEntry func() (func() error, error)

// Service manages the daemon process through a pid file in TempDir.
type Service struct {
	start   ServiceEntry
	stop    func() error
	paths   Paths
	cfgPath string
}

type ServiceArgs struct {
	Entry ServiceEntry
	Paths Paths
	// ConfigPath is handed to a background daemon through HANDSHAKE_CFG.
	ConfigPath string
}

func NewService(args ServiceArgs) (*Service, error) {
	if err := os.MkdirAll(args.Paths.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Service{
		start:   args.Entry,
		paths:   args.Paths,
		cfgPath: args.ConfigPath,
	}, nil
}

func (s *Service) pidPath() string {
	return filepath.Join(s.paths.TempDir, config.PidFile)
}

func (s *Service) createPidFile() error {
	err := os.WriteFile(s.pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func (s *Service) removePidFile() error {
	if err := os.Remove(s.pidPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Pid returns the process ID of the running daemon, or 0.
func (s *Service) Pid() (int, error) {
	//nolint:gosec // pid file lives in our own temp dir
	data, err := os.ReadFile(s.pidPath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("error parsing pid: %w", err)
	}
	return pid, nil
}

// Running returns true if the pid file names a live process.
func (s *Service) Running() bool {
	pid, err := s.Pid()
	if err != nil || pid == 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Run starts the service in the foreground and blocks until ctx is done or
// the process gets SIGINT or SIGTERM.
func (s *Service) Run(ctx context.Context) error {
	if s.Running() {
		return ErrServiceRunning
	}

	log.Info().Msg("starting service")
	if err := s.createPidFile(); err != nil {
		return err
	}

	stop, err := s.start()
	if err != nil {
		if rerr := s.removePidFile(); rerr != nil {
			log.Error().Err(rerr).Msg("error removing pid file")
		}
		return fmt.Errorf("error starting service: %w", err)
	}
	s.stop = stop

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	return s.stopService()
}

func (s *Service) stopService() error {
	log.Info().Msg("stopping service")

	if s.stop != nil {
		if err := s.stop(); err != nil {
			log.Error().Err(err).Msg("error stopping service")
			return err
		}
	}

	if err := s.removePidFile(); err != nil {
		log.Error().Err(err).Msg("error removing pid file")
		return err
	}
	return nil
}

// Start re-executes the current binary in the background with the given
// arguments.
func (s *Service) Start(args ...string) error {
	if s.Running() {
		return ErrServiceRunning
	}

	binPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("error getting absolute binary path: %w", err)
	}

	//nolint:gosec // re-executes our own binary
	cmd := exec.Command(binPath, args...)
	cmd.Env = os.Environ()
	if s.cfgPath != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", config.CfgEnv, s.cfgPath))
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting service: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		log.Debug().Err(err).Msg("failed to release daemon process")
	}
	return nil
}

// Stop sends SIGTERM to the daemon.
func (s *Service) Stop() error {
	if !s.Running() {
		return ErrServiceNotRunning
	}

	pid, err := s.Pid()
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process: %w", err)
	}
	return nil
}

// WaitStopped polls until the daemon has exited or ctx is done.
func (s *Service) WaitStopped(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for s.Running() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for service to stop: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
