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

// Command testpeer is a standalone LAN peer for exercising a handshake
// service without a second device. By default it listens and answers every
// purchase confirmation. With -connect it dials a peer, sends a confirmation
// and exits once the purchase is over.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusmarket/handshake-core/pkg/config"
	"github.com/campusmarket/handshake-core/pkg/handshake"
	"github.com/campusmarket/handshake-core/pkg/handshake/models"
	"github.com/campusmarket/handshake-core/pkg/handshake/protocol"
	"github.com/campusmarket/handshake-core/pkg/handshake/purchase"
	"github.com/campusmarket/handshake-core/pkg/radio"
	"github.com/campusmarket/handshake-core/pkg/radio/lanradio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	name := flag.String("name", "testpeer", "advertised device name")
	listenAddr := flag.String("listen-addr", ":0", "tcp address to accept peers on")
	connect := flag.String("connect", "", "peer address to dial instead of listening")
	chatID := flag.String("chat", "testpeer-chat", "chat id sent with -connect")
	framing := flag.String("framing", string(protocol.FramingNewline), "message framing, newline or raw")
	manual := flag.Bool("manual", false, "do not auto-accept incoming confirmations")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	f, err := protocol.ParseFraming(*framing)
	if err != nil {
		return fmt.Errorf("invalid framing: %w", err)
	}

	adapter := lanradio.New(lanradio.Options{
		DeviceID:   "testpeer-" + uuid.NewString()[:8],
		Name:       *name,
		ListenAddr: *listenAddr,
	})
	core := handshake.New(adapter, handshake.Options{
		Service: radio.ServiceRecord{
			Name: config.DefaultServiceName,
			ID:   uuid.MustParse(config.DefaultServiceUUID),
		},
		Framing:         f,
		AutoAccept:      !*manual,
		DisplayDuration: purchase.DefaultDisplayDuration,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("failed to start handshake: %w", err)
	}
	defer core.Close()

	go logStates(ctx, core)

	if *connect != "" {
		return initiate(ctx, core, *connect, *chatID)
	}
	return serve(ctx, core)
}

func logStates(ctx context.Context, core *handshake.Core) {
	conns, unsubConns := core.Conn.Subscribe(8)
	defer unsubConns()
	purchases, unsubPurchases := core.Purchase.Subscribe(8)
	defer unsubPurchases()
	msgs, unsubMsgs := core.Conn.SubscribeMessages(8)
	defer unsubMsgs()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-conns:
			if !ok {
				return
			}
			ev := log.Info().Str("state", s.State.String())
			if s.Outcome.Device != nil {
				ev = ev.Str("peer", s.Outcome.Device.Address)
			}
			if s.Outcome.Error != "" {
				ev = ev.Str("error", s.Outcome.Error)
			}
			ev.Msg("connection")
		case p, ok := <-purchases:
			if !ok {
				return
			}
			log.Info().
				Str("state", p.State.String()).
				Str("chatId", p.ChatID).
				Bool("initiator", p.Initiator).
				Msg("purchase")
		case m, ok := <-msgs:
			if !ok {
				return
			}
			log.Debug().Str("text", m.Text).Bool("outbound", m.Outbound).Msg("message")
		}
	}
}

// serve accepts one peer at a time until ctx is done.
func serve(ctx context.Context, core *handshake.Core) error {
	for ctx.Err() == nil {
		if err := core.Conn.StartListening(ctx); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		log.Info().Msg("waiting for a peer")
		if err := core.Conn.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		waitDisconnected(ctx, core)
		core.Purchase.Reset()
	}
	core.Cleanup()
	return nil
}

func waitDisconnected(ctx context.Context, core *handshake.Core) {
	updates, unsub := core.Conn.Subscribe(8)
	defer unsub()
	if core.Conn.State().State.Terminal() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok || s.State.Terminal() {
				return
			}
		}
	}
}

func initiate(ctx context.Context, core *handshake.Core, address, chatID string) error {
	defer core.Cleanup()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := core.Conn.ConnectToDevice(ctx, address); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := core.Conn.Wait(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if snap := core.Conn.State(); snap.State != models.ConnConnected {
		return fmt.Errorf("connection ended in state %s: %s", snap.State, snap.Outcome.Error)
	}

	updates, unsub := core.Purchase.Subscribe(8)
	defer unsub()
	if err := core.Purchase.SendPurchaseConfirmation(chatID); err != nil {
		return fmt.Errorf("failed to send confirmation: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for purchase: %w", ctx.Err())
		case s, ok := <-updates:
			if !ok {
				return errors.New("purchase machine closed")
			}
			if s.State.Final() {
				_, _ = fmt.Printf("purchase %s for %s\n", s.State, s.ChatID)
				if s.State == purchase.Rejected {
					return errors.New("purchase rejected")
				}
				return nil
			}
		}
	}
}
