package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Coderaryanyadav/SecureChat/internal/config"
	"github.com/Coderaryanyadav/SecureChat/internal/domain"
	"github.com/Coderaryanyadav/SecureChat/internal/roomapi"
	"github.com/Coderaryanyadav/SecureChat/internal/session"
	"github.com/Coderaryanyadav/SecureChat/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	api := roomapi.NewClient(cfg.HubURL)
	dial := func(ctx context.Context, roomID, displayName, password string) (session.Transport, error) {
		return transport.Dial(ctx, cfg.HubURL, roomID, displayName, password, transport.Options{
			HandshakeTimeout: cfg.DialTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			ReadLimit:        cfg.ReadLimit,
		})
	}

	registry := session.NewRegistry(api, api, dial, session.Settings{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectBase:     cfg.ReconnectBase,
		SelfDestructTTL:   cfg.SelfDestructTTL,
		TypingInterval:    cfg.TypingInterval,
		TypingIdle:        cfg.TypingIdle,
		PingPeriod:        cfg.PingPeriod,
	}, uuid.NewString())
	defer registry.CloseAll()

	go printEvents(ctx, registry.Events())

	fmt.Println("commands: /join <room> <name> <password>, /switch <room>, /rooms,")
	fmt.Println("          /edit <id> <text>, /delete <id>, /react <id> <emoji>,")
	fmt.Println("          /lock, /unlock, /kick <name>, /wipe, /leave, /quit")
	fmt.Println("anything else is sent as a message to the focused room")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := runCommand(ctx, registry, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func runCommand(ctx context.Context, registry *session.Registry, line string) error {
	if !strings.HasPrefix(line, "/") {
		ctl, ok := registry.Active()
		if !ok {
			return fmt.Errorf("not in a room, use /join first")
		}
		ctl.Typing()
		return ctl.SendText(line, false)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/join":
		if len(args) != 3 {
			return fmt.Errorf("usage: /join <room> <name> <password>")
		}
		_, err := registry.Join(ctx, args[0], args[2], args[1])
		return err
	case "/switch":
		if len(args) != 1 {
			return fmt.Errorf("usage: /switch <room>")
		}
		return registry.SetActive(domain.RoomID(args[0]))
	case "/rooms":
		for _, id := range registry.Rooms() {
			marker := " "
			if ctl, ok := registry.Active(); ok && ctl.Room().ID() == id {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, id)
		}
		return nil
	case "/leave":
		ctl, ok := registry.Active()
		if !ok {
			return fmt.Errorf("not in a room")
		}
		return registry.Leave(ctl.Room().ID())
	}

	ctl, ok := registry.Active()
	if !ok {
		return fmt.Errorf("not in a room, use /join first")
	}

	switch cmd {
	case "/edit":
		if len(args) < 2 {
			return fmt.Errorf("usage: /edit <id> <text>")
		}
		return ctl.Edit(domain.MessageID(args[0]), strings.Join(args[1:], " "))
	case "/delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: /delete <id>")
		}
		return ctl.Delete(domain.MessageID(args[0]))
	case "/react":
		if len(args) != 2 {
			return fmt.Errorf("usage: /react <id> <emoji>")
		}
		return ctl.React(domain.MessageID(args[0]), args[1])
	case "/lock":
		return ctl.Lock()
	case "/unlock":
		return ctl.Unlock()
	case "/kick":
		if len(args) != 1 {
			return fmt.Errorf("usage: /kick <name>")
		}
		return ctl.Kick(args[0])
	case "/wipe":
		return ctl.Wipe()
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

func printEvents(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case session.EventMessage:
				m := ev.Message
				if m.DecryptFailed {
					fmt.Printf("[%s] %s: %s\n", ev.Room, m.Sender, m.Body)
					continue
				}
				tag := ""
				if m.SelfDestruct {
					tag = " (self-destructs)"
				}
				fmt.Printf("[%s] %s: %s%s  (id %s)\n", ev.Room, m.Sender, m.Body, tag, m.ID)
			case session.EventMessageEdited:
				fmt.Printf("[%s] message %s edited\n", ev.Room, ev.ID)
			case session.EventMessageDeleted:
				fmt.Printf("[%s] message %s removed\n", ev.Room, ev.ID)
			case session.EventWiped:
				fmt.Printf("[%s] history wiped\n", ev.Room)
			case session.EventReaction:
				fmt.Printf("[%s] %s reacted to %s: %s\n", ev.Room, ev.Sender, ev.ID, ev.Text)
			case session.EventMembership:
				lock := ""
				if ev.Membership.Locked {
					lock = " [locked]"
				}
				fmt.Printf("[%s] members: %s (admin %s)%s\n",
					ev.Room, strings.Join(ev.Membership.Members, ", "), ev.Membership.Admin, lock)
			case session.EventTyping:
				if ev.Typing {
					fmt.Printf("[%s] %s is typing...\n", ev.Room, ev.Sender)
				}
			case session.EventSystem:
				fmt.Printf("[%s] * %s\n", ev.Room, ev.Text)
			case session.EventState:
				fmt.Printf("[%s] session %s\n", ev.Room, ev.State)
			case session.EventClosed:
				fmt.Printf("[%s] session closed: %s\n", ev.Room, ev.Text)
			}
		}
	}
}
