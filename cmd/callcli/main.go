package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"example.com/mentor_bridge/pkg/call"
	"example.com/mentor_bridge/pkg/chat"
	"example.com/mentor_bridge/pkg/media"
	"example.com/mentor_bridge/pkg/platform"
	"example.com/mentor_bridge/pkg/signaling"
)

func main() {
	mode := flag.String("mode", "call", "Mode: call or chat")
	role := flag.String("role", "caller", "Call role: caller or callee")
	id := flag.String("id", "", "Session id (call id or chat id, required)")
	relayURL := flag.String("relay", "ws://localhost:8080/ws", "Relay base URL")
	token := flag.String("token", os.Getenv("RELAY_TOKEN"), "Relay bearer token")
	username := flag.String("username", "cli", "Chat display name")
	apiURL := flag.String("api", "", "Platform API base URL (optional)")
	apiToken := flag.String("api-token", os.Getenv("PLATFORM_TOKEN"), "Platform API token")
	strict := flag.Bool("strict-media", false, "Fail instead of falling back to receive-only")
	tone := flag.Bool("tone", false, "Send a generated test tone instead of captured audio")
	flag.Parse()

	if *id == "" {
		log.Fatal("-id is required")
	}

	var api *platform.Client
	if *apiURL != "" {
		var err error
		api, err = platform.NewClient(platform.Config{BaseURL: *apiURL, Token: *apiToken})
		if err != nil {
			log.Fatalf("Platform client: %v", err)
		}
	}

	switch *mode {
	case "call":
		runCall(*relayURL, *token, *id, *role, *strict, *tone, api)
	case "chat":
		runChat(*relayURL, *token, *id, *username, api)
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

func runCall(relayURL, token, callID, role string, strict, tone bool, api *platform.Client) {
	provider := media.NewProvider(media.Config{Strict: strict})
	mgr := call.NewManager(relayURL+"/call", token, call.MediaProviderFunc(
		func(id string) (call.PeerConn, func(), error) {
			pc, stop, err := provider.NewPeerConnection(id)
			if err != nil || !tone {
				return pc, stop, err
			}

			sender, terr := media.NewToneSender(440)
			if terr != nil {
				stop()
				pc.Close()
				return nil, nil, terr
			}
			if _, terr := pc.AddTrack(sender.Track()); terr != nil {
				stop()
				pc.Close()
				return nil, nil, terr
			}
			toneDone := make(chan struct{})
			go sender.Run(toneDone)
			return pc, func() {
				close(toneDone)
				stop()
			}, nil
		}))

	done := make(chan struct{})
	cfg := call.Config{
		OnEnded: func(reason string) {
			log.Printf("Call ended: %s", reason)
			close(done)
		},
		OnState: func(st call.State) {
			log.Printf("Call state: %s", st)
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			log.Printf("Remote %s track %s", track.Kind(), track.ID())
		},
	}

	if api != nil && role == "caller" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := api.StartCall(ctx, callID); err != nil {
			log.Printf("Platform start call: %v", err)
		}
		cancel()
	}

	var sess *call.Session
	var err error
	if role == "caller" {
		sess, err = mgr.StartCall(callID, cfg)
	} else {
		sess, err = mgr.AcceptCall(callID, cfg)
	}
	if err != nil {
		log.Fatalf("Start call: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Shutting down...")
		sess.End()
		<-done
	case <-done:
	}

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := api.EndCall(ctx, callID); err != nil {
			log.Printf("Platform end call: %v", err)
		}
		cancel()
	}
}

func runChat(relayURL, token, chatID, username string, api *platform.Client) {
	cfg := chat.Config{
		ChatID: chatID,
		OnMessage: func(m chat.Message) {
			if m.ImageURL != "" {
				fmt.Printf("[%s] %s: <image %d bytes>\n", m.Timestamp, m.Sender, len(m.ImageURL))
				return
			}
			fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.Sender, m.Content)
		},
	}
	if api != nil {
		cfg.Ender = api
	}

	sess, err := chat.Connect(cfg, signaling.Config{
		BaseURL: relayURL + "/chat",
		Token:   token,
		Query:   url.Values{"username": {username}},
	})
	if err != nil {
		log.Fatalf("Connect chat: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	log.Printf("Chatting in %s as %s. /quit to leave.", chatID, username)
	for {
		select {
		case <-sigChan:
			endChat(sess)
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				endChat(sess)
				return
			}
			if err := sess.SendText(line); err != nil {
				log.Printf("Send: %v", err)
			}
		}
	}
}

func endChat(sess *chat.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.End(ctx); err != nil {
		log.Printf("End chat: %v", err)
	}
}
