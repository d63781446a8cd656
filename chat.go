package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/piggypost/piggypost/app"
	"github.com/piggypost/piggypost/pkg/context"
	"github.com/piggypost/piggypost/pkg/event"
	"github.com/piggypost/piggypost/pkg/filter"
	"github.com/piggypost/piggypost/pkg/keys"
	"github.com/piggypost/piggypost/pkg/profiles"
	"github.com/piggypost/piggypost/pkg/relay"
	"github.com/piggypost/piggypost/pkg/timestamp"

	"github.com/gookit/color"
	"github.com/urfave/cli/v2"
)

const (
	connectTimeout = 10 * time.Second
	reconnectDelay = 5 * time.Second
)

// reconnector is the engine transport for the interactive client: each
// Connect call dials a fresh session, so the engine survives relay drops
// without losing its duplicate table.
type reconnector struct {
	url string

	mu      sync.Mutex
	session *relay.Session
}

func (r *reconnector) get() *relay.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *reconnector) Connect(c context.T) error {
	s := relay.New(context.Bg(), r.url, relay.WithNoticeHandler(func(n string) {
		color.Yellow.Printf("relay: %s\n", n)
	}))
	if err := s.Connect(c); err != nil {
		return err
	}
	r.mu.Lock()
	if r.session != nil {
		r.session.Close()
	}
	r.session = s
	r.mu.Unlock()
	return nil
}

func (r *reconnector) Subscribe(c context.T,
	ff []filter.T) (*relay.Subscription, error) {

	s := r.get()
	if s == nil {
		return nil, relay.ErrNotConnected
	}
	return s.Subscribe(c, ff)
}

func (r *reconnector) Publish(c context.T, ev *event.T) error {
	s := r.get()
	if s == nil {
		return relay.ErrNotConnected
	}
	return s.Publish(c, ev)
}

func (r *reconnector) Close() error {
	s := r.get()
	if s == nil {
		return nil
	}
	return s.Close()
}

func doChat(cCtx *cli.Context) error {
	cfg := configFromCli(cCtx)
	kv, err := openStore(cfg)
	if log.Fail(err) {
		return err
	}
	defer kv.Close()

	id, err := app.LoadIdentity(kv)
	if log.Fail(err) {
		return err
	}
	color.Gray.Printf("you are %s\n", id.PubKey)

	cb := app.Callbacks{
		OnPublicMessage: func(pubkey, name, text string, at timestamp.T) {
			if pubkey == id.PubKey {
				return
			}
			color.Green.Printf("%s: ", name)
			fmt.Println(text)
		},
		OnEncryptedMessage: func(pubkey, name, text string, at timestamp.T) {
			if pubkey == id.PubKey {
				return
			}
			color.Magenta.Printf("%s (encrypted): ", name)
			fmt.Println(text)
		},
		OnUserJoined: func(pubkey, name string, at timestamp.T) {
			color.Gray.Printf("* %s joined at %s\n", name,
				at.Time().Format("15:04"))
		},
		OnUserRenamed: func(pubkey, oldName, newName string, at timestamp.T) {
			color.Gray.Printf("* %s is now known as %s (%s)\n", oldName,
				newName, at.Time().Format("15:04"))
		},
		OnEndOfStored: func() {
			color.Gray.Println("* you are up to date")
		},
	}

	transport := &reconnector{url: cfg.RelayURL}
	eng := app.NewEngine(id, transport, profiles.New(kv), cb)

	c, cancel := context.Cancel(context.Bg())
	defer cancel()
	defer transport.Close()

	go readCommands(c, cancel, eng)

	for {
		err := eng.Run(c)
		if c.Err() != nil {
			return nil
		}
		if !errors.Is(err, app.ErrSessionEnded) {
			log.E.F("session error: %v", err)
		}
		color.Yellow.Printf("disconnected, retrying in %v\n", reconnectDelay)
		select {
		case <-time.After(reconnectDelay):
		case <-c.Done():
			return nil
		}
	}
}

// readCommands drives the engine from stdin until /quit or EOF.
func readCommands(c context.T, cancel context.F, eng *app.Engine) {
	defer cancel()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/public":
			eng.SetRecipient(nil)
			color.Gray.Println("* talking in public")
		case strings.HasPrefix(line, "/to "):
			setRecipient(eng, strings.TrimPrefix(line, "/to "))
		case strings.HasPrefix(line, "/profile "):
			announceProfile(c, eng, strings.TrimPrefix(line, "/profile "))
		default:
			if err := eng.Send(c, line); err != nil {
				color.Red.Printf("send failed: %v\n", err)
			}
		}
	}
}

func setRecipient(eng *app.Engine, arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 || !keys.IsValidPublicKey(fields[0]) {
		color.Red.Println("usage: /to <hex public key>")
		return
	}
	pub := fields[0]
	name := eng.Profiles().DisplayName(pub)
	eng.SetRecipient(&app.Recipient{PubKey: pub, Name: name})
	color.Gray.Printf("* talking privately to %s\n", name)
}

func announceProfile(c context.T, eng *app.Engine, arg string) {
	fields := strings.SplitN(strings.TrimSpace(arg), " ", 2)
	p := profiles.Profile{Name: fields[0]}
	if len(fields) > 1 {
		p.About = fields[1]
	}
	if err := eng.PublishProfile(c, p); err != nil {
		color.Red.Printf("profile update failed: %v\n", err)
		return
	}
	color.Gray.Printf("* you are now known as %s\n", p.Name)
}
