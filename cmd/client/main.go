package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aeolun/craftlink/pkg/client"
	"github.com/aeolun/craftlink/pkg/logging"
	"github.com/aeolun/craftlink/pkg/protocol"
)

const help = `commands:
  login <username> <password>
  send <user_id> <message...>
  history <user_id>
  unread
  read <user_id>
  contacts
  add <user_id> [remark...]
  sign
  logout
  quit`

// shell is a line oriented session on one connection
type shell struct {
	c      *client.Client
	out    io.Writer
	userID protocol.ID
}

func main() {
	server := flag.String("server", "localhost:8000", "Server address (host:port, ws:// or wss:// URL)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger, _, err := logging.New(*debug, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, *server, client.WithLogger(logger))
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	go func() {
		for msg := range c.Pushes() {
			fmt.Printf("\n[%s] %d: %s\n> ", msg.Timestamp, msg.SenderID, msg.Content)
		}
		fmt.Println("\nconnection closed")
		os.Exit(0)
	}()

	sh := &shell{c: c, out: os.Stdout}
	fmt.Println(help)
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return
		}
		if line != "" {
			if err := sh.exec(line); err != nil {
				fmt.Fprintf(sh.out, "error: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}

func (sh *shell) exec(line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cmd == "login" {
		if len(args) != 2 {
			return fmt.Errorf("usage: login <username> <password>")
		}
		resp, err := sh.c.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		sh.userID = resp.User.UserID
		fmt.Fprintf(sh.out, "logged in as %s (%d), %d unread, %d online\n",
			resp.User.Nickname, sh.userID, resp.UnreadCount, len(resp.OnlineUsers))
		return nil
	}
	if cmd == "help" {
		fmt.Fprintln(sh.out, help)
		return nil
	}
	if sh.userID == 0 {
		return fmt.Errorf("not logged in")
	}

	switch cmd {
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: send <user_id> <message...>")
		}
		to, err := parseID(args[0])
		if err != nil {
			return err
		}
		return sh.c.SendMessage(ctx, sh.userID, to, strings.Join(args[1:], " "))

	case "history":
		contact, err := contactArg(args)
		if err != nil {
			return err
		}
		msgs, err := sh.c.Messages(ctx, sh.userID, contact)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(sh.out, "[%s] %s: %s\n", m.Timestamp, m.SenderName, m.Content)
		}

	case "unread":
		resp, err := sh.c.Unread(ctx, sh.userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%d unread\n", resp.UnreadCount)
		for sender, n := range resp.UnreadDetails {
			fmt.Fprintf(sh.out, "  from %s: %d\n", sender, n)
		}

	case "read":
		contact, err := contactArg(args)
		if err != nil {
			return err
		}
		resp, err := sh.c.MarkRead(ctx, sh.userID, contact)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%d unread left\n", resp.UnreadCount)

	case "contacts":
		resp, err := sh.c.Contacts(ctx, sh.userID)
		if err != nil {
			return err
		}
		for _, ct := range resp.Contacts {
			state := "offline"
			if ct.Online {
				state = "online"
			}
			name := ct.Nickname
			if ct.Remark != "" {
				name = ct.Remark
			}
			fmt.Fprintf(sh.out, "  %d %s (%s)\n", ct.UserID, name, state)
		}

	case "add":
		contact, err := contactArg(args)
		if err != nil {
			return err
		}
		u, err := sh.c.AddContact(ctx, sh.userID, contact, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if u != nil {
			fmt.Fprintf(sh.out, "added %s\n", u.Nickname)
		}

	case "sign":
		reward, err := sh.c.Sign(ctx, sh.userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "+%d coins, +%d stars\n", reward.Coin, reward.Star)

	case "logout":
		if err := sh.c.Logout(ctx); err != nil {
			return err
		}
		sh.userID = 0
		fmt.Fprintln(sh.out, "logged out")

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func contactArg(args []string) (protocol.ID, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("missing user id")
	}
	return parseID(args[0])
}

func parseID(s string) (protocol.ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return protocol.ID(n), nil
}
