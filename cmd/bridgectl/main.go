/*
Package main implements bridgectl, an operator tool that talks to the bridge endpoint of a
running realtime service.

Usage:

	bridgectl [flags] health
	bridgectl [flags] online-users
	bridgectl [flags] presence <user_id>
	bridgectl [flags] notify-user <user_id> <event> [payload-json]
	bridgectl [flags] broadcast-room <room_key> <event> [payload-json]
	bridgectl [flags] broadcast <event> [payload-json]
	bridgectl [flags] token

With -secret the tool mints a short-lived bridge service token itself; -token passes a
pre-issued one. The token command prints a freshly minted token and exits.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"hzrealtime/internal/pkg/auth/jwt"
	"hzrealtime/internal/pkg/bridgeclient"
	"hzrealtime/internal/pkg/errs"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitDegraded = 3
)

type options struct {
	url     string
	token   string
	secret  string
	caller  string
	timeout time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options

	fs := flag.NewFlagSet("bridgectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.url, "url", envOr("BRIDGE_URL", "http://localhost:8081"), "base URL of the realtime service")
	fs.StringVar(&opts.token, "token", os.Getenv("BRIDGE_TOKEN"), "pre-issued bridge service token")
	fs.StringVar(&opts.secret, "secret", os.Getenv("BRIDGE_SECRET"), "bridge secret used to mint a service token")
	fs.StringVar(&opts.caller, "caller", "bridgectl", "caller name placed in minted tokens")
	fs.DurationVar(&opts.timeout, "timeout", bridgeclient.DefaultTimeout, "per-request timeout")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: bridgectl [flags] <health|online-users|presence|notify-user|broadcast-room|broadcast|token> [args]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == "token" {
		if opts.secret == "" {
			fmt.Fprintln(stderr, "token: -secret or BRIDGE_SECRET is required")
			return exitUsage
		}
		token, err := mintToken(opts)
		if err != nil {
			fmt.Fprintf(stderr, "token: %v\n", err)
			return exitFailure
		}
		fmt.Fprintln(stdout, token)
		return exitOK
	}

	token := opts.token
	if token == "" && opts.secret != "" {
		var err error
		if token, err = mintToken(opts); err != nil {
			fmt.Fprintf(stderr, "token: %v\n", err)
			return exitFailure
		}
	}

	client, err := bridgeclient.New(bridgeclient.Config{
		BaseURL:      opts.url,
		ServiceToken: token,
		Timeout:      opts.timeout,
	})
	if err != nil {
		fmt.Fprintf(stderr, "bridgectl: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout+time.Second)
	defer cancel()

	out, err := dispatch(ctx, client, cmd, rest)
	if err != nil {
		return report(stderr, cmd, err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return exitFailure
	}
	return exitOK
}

var errUsage = errors.New("wrong number of arguments")

func dispatch(ctx context.Context, client *bridgeclient.Client, cmd string, args []string) (any, error) {
	switch cmd {
	case "health":
		return client.Health(ctx)
	case "online-users":
		return client.OnlineUsers(ctx)
	case "presence":
		if len(args) != 1 {
			return nil, errUsage
		}
		return client.Presence(ctx, args[0])
	case "notify-user":
		if len(args) < 2 || len(args) > 3 {
			return nil, errUsage
		}
		payload, err := payloadArg(args[2:])
		if err != nil {
			return nil, err
		}
		return client.NotifyUser(ctx, args[0], args[1], payload)
	case "broadcast-room":
		if len(args) < 2 || len(args) > 3 {
			return nil, errUsage
		}
		payload, err := payloadArg(args[2:])
		if err != nil {
			return nil, err
		}
		return client.BroadcastRoom(ctx, args[0], args[1], payload)
	case "broadcast":
		if len(args) < 1 || len(args) > 2 {
			return nil, errUsage
		}
		payload, err := payloadArg(args[1:])
		if err != nil {
			return nil, err
		}
		return client.Broadcast(ctx, args[0], payload)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

// payloadArg returns the optional JSON payload argument, or null when absent.
func payloadArg(args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage("null"), nil
	}
	raw := json.RawMessage(args[0])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return raw, nil
}

func mintToken(opts options) (string, error) {
	return jwt.GenerateToken(&jwt.Payload{ID: opts.caller, Scope: jwt.ScopeBridge}, opts.secret, jwt.BridgeExpiration)
}

func report(stderr io.Writer, cmd string, err error) int {
	var apiErr *bridgeclient.APIError
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return exitUsage
	case errors.Is(err, bridgeclient.ErrDegraded):
		fmt.Fprintf(stderr, "%s: %s (%v)\n", cmd, errs.NewError(errs.ErrServiceDegraded).Message, err)
		return exitDegraded
	case errors.As(err, &apiErr):
		fmt.Fprintf(stderr, "%s: rejected with code %d: %s\n", cmd, apiErr.Code, apiErr.Message)
		return exitFailure
	default:
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return exitFailure
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
