package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"aitrader/internal/auth"
)

// Session carries the global flags into every command.
type Session struct {
	Client *Client
	Output Format
	Out    io.Writer
	Err    io.Writer
}

func Usage(w io.Writer) {
	fmt.Fprint(w, `simctl <command> <subcommand> [flags]

Global Flags:
  --api-base    API base URL (env: AIT_API_BASE, default http://localhost:8080)
  --token       Bearer token (env: AIT_TOKEN)
  --output      json|text (default text)

Commands:
  sim      list/create/get/delete/start/stop/pause/resume/clone/stats/trades/presets/watch
  notify   list/get/retry/test/stats/types
  token    mint an operator token from the server's jwt secret
`)
}

func Dispatch(ctx context.Context, s Session, args []string) error {
	if len(args) == 0 {
		Usage(s.Err)
		return errors.New("missing command")
	}
	switch args[0] {
	case "sim", "simulation", "simulations":
		return simCmd(ctx, s, args[1:])
	case "notify", "notifications":
		return notifyCmd(ctx, s, args[1:])
	case "token":
		return tokenCmd(s, args[1:])
	case "help", "-h", "--help":
		Usage(s.Out)
		return nil
	default:
		Usage(s.Err)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

var (
	simColumns     = []string{"id", "name", "status", "worker_state", "created_at"}
	tradeColumns   = []string{"id", "action", "side", "quantity", "entry_price", "exit_price", "realized_pnl", "close_reason"}
	presetColumns  = []string{"id", "name", "description"}
	notifyColumns  = []string{"id", "type", "delivery_status", "channel", "retry_count", "content"}
	typeColumns    = []string{"type", "description"}
	simulationBase = "/api/v1/simulations"
	notifyBase     = "/api/v1/notifications"
)

// splitID takes a leading positional id so flags may follow it.
func splitID(args []string, what string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, fmt.Errorf("%s id required", what)
	}
	return strings.TrimSpace(args[0]), args[1:], nil
}

func newFlags(name string, s Session) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(s.Err)
	return fs
}

func (s Session) print(env *Envelope, columns ...string) error {
	return Write(s.Out, s.Output, env, columns...)
}

func simCmd(ctx context.Context, s Session, args []string) error {
	if len(args) == 0 {
		return errors.New("sim subcommand required: list|create|get|delete|start|stop|pause|resume|clone|stats|trades|presets|watch")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		fs := newFlags("simctl sim list", s)
		status := fs.String("status", "", "comma separated statuses")
		limit := fs.Int("limit", 50, "page size")
		offset := fs.Int("offset", 0, "page offset")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		q := url.Values{}
		if v := strings.TrimSpace(*status); v != "" {
			q.Set("status", v)
		}
		q.Set("limit", strconv.Itoa(*limit))
		q.Set("offset", strconv.Itoa(*offset))
		env, err := s.Client.Call(ctx, http.MethodGet, simulationBase, q, nil)
		if err != nil {
			return err
		}
		return s.print(env, simColumns...)

	case "create":
		fs := newFlags("simctl sim create", s)
		name := fs.String("name", "", "simulation name")
		preset := fs.String("preset", "", "preset id (see: sim presets)")
		cfgJSON := fs.String("config", "", "config json; overrides the preset")
		cfgFile := fs.String("config-file", "", "read config json from file")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		body := map[string]any{"name": strings.TrimSpace(*name)}
		if v := strings.TrimSpace(*preset); v != "" {
			body["preset"] = v
		}
		raw := strings.TrimSpace(*cfgJSON)
		if path := strings.TrimSpace(*cfgFile); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			raw = string(b)
		}
		if raw != "" {
			if !json.Valid([]byte(raw)) {
				return errors.New("--config must be valid json")
			}
			body["config"] = json.RawMessage(raw)
		}
		if body["name"] == "" && body["preset"] == nil {
			return errors.New("--name or --preset required")
		}
		env, err := s.Client.Call(ctx, http.MethodPost, simulationBase, nil, body)
		if err != nil {
			return err
		}
		return s.print(env, simColumns...)

	case "get", "stats":
		id, _, err := splitID(rest, "simulation")
		if err != nil {
			return err
		}
		path := simulationBase + "/" + url.PathEscape(id)
		if sub == "stats" {
			path += "/stats"
		}
		env, err := s.Client.Call(ctx, http.MethodGet, path, nil, nil)
		if err != nil {
			return err
		}
		return s.print(env)

	case "delete":
		id, _, err := splitID(rest, "simulation")
		if err != nil {
			return err
		}
		env, err := s.Client.Call(ctx, http.MethodDelete, simulationBase+"/"+url.PathEscape(id), nil, nil)
		if err != nil {
			return err
		}
		return s.print(env)

	case "start", "stop", "pause", "resume":
		id, _, err := splitID(rest, "simulation")
		if err != nil {
			return err
		}
		env, err := s.Client.Call(ctx, http.MethodPost, simulationBase+"/"+url.PathEscape(id)+"/"+sub, nil, nil)
		if err != nil {
			return err
		}
		return s.print(env, simColumns...)

	case "clone":
		id, flags, err := splitID(rest, "simulation")
		if err != nil {
			return err
		}
		fs := newFlags("simctl sim clone", s)
		name := fs.String("name", "", "name of the new simulation")
		if err := fs.Parse(flags); err != nil {
			return err
		}
		env, err := s.Client.Call(ctx, http.MethodPost, simulationBase+"/"+url.PathEscape(id)+"/clone", nil,
			map[string]any{"name": strings.TrimSpace(*name)})
		if err != nil {
			return err
		}
		return s.print(env, simColumns...)

	case "trades":
		id, flags, err := splitID(rest, "simulation")
		if err != nil {
			return err
		}
		fs := newFlags("simctl sim trades", s)
		state := fs.String("state", "", "open|closed")
		limit := fs.Int("limit", 50, "page size")
		offset := fs.Int("offset", 0, "page offset")
		if err := fs.Parse(flags); err != nil {
			return err
		}
		q := url.Values{}
		if v := strings.TrimSpace(*state); v != "" {
			q.Set("state", v)
		}
		q.Set("limit", strconv.Itoa(*limit))
		q.Set("offset", strconv.Itoa(*offset))
		env, err := s.Client.Call(ctx, http.MethodGet, simulationBase+"/"+url.PathEscape(id)+"/trades", q, nil)
		if err != nil {
			return err
		}
		return s.print(env, tradeColumns...)

	case "presets":
		env, err := s.Client.Call(ctx, http.MethodGet, simulationBase+"/presets", nil, nil)
		if err != nil {
			return err
		}
		return s.print(env, presetColumns...)

	case "watch":
		fs := newFlags("simctl sim watch", s)
		id := fs.String("simulation-id", "", "only this simulation")
		types := fs.String("types", "", "comma separated event types")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return watch(ctx, s, strings.TrimSpace(*id), strings.TrimSpace(*types))

	default:
		return fmt.Errorf("unknown sim subcommand: %s", sub)
	}
}

// watch prints stream events, one JSON object per line, until ctx ends.
func watch(ctx context.Context, s Session, simulationID, types string) error {
	base, err := url.Parse(strings.TrimRight(s.Client.BaseURL, "/") + simulationBase + "/stream")
	if err != nil {
		return err
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	q := url.Values{}
	if simulationID != "" {
		q.Set("simulation_id", simulationID)
	}
	if types != "" {
		q.Set("types", types)
	}
	base.RawQuery = q.Encode()

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if tok := strings.TrimSpace(s.Client.Token); tok != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+tok)
	}
	conn, _, err := websocket.Dial(ctx, base.String(), opts)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(s.Out, string(payload)); err != nil {
			return err
		}
	}
}

func notifyCmd(ctx context.Context, s Session, args []string) error {
	if len(args) == 0 {
		return errors.New("notify subcommand required: list|get|retry|test|stats|types")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		fs := newFlags("simctl notify list", s)
		status := fs.String("status", "", "pending|sent|failed|skipped")
		typ := fs.String("type", "", "notification type")
		simID := fs.String("simulation-id", "", "simulation id")
		since := fs.Duration("since", 0, "look-back window")
		limit := fs.Int("limit", 50, "page size")
		offset := fs.Int("offset", 0, "page offset")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		q := url.Values{}
		for k, v := range map[string]string{"status": *status, "type": *typ, "simulation_id": *simID} {
			if v = strings.TrimSpace(v); v != "" {
				q.Set(k, v)
			}
		}
		if *since > 0 {
			q.Set("since", since.String())
		}
		q.Set("limit", strconv.Itoa(*limit))
		q.Set("offset", strconv.Itoa(*offset))
		env, err := s.Client.Call(ctx, http.MethodGet, notifyBase, q, nil)
		if err != nil {
			return err
		}
		return s.print(env, notifyColumns...)

	case "get", "retry":
		id, _, err := splitID(rest, "notification")
		if err != nil {
			return err
		}
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return fmt.Errorf("notification id must be a number: %s", id)
		}
		method, path := http.MethodGet, notifyBase+"/"+id
		if sub == "retry" {
			method, path = http.MethodPost, path+"/retry"
		}
		env, err := s.Client.Call(ctx, method, path, nil, nil)
		if err != nil {
			return err
		}
		return s.print(env, notifyColumns...)

	case "test":
		fs := newFlags("simctl notify test", s)
		message := fs.String("message", "", "message (default: server test text)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		env, err := s.Client.Call(ctx, http.MethodPost, notifyBase+"/test", nil, map[string]any{"message": strings.TrimSpace(*message)})
		if err != nil {
			return err
		}
		return s.print(env, notifyColumns...)

	case "stats":
		fs := newFlags("simctl notify stats", s)
		since := fs.Duration("since", 24*time.Hour, "look-back window")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		env, err := s.Client.Call(ctx, http.MethodGet, notifyBase+"/stats", url.Values{"since": {since.String()}}, nil)
		if err != nil {
			return err
		}
		return s.print(env)

	case "types":
		env, err := s.Client.Call(ctx, http.MethodGet, notifyBase+"/types", nil, nil)
		if err != nil {
			return err
		}
		return s.print(env, typeColumns...)

	default:
		return fmt.Errorf("unknown notify subcommand: %s", sub)
	}
}

// tokenCmd signs a token locally with the shared secret; it never calls the API.
func tokenCmd(s Session, args []string) error {
	fs := newFlags("simctl token", s)
	subject := fs.String("subject", "operator", "token subject")
	secret := fs.String("secret", "", "jwt secret (env: AIT_AUTH_JWT_SECRET)")
	issuer := fs.String("issuer", "aitrader", "token issuer; must match auth.issuer")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := strings.TrimSpace(*secret)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("AIT_AUTH_JWT_SECRET"))
	}
	if key == "" {
		return errors.New("--secret or AIT_AUTH_JWT_SECRET required")
	}
	tok, exp, err := auth.JWT{Secret: []byte(key), Issuer: *issuer, TokenTTL: *ttl}.Issue(strings.TrimSpace(*subject))
	if err != nil {
		return err
	}
	if s.Output == FormatJSON {
		b, err := json.MarshalIndent(map[string]any{"token": tok, "expires_at": exp}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.Out, string(b))
		return err
	}
	_, err = fmt.Fprintln(s.Out, tok)
	return err
}
