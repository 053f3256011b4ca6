package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/erazemk/posodi/internal/api"
	"github.com/erazemk/posodi/internal/auth"
	"github.com/erazemk/posodi/internal/config"
	"github.com/erazemk/posodi/internal/model"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: reading .env: %v\n", err)
		os.Exit(1)
	}

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "posodi",
		Usage: "Lend and borrow things in your neighbourhood",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "server URL (default: saved session or " + defaultServer + ")", Sources: cli.EnvVars(config.EnvServer)},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			mintTokenCommand(),
			sessionCommand(),
			logoutCommand(),
			listCommand("browse", "Items you can borrow", "/api/items"),
			listCommand("mine", "Items you share", "/api/items/mine"),
			listCommand("incoming", "Requests for your items", "/api/requests/incoming"),
			listCommand("borrows", "Your borrow requests", "/api/requests/outgoing"),
			shareCommand(),
			borrowCommand(),
			dispositionCommand("approve", "Lend an item to the requester", true),
			dispositionCommand("decline", "Turn a request down", false),
			dispositionCommand("return", "Give a borrowed item back", true),
			watchCommand(),
		},
	}
}

func serverFlags() []cli.Flag {
	def := config.Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Value: def.Addr, Usage: "listen address", Sources: cli.EnvVars(config.EnvAddr)},
		&cli.StringFlag{Name: "db", Aliases: []string{"d"}, Value: def.DBPath, Usage: "SQLite database path", Sources: cli.EnvVars(config.EnvDB)},
		&cli.StringFlag{Name: "deployment", Value: def.Deployment, Usage: "deployment identifier", Sources: cli.EnvVars(config.EnvDeployment)},
		&cli.StringFlag{Name: "neighborhood", Value: def.DefaultNeighborhood, Usage: "neighbourhood for new profiles", Sources: cli.EnvVars(config.EnvNeighborhood)},
		&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Usage: "log file path (default: stdout/stderr only)", Sources: cli.EnvVars(config.EnvLog)},
	}
}

func serverConfig(cmd *cli.Command) config.Config {
	return config.Config{
		Addr:                cmd.String("addr"),
		DBPath:              cmd.String("db"),
		Deployment:          cmd.String("deployment"),
		DefaultNeighborhood: cmd.String("neighborhood"),
		LogPath:             cmd.String("log"),
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Flags: serverFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServer(ctx, serverConfig(cmd))
		},
	}
}

func mintTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint-token",
		Usage: "Issue a bootstrap token that signs a user in",
		Flags: append(serverFlags(),
			&cli.StringFlag{Name: "user", Usage: "user id (default: a new identity)"},
			&cli.DurationFlag{Name: "ttl", Value: auth.BootstrapExpiry, Usage: "token lifetime"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			userID, token, err := mintToken(ctx, serverConfig(cmd), cmd.String("user"), cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(os.Stdout, map[string]string{"user_id": userID, "token": token})
			}
			printKV(os.Stdout, [][2]string{{"user", userID}, {"expires", time.Now().Add(cmd.Duration("ttl")).Format(time.DateTime)}, {"token", token}})
			return nil
		},
	}
}

// clientState loads the saved session and builds a client for it.
type clientState struct {
	path    string
	session savedSession
	client  *apiClient
}

func loadClient(cmd *cli.Command) (*clientState, error) {
	path, err := sessionPath()
	if err != nil {
		return nil, err
	}
	s, err := loadSession(path)
	if err != nil {
		return nil, err
	}
	if server := cmd.String("server"); server != "" && server != s.Server {
		s = savedSession{Server: server}
	}
	return &clientState{path: path, session: s, client: newAPIClient(s.Server, s.Token)}, nil
}

// requireClient is loadClient for commands that need a signed-in user.
func requireClient(cmd *cli.Command) (*apiClient, error) {
	st, err := loadClient(cmd)
	if err != nil {
		return nil, err
	}
	if st.session.Token == "" {
		return nil, errors.New("not signed in; run `posodi session` first")
	}
	return st.client, nil
}

type sessionReply struct {
	Token   string        `json:"token"`
	Created bool          `json:"created"`
	Profile model.Profile `json:"profile"`
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Sign in, or show who you are signed in as",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Usage: "bootstrap token from the operator", Sources: cli.EnvVars(config.EnvBootstrapToken)},
			&cli.BoolFlag{Name: "new", Usage: "start a new anonymous identity"},
			&cli.StringFlag{Name: "user", Usage: "user id to restore (with --passphrase)"},
			&cli.StringFlag{Name: "passphrase", Usage: "passphrase for --user"},
			&cli.StringFlag{Name: "set-passphrase", Usage: "set a passphrase so this identity can be restored elsewhere"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := loadClient(cmd)
			if err != nil {
				return err
			}

			var reply sessionReply
			switch {
			case cmd.String("user") != "":
				err = st.client.request(ctx, http.MethodPost, "/api/session/restore", map[string]string{
					"user_id":    cmd.String("user"),
					"passphrase": cmd.String("passphrase"),
				}, &reply)
			case st.session.Token == "" || cmd.Bool("new") || cmd.String("token") != "":
				err = st.client.request(ctx, http.MethodPost, "/api/session", map[string]string{"token": cmd.String("token")}, &reply)
			default:
				reply.Token = st.session.Token
				err = st.client.request(ctx, http.MethodGet, "/api/session", nil, &reply.Profile)
			}
			if err != nil {
				return err
			}

			st.session.Token = reply.Token
			st.session.UserID = reply.Profile.UserID
			if err := saveSession(st.path, st.session); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}

			if p := cmd.String("set-passphrase"); p != "" {
				client := newAPIClient(st.session.Server, st.session.Token)
				if err := client.request(ctx, http.MethodPut, "/api/session/passphrase", map[string]string{"passphrase": p}, nil); err != nil {
					return err
				}
				reply.Profile.HasPassphrase = true
			}

			if cmd.Bool("json") {
				return printJSON(os.Stdout, reply.Profile)
			}
			if reply.Created {
				fmt.Printf("Welcome, %s!\n", reply.Profile.DisplayName)
			}
			printProfile(os.Stdout, reply.Profile)
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "End the saved session",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := loadClient(cmd)
			if err != nil {
				return err
			}
			if st.session.Token == "" {
				fmt.Println("not signed in")
				return nil
			}

			var apiErr *apiError
			err = st.client.request(ctx, http.MethodPost, "/api/session/logout", nil, nil)
			if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized) {
				return err
			}

			st.session.Token = ""
			if err := saveSession(st.path, st.session); err != nil {
				return err
			}
			fmt.Println("signed out")
			return nil
		},
	}
}

func listCommand(name, usage, path string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := requireClient(cmd)
			if err != nil {
				return err
			}

			var raw json.RawMessage
			if err := client.request(ctx, http.MethodGet, path, nil, &raw); err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(os.Stdout, raw)
			}

			view := map[string]string{"browse": api.ViewBrowse, "mine": api.ViewInventory, "incoming": api.ViewIncoming, "borrows": api.ViewBorrows}[name]
			frame, _ := json.Marshal(map[string]json.RawMessage{view: raw})
			return printView(os.Stdout, view, frame)
		},
	}
}

func shareCommand() *cli.Command {
	return &cli.Command{
		Name:  "share",
		Usage: "Share an item with your neighbourhood",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "description", Required: true},
			&cli.StringFlag{Name: "terms", Usage: "lending terms, e.g. \"return cleaned\""},
			&cli.StringFlag{Name: "image", Usage: "path to a JPEG, PNG or WebP photo"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := requireClient(cmd)
			if err != nil {
				return err
			}

			var item model.Item
			if err := client.request(ctx, http.MethodPost, "/api/items", map[string]string{
				"name":        cmd.String("name"),
				"description": cmd.String("description"),
				"terms":       cmd.String("terms"),
			}, &item); err != nil {
				return err
			}

			if path := cmd.String("image"); path != "" {
				if err := client.uploadImage(ctx, item.ID, path); err != nil {
					return fmt.Errorf("item %s shared, but the photo failed: %w", item.ID, err)
				}
			}

			if cmd.Bool("json") {
				return printJSON(os.Stdout, item)
			}
			fmt.Printf("shared %q (%s)\n", item.Name, item.ID)
			return nil
		},
	}
}

func borrowCommand() *cli.Command {
	return &cli.Command{
		Name:      "borrow",
		Usage:     "Ask to borrow an item",
		ArgsUsage: "<item-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "borrow date, YYYY-MM-DD (default: today)"},
			&cli.StringFlag{Name: "until", Required: true, Usage: "return date, YYYY-MM-DD"},
			&cli.StringFlag{Name: "message", Usage: "note for the owner"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			itemID := cmd.Args().First()
			if itemID == "" {
				return errors.New("item id required")
			}
			client, err := requireClient(cmd)
			if err != nil {
				return err
			}

			var req model.Request
			if err := client.request(ctx, http.MethodPost, "/api/requests", map[string]string{
				"item_id":     itemID,
				"borrow_date": cmd.String("from"),
				"return_date": cmd.String("until"),
				"message":     cmd.String("message"),
			}, &req); err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(os.Stdout, req)
			}
			fmt.Printf("asked to borrow %q from %s until %s (%s)\n", req.ItemName, req.BorrowDate, req.ReturnDate, req.ID)
			return nil
		},
	}
}

func dispositionCommand(action, usage string, withNotes bool) *cli.Command {
	var flags []cli.Flag
	if withNotes {
		flags = append(flags, &cli.StringFlag{Name: "notes", Usage: "condition notes"})
	}

	return &cli.Command{
		Name:      action,
		Usage:     usage,
		ArgsUsage: "<request-id>",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			requestID := cmd.Args().First()
			if requestID == "" {
				return errors.New("request id required")
			}
			client, err := requireClient(cmd)
			if err != nil {
				return err
			}

			var body any
			if withNotes && cmd.String("notes") != "" {
				body = map[string]string{"notes": cmd.String("notes")}
			}

			var req model.Request
			if err := client.request(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(requestID)+"/"+action, body, &req); err != nil {
				return err
			}

			if cmd.Bool("json") {
				return printJSON(os.Stdout, req)
			}
			fmt.Printf("%s: %s is now %s\n", req.ItemName, req.ID, req.Status)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow a view live: browse, inventory, incoming or borrows",
		ArgsUsage: "<view>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			view := cmd.Args().First()
			if view == "" {
				view = api.ViewBrowse
			}
			client, err := requireClient(cmd)
			if err != nil {
				return err
			}

			return client.stream(ctx, view, func(payload json.RawMessage) error {
				if cmd.Bool("json") {
					fmt.Println(string(payload))
					return nil
				}
				return printView(os.Stdout, view, payload)
			})
		},
	}
}
