// Command accessctl drives the access API from a shell. With SALESGRID_AUTH_SECRET
// set it can mint development tokens for any subject.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"salesgrid.io/internal/access"
	"salesgrid.io/internal/auth"
	"salesgrid.io/internal/client"
	"salesgrid.io/internal/obs"
)

const usage = `usage: accessctl [flags] <command> [args]

commands:
  token <subject> [email]        mint a development token
  me                             show the caller's profile
  owners                         list visible owner ids
  users                          list users the caller can ask
  send <receiver>                request access from a user id or email
  pending                        list requests awaiting the caller
  sent                           list requests the caller made
  respond <request-id> <accept|reject>
  revoke <request-id>
  grantees                       list users holding a grant on the caller's data
  permit <user-id> <true|false>  toggle the override flag (admin)
  smoke <admin-subject> <user-subject>
                                 run send/accept/revoke end to end`

func main() {
	log := obs.Logger()
	var (
		baseURL = flag.String("url", envOr("SALESGRID_API_URL", "http://localhost:8080"), "API base URL")
		token   = flag.String("token", os.Getenv("SALESGRID_TOKEN"), "Bearer token")
		secret  = flag.String("secret", os.Getenv("SALESGRID_AUTH_SECRET"), "Signing secret for development tokens")
		issuer  = flag.String("issuer", envOr("SALESGRID_AUTH_ISSUER", "salesgrid"), "Token issuer")
		ttl     = flag.Duration("ttl", time.Hour, "Lifetime of minted tokens")
		timeout = flag.Duration("timeout", 10*time.Second, "Per-command timeout")
	)
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	mint := func(subject, email string) string {
		tokens, err := auth.NewTokens(*secret, auth.WithIssuer(*issuer))
		if err != nil {
			log.WithError(err).Fatal("token minting needs -secret or SALESGRID_AUTH_SECRET")
		}
		tok, err := tokens.Issue(subject, email, *ttl)
		if err != nil {
			log.WithError(err).Fatal("issue token")
		}
		return tok
	}

	if args[0] == "token" {
		need(args, 2)
		email := ""
		if len(args) > 2 {
			email = args[2]
		}
		fmt.Println(mint(args[1], email))
		return
	}

	c, err := client.New(*baseURL, client.WithToken(*token))
	if err != nil {
		log.WithError(err).Fatal("init client")
	}
	ctx, cancel := client.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var out any
	switch args[0] {
	case "me":
		out, err = c.Me(ctx)
	case "owners":
		out, err = c.VisibleOwners(ctx)
	case "users":
		out, err = c.AvailableUsers(ctx)
	case "send":
		need(args, 2)
		out, err = c.SendRequest(ctx, args[1])
	case "pending":
		out, err = c.PendingRequests(ctx)
	case "sent":
		out, err = c.SentRequests(ctx)
	case "respond":
		need(args, 3)
		var decision access.Decision
		if decision, err = access.ParseDecision(args[2]); err == nil {
			out, err = c.Respond(ctx, args[1], decision)
		}
	case "revoke":
		need(args, 2)
		out, err = c.Revoke(ctx, args[1])
	case "grantees":
		out, err = c.UsersWithPermissions(ctx)
	case "permit":
		need(args, 3)
		var enabled bool
		if enabled, err = strconv.ParseBool(args[2]); err == nil {
			out, err = c.UpdatePermission(ctx, args[1], enabled)
		}
	case "smoke":
		need(args, 3)
		err = smoke(ctx, c.As(mint(args[1], "")), c.As(mint(args[2], "")))
		out = "smoke test passed"
	default:
		log.Fatalf("unknown command %q", args[0])
	}
	if err != nil {
		log.WithError(err).Fatalf("%s failed", args[0])
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

// smoke runs the accept and revoke round trip between an admin and a user and
// checks the user's visible owners at each step.
func smoke(ctx context.Context, admin, user *client.Client) error {
	adminMe, err := admin.Me(ctx)
	if err != nil {
		return fmt.Errorf("admin profile: %w", err)
	}
	if !adminMe.IsAdmin {
		return fmt.Errorf("subject %s is not an admin", adminMe.Profile.ExternalID)
	}
	userMe, err := user.Me(ctx)
	if err != nil {
		return fmt.Errorf("user profile: %w", err)
	}

	req, err := admin.SendRequest(ctx, userMe.Profile.ID)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if _, err := user.Respond(ctx, req.ID, access.DecisionAccept); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	owners, err := user.VisibleOwners(ctx)
	if err != nil {
		return err
	}
	if !contains(owners, adminMe.Profile.ID) {
		return fmt.Errorf("accepted grant not visible: %v", owners)
	}
	if _, err := admin.Revoke(ctx, req.ID); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	owners, err = user.VisibleOwners(ctx)
	if err != nil {
		return err
	}
	if contains(owners, adminMe.Profile.ID) {
		return fmt.Errorf("revoked grant still visible: %v", owners)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func need(args []string, n int) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
