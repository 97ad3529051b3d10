// Command datagate is a CLI client for the datagate service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	insecurecreds "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/datagate/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	PrincipalID string    `json:"principal_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "datagate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "datagate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok, principalID string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, PrincipalID: principalID, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (register or set DATAGATE_TOKEN)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp from a JWT without verifying it; the server does that.
func tokenExpiry(tok string, fallback time.Duration) time.Time {
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(tok, &claims)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(fallback)
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(ctx context.Context, addr, caPath string, insecure, plaintext bool, bearer string) (*grpc.ClientConn, error) {
	creds := insecurecreds.NewCredentials()
	if !plaintext {
		var err error
		if creds, err = loadTLS(caPath, insecure); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	return grpc.DialContext(ctx, addr, opts...)
}

// invoker is the part of *grpc.ClientConn the commands use.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// call sends one Struct request and returns the decoded Struct response.
func call(ctx context.Context, cc invoker, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, grpcserver.FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `datagate CLI
Usage:
  datagate -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  register      -u <username> -email <email>            (saves token)
  fields        -type <T>
  add           -type <T> [-set Field=value ...]
  find          -type <T> -id <id>
  update        -type <T> -id <id> -set Field=value ...
  rm            -type <T> <id> [<id> ...]
  page          -type <T> [-search s] [-sort F] [-desc] [-page n] [-rows n]
  authorize     -type <T> [-id <id>] -op view|edit|add|delete
  share         -type <T> [-id <id>] -level <L> (-user <uuid> | -group <name> | -all)
  hide          -type <T> [-id <id>] (-user <uuid> | -group <name> | -all)
  shares        -type <T> [-id <id>]
  group-create  -name <name> [-members uuid,uuid]
  group-add     -group <name> -member <uuid>
  group-rm      -group <name> -member <uuid>
  group-delete  -group <name>
  delete-account
  confirm-deletion -principal <uuid> -token <token> [-transfer-to <uuid>]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS at all (server started with -dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	connect := func(authed bool) *grpc.ClientConn {
		token := ""
		if authed {
			var err error
			if token = os.Getenv("DATAGATE_TOKEN"); token == "" {
				if token, err = loadToken(); err != nil {
					fail(err)
				}
			}
		}
		cc, err := dial(ctx, *addr, *caPath, *insecure, *plaintext, token)
		if err != nil {
			fail(err)
		}
		return cc
	}

	switch cmd {
	case "version":
		fmt.Printf("datagate %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		u := fs.String("u", "", "username")
		email := fs.String("email", "", "email")
		_ = fs.Parse(args)
		if *u == "" || *email == "" {
			fmt.Fprintln(os.Stderr, "need -u and -email")
			os.Exit(1)
		}
		cc := connect(false)
		defer cc.Close()

		out, err := call(ctx, cc, "Register", map[string]any{"username": *u, "email": *email})
		if err != nil {
			fail(err)
		}
		tok, _ := out["accessToken"].(string)
		id, _ := out["principalId"].(string)
		if err := saveToken(tok, id, tokenExpiry(tok, 24*time.Hour)); err != nil {
			fail(err)
		}
		fmt.Println(id)

	case "delete-account":
		cc := connect(true)
		defer cc.Close()
		if _, err := call(ctx, cc, "RequestAccountDeletion", nil); err != nil {
			fail(err)
		}
		fmt.Println("confirmation mail sent")

	case "confirm-deletion":
		fs := flag.NewFlagSet("confirm-deletion", flag.ExitOnError)
		principal := fs.String("principal", "", "principal id")
		token := fs.String("token", "", "token from the confirmation link")
		target := fs.String("transfer-to", "", "preferred new owner of your items")
		_ = fs.Parse(args)
		if *principal == "" || *token == "" {
			fmt.Fprintln(os.Stderr, "need -principal and -token")
			os.Exit(1)
		}
		cc := connect(false)
		defer cc.Close()
		out, err := call(ctx, cc, "ConfirmAccountDeletion", map[string]any{
			"principalId": *principal, "token": *token, "transferTo": *target,
		})
		if err != nil {
			fail(err)
		}
		printJSON(out)

	default:
		req, method, err := buildRequest(cmd, args)
		if err != nil {
			if errors.Is(err, errUnknownCommand) {
				usage()
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cc := connect(true)
		defer cc.Close()
		if method == "AddItem" || method == "UpdateItem" {
			if err := typeValues(ctx, cc, req); err != nil {
				fail(err)
			}
		}
		out, err := call(ctx, cc, method, req)
		if err != nil {
			fail(err)
		}
		printJSON(out)
	}
}

var errUnknownCommand = errors.New("unknown command")

// buildRequest parses the flags of an authenticated command into its
// request document and method name.
func buildRequest(cmd string, args []string) (map[string]any, string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	typ := fs.String("type", "", "entity type")
	id := fs.String("id", "", "instance id")
	var sets setFlags
	fs.Var(&sets, "set", "Field=value (repeatable)")
	op := fs.String("op", "view", "operation")
	level := fs.String("level", "view", "permission level")
	user := fs.String("user", "", "target user id")
	group := fs.String("group", "", "group name")
	all := fs.Bool("all", false, "target every user")
	search := fs.String("search", "", "search term")
	sortBy := fs.String("sort", "", "sort field")
	desc := fs.Bool("desc", false, "descending")
	page := fs.Int("page", 1, "page number")
	rows := fs.Int("rows", 0, "rows per page (0 = all)")
	name := fs.String("name", "", "group name")
	members := fs.String("members", "", "comma separated member ids")
	member := fs.String("member", "", "member id")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	target := map[string]any{"type": *typ, "instanceId": *id, "user": *user, "group": *group, "all": *all}
	switch cmd {
	case "fields":
		return map[string]any{"type": *typ}, "GetFieldDefinitions", nil
	case "add":
		return map[string]any{"type": *typ, "set": []string(sets)}, "AddItem", nil
	case "find":
		return map[string]any{"type": *typ, "id": *id}, "FindItem", nil
	case "update":
		return map[string]any{"type": *typ, "id": *id, "set": []string(sets)}, "UpdateItem", nil
	case "rm":
		ids := make([]any, 0, fs.NArg())
		for _, a := range fs.Args() {
			ids = append(ids, a)
		}
		if len(ids) == 0 {
			return nil, "", errors.New("need at least one id")
		}
		return map[string]any{"type": *typ, "ids": ids}, "RemoveItems", nil
	case "page":
		return map[string]any{
			"type": *typ, "search": *search, "sortBy": *sortBy, "descending": *desc,
			"page": *page, "rowsPerPage": *rows,
		}, "GetPage", nil
	case "authorize":
		return map[string]any{"type": *typ, "instanceId": *id, "operation": *op}, "Authorize", nil
	case "share":
		target["level"] = *level
		return target, "Share", nil
	case "hide":
		return target, "Hide", nil
	case "shares":
		return map[string]any{"type": *typ, "instanceId": *id}, "ListShares", nil
	case "group-create":
		list := []any{}
		for _, m := range strings.Split(*members, ",") {
			if m = strings.TrimSpace(m); m != "" {
				list = append(list, m)
			}
		}
		return map[string]any{"name": *name, "members": list}, "CreateGroup", nil
	case "group-add":
		return map[string]any{"group": *group, "member": *member}, "AddGroupMember", nil
	case "group-rm":
		return map[string]any{"group": *group, "member": *member}, "RemoveGroupMember", nil
	case "group-delete":
		return map[string]any{"group": *group}, "DeleteGroup", nil
	}
	return nil, "", fmt.Errorf("%w: %s", errUnknownCommand, cmd)
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
