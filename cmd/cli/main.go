// Command inboxctl is a CLI client for the inbox relay gRPC API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/and161185/inbox-relay/internal/convert"
	"github.com/and161185/inbox-relay/internal/crypto"
	"github.com/and161185/inbox-relay/internal/inboxrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ---- grpc dial ----

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
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

type dialOpts struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

func dial(o dialOpts) (*grpc.ClientConn, *inboxrpc.Client, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		var err error
		if creds, err = loadTLS(o.caPath, o.skipVerify); err != nil {
			return nil, nil, err
		}
	}
	conn, err := grpc.NewClient(o.addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, err
	}
	return conn, inboxrpc.NewClient(conn), nil
}

// ---- utils ----

func readBlob(msg, path string) (string, error) {
	switch {
	case msg != "" && path != "":
		return "", errors.New("use either -msg or -file")
	case msg != "":
		return msg, nil
	case path == "-":
		b, err := io.ReadAll(os.Stdin)
		return strings.TrimRight(string(b), "\n"), err
	case path != "":
		b, err := os.ReadFile(path)
		return strings.TrimRight(string(b), "\n"), err
	}
	return "", errors.New("need -msg or -file")
}

func splitIDs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func passphrase(flagVal string) []byte {
	if flagVal != "" {
		return []byte(flagVal)
	}
	return []byte(os.Getenv("INBOXCTL_PASSPHRASE"))
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `inboxctl
Usage:
  inboxctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  keygen   [-pass <p>] [-force]                 (creates the local identity)
  whoami                                        (prints the identity pubkey)
  seal     -token <device token>
  send     -to <pubkey> -route <sealed> (-msg <text> | -file <path|->) [-sign] [-pass <p>]
  sync     [-pass <p>]
  ack      -ids <id,id,...> [-pass <p>]

The passphrase may also come from INBOXCTL_PASSPHRASE.
`)
	os.Exit(2)
}

// ---- commands ----

func cmdSeal(ctx context.Context, cli *inboxrpc.Client, w io.Writer, token string) error {
	if token == "" {
		return errors.New("need -token")
	}
	resp, err := cli.Seal(ctx, &inboxrpc.SealRequest{DeviceToken: token})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, resp.SealedRoute)
	return nil
}

type sendArgs struct {
	to, route, blob string
	signer          func(recipient, blob, route string) (string, string)
}

func cmdSend(ctx context.Context, cli *inboxrpc.Client, w io.Writer, a sendArgs) error {
	if a.to == "" || a.route == "" {
		return errors.New("need -to and -route")
	}
	req := &inboxrpc.SendRequest{RecipientPubkey: a.to, Blob: a.blob, SealedRoute: a.route}
	if a.signer != nil {
		req.SenderPubkey, req.SenderSig = a.signer(a.to, a.blob, a.route)
	}
	resp, err := cli.Send(ctx, req)
	if err != nil {
		return err
	}
	printJSON(w, resp)
	return nil
}

func cmdSync(ctx context.Context, cli *inboxrpc.Client, w io.Writer, pubkey, sig string) error {
	resp, err := cli.Sync(inboxrpc.WithOwnerProof(ctx, pubkey, sig), &inboxrpc.SyncRequest{})
	if err != nil {
		return err
	}
	type row struct {
		ID        string `json:"id"`
		Blob      string `json:"blob"`
		CreatedAt string `json:"created_at"`
	}
	rows := []row{}
	for _, m := range convert.FromRPCMessages(resp.Messages) {
		rows = append(rows, row{ID: m.ID, Blob: m.Blob, CreatedAt: time.Unix(m.CreatedAt, 0).UTC().Format(time.RFC3339)})
	}
	printJSON(w, rows)
	return nil
}

func cmdAck(ctx context.Context, cli *inboxrpc.Client, w io.Writer, pubkey, sig string, ids []string) error {
	if len(ids) == 0 {
		return errors.New("need -ids")
	}
	resp, err := cli.Ack(ctx, &inboxrpc.AckRequest{MessageIDs: ids, Pubkey: pubkey, Sig: sig})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted %d\n", resp.Deleted)
	return nil
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS for RPC calls.
func main() {
	// global flags
	var o dialOpts
	flag.StringVar(&o.addr, "addr", "localhost:8443", "server addr")
	flag.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&o.skipVerify, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&o.plaintext, "plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("inboxctl %s (%s)\n", version, buildDate)

	case "keygen":
		fs := flag.NewFlagSet("keygen", flag.ExitOnError)
		pass := fs.String("pass", "", "passphrase")
		force := fs.Bool("force", false, "replace an existing identity")
		_ = fs.Parse(args)
		pk, err := createIdentity(passphrase(*pass), *force)
		if err != nil {
			fail(err)
		}
		fmt.Println(pk)

	case "whoami":
		f, err := readIdentity()
		if err != nil {
			fail(err)
		}
		fmt.Println(f.Pubkey)

	case "seal":
		fs := flag.NewFlagSet("seal", flag.ExitOnError)
		token := fs.String("token", "", "device token")
		_ = fs.Parse(args)
		withClient(o, func(cli *inboxrpc.Client) error { return cmdSeal(ctx, cli, os.Stdout, *token) })

	case "send":
		fs := flag.NewFlagSet("send", flag.ExitOnError)
		to := fs.String("to", "", "recipient pubkey")
		route := fs.String("route", "", "sealed route")
		msg := fs.String("msg", "", "blob text")
		file := fs.String("file", "", "blob file (- for stdin)")
		sign := fs.Bool("sign", false, "attach a sender signature")
		pass := fs.String("pass", "", "passphrase (with -sign)")
		_ = fs.Parse(args)
		blob, err := readBlob(*msg, *file)
		if err != nil {
			fail(err)
		}
		a := sendArgs{to: *to, route: *route, blob: blob}
		if *sign {
			priv, err := loadIdentity(passphrase(*pass))
			if err != nil {
				fail(err)
			}
			a.signer = func(recipient, blob, route string) (string, string) {
				return crypto.SignSend(priv, recipient, blob, route)
			}
		}
		withClient(o, func(cli *inboxrpc.Client) error { return cmdSend(ctx, cli, os.Stdout, a) })

	case "sync":
		fs := flag.NewFlagSet("sync", flag.ExitOnError)
		pass := fs.String("pass", "", "passphrase")
		_ = fs.Parse(args)
		priv, err := loadIdentity(passphrase(*pass))
		if err != nil {
			fail(err)
		}
		pk, sig := crypto.SignOwner(priv)
		withClient(o, func(cli *inboxrpc.Client) error { return cmdSync(ctx, cli, os.Stdout, pk, sig) })

	case "ack":
		fs := flag.NewFlagSet("ack", flag.ExitOnError)
		ids := fs.String("ids", "", "comma separated message ids")
		pass := fs.String("pass", "", "passphrase")
		_ = fs.Parse(args)
		priv, err := loadIdentity(passphrase(*pass))
		if err != nil {
			fail(err)
		}
		pk, sig := crypto.SignOwner(priv)
		withClient(o, func(cli *inboxrpc.Client) error { return cmdAck(ctx, cli, os.Stdout, pk, sig, splitIDs(*ids)) })

	default:
		usage()
	}
}

func withClient(o dialOpts, fn func(*inboxrpc.Client) error) {
	conn, cli, err := dial(o)
	if err != nil {
		fail(err)
	}
	defer conn.Close()
	if err := fn(cli); err != nil {
		fail(err)
	}
}

func fail(err error) {
	if st, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s (%s)\n", st.Message(), st.Code())
	} else {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(1)
}
