package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dingusdk/ihc-go-sdk/ihc"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(0)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "authenticate":
		cmdAuthenticate(args)
	case "get":
		cmdGet(args)
	case "set":
		cmdSet(args)
	case "project":
		cmdProject(args)
	default:
		fmt.Printf("Error: unknown command %q\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("ihc-go-sdk - LK IHC controller client")
	fmt.Println("Usage: ihc-go-sdk <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  authenticate --host=... --user=... --pass=...")
	fmt.Println("  get          --host=... --user=... --pass=... --id=<resourceID>")
	fmt.Println("  set          --host=... --user=... --pass=... --id=<resourceID> --bool=true|false")
	fmt.Println("  project      --host=... --user=... --pass=...")
}

func commonFlags(fs *flag.FlagSet) (host, user, pass *string) {
	host = fs.String("host", "", "controller base URL, e.g. https://192.168.1.1")
	user = fs.String("user", "", "controller username")
	pass = fs.String("pass", "", "controller password")
	return
}

func newClient(host, user, pass string) (*ihc.SoapClient, error) {
	s, err := ihc.NewSession(host, ihc.WithInsecureSkipVerify())
	if err != nil {
		return nil, err
	}
	client := ihc.NewSoapClient(s)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Authenticate(ctx, user, pass); err != nil {
		return nil, err
	}
	return client, nil
}

func cmdAuthenticate(args []string) {
	fs := flag.NewFlagSet("authenticate", flag.ExitOnError)
	host, user, pass := commonFlags(fs)
	fs.Parse(args)

	if _, err := newClient(*host, *user, *pass); err != nil {
		fmt.Fprintln(os.Stderr, "authenticate failed:", err)
		os.Exit(1)
	}
	fmt.Println("authenticated")
}

func cmdGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	host, user, pass := commonFlags(fs)
	id := fs.Int("id", 0, "resource ID")
	fs.Parse(args)

	client, err := newClient(*host, *user, *pass)
	if err != nil {
		fmt.Fprintln(os.Stderr, "authenticate failed:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	v, err := client.GetRuntimeValue(ctx, *id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get failed:", err)
		os.Exit(1)
	}
	fmt.Printf("%d = %s (%s)\n", *id, v.String(), v.Kind)
}

func cmdSet(args []string) {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	host, user, pass := commonFlags(fs)
	id := fs.Int("id", 0, "resource ID")
	boolFlag := fs.String("bool", "", "boolean value to write (true/false)")
	fs.Parse(args)

	client, err := newClient(*host, *user, *pass)
	if err != nil {
		fmt.Fprintln(os.Stderr, "authenticate failed:", err)
		os.Exit(1)
	}

	b, err := strconv.ParseBool(*boolFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "--bool must be true or false")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ok, err := client.SetRuntimeValue(ctx, *id, ihc.BoolValue(b))
	if err != nil {
		fmt.Fprintln(os.Stderr, "set failed:", err)
		os.Exit(1)
	}
	fmt.Println("accepted:", ok)
}

func cmdProject(args []string) {
	fs := flag.NewFlagSet("project", flag.ExitOnError)
	host, user, pass := commonFlags(fs)
	fs.Parse(args)

	client, err := newClient(*host, *user, *pass)
	if err != nil {
		fmt.Fprintln(os.Stderr, "authenticate failed:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	project, err := client.GetProject(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "project download failed:", err)
		os.Exit(1)
	}
	fmt.Println(project)
}
