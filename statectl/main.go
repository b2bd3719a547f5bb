package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"bringyour.com/state/stateset"
)

const StateCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `State set control.

Serve hosts a string set and broadcasts every commit to websocket
subscribers. Lines read from stdin edit the set: "+value" adds,
"-value" removes, "clear" clears.

Usage:
    statectl serve [--port=<port>] [--secret=<secret>]
    statectl watch --url=<url> [--jwt=<jwt>]
    statectl token [--secret=<secret>]
    statectl bench [--threads=<threads>] [--count=<count>]

Options:
    -h --help            Show this screen.
    --version            Show version.
    --port=<port>        Listen port [default: 8090].
    --secret=<secret>    Subscriber auth secret. Empty disables auth.
    --url=<url>          Sync server websocket url.
    --jwt=<jwt>          Subscriber JWT.
    --threads=<threads>  Concurrent writers [default: 8].
    --count=<count>      Adds per writer [default: 10000].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], StateCtlVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	} else if bench_, _ := opts.Bool("bench"); bench_ {
		bench(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")
	secret, _ := opts.String("--secret")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := stateset.NewSnapshotStateSet[string]()
	server := stateset.NewSyncServerWithDefaults(cancelCtx, state, []byte(secret))
	defer server.Close()

	go func() {
		addr := fmt.Sprintf(":%d", port)
		Out.Printf("serving on %s\n", addr)
		if err := http.ListenAndServe(addr, server); err != nil {
			Err.Printf("serve error = %s\n", err)
			cancel()
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "clear":
			state.Clear()
			Out.Printf("= %s\n", state.ToSet())
		case strings.HasPrefix(line, "+"):
			state.Add(line[1:])
			Out.Printf("= %s\n", state.ToSet())
		case strings.HasPrefix(line, "-"):
			state.Remove(line[1:])
			Out.Printf("= %s\n", state.ToSet())
		default:
			Out.Printf("? %s\n", line)
		}
	}
}

func watch(opts docopt.Opts) {
	url, _ := opts.String("--url")
	jwt, _ := opts.String("--jwt")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := stateset.NewSyncClientWithDefaults(cancelCtx, url, jwt)
	defer client.Close()

	removeApplyObserver := stateset.AddApplyObserver(func(modified []any) {
		for _, state := range modified {
			if state == any(client.State()) {
				Out.Printf("= %s\n", client.State().ToSet())
			}
		}
	})
	defer removeApplyObserver()

	select {}
}

func token(opts docopt.Opts) {
	secret, _ := opts.String("--secret")
	if secret == "" {
		fmt.Fprint(os.Stderr, "secret: ")
		secretBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Printf("read secret error = %s\n", err)
			return
		}
		secret = string(secretBytes)
	}

	jwt, err := stateset.MintSubscriberJwt([]byte(secret), stateset.NewId())
	if err != nil {
		Err.Printf("mint error = %s\n", err)
		return
	}
	Out.Printf("%s\n", jwt)
}

func bench(opts docopt.Opts) {
	threads, _ := opts.Int("--threads")
	count, _ := opts.Int("--count")

	state := stateset.NewSnapshotStateSet[string]()

	start := time.Now()
	wg := sync.WaitGroup{}
	for i := 0; i < threads; i += 1 {
		wg.Add(1)
		go func(thread int) {
			defer wg.Done()
			for j := 0; j < count; j += 1 {
				state.Add(fmt.Sprintf("%d-%d", thread, j))
			}
		}(i)
	}
	wg.Wait()
	millis := float32(time.Since(start)) / float32(time.Millisecond)

	Out.Printf("%d adds (%d threads) in %.2fms, size %d\n",
		threads*count, threads, millis, state.Size())
}
