package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/settlement-bridge/cmd/settlementctl/cli"
	"github.com/odyssey-erp/settlement-bridge/jobs"
)

const usage = `usage: settlementctl [-redis addr] <command>

commands:
  reconcile          enqueue an out-of-schedule grensesnittavstemming
  queue              print default queue status
  archived [-n N]    list archived settle tasks
  rerun <task-id>    move an archived task back to pending
`

func main() {
	redisAddr := flag.String("redis", getenv("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts := asynq.RedisClientOpt{Addr: *redisAddr}
	client := jobs.NewClient(opts)
	defer client.Close()
	inspector := asynq.NewInspector(opts)
	defer inspector.Close()

	c := cli.NewJobsCLI(client, inspector, os.Stdout)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "reconcile":
		err = c.Reconcile(ctx)
	case "queue":
		err = c.Queue()
	case "archived":
		fs := flag.NewFlagSet("archived", flag.ExitOnError)
		n := fs.Int("n", 20, "page size")
		_ = fs.Parse(flag.Args()[1:])
		err = c.ArchivedSettles(*n)
	case "rerun":
		err = c.Rerun(flag.Arg(1))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
